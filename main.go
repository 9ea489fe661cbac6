package main

import (
	"context"
	"os"
	"runtime"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		Exitf("avrdude-frontend: %v", err)
	}

	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(cfg.Level())

	opts, err := LoadOptions()
	if err != nil {
		logger.WithError(err).Warn("using default options")
	}

	a := app.NewWithID("com.github.avrdude-frontend")
	w := a.NewWindow("AVRDUDE Frontend")
	w.Resize(fyne.NewSize(600, 400))

	ui := NewAppUI(w, NewRunner(cfg.AvrdudePath, logger), opts, cfg.DefaultBaud, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Lifecycle().SetOnStopped(cancel)

	refresher := NewPortRefresher(SystemPorts{}, runtime.GOOS, logger)
	go refresher.Run(ctx, cfg.PollInterval, func(ports []string) {
		fyne.Do(func() {
			ui.SetPorts(ports)
		})
	})

	logger.WithFields(log.Fields{"avrdude": cfg.AvrdudePath, "poll": cfg.PollInterval}).Debug("starting")
	w.ShowAndRun()
}

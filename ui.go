package main

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	log "github.com/sirupsen/logrus"
)

const maxLines = 10000

// AppUI holds all UI state and widgets.
type AppUI struct {
	window fyne.Window
	runner *Runner
	logger *log.Logger

	// Widgets
	programmerSelect *widget.Select
	mcuSelect        *widget.Select
	portSelect       *widget.Select
	baudEntry        *widget.Entry
	hexEntry         *widget.Entry
	browseBtn        *widget.Button
	uploadBtn        *widget.Button
	clearBtn         *widget.Button
	saveBtn          *widget.Button
	output           *widget.List

	// State
	mu      sync.Mutex
	lines   []LogLine
	pending map[Stream]int // index in lines of each stream's partial line
	running atomic.Bool
}

func NewAppUI(window fyne.Window, runner *Runner, opts Options, defaultBaud string, logger *log.Logger) *AppUI {
	ui := &AppUI{
		window:  window,
		runner:  runner,
		logger:  logger,
		pending: make(map[Stream]int),
	}
	ui.build(opts, defaultBaud)
	return ui
}

func (ui *AppUI) build(opts Options, defaultBaud string) {
	ui.programmerSelect = widget.NewSelect(opts.Programmers, nil)
	if len(opts.Programmers) > 0 {
		ui.programmerSelect.SetSelected(opts.Programmers[0])
	}

	ui.mcuSelect = widget.NewSelect(opts.MCUs, nil)
	if len(opts.MCUs) > 0 {
		ui.mcuSelect.SetSelected(opts.MCUs[0])
	}

	// Filled by the port refresher
	ui.portSelect = widget.NewSelect([]string{}, nil)
	ui.portSelect.PlaceHolder = "No ports detected"

	ui.baudEntry = widget.NewEntry()
	ui.baudEntry.SetText(defaultBaud)

	ui.hexEntry = widget.NewEntry()
	ui.hexEntry.SetPlaceHolder("Path to .hex file")

	ui.browseBtn = widget.NewButton("Browse", func() {
		ui.browseHex()
	})

	ui.uploadBtn = widget.NewButton("Upload", func() {
		ui.startUpload()
	})
	ui.uploadBtn.Importance = widget.HighImportance

	ui.clearBtn = widget.NewButton("Clear", func() {
		ui.clearLog()
	})

	ui.saveBtn = widget.NewButton("Save Log", func() {
		ui.showSaveDialog()
	})

	// Output list — copy the line text outside the lock to avoid deadlock
	// with Fyne's internal re-entrant calls.
	ui.output = widget.NewList(
		func() int {
			ui.mu.Lock()
			defer ui.mu.Unlock()
			return len(ui.lines)
		},
		func() fyne.CanvasObject {
			label := widget.NewLabel("")
			label.TextStyle = fyne.TextStyle{Monospace: true}
			return label
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			ui.mu.Lock()
			var text string
			if id < len(ui.lines) {
				text = ui.lines[id].Text
			}
			ui.mu.Unlock()
			obj.(*widget.Label).SetText(text)
		},
	)

	form := container.New(layout.NewFormLayout(),
		widget.NewLabel("Programmer:"), ui.programmerSelect,
		widget.NewLabel("MCU:"), ui.mcuSelect,
		widget.NewLabel("Port:"), ui.portSelect,
		widget.NewLabel("Baud Rate:"), ui.baudEntry,
		widget.NewLabel("HEX File:"), container.NewBorder(nil, nil, nil, ui.browseBtn, ui.hexEntry),
	)

	actions := container.NewHBox(
		ui.uploadBtn,
		layout.NewSpacer(),
		ui.clearBtn,
		ui.saveBtn,
	)

	toolbar := container.NewVBox(form, actions)
	content := container.NewBorder(toolbar, nil, nil, nil, ui.output)
	ui.window.SetContent(content)
}

// SetPorts replaces the port choices if the set differs from what is shown.
// The current selection survives when the port is still present.
// Must be called on the Fyne main goroutine.
func (ui *AppUI) SetPorts(ports []string) {
	if SamePortSet(ports, ui.portSelect.Options) {
		return
	}

	selected := ui.portSelect.Selected
	ui.portSelect.Options = slices.Clone(ports)
	switch {
	case len(ports) == 0:
		ui.portSelect.ClearSelected()
	case !slices.Contains(ports, selected):
		ui.portSelect.SetSelected(ports[0])
	}
	ui.portSelect.Refresh()
}

// UploadConfig reads the current form values.
func (ui *AppUI) UploadConfig() UploadConfig {
	return UploadConfig{
		Programmer: ui.programmerSelect.Selected,
		MCU:        ui.mcuSelect.Selected,
		Port:       ui.portSelect.Selected,
		Baud:       ui.baudEntry.Text,
		HexFile:    strings.TrimSpace(ui.hexEntry.Text),
	}
}

func (ui *AppUI) startUpload() {
	cfg := ui.UploadConfig()
	if ui.running.Load() {
		return
	}

	ui.clearLog()
	if cfg.HexFile == "" {
		ui.appendLine(newLogLine(StreamInfo, "No HEX file selected"))
		return
	}

	ui.running.Store(true)
	ui.uploadBtn.Disable()
	go func() {
		ui.runner.Run(cfg, ui.appendLine)
		fyne.Do(func() {
			ui.running.Store(false)
			ui.uploadBtn.Enable()
		})
	}()
}

// appendLine is safe to call from any goroutine. A line replaces the
// partial line its stream left pending, if any.
func (ui *AppUI) appendLine(line LogLine) {
	ui.mu.Lock()
	idx, ok := ui.pending[line.Stream]
	if ok {
		ui.lines[idx] = line
	} else {
		ui.lines = append(ui.lines, line)
		idx = len(ui.lines) - 1
	}
	if line.Partial {
		ui.pending[line.Stream] = idx
	} else {
		delete(ui.pending, line.Stream)
	}

	// Bound memory
	if drop := len(ui.lines) - maxLines; drop > 0 {
		ui.lines = ui.lines[drop:]
		for s, idx := range ui.pending {
			if idx < drop {
				delete(ui.pending, s)
			} else {
				ui.pending[s] = idx - drop
			}
		}
	}
	ui.mu.Unlock()

	fyne.Do(func() {
		ui.output.Refresh()
		ui.output.ScrollToBottom()
	})
}

func (ui *AppUI) clearLog() {
	ui.mu.Lock()
	ui.lines = nil
	clear(ui.pending)
	ui.mu.Unlock()
	ui.output.Refresh()
}

// Lines returns a copy of the log.
func (ui *AppUI) Lines() []LogLine {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return slices.Clone(ui.lines)
}

func (ui *AppUI) browseHex() {
	fd := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, ui.window)
			return
		}
		if reader == nil {
			return
		}
		defer reader.Close()
		ui.hexEntry.SetText(localPath(reader.URI()))
	}, ui.window)
	fd.SetFilter(storage.NewExtensionFileFilter([]string{".hex"}))
	fd.Show()
}

func (ui *AppUI) showSaveDialog() {
	lines := ui.Lines()
	if len(lines) == 0 {
		dialog.ShowInformation("Save Log", "The log is empty.", ui.window)
		return
	}

	fd := dialog.NewFileSave(func(writer fyne.URIWriteCloser, err error) {
		if err != nil || writer == nil {
			return
		}

		err = ExportLog(writer, lines)
		if cerr := writer.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close file: %w", cerr)
		}
		if err != nil {
			ui.logger.WithError(err).WithField("uri", writer.URI().String()).Warn("log export failed")
			dialog.ShowError(err, ui.window)
			return
		}

		dialog.ShowInformation("Save Log", fmt.Sprintf("Saved %d lines.", len(lines)), ui.window)
	}, ui.window)
	fd.SetFileName("avrdude_log.csv")
	fd.Show()
}

// localPath turns a file URI into an OS path, dropping the leading slash
// Fyne puts in front of Windows drive letters.
func localPath(uri fyne.URI) string {
	p := uri.Path()
	if len(p) > 2 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return p
}

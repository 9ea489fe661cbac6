package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"
)

const configDirName = "avrdude-frontend"
const optionsFileName = "options.json"

// Config holds runtime settings read from the environment.
type Config struct {
	AvrdudePath  string        `env:"AVRDUDE_GUI_AVRDUDE"`
	PollInterval time.Duration `env:"AVRDUDE_GUI_POLL_INTERVAL" envDefault:"2s"`
	DefaultBaud  string        `env:"AVRDUDE_GUI_BAUD" envDefault:"115200"`
	LogLevel     string        `env:"AVRDUDE_GUI_LOG_LEVEL" envDefault:"info"`
}

// LoadConfig parses the environment. An empty AvrdudePath resolves to an
// avrdude binary next to the running executable.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("poll interval must be positive, got %s", cfg.PollInterval)
	}
	if cfg.AvrdudePath == "" {
		cfg.AvrdudePath = defaultAvrdudePath()
	}
	return cfg, nil
}

func defaultAvrdudePath() string {
	exe, err := os.Executable()
	if err != nil {
		return "avrdude"
	}
	return filepath.Join(filepath.Dir(exe), "avrdude")
}

// Level returns the configured log level, falling back to info when the
// name isn't one logrus knows.
func (c Config) Level() log.Level {
	level, err := log.ParseLevel(strings.TrimSpace(c.LogLevel))
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// Options are the choices offered in the programmer and MCU dropdowns.
type Options struct {
	Programmers []string `json:"programmers"`
	MCUs        []string `json:"mcus"`
}

// DefaultOptions returns the built-in dropdown choices.
func DefaultOptions() Options {
	return Options{
		Programmers: []string{"arduino", "usbasp", "avrisp", "usbtiny"},
		MCUs:        []string{"atmega328p", "attiny85", "atmega16"},
	}
}

// configDir returns the path to the app's directory under the user config dir.
func configDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config dir: %w", err)
	}
	dir := filepath.Join(base, configDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config dir: %w", err)
	}
	return dir, nil
}

// LoadOptions reads options.json from the config dir, writing the defaults
// there first if the file doesn't exist yet.
func LoadOptions() (Options, error) {
	dir, err := configDir()
	if err != nil {
		return DefaultOptions(), err
	}
	return loadOptionsFile(filepath.Join(dir, optionsFileName))
}

func loadOptionsFile(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			opts := DefaultOptions()
			return opts, saveOptionsFile(path, opts)
		}
		return DefaultOptions(), fmt.Errorf("failed to read options: %w", err)
	}

	var opts Options
	if err := json.Unmarshal(data, &opts); err != nil {
		return DefaultOptions(), fmt.Errorf("failed to parse options: %w", err)
	}

	defaults := DefaultOptions()
	opts.Programmers = nonEmpty(opts.Programmers)
	opts.MCUs = nonEmpty(opts.MCUs)
	if len(opts.Programmers) == 0 {
		opts.Programmers = defaults.Programmers
	}
	if len(opts.MCUs) == 0 {
		opts.MCUs = defaults.MCUs
	}
	return opts, nil
}

func saveOptionsFile(path string, opts Options) error {
	data, err := json.MarshalIndent(opts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write options: %w", err)
	}
	return nil
}

// nonEmpty trims entries and drops blanks and duplicates, keeping order.
func nonEmpty(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

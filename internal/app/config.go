package app

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	SheetPath string

	// Sets holds name=formula assignments applied after the sheet loads.
	Sets []string

	LogFormat    string
	LogLevel     string
	OutputFormat string

	// Timeout bounds how long a one-shot run waits for pending values.
	Timeout time.Duration

	// ListenAddr, when set, serves the live graph instead of exiting.
	ListenAddr      string
	HealthcheckPort int

	// SavePath, when set, receives a snapshot of the sheet after the run.
	SavePath string
}

// Assignment is one parsed entry of Config.Sets.
type Assignment struct {
	Name    string
	Formula string
}

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.SheetPath == "" {
		return nil, errors.New("SheetPath is a required configuration field and cannot be empty")
	}
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if !slices.Contains(LogLevels, cfg.LogLevel) {
		return nil, fmt.Errorf("invalid log level %q: must be one of %s", cfg.LogLevel, strings.Join(LogLevels, ", "))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "text"
	}
	if cfg.OutputFormat != "text" && cfg.OutputFormat != "json" {
		return nil, fmt.Errorf("invalid output format %q: must be 'text' or 'json'", cfg.OutputFormat)
	}
	if cfg.HealthcheckPort < 0 {
		return nil, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort)
	}
	if _, err := cfg.Assignments(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Assignments parses Sets.
func (c *Config) Assignments() ([]Assignment, error) {
	out := make([]Assignment, 0, len(c.Sets))
	for _, set := range c.Sets {
		name, formula, ok := strings.Cut(set, "=")
		if !ok || strings.TrimSpace(formula) == "" {
			return nil, fmt.Errorf("invalid assignment %q: want name=formula", set)
		}
		out = append(out, Assignment{Name: strings.TrimSpace(name), Formula: strings.TrimSpace(formula)})
	}
	return out, nil
}

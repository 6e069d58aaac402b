package app

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vk/formulagrid/internal/config"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	BasePath     string // csv, wide layout
	OverlayPath  string // csv, wide layout
	FormulasPath string // one "name = expression" per line
	StartPoint   string

	OutputPath  string
	GraphPath   string
	MetricsFile string
	Targets     []string

	Workers      int
	AllowPartial bool

	LogFormat string
	LogLevel  string

	PublishURL            string
	PublishNamespace      string
	PublishInsecure       bool
	PublishConnectTimeout time.Duration
}

// LogLevels and LogFormats list the accepted logger settings.
var (
	LogLevels  = []string{"debug", "info", "warn", "error"}
	LogFormats = []string{"text", "json"}
)

// NewConfig validates cfg and returns a copy with normalized fields.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.FormulasPath == "" {
		return nil, errors.New("FormulasPath is a required configuration field and cannot be empty")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("invalid workers %d: must not be negative", cfg.Workers)
	}
	if cfg.StartPoint != "" && cfg.BasePath == "" && cfg.OverlayPath == "" {
		return nil, errors.New("start point requires a base or overlay data file")
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if !slices.Contains(LogLevels, cfg.LogLevel) {
		return nil, errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if !slices.Contains(LogFormats, cfg.LogFormat) {
		return nil, errors.New("invalid log-format: must be 'text' or 'json'")
	}

	if cfg.PublishURL == "" && cfg.PublishNamespace != "" {
		return nil, errors.New("publish namespace requires a publish URL")
	}

	return &cfg, nil
}

// ConfigFromFile maps a run file onto a Config. Fields the file leaves unset
// keep their zero value.
func ConfigFromFile(f *config.File) (Config, error) {
	cfg := Config{
		BasePath:     f.Base,
		OverlayPath:  f.Overlay,
		FormulasPath: f.Formulas,
		StartPoint:   f.StartPoint,
		OutputPath:   f.Output,
		GraphPath:    f.Graph,
		Targets:      f.Targets,
	}
	if f.Workers != nil {
		cfg.Workers = *f.Workers
	}
	if f.AllowPartial != nil {
		cfg.AllowPartial = *f.AllowPartial
	}
	if f.Log != nil {
		cfg.LogLevel = f.Log.Level
		cfg.LogFormat = f.Log.Format
	}
	if f.Publish != nil {
		cfg.PublishURL = f.Publish.URL
		cfg.PublishNamespace = f.Publish.Namespace
		cfg.PublishInsecure = f.Publish.InsecureSkipVerify
		if f.Publish.ConnectTimeout != "" {
			d, err := time.ParseDuration(f.Publish.ConnectTimeout)
			if err != nil {
				return Config{}, fmt.Errorf("invalid publish connect_timeout: %w", err)
			}
			cfg.PublishConnectTimeout = d
		}
	}
	if f.Metrics != nil {
		cfg.MetricsFile = f.Metrics.Textfile
	}
	return cfg, nil
}

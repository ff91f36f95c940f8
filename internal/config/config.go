// Package config holds beaconval settings. Values come from struct defaults,
// then an optional YAML file, then command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/beaconval/internal/uribeacon"
	"github.com/srg/beaconval/internal/validator"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

type Config struct {
	LogLevel string `yaml:"log_level" default:"warn"`

	// Address pins the beacon; empty means discover one by scanning.
	Address        string        `yaml:"address"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"5s"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"1s"`
	// ConnectTimeout bounds a single dial of the hardware radio.
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	// TestTimeout bounds one whole test, including waits for a beacon choice.
	TestTimeout time.Duration `yaml:"test_timeout" default:"2m"`

	OutputFormat string `yaml:"output_format" default:"text"`
	Color        bool   `yaml:"color" default:"true"`
	// HistoryDB is the SQLite file verdicts are recorded to; empty disables it.
	HistoryDB string `yaml:"history_db"`
	// Suites are extra YAML suite files searched after the built-in ones.
	Suites []string `yaml:"suites"`

	ConfigServiceUUID string `yaml:"config_service_uuid"`
	URIServiceUUID    string `yaml:"uri_service_uuid"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.ConfigServiceUUID = uribeacon.ConfigServiceUUID
	cfg.URIServiceUUID = uribeacon.URIServiceUUID
	return cfg
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.OutputFormat {
	case FormatText, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("invalid output format %q (must be %s or %s)", c.OutputFormat, FormatText, FormatJSON))
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scan_timeout must be positive, got %s", c.ScanTimeout))
	}
	if c.ReconnectDelay < 0 {
		errs = append(errs, fmt.Errorf("reconnect_delay must not be negative, got %s", c.ReconnectDelay))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout))
	}
	if c.TestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("test_timeout must be positive, got %s", c.TestTimeout))
	}
	return errors.Join(errs...)
}

// SequencerOptions maps the settings onto validator.Options.
func (c *Config) SequencerOptions() validator.Options {
	return validator.Options{
		ScanTimeout:       c.ScanTimeout,
		ReconnectDelay:    c.ReconnectDelay,
		ConfigServiceUUID: c.ConfigServiceUUID,
		URIServiceUUID:    c.URIServiceUUID,
	}
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// NewLogger creates a logger at the configured level.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}

package main

import (
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/beaconval/internal/config"
	"github.com/srg/beaconval/internal/conformance"
)

// configureLogger creates a logger with the appropriate log level based on flags.
// --log-level takes precedence over --verbose, which takes precedence over
// the configuration file.
func configureLogger(cmd *cobra.Command, cfg *config.Config, verboseFlagName string) (*logrus.Logger, error) {
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	} else if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose {
		cfg.LogLevel = "debug"
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}

// loadConfig reads --config and applies the persistent flags over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("history") {
		cfg.HistoryDB = historyPath
	}
	cfg.Suites = append(cfg.Suites, suiteFiles...)
	return cfg, nil
}

// loadSelection returns the built-in suites followed by cfg.Suites.
func loadSelection(cfg *config.Config) (*conformance.Selection, error) {
	suites := slices.Clone(conformance.Builtin())
	for _, path := range cfg.Suites {
		s, err := conformance.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load suite: %w", err)
		}
		suites = append(suites, s)
	}
	return conformance.NewSelection(suites...), nil
}

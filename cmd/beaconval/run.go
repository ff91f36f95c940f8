package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/beaconval/internal/config"
	"github.com/srg/beaconval/internal/device"
	goble "github.com/srg/beaconval/internal/device/go-ble"
	"github.com/srg/beaconval/internal/device/sim"
	"github.com/srg/beaconval/internal/history"
	"github.com/srg/beaconval/internal/report"
	"github.com/srg/beaconval/internal/validator"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [tests...]",
	Short: "Run conformance tests against a UriBeacon",
	Long: `Run conformance tests against a UriBeacon in configuration mode.

Tests are named by suite ("basic"), by test ("flags") or by both
("protocol/lock"). Without arguments every test of every suite runs, in
catalog order. All tests run against the same beacon: the first test
finds it by scanning unless --address pins it.`,
	Example: `  beaconval run
  beaconval run basic
  beaconval run flags protocol/lock --address C4:7C:8D:6A:3E:01
  beaconval run --simulate --output json`,
	RunE: runTests,
}

var (
	runAddress        string
	runSimulate       bool
	runOutput         string
	runNoColor        bool
	runVerbose        bool
	runScanTimeout    time.Duration
	runReconnectDelay time.Duration
	runTestTimeout    time.Duration
	runDialTimeout    time.Duration
)

func init() {
	initRunFlags()
}

func initRunFlags() {
	runCmd.Flags().StringVarP(&runAddress, "address", "a", "", "Beacon address (default: discover by scanning)")
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "Run against a simulated beacon")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", config.FormatText, "Output format (text, json)")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "Disable colored output")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Enable debug logging")
	runCmd.Flags().DurationVar(&runScanTimeout, "scan-timeout", 0, "Scan window length (default from config, 5s)")
	runCmd.Flags().DurationVar(&runReconnectDelay, "reconnect-delay", 0, "Delay before reconnecting after a disconnect (default from config, 1s)")
	runCmd.Flags().DurationVar(&runTestTimeout, "timeout", 0, "Time limit of a single test (default from config, 2m)")
	runCmd.Flags().DurationVar(&runDialTimeout, "connect-timeout", 0, "Time limit of a single connection attempt (default from config, 30s)")
}

// applyRunFlags overlays the flags the user set on cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("address") {
		cfg.Address = runAddress
	}
	if f.Changed("output") {
		cfg.OutputFormat = runOutput
	}
	if runNoColor {
		cfg.Color = false
	}
	if f.Changed("scan-timeout") {
		cfg.ScanTimeout = runScanTimeout
	}
	if f.Changed("reconnect-delay") {
		cfg.ReconnectDelay = runReconnectDelay
	}
	if f.Changed("timeout") {
		cfg.TestTimeout = runTestTimeout
	}
	if f.Changed("connect-timeout") {
		cfg.ConnectTimeout = runDialTimeout
	}
	return cfg.Validate()
}

func runTests(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	sel, err := loadSelection(cfg)
	if err != nil {
		return err
	}
	scripts, err := sel.Scripts(args...)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	colors := cfg.Color && isTerminal(out)

	opts := validator.RunnerOptions{
		Address:     cfg.Address,
		TestTimeout: cfg.TestTimeout,
		Sequencer:   cfg.SequencerOptions(),
		Logger:      logger,
	}

	var jsonSink *report.JSON
	switch cfg.OutputFormat {
	case config.FormatJSON:
		jsonSink = report.NewJSON(out)
		opts.Sink = jsonSink
	default:
		opts.Sink = report.NewConsole(out, colors)
		if isTerminal(os.Stdin) {
			opts.Chooser = &promptChooser{in: os.Stdin, out: out}
		}
	}

	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close history database")
			}
		}()
		opts.Recorder = store
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := validator.NewRunner(newRadio(cfg, logger, runSimulate), opts)
	logger.WithFields(logrus.Fields{
		"run":   runner.RunID().String(),
		"tests": len(scripts),
	}).Info("Starting conformance run")

	verdicts, runErr := runner.Run(ctx, scripts)

	if jsonSink != nil {
		if err := jsonSink.Err(); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	} else if len(verdicts) > 0 {
		fmt.Fprintln(out)
		if err := report.Summary(out, verdicts, colors); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	failed := 0
	for _, v := range verdicts {
		if !v.Passed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrTestsFailed, failed, len(verdicts))
	}
	return nil
}

// simulatedAddress is the address of the --simulate beacon.
const simulatedAddress = "C0:FF:EE:00:00:01"

func newRadio(cfg *config.Config, logger *logrus.Logger, simulate bool) device.Radio {
	if simulate {
		return sim.NewRadio(logger, sim.NewBeacon(simulatedAddress))
	}
	return goble.NewRadio(goble.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         logger,
	})
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// promptChooser asks on the terminal which beacon to use. The candidates
// themselves are already printed by the console report.
type promptChooser struct {
	in  io.Reader
	out io.Writer
}

func (p *promptChooser) Choose(ctx context.Context, test string, candidates []validator.Candidate) (int, error) {
	fmt.Fprintf(p.out, "    pick a beacon for %s [0-%d]: ", test, len(candidates)-1)

	answer := make(chan int, 1)
	failed := make(chan error, 1)
	go func() {
		var index int
		if _, err := fmt.Fscanln(p.in, &index); err != nil {
			failed <- fmt.Errorf("invalid choice: %w", err)
			return
		}
		answer <- index
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-failed:
		return 0, err
	case index := <-answer:
		if index < 0 || index >= len(candidates) {
			return 0, errors.New("choice out of range")
		}
		return index, nil
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/beaconval/internal/config"
	"github.com/srg/beaconval/internal/device"
	"github.com/srg/beaconval/internal/uribeacon"
	"github.com/srg/beaconval/internal/validator"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for UriBeacons",
	Long: `Scan for UriBeacons and show, for each, whether it is in configuration
mode and the URI it advertises.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanSimulate bool
	scanConfig   bool
)

func init() {
	initScanFlags()
}

func initScanFlags() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config, 5s)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanSimulate, "simulate", false, "Scan a simulated beacon")
	scanCmd.Flags().BoolVar(&scanConfig, "config-mode", false, "Only show beacons in configuration mode")
}

// ScannedBeacon is one row of scan output.
type ScannedBeacon struct {
	Address    string `json:"address"`
	Name       string `json:"name,omitempty"`
	RSSI       int    `json:"rssi"`
	ConfigMode bool   `json:"config_mode"`
	Frame      []byte `json:"frame,omitempty"`
	URI        string `json:"uri,omitempty"`
	TxPower    *int   `json:"tx_power,omitempty"`
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != config.FormatJSON {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("duration") {
		cfg.ScanTimeout = scanDuration
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ScanTimeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if isTerminal(out) {
		progress := NewCountdownProgressPrinter(out, "Scanning for UriBeacons", cfg.ScanTimeout)
		progress.Start()
		defer progress.Stop()
	}

	beacons, err := scanBeacons(ctx, newRadio(cfg, logger, scanSimulate), cfg, logger)
	if err != nil {
		return err
	}
	if scanConfig {
		beacons = slices.DeleteFunc(beacons, func(b ScannedBeacon) bool { return !b.ConfigMode })
	}
	return displayBeacons(out, beacons)
}

// scanBeacons reports every advertisement carrying either UriBeacon service
// until ctx is done, keeping the latest advertisement per address.
func scanBeacons(ctx context.Context, radio device.Radio, cfg *config.Config, logger *logrus.Logger) ([]ScannedBeacon, error) {
	var mu sync.Mutex
	seen := orderedmap.New[string, ScannedBeacon]()

	err := radio.Scan(ctx, "", func(adv device.Advertisement) {
		b, ok := scannedBeacon(adv, cfg)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if _, present := seen.Set(strings.ToUpper(b.Address), b); !present {
			logger.WithFields(logrus.Fields{
				"address": b.Address,
				"config":  b.ConfigMode,
			}).Debug("UriBeacon discovered")
		}
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	beacons := make([]ScannedBeacon, 0, seen.Len())
	for pair := seen.Oldest(); pair != nil; pair = pair.Next() {
		beacons = append(beacons, pair.Value)
	}
	return beacons, nil
}

func scannedBeacon(adv device.Advertisement, cfg *config.Config) (ScannedBeacon, bool) {
	configMode := slices.ContainsFunc(adv.Services(), func(s string) bool {
		return device.EqualUUID(s, cfg.ConfigServiceUUID)
	})
	frame := adv.ServiceData(cfg.URIServiceUUID)
	if !configMode && frame == nil {
		return ScannedBeacon{}, false
	}

	b := ScannedBeacon{
		Address:    adv.Addr(),
		Name:       adv.LocalName(),
		RSSI:       adv.RSSI(),
		ConfigMode: configMode,
		Frame:      frame,
	}
	if tx, ok := validator.TxPower(frame); ok {
		power := int(int8(tx))
		b.TxPower = &power
	}
	if encoded, ok := validator.URI(frame); ok {
		if uri, err := uribeacon.DecodeURI(encoded); err == nil {
			b.URI = uri
		}
	}
	return b, true
}

func displayBeacons(w io.Writer, beacons []ScannedBeacon) error {
	if scanFormat == config.FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(beacons)
	}

	if len(beacons) == 0 {
		_, err := fmt.Fprintln(w, "No UriBeacons found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tRSSI\tMODE\tTX\tURI")
	for _, b := range beacons {
		mode := "uri"
		if b.ConfigMode {
			mode = "config"
		}
		tx := "-"
		if b.TxPower != nil {
			tx = fmt.Sprintf("%d dBm", *b.TxPower)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", b.Address, b.Name, b.RSSI, mode, tx, b.URI)
	}
	return tw.Flush()
}

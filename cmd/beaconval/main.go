package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "beaconval",
	Short: "UriBeacon configuration conformance tester",
	Long: `Conformance tester for the UriBeacon configuration service that provides:

- Scan for UriBeacons and decode the URI they advertise
- Built-in test catalog covering the UriBeacon config service rules
- Custom test scripts loaded from YAML suite files
- Text or JSON (one event per line) reports
- Verdict history in a local SQLite database
- A simulated beacon for running the catalog without hardware

Put the beacon in configuration mode before running tests.`,
	Version: formatVersion(version),
}

var (
	configPath  string
	historyPath string
	suiteFiles  []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("beaconval %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)

	initRootFlags()
}

func initRootFlags() {
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&historyPath, "history", "", "SQLite file verdicts are recorded to")
	rootCmd.PersistentFlags().StringSliceVar(&suiteFiles, "suite", nil, "Extra YAML suite files")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

package main

import (
	"bytes"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite resets the command tree before every test and provides
// command execution helpers. All cmd/beaconval test suites should embed it.
type CommandTestSuite struct {
	suite.Suite
}

// SetupTest re-registers every flag so values set by one test never leak
// into the next.
func (s *CommandTestSuite) SetupTest() {
	for _, cmd := range []*cobra.Command{rootCmd, scanCmd, runCmd, listCmd, historyCmd} {
		cmd.ResetFlags()
		cmd.SilenceUsage = false
	}
	initRootFlags()
	initScanFlags()
	initRunFlags()
	initListFlags()
	initHistoryFlags()
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// HistoryPath returns a fresh history database path for the current test.
func (s *CommandTestSuite) HistoryPath() string {
	return filepath.Join(s.T().TempDir(), "history.db")
}

// simulatedRun returns run arguments that keep a simulated run fast.
func simulatedRun(tests ...string) []string {
	args := []string{"run", "--simulate", "--scan-timeout", "50ms", "--reconnect-delay", "10ms"}
	return append(args, tests...)
}

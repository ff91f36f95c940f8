package main

import (
	"errors"
	"fmt"

	"github.com/srg/beaconval/internal/conformance"
	"github.com/srg/beaconval/internal/device"
	"github.com/srg/beaconval/internal/history"
	"github.com/srg/beaconval/internal/validator"
)

// Command-level errors
var (
	// ErrTestsFailed is returned by run when at least one verdict failed.
	ErrTestsFailed = errors.New("tests failed")
	// ErrNoHistory means a history command was used without a database.
	ErrNoHistory = errors.New("no history database configured")
)

// FormatUserError turns err into a message for the terminal, adding a hint
// where the fix is known.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; turn it on and try again"
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v (use --simulate to run against a simulated beacon)", err)
	case errors.Is(err, validator.ErrAmbiguousDeviceSet):
		return fmt.Sprintf("%v (use --address to pick a beacon)", err)
	case errors.Is(err, conformance.ErrUnknownTest):
		return fmt.Sprintf("%v (see 'beaconval list')", err)
	case errors.Is(err, ErrNoHistory):
		return fmt.Sprintf("%v (use --history or history_db in the config file)", err)
	case errors.Is(err, history.ErrNotFound):
		return "no such verdict in history"
	default:
		return err.Error()
	}
}

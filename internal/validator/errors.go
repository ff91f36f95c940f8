package validator

import (
	"errors"
	"fmt"
)

// Failure kinds. A failed run wraps one of these in RunState.Err.
var (
	// ErrProtocolMismatch means a read or write returned the wrong status or payload.
	ErrProtocolMismatch = errors.New("protocol mismatch")
	// ErrNoDeviceFound means a scan window elapsed without a usable beacon.
	ErrNoDeviceFound = errors.New("no device found")
	// ErrAmbiguousDeviceSet means several beacons answered and nobody picked one.
	ErrAmbiguousDeviceSet = errors.New("ambiguous device set")
	// ErrLinkDropped means the link reported a failure status or went away.
	ErrLinkDropped = errors.New("link dropped")
	// ErrUserStopped means StopTest was called.
	ErrUserStopped = errors.New("stopped by user")
)

// Programming errors; these indicate a broken engine or a misuse of its API.
var (
	ErrEmptyQueue       = errors.New("action queue is empty")
	ErrInvalidCandidate = errors.New("invalid candidate index")
	ErrNotRunning       = errors.New("sequencer is not running")
	ErrNotStarted       = errors.New("test has not been started")
)

// StepError is the cause of a failed run.
type StepError struct {
	Kind   error
	Step   int
	Action Kind
	Reason string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %s: %s", e.Step, e.Action, e.Kind, e.Reason)
}

func (e *StepError) Unwrap() error {
	return e.Kind
}

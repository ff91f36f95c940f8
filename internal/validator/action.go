package validator

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/srg/beaconval/internal/device"
	"github.com/srg/beaconval/internal/uribeacon"
)

// Kind identifies what a test step does.
type Kind int

const (
	KindConnect Kind = iota
	KindDisconnect
	KindWrite
	KindAssertEquals
	KindAssertNotEquals
	KindWriteMultiReturnCode
	KindAdvFlags
	KindAdvTxPower
	KindAdvURI
	KindAdvPacket
	KindLast
)

var kindNames = [...]string{
	KindConnect:              "connect",
	KindDisconnect:           "disconnect",
	KindWrite:                "write",
	KindAssertEquals:         "assert-equals",
	KindAssertNotEquals:      "assert-not-equals",
	KindWriteMultiReturnCode: "write-multi",
	KindAdvFlags:             "adv-flags",
	KindAdvTxPower:           "adv-tx-power",
	KindAdvURI:               "adv-uri",
	KindAdvPacket:            "adv-packet",
	KindLast:                 "last",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsAdvertisement reports whether the step inspects advertisements instead of GATT.
func (k Kind) IsAdvertisement() bool {
	switch k {
	case KindAdvFlags, KindAdvTxPower, KindAdvURI, KindAdvPacket:
		return true
	}
	return false
}

// IsRead reports whether the step is satisfied by a characteristic read.
func (k Kind) IsRead() bool {
	return k == KindAssertEquals || k == KindAssertNotEquals
}

// IsWrite reports whether the step is satisfied by a characteristic write.
func (k Kind) IsWrite() bool {
	return k == KindWrite || k == KindWriteMultiReturnCode
}

// Action is one step of a script. Its kind and comparison fields never change
// after construction; only the failure annotation is written, by the
// sequencer, on the step that caused a run to fail.
type Action struct {
	kind           Kind
	characteristic string
	value          []byte
	expectedStatus device.Status
	acceptedStatus []device.Status

	failed bool
	reason string
}

func newAction(kind Kind) *Action {
	return &Action{kind: kind}
}

func (a *Action) Kind() Kind {
	return a.kind
}

// Characteristic returns the target characteristic UUID (empty for non-GATT steps).
func (a *Action) Characteristic() string {
	return a.characteristic
}

// Value returns a copy of the transmitted or expected bytes.
func (a *Action) Value() []byte {
	return bytes.Clone(a.value)
}

func (a *Action) ExpectedStatus() device.Status {
	return a.expectedStatus
}

// AcceptedStatus returns a copy of the accepted status set of a multi-code write.
func (a *Action) AcceptedStatus() []device.Status {
	return slices.Clone(a.acceptedStatus)
}

func (a *Action) Failed() bool {
	return a.failed
}

func (a *Action) FailureReason() string {
	return a.reason
}

// markFailed annotates the step once; later calls are ignored.
func (a *Action) markFailed(reason string) {
	if a.failed {
		return
	}
	a.failed = true
	a.reason = reason
}

func (a *Action) clearFailure() {
	a.failed = false
	a.reason = ""
}

// accepts reports whether status is in the accepted set (order irrelevant).
func (a *Action) accepts(status device.Status) bool {
	return slices.Contains(a.acceptedStatus, status)
}

// Describe renders the step for step lists and logs.
func (a *Action) Describe() string {
	var b strings.Builder
	b.WriteString(a.kind.String())
	if a.characteristic != "" {
		fmt.Fprintf(&b, " %s", uribeacon.CharacteristicName(a.characteristic))
	}
	switch {
	case a.kind.IsAdvertisement() && a.kind != KindAdvPacket:
		fmt.Fprintf(&b, " %s", formatBytes(a.value))
	case a.kind == KindWriteMultiReturnCode:
		fmt.Fprintf(&b, " %s expect one of %v", formatBytes(a.value), a.acceptedStatus)
	case a.kind.IsRead() || a.kind.IsWrite():
		fmt.Fprintf(&b, " %s expect %v", formatBytes(a.value), a.expectedStatus)
	}
	return b.String()
}

// StepStatus is a read-only snapshot of one script step.
type StepStatus struct {
	Index          int    `json:"index"`
	Kind           string `json:"kind"`
	Description    string `json:"description"`
	Characteristic string `json:"characteristic,omitempty"`
	Failed         bool   `json:"failed"`
	Reason         string `json:"reason,omitempty"`
}

func (a *Action) status(index int) StepStatus {
	return StepStatus{
		Index:          index,
		Kind:           a.kind.String(),
		Description:    a.Describe(),
		Characteristic: a.characteristic,
		Failed:         a.failed,
		Reason:         a.reason,
	}
}

// formatBytes renders bytes as [0x01 0x02].
func formatBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("0x%02x", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

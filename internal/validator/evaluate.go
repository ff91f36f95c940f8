package validator

import (
	"bytes"
	"fmt"

	"github.com/srg/beaconval/internal/device"
)

// evaluateRead checks a characteristic read against the head step and
// returns the failure reason, or "" on success. Steps that are not
// assertions pass unconditionally.
func evaluateRead(a *Action, value []byte, status device.Status) string {
	if status != a.expectedStatus {
		return fmt.Sprintf("Incorrect status code: %d. Expected: %d", int(status), int(a.expectedStatus))
	}
	switch a.kind {
	case KindAssertNotEquals:
		if bytes.Equal(a.value, value) {
			return fmt.Sprintf("Values read are the same: %s", formatBytes(value))
		}
	case KindAssertEquals:
		if !bytes.Equal(a.value, value) {
			return fmt.Sprintf("Result not the same. Expected: %s. Received: %s", formatBytes(a.value), formatBytes(value))
		}
	}
	return ""
}

// evaluateWrite checks a characteristic write status against the head step
// and returns the failure reason, or "" on success.
func evaluateWrite(a *Action, status device.Status) string {
	switch a.kind {
	case KindWrite:
		if status != a.expectedStatus {
			return fmt.Sprintf("Incorrect status code: %d. Expected: %d", int(status), int(a.expectedStatus))
		}
	case KindWriteMultiReturnCode:
		if !a.accepts(status) {
			return fmt.Sprintf("Status code %d: no accepted code matched %v", int(status), statusCodes(a.acceptedStatus))
		}
	}
	return ""
}

func statusCodes(statuses []device.Status) []int {
	codes := make([]int, len(statuses))
	for i, s := range statuses {
		codes[i] = int(s)
	}
	return codes
}

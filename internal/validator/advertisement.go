package validator

import (
	"bytes"
	"fmt"
)

// Beacon frame layout inside the URI service data.
const (
	flagsOffset   = 0
	txPowerOffset = 1
	uriOffset     = 2
	minFrameLen   = 2
)

// Flags returns payload[0].
func Flags(payload []byte) (byte, bool) {
	if len(payload) <= flagsOffset {
		return 0, false
	}
	return payload[flagsOffset], true
}

// TxPower returns payload[1].
func TxPower(payload []byte) (byte, bool) {
	if len(payload) <= txPowerOffset {
		return 0, false
	}
	return payload[txPowerOffset], true
}

// URI returns payload[2:].
func URI(payload []byte) ([]byte, bool) {
	if len(payload) < uriOffset {
		return nil, false
	}
	return bytes.Clone(payload[uriOffset:]), true
}

// ValidPacket reports whether payload is long enough to hold a beacon frame.
func ValidPacket(payload []byte) bool {
	return len(payload) >= minFrameLen
}

// inspectAdvertisement evaluates an advertisement step against payload and
// returns the failure reason, or "" when the step passes.
func inspectAdvertisement(a *Action, payload []byte) string {
	switch a.kind {
	case KindAdvPacket:
		if !ValidPacket(payload) {
			return "invalid adv packet"
		}
	case KindAdvFlags:
		flags, ok := Flags(payload)
		if !ok {
			return "invalid adv packet"
		}
		if want := a.value[0]; flags != want {
			return fmt.Sprintf("Received: 0x%02x. Expected: 0x%02x", flags, want)
		}
	case KindAdvTxPower:
		power, ok := TxPower(payload)
		if !ok {
			return "invalid adv packet"
		}
		if want := a.value[0]; power != want {
			return fmt.Sprintf("Received: 0x%02x. Expected: 0x%02x", power, want)
		}
	case KindAdvURI:
		uri, ok := URI(payload)
		if !ok {
			return "invalid adv packet"
		}
		if !bytes.Equal(uri, a.value) {
			return fmt.Sprintf("Received: %s. Expected: %s", formatBytes(uri), formatBytes(a.value))
		}
	default:
		return fmt.Sprintf("%s is not an advertisement step", a.kind)
	}
	return ""
}

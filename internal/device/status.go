package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Status is a GATT operation status code. Values below 0x100 are ATT error
// codes [Vol 3, Part F, 3.4.1.1]; StatusFailure is a generic link-level failure.
type Status int

const (
	StatusSuccess                    Status = 0x00
	StatusInvalidHandle              Status = 0x01
	StatusReadNotPermitted           Status = 0x02
	StatusWriteNotPermitted          Status = 0x03
	StatusInsufficientAuthentication Status = 0x05
	StatusRequestNotSupported        Status = 0x06
	StatusInvalidOffset              Status = 0x07
	StatusInsufficientAuthorization  Status = 0x08
	StatusInvalidAttributeLength     Status = 0x0d
	StatusInsufficientEncryption     Status = 0x0f
	StatusFailure                    Status = 0x101
)

var statusNames = map[Status]string{
	StatusSuccess:                    "success",
	StatusInvalidHandle:              "invalid handle",
	StatusReadNotPermitted:           "read not permitted",
	StatusWriteNotPermitted:          "write not permitted",
	StatusInsufficientAuthentication: "insufficient authentication",
	StatusRequestNotSupported:        "request not supported",
	StatusInvalidOffset:              "invalid offset",
	StatusInsufficientAuthorization:  "insufficient authorization",
	StatusInvalidAttributeLength:     "invalid attribute value length",
	StatusInsufficientEncryption:     "insufficient encryption",
	StatusFailure:                    "failure",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status 0x%02x", int(s))
}

// ParseStatus accepts a status name ("success", "invalid-attribute-value-length",
// "write_not_permitted") or a number in decimal or 0x hex.
func ParseStatus(s string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return 0, errors.New("empty status")
	}
	if n, err := strconv.ParseInt(key, 0, 32); err == nil {
		return Status(n), nil
	}
	key = strings.NewReplacer("-", " ", "_", " ").Replace(key)
	for status, name := range statusNames {
		if name == key {
			return status, nil
		}
	}
	if key == "invalid length" {
		return StatusInvalidAttributeLength, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// OK reports whether s is StatusSuccess.
func (s Status) OK() bool {
	return s == StatusSuccess
}

// State is a link connection state.
type State int

const (
	StateDisconnected  State = 0
	StateConnecting    State = 1
	StateConnected     State = 2
	StateDisconnecting State = 3
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state %d", int(s))
	}
}

package device

import (
	"context"
	"errors"
	"fmt"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff, Msg: "bluetooth is turned off"}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Advertisement is a single observed advertising report.
type Advertisement interface {
	Addr() string
	LocalName() string
	RSSI() int
	Connectable() bool
	Services() []string

	// ServiceData returns the service-specific payload advertised for uuid, or nil.
	ServiceData(uuid string) []byte
}

// Scanner discovers advertisements. Scan blocks until ctx is done; context
// cancellation is a normal end of scan and is not reported as an error.
type Scanner interface {
	Scan(ctx context.Context, serviceUUID string, handler func(Advertisement)) error
}

// Radio is the BLE central role: it scans and opens links.
type Radio interface {
	Scanner

	// Connect starts connecting to address. The outcome is delivered
	// asynchronously through events.OnConnectionStateChange.
	Connect(address string, events LinkEvents)
}

// Link is an established (or establishing) GATT connection handle.
// Every operation only initiates work; completion is reported through the
// LinkEvents the link was opened with.
type Link interface {
	Address() string
	DiscoverServices()
	// Service returns the discovered service with uuid, or nil when service
	// discovery has not completed or the peripheral lacks it.
	Service(uuid string) Service
	Disconnect()
}

// Service is a discovered GATT service.
type Service interface {
	UUID() string
	ReadCharacteristic(uuid string)
	WriteCharacteristic(uuid string, value []byte)
}

// LinkEvents receives asynchronous completions of link operations.
type LinkEvents interface {
	OnConnectionStateChange(link Link, status Status, state State)
	OnServicesDiscovered(link Link, status Status)
	OnCharacteristicRead(link Link, uuid string, value []byte, status Status)
	OnCharacteristicWrite(link Link, uuid string, status Status)
}

// Package sim provides an in-process UriBeacon that answers the configuration
// protocol the way a conforming beacon does, so scripts can run without
// hardware.
package sim

import (
	"bytes"
	"sync"

	"github.com/cornelk/hashmap"

	"github.com/srg/beaconval/internal/device"
	"github.com/srg/beaconval/internal/uribeacon"
)

// Beacon is the state machine of one simulated beacon. It is safe for
// concurrent use.
type Beacon struct {
	address string
	name    string

	// mu serializes rule evaluation; attrs holds one value per characteristic.
	mu        sync.Mutex
	attrs     *hashmap.Map[string, []byte]
	lockCode  []byte
	overrides *hashmap.Map[string, device.Status]
}

// Option configures a Beacon.
type Option func(*Beacon)

func WithName(name string) Option {
	return func(b *Beacon) { b.name = name }
}

// WithLock starts the beacon locked with code.
func WithLock(code []byte) Option {
	return func(b *Beacon) {
		b.lockCode = bytes.Clone(code)
		b.attrs.Set(key(uribeacon.LockStateUUID), []byte{0x01})
	}
}

// WithURI sets the initial URI frame.
func WithURI(uri []byte) Option {
	return func(b *Beacon) { b.attrs.Set(key(uribeacon.DataUUID), bytes.Clone(uri)) }
}

// WithWriteStatus makes every write to uuid answer status without changing
// state, to model a non-conforming beacon.
func WithWriteStatus(uuid string, status device.Status) Option {
	return func(b *Beacon) { b.overrides.Set(key(uuid), status) }
}

func NewBeacon(address string, opts ...Option) *Beacon {
	b := &Beacon{
		address:   address,
		name:      "UriBeacon",
		attrs:     hashmap.New[string, []byte](),
		overrides: hashmap.New[string, device.Status](),
	}
	b.reset()
	b.attrs.Set(key(uribeacon.LockStateUUID), []byte{0x00})
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Beacon) Address() string {
	return b.address
}

func (b *Beacon) Name() string {
	return b.name
}

// Locked reports the lock state.
func (b *Beacon) Locked() bool {
	v, _ := b.attrs.Get(key(uribeacon.LockStateUUID))
	return len(v) == 1 && v[0] == 0x01
}

// Payload returns the URI service data frame: flags, calibrated TX power of
// the current mode, then the URI.
func (b *Beacon) Payload() []byte {
	flags, _ := b.attrs.Get(key(uribeacon.FlagsUUID))
	levels, _ := b.attrs.Get(key(uribeacon.AdvertisedPowerLevelsUUID))
	mode, _ := b.attrs.Get(key(uribeacon.TxPowerModeUUID))
	uri, _ := b.attrs.Get(key(uribeacon.DataUUID))

	frame := make([]byte, 0, 2+len(uri))
	frame = append(frame, firstByte(flags))
	if m := int(firstByte(mode)); m < len(levels) {
		frame = append(frame, levels[m])
	} else {
		frame = append(frame, 0x00)
	}
	return append(frame, uri...)
}

// Read answers a characteristic read.
func (b *Beacon) Read(uuid string) ([]byte, device.Status) {
	k := key(uuid)
	switch k {
	case key(uribeacon.LockUUID), key(uribeacon.UnlockUUID), key(uribeacon.ResetUUID):
		return nil, uribeacon.StatusReadNotPermitted
	}
	v, ok := b.attrs.Get(k)
	if !ok {
		return nil, device.StatusInvalidHandle
	}
	return bytes.Clone(v), uribeacon.StatusSuccess
}

// Write answers a characteristic write, applying it when the protocol allows.
func (b *Beacon) Write(uuid string, value []byte) device.Status {
	k := key(uuid)
	if status, ok := b.overrides.Get(k); ok {
		return status
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch k {
	case key(uribeacon.LockStateUUID):
		return uribeacon.StatusWriteNotPermitted
	case key(uribeacon.UnlockUUID):
		return b.unlock(value)
	}
	if b.Locked() {
		return uribeacon.StatusInsufficientAuthorization
	}

	switch k {
	case key(uribeacon.LockUUID):
		if len(value) != uribeacon.LockCodeLength {
			return uribeacon.StatusInvalidLength
		}
		b.lockCode = bytes.Clone(value)
		b.attrs.Set(key(uribeacon.LockStateUUID), []byte{0x01})
	case key(uribeacon.DataUUID):
		if len(value) > uribeacon.MaxURILength {
			return uribeacon.StatusInvalidLength
		}
		b.attrs.Set(k, bytes.Clone(value))
	case key(uribeacon.FlagsUUID):
		if len(value) != 1 {
			return uribeacon.StatusInvalidLength
		}
		b.attrs.Set(k, bytes.Clone(value))
	case key(uribeacon.AdvertisedPowerLevelsUUID):
		if len(value) != uribeacon.PowerLevelsLength {
			return uribeacon.StatusInvalidLength
		}
		b.attrs.Set(k, bytes.Clone(value))
	case key(uribeacon.TxPowerModeUUID):
		if len(value) != 1 {
			return uribeacon.StatusInvalidLength
		}
		if value[0] > uribeacon.MaxTxPowerMode {
			return uribeacon.StatusWriteNotPermitted
		}
		b.attrs.Set(k, bytes.Clone(value))
	case key(uribeacon.BeaconPeriodUUID):
		if len(value) != uribeacon.PeriodLength {
			return uribeacon.StatusInvalidLength
		}
		b.attrs.Set(k, bytes.Clone(value))
	case key(uribeacon.ResetUUID):
		if len(value) != 1 {
			return uribeacon.StatusInvalidLength
		}
		if value[0] != 0x00 {
			b.reset()
		}
	default:
		return device.StatusInvalidHandle
	}
	return uribeacon.StatusSuccess
}

// unlock clears the lock when code matches. Unlocking an unlocked beacon
// succeeds.
func (b *Beacon) unlock(code []byte) device.Status {
	if len(code) != uribeacon.LockCodeLength {
		return uribeacon.StatusInvalidLength
	}
	if !b.Locked() {
		return uribeacon.StatusSuccess
	}
	if !bytes.Equal(code, b.lockCode) {
		return uribeacon.StatusInsufficientAuthorization
	}
	b.attrs.Set(key(uribeacon.LockStateUUID), []byte{0x00})
	return uribeacon.StatusSuccess
}

// reset restores the configurable characteristics; the lock is kept.
func (b *Beacon) reset() {
	b.attrs.Set(key(uribeacon.DataUUID), bytes.Clone(uribeacon.DefaultURI))
	b.attrs.Set(key(uribeacon.FlagsUUID), []byte{0x00})
	b.attrs.Set(key(uribeacon.AdvertisedPowerLevelsUUID), bytes.Clone(uribeacon.DefaultPowerLevels))
	b.attrs.Set(key(uribeacon.TxPowerModeUUID), []byte{uribeacon.DefaultTxPowerMode})
	b.attrs.Set(key(uribeacon.BeaconPeriodUUID), bytes.Clone(uribeacon.DefaultPeriod))
}

func key(uuid string) string {
	return device.NormalizeUUID(uuid)
}

func firstByte(b []byte) byte {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

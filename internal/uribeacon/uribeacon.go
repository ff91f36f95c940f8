// Package uribeacon holds the static tables of the UriBeacon configuration
// protocol (v2): service and characteristic UUIDs, status codes and limits.
package uribeacon

import (
	"strings"

	"github.com/srg/beaconval/internal/device"
)

// Service UUIDs
const (
	// ConfigServiceUUID is advertised by beacons in configuration mode.
	ConfigServiceUUID = "ee0c2080-8786-40ba-ab96-99b91ac981d8"
	// URIServiceUUID carries the beacon frame in the advertisement service data.
	URIServiceUUID = "0000fed8-0000-1000-8000-00805f9b34fb"
)

// Characteristic UUIDs of the configuration service
const (
	LockStateUUID             = "ee0c2081-8786-40ba-ab96-99b91ac981d8"
	LockUUID                  = "ee0c2082-8786-40ba-ab96-99b91ac981d8"
	UnlockUUID                = "ee0c2083-8786-40ba-ab96-99b91ac981d8"
	DataUUID                  = "ee0c2084-8786-40ba-ab96-99b91ac981d8"
	FlagsUUID                 = "ee0c2085-8786-40ba-ab96-99b91ac981d8"
	AdvertisedPowerLevelsUUID = "ee0c2086-8786-40ba-ab96-99b91ac981d8"
	TxPowerModeUUID           = "ee0c2087-8786-40ba-ab96-99b91ac981d8"
	BeaconPeriodUUID          = "ee0c2088-8786-40ba-ab96-99b91ac981d8"
	ResetUUID                 = "ee0c2089-8786-40ba-ab96-99b91ac981d8"
)

// Protocol limits
const (
	LockCodeLength    = 16
	MaxURILength      = 18
	PowerLevelsLength = 4
	PeriodLength      = 2
	MaxTxPowerMode    = 3
)

// Default beacon state after a reset.
var (
	DefaultURI         = []byte{0x00, 'g', 'o', 'o', '.', 'g', 'l', '/', 'S', 'd', 'Z', 'V', 'j', 'N'}
	DefaultPowerLevels = []byte{0xee, 0xf6, 0xfc, 0x00}
	DefaultTxPowerMode = byte(2)
	DefaultPeriod      = []byte{0xe8, 0x03} // 1000 ms, little endian
	DefaultLockCode    = make([]byte, LockCodeLength)
)

// Status codes returned by a conforming beacon.
const (
	StatusSuccess                   = device.StatusSuccess
	StatusReadNotPermitted          = device.StatusReadNotPermitted
	StatusWriteNotPermitted         = device.StatusWriteNotPermitted
	StatusInsufficientAuthorization = device.StatusInsufficientAuthorization
	StatusInvalidLength             = device.StatusInvalidAttributeLength
)

var characteristicNames = map[string]string{
	LockStateUUID:             "lock-state",
	LockUUID:                  "lock",
	UnlockUUID:                "unlock",
	DataUUID:                  "data",
	FlagsUUID:                 "flags",
	AdvertisedPowerLevelsUUID: "power-levels",
	TxPowerModeUUID:           "power-mode",
	BeaconPeriodUUID:          "period",
	ResetUUID:                 "reset",
}

// CharacteristicName returns the short name of a configuration characteristic,
// or the shortened UUID when it is not part of the protocol.
func CharacteristicName(uuid string) string {
	for u, name := range characteristicNames {
		if device.EqualUUID(u, uuid) {
			return name
		}
	}
	return device.ShortenUUID(device.NormalizeUUID(uuid))
}

// LookupCharacteristic resolves a short name ("data") or a UUID to the
// characteristic UUID. The second result is false for unknown short names.
func LookupCharacteristic(nameOrUUID string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(nameOrUUID))
	for u, name := range characteristicNames {
		if key == name || device.EqualUUID(u, key) {
			return u, true
		}
	}
	if _, err := device.ValidateUUID(key); err == nil {
		return key, true
	}
	return "", false
}

package goble

import (
	"slices"

	"github.com/go-ble/ble"

	"github.com/srg/beaconval/internal/device"
)

// Advertisement wraps ble.Advertisement to implement the device.Advertisement interface
type Advertisement struct {
	adv ble.Advertisement
}

// NewAdvertisement creates a new Advertisement wrapper
func NewAdvertisement(adv ble.Advertisement) *Advertisement {
	return &Advertisement{adv: adv}
}

func (a *Advertisement) LocalName() string { return a.adv.LocalName() }
func (a *Advertisement) Connectable() bool { return a.adv.Connectable() }
func (a *Advertisement) RSSI() int         { return a.adv.RSSI() }
func (a *Advertisement) Addr() string      { return a.adv.Addr().String() }

// Services lists advertised service UUIDs, including the overflow area.
func (a *Advertisement) Services() []string {
	services := append(slices.Clone(a.adv.Services()), a.adv.OverflowService()...)
	result := make([]string, len(services))
	for i, svc := range services {
		result[i] = svc.String()
	}
	return result
}

func (a *Advertisement) ServiceData(uuid string) []byte {
	for _, sd := range a.adv.ServiceData() {
		if device.EqualUUID(sd.UUID.String(), uuid) {
			return slices.Clone(sd.Data)
		}
	}
	return nil
}

// Advertises reports whether the advertisement names serviceUUID either as a
// service or as a service data key. An empty serviceUUID matches everything.
func (a *Advertisement) Advertises(serviceUUID string) bool {
	if serviceUUID == "" {
		return true
	}
	match := func(s string) bool { return device.EqualUUID(s, serviceUUID) }
	if slices.ContainsFunc(a.Services(), match) {
		return true
	}
	return slices.ContainsFunc(a.adv.ServiceData(), func(sd ble.ServiceData) bool {
		return match(sd.UUID.String())
	})
}

// Unwrap returns the underlying ble.Advertisement
func (a *Advertisement) Unwrap() ble.Advertisement {
	return a.adv
}

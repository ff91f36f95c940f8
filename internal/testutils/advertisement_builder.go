package testutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/srg/beaconval/internal/device"
)

// Advertisement is an in-memory device.Advertisement.
type Advertisement struct {
	addr        string
	name        string
	rssi        int
	connectable bool
	services    []string
	serviceData map[string][]byte
}

func (a *Advertisement) Addr() string {
	return a.addr
}

func (a *Advertisement) LocalName() string {
	return a.name
}

func (a *Advertisement) RSSI() int {
	return a.rssi
}

func (a *Advertisement) Connectable() bool {
	return a.connectable
}

func (a *Advertisement) Services() []string {
	return slices.Clone(a.services)
}

func (a *Advertisement) ServiceData(uuid string) []byte {
	for k, v := range a.serviceData {
		if device.EqualUUID(k, uuid) {
			return bytes.Clone(v)
		}
	}
	return nil
}

// advertises reports whether a passes a scan filter for serviceUUID.
func (a *Advertisement) advertises(serviceUUID string) bool {
	if serviceUUID == "" {
		return true
	}
	for _, s := range a.services {
		if device.EqualUUID(s, serviceUUID) {
			return true
		}
	}
	return a.ServiceData(serviceUUID) != nil
}

var _ device.Advertisement = (*Advertisement)(nil)

// AdvertisementBuilder builds advertisements for scan tests.
type AdvertisementBuilder struct {
	adv Advertisement
}

// NewAdvertisementBuilder starts a connectable advertisement with RSSI -50.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: Advertisement{
		rssi:        -50,
		connectable: true,
		serviceData: make(map[string][]byte),
	}}
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.addr = addr
	return b
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.name = name
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.rssi = rssi
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.connectable = c
	return b
}

// WithServices adds advertised service UUIDs.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.services = append(b.adv.services, uuids...)
	return b
}

// WithServiceData sets the service data advertised for uuid.
func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	b.adv.serviceData[uuid] = bytes.Clone(data)
	return b
}

// FromJSON fills the builder from a JSON object with format support.
// Service data values are arrays of byte values. Panics on invalid JSON as
// this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var data struct {
		Address     *string          `json:"address"`
		Name        *string          `json:"name"`
		RSSI        *int             `json:"rssi"`
		Connectable *bool            `json:"connectable"`
		Services    []string         `json:"services"`
		ServiceData map[string][]int `json:"serviceData"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Address != nil {
		b.WithAddress(*data.Address)
	}
	if data.Name != nil {
		b.WithName(*data.Name)
	}
	if data.RSSI != nil {
		b.WithRSSI(*data.RSSI)
	}
	if data.Connectable != nil {
		b.WithConnectable(*data.Connectable)
	}
	b.WithServices(data.Services...)
	for uuid, values := range data.ServiceData {
		payload := make([]byte, len(values))
		for i, v := range values {
			payload[i] = byte(v)
		}
		b.WithServiceData(uuid, payload)
	}
	return b
}

func (b *AdvertisementBuilder) Build() *Advertisement {
	adv := b.adv
	adv.services = slices.Clone(b.adv.services)
	adv.serviceData = make(map[string][]byte, len(b.adv.serviceData))
	for k, v := range b.adv.serviceData {
		adv.serviceData[k] = bytes.Clone(v)
	}
	return &adv
}

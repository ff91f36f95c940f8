package sim

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/beaconval/internal/device"
	"github.com/srg/beaconval/internal/groutine"
	"github.com/srg/beaconval/internal/uribeacon"
)

// Radio is a device.Radio backed by simulated beacons. Every completion is
// delivered asynchronously after Latency.
type Radio struct {
	beacons  []*Beacon
	logger   *logrus.Logger
	Latency  time.Duration
	Interval time.Duration
}

// NewRadio creates a radio that sees beacons. A nil logger means logrus.New().
func NewRadio(logger *logrus.Logger, beacons ...*Beacon) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{
		beacons:  beacons,
		logger:   logger,
		Latency:  5 * time.Millisecond,
		Interval: 20 * time.Millisecond,
	}
}

// Scan advertises every beacon matching serviceUUID each Interval until ctx
// is done.
func (r *Radio) Scan(ctx context.Context, serviceUUID string, handler func(device.Advertisement)) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		for _, b := range r.beacons {
			adv := &advertisement{beacon: b, payload: b.Payload()}
			if serviceUUID == "" || adv.advertises(serviceUUID) {
				handler(adv)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Radio) Connect(address string, events device.LinkEvents) {
	b := r.find(address)
	if b == nil {
		r.later("sim-connect", func() {
			r.logger.WithField("address", address).Debug("Simulated beacon not found")
			events.OnConnectionStateChange(nil, device.StatusFailure, device.StateDisconnected)
		})
		return
	}
	l := &link{radio: r, beacon: b, events: events}
	r.later("sim-connect", func() {
		events.OnConnectionStateChange(l, uribeacon.StatusSuccess, device.StateConnected)
	})
}

func (r *Radio) find(address string) *Beacon {
	for _, b := range r.beacons {
		if strings.EqualFold(b.address, address) {
			return b
		}
	}
	return nil
}

func (r *Radio) later(name string, fn func()) {
	groutine.Go(context.Background(), name, func(context.Context) {
		time.Sleep(r.Latency)
		fn()
	})
}

var _ device.Radio = (*Radio)(nil)

type link struct {
	radio  *Radio
	beacon *Beacon
	events device.LinkEvents
}

func (l *link) Address() string {
	return l.beacon.address
}

func (l *link) DiscoverServices() {
	l.radio.later("sim-discover", func() {
		l.events.OnServicesDiscovered(l, uribeacon.StatusSuccess)
	})
}

func (l *link) Service(uuid string) device.Service {
	if !device.EqualUUID(uuid, uribeacon.ConfigServiceUUID) {
		return nil
	}
	return &service{link: l}
}

func (l *link) Disconnect() {
	l.radio.later("sim-disconnect", func() {
		l.events.OnConnectionStateChange(l, uribeacon.StatusSuccess, device.StateDisconnected)
	})
}

type service struct {
	link *link
}

func (s *service) UUID() string {
	return uribeacon.ConfigServiceUUID
}

func (s *service) ReadCharacteristic(uuid string) {
	l := s.link
	l.radio.later("sim-read", func() {
		value, status := l.beacon.Read(uuid)
		l.radio.logger.WithFields(logrus.Fields{
			"characteristic": uribeacon.CharacteristicName(uuid),
			"status":         status,
		}).Debug("Simulated read")
		l.events.OnCharacteristicRead(l, uuid, value, status)
	})
}

func (s *service) WriteCharacteristic(uuid string, value []byte) {
	l := s.link
	value = slices.Clone(value)
	l.radio.later("sim-write", func() {
		status := l.beacon.Write(uuid, value)
		l.radio.logger.WithFields(logrus.Fields{
			"characteristic": uribeacon.CharacteristicName(uuid),
			"status":         status,
		}).Debug("Simulated write")
		l.events.OnCharacteristicWrite(l, uuid, status)
	})
}

type advertisement struct {
	beacon  *Beacon
	payload []byte
}

func (a *advertisement) Addr() string {
	return a.beacon.address
}

func (a *advertisement) LocalName() string {
	return a.beacon.name
}

func (a *advertisement) RSSI() int {
	return -40
}

func (a *advertisement) Connectable() bool {
	return true
}

func (a *advertisement) Services() []string {
	return []string{uribeacon.ConfigServiceUUID, uribeacon.URIServiceUUID}
}

func (a *advertisement) ServiceData(uuid string) []byte {
	if device.EqualUUID(uuid, uribeacon.URIServiceUUID) {
		return slices.Clone(a.payload)
	}
	return nil
}

func (a *advertisement) advertises(serviceUUID string) bool {
	return slices.ContainsFunc(a.Services(), func(s string) bool {
		return device.EqualUUID(s, serviceUUID)
	})
}

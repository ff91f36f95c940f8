package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/beaconval/internal/device"
	"github.com/srg/beaconval/internal/groutine"
)

// DefaultConnectTimeout bounds a dial when Options.ConnectTimeout is unset.
const DefaultConnectTimeout = 30 * time.Second

// Options configure a Radio.
type Options struct {
	ConnectTimeout time.Duration
	Logger         *logrus.Logger
}

// Radio is a device.Radio on top of the host's go-ble device. The device is
// created on first use.
type Radio struct {
	opts   Options
	logger *logrus.Logger

	once   sync.Once
	dev    ble.Device
	devErr error
}

func NewRadio(opts Options) *Radio {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Radio{opts: opts, logger: opts.Logger}
}

func (r *Radio) device() (ble.Device, error) {
	r.once.Do(func() {
		dev, err := DeviceFactory()
		if err != nil {
			r.devErr = fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
			return
		}
		r.dev = dev
	})
	return r.dev, r.devErr
}

// Scan reports advertisements naming serviceUUID until ctx is done.
func (r *Radio) Scan(ctx context.Context, serviceUUID string, handler func(device.Advertisement)) error {
	dev, err := r.device()
	if err != nil {
		return err
	}

	r.logger.WithField("service", serviceUUID).Debug("Starting BLE scan")
	err = dev.Scan(ctx, true, func(a ble.Advertisement) {
		adv := NewAdvertisement(a)
		if adv.Advertises(serviceUUID) {
			handler(adv)
		}
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return NormalizeError(err)
}

// Connect dials address in the background. A failed dial is reported as a
// disconnect with a nil link.
func (r *Radio) Connect(address string, events device.LinkEvents) {
	groutine.Go(context.Background(), "goble-connect", func(ctx context.Context) {
		r.dial(ctx, address, events)
	})
}

func (r *Radio) dial(ctx context.Context, address string, events device.LinkEvents) {
	log := r.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": r.opts.ConnectTimeout,
	})

	dev, err := r.device()
	if err != nil {
		log.WithError(err).Error("BLE device unavailable")
		events.OnConnectionStateChange(nil, device.StatusFailure, device.StateDisconnected)
		return
	}

	connCtx, cancel := context.WithTimeout(ctx, r.opts.ConnectTimeout)
	defer cancel()

	log.Debug("Dialing BLE device...")
	client, err := dev.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		log.WithError(NormalizeError(err)).Warn("Failed to dial BLE device")
		events.OnConnectionStateChange(nil, StatusFromError(err), device.StateDisconnected)
		return
	}

	l := &link{
		address: address,
		client:  client,
		events:  events,
		logger:  r.logger,
	}
	log.Info("BLE device connected")
	events.OnConnectionStateChange(l, device.StatusSuccess, device.StateConnected)
	l.monitor()
}

// link is a go-ble client connection. GATT requests are serialized.
type link struct {
	address string
	client  ble.Client
	events  device.LinkEvents
	logger  *logrus.Logger

	gattMu    sync.Mutex
	mu        sync.RWMutex
	services  map[string]*service
	requested atomic.Bool
	closeOnce sync.Once
}

func (l *link) Address() string {
	return l.address
}

func (l *link) DiscoverServices() {
	groutine.Go(context.Background(), "goble-discover", func(context.Context) {
		l.gattMu.Lock()
		profile, err := l.client.DiscoverProfile(true)
		l.gattMu.Unlock()
		if err != nil {
			l.logger.WithError(err).WithField("address", l.address).Warn("Failed to discover profile")
			l.events.OnServicesDiscovered(l, StatusFromError(err))
			return
		}

		services := make(map[string]*service, len(profile.Services))
		for _, bleSvc := range profile.Services {
			svc := &service{
				link:            l,
				uuid:            bleSvc.UUID.String(),
				characteristics: make(map[string]*ble.Characteristic, len(bleSvc.Characteristics)),
			}
			for _, c := range bleSvc.Characteristics {
				svc.characteristics[device.NormalizeUUID(c.UUID.String())] = c
			}
			services[device.NormalizeUUID(svc.uuid)] = svc
		}

		l.mu.Lock()
		l.services = services
		l.mu.Unlock()

		l.logger.WithFields(logrus.Fields{
			"address":  l.address,
			"services": len(services),
		}).Debug("Profile discovered successfully")
		l.events.OnServicesDiscovered(l, device.StatusSuccess)
	})
}

func (l *link) Service(uuid string) device.Service {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if svc, ok := l.services[device.NormalizeUUID(uuid)]; ok {
		return svc
	}
	return nil
}

func (l *link) Disconnect() {
	l.requested.Store(true)
	groutine.Go(context.Background(), "goble-disconnect", func(context.Context) {
		if err := l.client.CancelConnection(); err != nil {
			l.logger.WithError(err).WithField("address", l.address).Warn("BLE device disconnected with errors")
		}
		l.closed(device.StatusSuccess)
	})
}

// monitor reports a disconnect the link did not ask for as StatusFailure.
// Clients without a Disconnected channel only report requested disconnects.
func (l *link) monitor() {
	dc, ok := l.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		l.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	groutine.Go(context.Background(), "goble-monitor", func(context.Context) {
		<-dc.Disconnected()
		status := device.StatusFailure
		if l.requested.Load() {
			status = device.StatusSuccess
		}
		l.closed(status)
	})
}

func (l *link) closed(status device.Status) {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.services = nil
		l.mu.Unlock()
		l.logger.WithFields(logrus.Fields{
			"address": l.address,
			"status":  status,
		}).Info("BLE device disconnected")
		l.events.OnConnectionStateChange(l, status, device.StateDisconnected)
	})
}

type service struct {
	link            *link
	uuid            string
	characteristics map[string]*ble.Characteristic
}

func (s *service) UUID() string {
	return s.uuid
}

func (s *service) ReadCharacteristic(uuid string) {
	l := s.link
	groutine.Go(context.Background(), "goble-read", func(context.Context) {
		c, ok := s.characteristics[device.NormalizeUUID(uuid)]
		if !ok {
			l.events.OnCharacteristicRead(l, uuid, nil, device.StatusInvalidHandle)
			return
		}
		l.gattMu.Lock()
		value, err := l.client.ReadCharacteristic(c)
		l.gattMu.Unlock()
		if err != nil {
			l.logger.WithError(err).WithField("characteristic", uuid).Debug("Characteristic read failed")
		}
		l.events.OnCharacteristicRead(l, uuid, value, StatusFromError(err))
	})
}

func (s *service) WriteCharacteristic(uuid string, value []byte) {
	l := s.link
	groutine.Go(context.Background(), "goble-write", func(context.Context) {
		c, ok := s.characteristics[device.NormalizeUUID(uuid)]
		if !ok {
			l.events.OnCharacteristicWrite(l, uuid, device.StatusInvalidHandle)
			return
		}
		l.gattMu.Lock()
		err := l.client.WriteCharacteristic(c, value, false)
		l.gattMu.Unlock()
		if err != nil {
			l.logger.WithError(err).WithField("characteristic", uuid).Debug("Characteristic write failed")
		}
		l.events.OnCharacteristicWrite(l, uuid, StatusFromError(err))
	})
}

package testutils

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/srg/beaconval/internal/device"
)

// OpKind names an operation issued against a FakeRadio.
type OpKind string

const (
	OpScan       OpKind = "scan"
	OpConnect    OpKind = "connect"
	OpDiscover   OpKind = "discover"
	OpRead       OpKind = "read"
	OpWrite      OpKind = "write"
	OpDisconnect OpKind = "disconnect"
)

// Op is one recorded operation. Link is set for every kind but OpScan.
type Op struct {
	Kind           OpKind
	Address        string
	Service        string
	Characteristic string
	Value          []byte
	Link           *FakeLink
}

// FakeRadio is a device.Radio that records every operation and answers
// nothing on its own: tests drive completions through the FakeLink of the
// recorded op. Scans deliver the configured advertisements that match the
// filter, then block until cancelled.
type FakeRadio struct {
	mu       sync.Mutex
	adverts  []*Advertisement
	scanErr  error
	services []string
	links    map[string]*FakeLink
	ops      chan Op
}

// NewFakeRadio creates a radio whose links expose services.
func NewFakeRadio(services ...string) *FakeRadio {
	return &FakeRadio{
		services: services,
		links:    make(map[string]*FakeLink),
		ops:      make(chan Op, 256),
	}
}

// WithAdvertisements sets what every later scan observes.
func (r *FakeRadio) WithAdvertisements(adverts ...*Advertisement) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adverts = adverts
	return r
}

// WithScanError makes every later scan fail immediately.
func (r *FakeRadio) WithScanError(err error) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanErr = err
	return r
}

func (r *FakeRadio) Scan(ctx context.Context, serviceUUID string, handler func(device.Advertisement)) error {
	r.record(Op{Kind: OpScan, Service: serviceUUID})

	r.mu.Lock()
	adverts, scanErr := slices.Clone(r.adverts), r.scanErr
	r.mu.Unlock()

	if scanErr != nil {
		return scanErr
	}
	for _, adv := range adverts {
		if adv.advertises(serviceUUID) {
			handler(adv)
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

// Connect records a dial. Every dial yields a new link, which becomes the
// one Link returns for address.
func (r *FakeRadio) Connect(address string, events device.LinkEvents) {
	r.mu.Lock()
	link := &FakeLink{radio: r, address: address, services: r.services}
	r.links[address] = link
	r.mu.Unlock()

	link.setEvents(events)
	r.record(Op{Kind: OpConnect, Address: address, Link: link})
}

// Link returns the latest link for address, creating it on first use.
func (r *FakeRadio) Link(address string) *FakeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[address]
	if !ok {
		link = &FakeLink{radio: r, address: address, services: r.services}
		r.links[address] = link
	}
	return link
}

func (r *FakeRadio) record(op Op) {
	r.ops <- op
}

// Next waits up to timeout for the next operation.
func (r *FakeRadio) Next(timeout time.Duration) (Op, bool) {
	select {
	case op := <-r.ops:
		return op, true
	case <-time.After(timeout):
		return Op{}, false
	}
}

// Expect waits for the next operation and fails the test unless it is kind.
func (r *FakeRadio) Expect(t testing.TB, kind OpKind) Op {
	t.Helper()
	op, ok := r.Next(2 * time.Second)
	if !ok {
		t.Fatalf("expected %s operation, got none", kind)
	}
	if op.Kind != kind {
		t.Fatalf("expected %s operation, got %s %+v", kind, op.Kind, op)
	}
	return op
}

// ExpectNone fails the test if an operation is issued within d.
func (r *FakeRadio) ExpectNone(t testing.TB, d time.Duration) {
	t.Helper()
	if op, ok := r.Next(d); ok {
		t.Fatalf("expected no operation, got %s %+v", op.Kind, op)
	}
}

var _ device.Radio = (*FakeRadio)(nil)

// FakeLink is a device.Link of a FakeRadio. Its completion helpers deliver
// events to the LinkEvents given to the last Connect.
type FakeLink struct {
	radio    *FakeRadio
	address  string
	services []string

	mu     sync.Mutex
	events device.LinkEvents
}

// NewFakeLink creates an established link outside any radio. Operations on
// it are recorded on radio.
func NewFakeLink(radio *FakeRadio, address string, events device.LinkEvents) *FakeLink {
	link := radio.Link(address)
	link.setEvents(events)
	return link
}

func (l *FakeLink) setEvents(events device.LinkEvents) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = events
}

func (l *FakeLink) listener() device.LinkEvents {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events
}

func (l *FakeLink) Address() string {
	return l.address
}

func (l *FakeLink) DiscoverServices() {
	l.radio.record(Op{Kind: OpDiscover, Address: l.address, Link: l})
}

func (l *FakeLink) Service(uuid string) device.Service {
	for _, s := range l.services {
		if device.EqualUUID(s, uuid) {
			return &fakeService{link: l, uuid: s}
		}
	}
	return nil
}

func (l *FakeLink) Disconnect() {
	l.radio.record(Op{Kind: OpDisconnect, Address: l.address, Link: l})
}

// Connected reports a successful connection.
func (l *FakeLink) Connected() {
	l.listener().OnConnectionStateChange(l, device.StatusSuccess, device.StateConnected)
}

// Disconnected reports a clean disconnect.
func (l *FakeLink) Disconnected() {
	l.listener().OnConnectionStateChange(l, device.StatusSuccess, device.StateDisconnected)
}

// StateChanged reports an arbitrary connection state change.
func (l *FakeLink) StateChanged(status device.Status, state device.State) {
	l.listener().OnConnectionStateChange(l, status, state)
}

func (l *FakeLink) ServicesDiscovered(status device.Status) {
	l.listener().OnServicesDiscovered(l, status)
}

func (l *FakeLink) ReadDone(uuid string, value []byte, status device.Status) {
	l.listener().OnCharacteristicRead(l, uuid, value, status)
}

func (l *FakeLink) WriteDone(uuid string, status device.Status) {
	l.listener().OnCharacteristicWrite(l, uuid, status)
}

var _ device.Link = (*FakeLink)(nil)

type fakeService struct {
	link *FakeLink
	uuid string
}

func (s *fakeService) UUID() string {
	return s.uuid
}

func (s *fakeService) ReadCharacteristic(uuid string) {
	s.link.radio.record(Op{Kind: OpRead, Address: s.link.address, Service: s.uuid, Characteristic: uuid, Link: s.link})
}

func (s *fakeService) WriteCharacteristic(uuid string, value []byte) {
	s.link.radio.record(Op{Kind: OpWrite, Address: s.link.address, Service: s.uuid, Characteristic: uuid, Value: bytes.Clone(value), Link: s.link})
}

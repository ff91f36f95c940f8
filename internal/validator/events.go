package validator

import (
	"bytes"
	"sync"

	"github.com/srg/beaconval/internal/device"
)

// event is anything the sequencer loop reacts to.
type event interface {
	isEvent()
}

// Link events
type (
	connectionStateChanged struct {
		link   device.Link
		status device.Status
		state  device.State
	}
	servicesDiscovered struct {
		link   device.Link
		status device.Status
	}
	characteristicRead struct {
		link   device.Link
		uuid   string
		value  []byte
		status device.Status
	}
	characteristicWritten struct {
		link   device.Link
		uuid   string
		status device.Status
	}
)

// Scan and timer events; gen ties them to the window or pause that produced them.
type (
	advertisementSeen struct {
		gen int
		adv device.Advertisement
	}
	scanEnded struct {
		gen int
		err error
	}
	scanWindowElapsed struct {
		gen int
	}
	settleElapsed struct {
		gen int
	}
)

// Caller requests
type (
	runRequest struct {
		address string
		link    device.Link
		events  device.LinkEvents
		repeat  bool
		reply   chan error
	}
	continueRequest struct {
		index int
		reply chan error
	}
	stopRequest struct {
		reply chan error
	}
	stateRequest struct {
		reply chan RunState
	}
	stepsRequest struct {
		reply chan []StepStatus
	}
)

func (connectionStateChanged) isEvent() {}
func (servicesDiscovered) isEvent() {}
func (characteristicRead) isEvent() {}
func (characteristicWritten) isEvent() {}
func (advertisementSeen) isEvent() {}
func (scanEnded) isEvent() {}
func (scanWindowElapsed) isEvent() {}
func (settleElapsed) isEvent() {}
func (runRequest) isEvent() {}
func (continueRequest) isEvent() {}
func (stopRequest) isEvent() {}
func (stateRequest) isEvent() {}
func (stepsRequest) isEvent() {}

// eventQueue is an unbounded FIFO. post never blocks, so producers may post
// from any goroutine, including the loop itself.
type eventQueue struct {
	mu     sync.Mutex
	items  []event
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) post(ev event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// drain removes and returns every queued event in arrival order.
func (q *eventQueue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// EventAdapter is the device.LinkEvents handed to links. It forwards every
// completion onto the sequencer loop.
type EventAdapter struct {
	q *eventQueue
}

func (a *EventAdapter) OnConnectionStateChange(link device.Link, status device.Status, state device.State) {
	a.q.post(connectionStateChanged{link: link, status: status, state: state})
}

func (a *EventAdapter) OnServicesDiscovered(link device.Link, status device.Status) {
	a.q.post(servicesDiscovered{link: link, status: status})
}

func (a *EventAdapter) OnCharacteristicRead(link device.Link, uuid string, value []byte, status device.Status) {
	a.q.post(characteristicRead{link: link, uuid: uuid, value: bytes.Clone(value), status: status})
}

func (a *EventAdapter) OnCharacteristicWrite(link device.Link, uuid string, status device.Status) {
	a.q.post(characteristicWritten{link: link, uuid: uuid, status: status})
}

var _ device.LinkEvents = (*EventAdapter)(nil)

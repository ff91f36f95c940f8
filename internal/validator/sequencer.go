package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/beaconval/internal/device"
	"github.com/srg/beaconval/internal/groutine"
)

// RunState is a snapshot of the sequencer's run flags.
type RunState struct {
	Started      bool
	Failed       bool
	Finished     bool
	Disconnected bool
	Stopped      bool
	// Address is the pinned device, empty until a device is chosen.
	Address string
	// Linked reports whether the sequencer holds a link handle.
	Linked bool
	// Remaining is the queue length including the terminal sentinel.
	Remaining int
	// Err is the *StepError of a failed run.
	Err error
}

// Sequencer drives one Script against one beacon. All run state is owned by
// a single loop goroutine started with Start; link completions, scan results,
// timers and caller requests reach it as events, so the state is never
// touched concurrently.
//
// Methods must not be called from ReportSink callbacks: those run on the
// loop goroutine and would wait on themselves.
type Sequencer struct {
	script    *Script
	radio     device.Radio
	sink      ReportSink
	logger    *logrus.Logger
	opts      Options
	queue     *Queue
	collector *ScanCollector
	events    *eventQueue
	adapter   *EventAdapter

	startOnce sync.Once
	running   atomic.Bool
	done      chan struct{}
	ctx       context.Context

	// Loop-owned run state.
	started      bool
	failed       bool
	finished     bool
	disconnected bool
	stopped      bool
	cleanupSent  bool
	address      string
	link         device.Link
	retired      device.Link
	service      device.Service
	linkEvents   device.LinkEvents
	err          error

	scanGen        int
	scanCancel     context.CancelFunc
	scanTimer      *time.Timer
	awaitingChoice bool

	settleGen   int
	settleTimer *time.Timer
}

// New creates a sequencer for script. A nil sink means NopSink and a nil
// logger means logrus.New().
func New(script *Script, radio device.Radio, sink ReportSink, logger *logrus.Logger, opts Options) *Sequencer {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	opts.applyDefaults()

	q := newEventQueue()
	return &Sequencer{
		script:    script,
		radio:     radio,
		sink:      sink,
		logger:    logger,
		opts:      opts,
		queue:     NewQueue(script),
		collector: NewScanCollector(),
		events:    q,
		adapter:   &EventAdapter{q: q},
		done:      make(chan struct{}),
	}
}

// Script returns the script the sequencer runs.
func (s *Sequencer) Script() *Script {
	return s.script
}

// Events returns the LinkEvents that feed this sequencer. Pass it to
// Radio.Connect when establishing a link outside the sequencer.
func (s *Sequencer) Events() device.LinkEvents {
	return s.adapter
}

// Start launches the event loop. The loop exits when ctx is done; any scan
// in progress is cancelled. Start may be called only once.
func (s *Sequencer) Start(ctx context.Context) error {
	started := false
	s.startOnce.Do(func() {
		started = true
		s.ctx = ctx
		s.running.Store(true)
		groutine.Go(ctx, "sequencer-loop", s.loop)
	})
	if !started {
		return errors.New("sequencer already started")
	}
	return nil
}

// Done is closed once the loop has exited.
func (s *Sequencer) Done() <-chan struct{} {
	return s.done
}

// Run starts the script. address pins a device (empty means discover one)
// and link is an already established link (nil means connect when needed).
// events receives the link's completions; nil means Events().
func (s *Sequencer) Run(address string, link device.Link, events device.LinkEvents) error {
	reply := make(chan error, 1)
	return s.request(runRequest{address: address, link: link, events: events, reply: reply}, reply)
}

// Repeat restores the full script and runs it again against the device of
// the previous run. A link still held is disconnected and not reused.
func (s *Sequencer) Repeat(events device.LinkEvents) error {
	reply := make(chan error, 1)
	return s.request(runRequest{events: events, repeat: true, reply: reply}, reply)
}

// ContinueTest resumes a run suspended on several candidates by pinning the
// candidate at index, which refers to the list passed to
// ReportSink.MultipleCandidatesFound.
func (s *Sequencer) ContinueTest(index int) error {
	reply := make(chan error, 1)
	return s.request(continueRequest{index: index, reply: reply}, reply)
}

// StopTest cancels the run. An unfinished run fails with "Stopped by user";
// a held link is disconnected.
func (s *Sequencer) StopTest() error {
	reply := make(chan error, 1)
	return s.request(stopRequest{reply: reply}, reply)
}

// State returns a snapshot of the run flags.
func (s *Sequencer) State() RunState {
	if !s.running.Load() {
		return RunState{Remaining: s.queue.Len()}
	}
	reply := make(chan RunState, 1)
	s.events.post(stateRequest{reply: reply})
	select {
	case st := <-reply:
		return st
	case <-s.done:
		return RunState{}
	}
}

// Steps returns the script's step list with failure annotations.
func (s *Sequencer) Steps() []StepStatus {
	if !s.running.Load() {
		return s.script.Steps()
	}
	reply := make(chan []StepStatus, 1)
	s.events.post(stepsRequest{reply: reply})
	select {
	case steps := <-reply:
		return steps
	case <-s.done:
		return s.script.Steps()
	}
}

func (s *Sequencer) request(ev event, reply <-chan error) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	s.events.post(ev)
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrNotRunning
	}
}

func (s *Sequencer) loop(ctx context.Context) {
	defer func() {
		s.stopScan()
		s.stopSettle()
		s.running.Store(false)
		close(s.done)
		s.logger.WithFields(logrus.Fields{
			"test":      s.script.Name(),
			"goroutine": groutine.Name(ctx),
		}).Debug("Sequencer loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.events.signal:
			for _, ev := range s.events.drain() {
				s.handle(ev)
			}
		}
	}
}

func (s *Sequencer) handle(ev event) {
	switch e := ev.(type) {
	case runRequest:
		e.reply <- s.run(e)
	case continueRequest:
		e.reply <- s.continueWith(e.index)
	case stopRequest:
		e.reply <- s.stop()
	case stateRequest:
		e.reply <- s.snapshot()
	case stepsRequest:
		e.reply <- s.script.Steps()
	case connectionStateChanged:
		s.onConnectionStateChange(e.link, e.status, e.state)
	case servicesDiscovered:
		s.onServicesDiscovered(e.link, e.status)
	case characteristicRead:
		s.onCharacteristicRead(e.link, e.uuid, e.value, e.status)
	case characteristicWritten:
		s.onCharacteristicWrite(e.link, e.uuid, e.status)
	case advertisementSeen:
		s.onAdvertisement(e.gen, e.adv)
	case scanEnded:
		s.onScanEnded(e.gen, e.err)
	case scanWindowElapsed:
		s.onScanWindowElapsed(e.gen)
	case settleElapsed:
		s.onSettleElapsed(e.gen)
	default:
		s.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("Unknown sequencer event")
	}
}

func (s *Sequencer) run(req runRequest) error {
	s.stopScan()
	s.stopSettle()

	address, link := req.address, req.link
	keepDisconnected := false
	var held device.Link
	if req.repeat {
		s.queue.ResetFromScript()
		address, held = s.address, s.link
		keepDisconnected = s.disconnected
	}
	s.script.clearFailures()

	s.started = true
	s.failed = false
	s.finished = false
	s.stopped = false
	s.cleanupSent = false
	s.disconnected = keepDisconnected
	s.err = nil
	s.address = address
	s.link = link
	s.service = nil
	if link != nil {
		s.service = link.Service(s.opts.ConfigServiceUUID)
	}
	s.linkEvents = req.events
	if s.linkEvents == nil {
		s.linkEvents = s.adapter
	}
	s.collector.Begin("")
	if held != nil {
		// A repeat starts without a link; the previous one is closed first.
		s.link = held
		s.retireLink()
	}

	s.logger.WithFields(logrus.Fields{
		"test":    s.script.Name(),
		"address": address,
		"linked":  s.link != nil,
		"repeat":  req.repeat,
		"steps":   s.queue.Len(),
	}).Info("Test started")

	s.sink.TestStarted()
	s.dispatch()
	return nil
}

func (s *Sequencer) continueWith(index int) error {
	if !s.started {
		return ErrNotStarted
	}
	if s.finished {
		return fmt.Errorf("%w: run is finished", ErrInvalidCandidate)
	}
	if !s.awaitingChoice {
		return fmt.Errorf("%w: no candidate choice is pending", ErrInvalidCandidate)
	}
	results := s.collector.Results()
	if index < 0 || index >= len(results) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidCandidate, index, len(results))
	}
	s.choose(results[index])
	return nil
}

func (s *Sequencer) stop() error {
	if !s.started {
		return ErrNotStarted
	}
	s.stopped = true
	s.stopScan()
	s.stopSettle()
	s.fail(ErrUserStopped, "Stopped by user")
	s.dispatch()
	return nil
}

func (s *Sequencer) snapshot() RunState {
	return RunState{
		Started:      s.started,
		Failed:       s.failed,
		Finished:     s.finished,
		Disconnected: s.disconnected,
		Stopped:      s.stopped,
		Address:      s.address,
		Linked:       s.link != nil,
		Remaining:    s.queue.Len(),
		Err:          s.err,
	}
}

// headIndex is the script position of the queue head.
func (s *Sequencer) headIndex() int {
	return s.script.Len() - s.queue.Len()
}

// pass pops the head step and moves on.
func (s *Sequencer) pass() {
	if head, err := s.queue.Peek(); err == nil {
		s.logger.WithFields(logrus.Fields{
			"test": s.script.Name(),
			"step": s.headIndex(),
			"kind": head.kind,
		}).Debug("Step passed")
	}
	if err := s.queue.Pop(); err != nil {
		s.logger.WithError(err).Error("Cannot advance the action queue")
	}
	s.dispatch()
}

// fail ends the run on the head step. A finished run is never failed again.
func (s *Sequencer) fail(kind error, reason string) {
	if s.finished {
		return
	}
	s.stopScan()
	s.stopSettle()

	step := s.headIndex()
	stepErr := &StepError{Kind: kind, Step: step, Reason: reason}
	if head, err := s.queue.Peek(); err == nil {
		head.markFailed(reason)
		stepErr.Action = head.kind
	}

	s.failed = true
	s.finished = true
	s.err = stepErr

	s.logger.WithFields(logrus.Fields{
		"test":   s.script.Name(),
		"step":   step,
		"kind":   stepErr.Action,
		"reason": reason,
	}).Info("Test failed")

	s.sink.TestCompleted(s.address, s.link)
}

func (s *Sequencer) complete() {
	s.finished = true
	s.logger.WithFields(logrus.Fields{
		"test":    s.script.Name(),
		"address": s.address,
	}).Info("Test passed")
	s.sink.TestCompleted(s.address, s.link)
}

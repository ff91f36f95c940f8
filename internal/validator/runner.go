package validator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/srg/beaconval/internal/device"
)

// Verdict is the outcome of one script run by a Runner.
type Verdict struct {
	ID         ulid.ULID    `json:"id"`
	RunID      ulid.ULID    `json:"run_id"`
	Test       string       `json:"test"`
	Reference  string       `json:"reference,omitempty"`
	Address    string       `json:"address,omitempty"`
	Passed     bool         `json:"passed"`
	Reason     string       `json:"reason,omitempty"`
	Err        error        `json:"-"`
	Steps      []StepStatus `json:"steps"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

func (v Verdict) Duration() time.Duration {
	return v.FinishedAt.Sub(v.StartedAt)
}

// Chooser picks one of several beacons found by a scan. Returning an error
// stops the test.
type Chooser interface {
	Choose(ctx context.Context, test string, candidates []Candidate) (int, error)
}

// ChooserFunc adapts a function to Chooser.
type ChooserFunc func(ctx context.Context, test string, candidates []Candidate) (int, error)

func (f ChooserFunc) Choose(ctx context.Context, test string, candidates []Candidate) (int, error) {
	return f(ctx, test, candidates)
}

// Recorder persists verdicts.
type Recorder interface {
	Record(ctx context.Context, v Verdict) error
}

// ScriptObserver is implemented by sinks that also want to know which script
// a Runner starts and the verdict it ends with.
type ScriptObserver interface {
	ScriptStarting(script *Script)
	ScriptFinished(v Verdict)
}

// DefaultTestTimeout bounds a test when RunnerOptions.TestTimeout is unset.
const DefaultTestTimeout = 2 * time.Minute

// RunnerOptions configure a Runner.
type RunnerOptions struct {
	// Address pins the beacon for the first test; empty means discover.
	Address string
	// TestTimeout bounds a single test, including any wait for a choice.
	TestTimeout time.Duration
	// Sequencer options shared by all tests.
	Sequencer Options
	Sink      ReportSink
	// Chooser resolves several candidates. Nil fails such a test with
	// ErrAmbiguousDeviceSet.
	Chooser  Chooser
	Recorder Recorder
	Logger   *logrus.Logger
}

// Runner executes scripts one after another against one beacon. The device
// and link a test ends with are handed to the next test.
type Runner struct {
	radio  device.Radio
	opts   RunnerOptions
	logger *logrus.Logger
	relay  *eventRelay

	runID   ulid.ULID
	entropy *ulid.MonotonicEntropy
	mu      sync.Mutex

	address string
	link    device.Link
}

func NewRunner(radio device.Radio, opts RunnerOptions) *Runner {
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = DefaultTestTimeout
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	t := time.Now()
	r := &Runner{
		radio:   radio,
		opts:    opts,
		logger:  opts.Logger,
		relay:   &eventRelay{},
		entropy: ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0),
		address: opts.Address,
	}
	r.runID = r.newID(t)
	return r
}

// RunID identifies this batch of tests.
func (r *Runner) RunID() ulid.ULID {
	return r.runID
}

func (r *Runner) newID(t time.Time) ulid.ULID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), r.entropy)
}

// Run executes scripts in order and returns one verdict per executed script.
// It stops early when ctx is cancelled or a test cannot pick a beacon.
func (r *Runner) Run(ctx context.Context, scripts []*Script) ([]Verdict, error) {
	verdicts := make([]Verdict, 0, len(scripts))
	for _, script := range scripts {
		v := r.RunOne(ctx, script)
		verdicts = append(verdicts, v)

		if r.opts.Recorder != nil {
			if err := r.opts.Recorder.Record(ctx, v); err != nil {
				r.logger.WithError(err).WithField("test", v.Test).Warn("Failed to record verdict")
			}
		}

		switch {
		case ctx.Err() != nil:
			return verdicts, ctx.Err()
		case errors.Is(v.Err, ErrAmbiguousDeviceSet):
			return verdicts, v.Err
		}
	}
	return verdicts, nil
}

// RunOne executes a single script and waits for its verdict.
func (r *Runner) RunOne(ctx context.Context, script *Script) Verdict {
	so, observed := r.opts.Sink.(ScriptObserver)
	if observed {
		so.ScriptStarting(script)
	}
	v := r.runOne(ctx, script)
	if observed {
		so.ScriptFinished(v)
	}
	return v
}

func (r *Runner) runOne(ctx context.Context, script *Script) Verdict {
	v := Verdict{
		ID:        r.newID(time.Now()),
		RunID:     r.runID,
		Test:      script.Name(),
		Reference: script.Reference(),
		StartedAt: time.Now(),
	}
	log := r.logger.WithFields(logrus.Fields{
		"run":  r.runID.String(),
		"test": script.Name(),
	})

	// The loop outlives ctx so a cancelled run can still be stopped cleanly.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	obs := newObserver(r.opts.Sink)
	seq := New(script, r.radio, obs, r.logger, r.opts.Sequencer)
	if err := seq.Start(loopCtx); err != nil {
		return r.finish(v, seq, err)
	}
	r.relay.attach(seq.Events())

	log.Debug("Running test")
	if err := seq.Run(r.address, r.link, r.relay); err != nil {
		return r.finish(v, seq, err)
	}

	timeout := time.NewTimer(r.opts.TestTimeout)
	defer timeout.Stop()

	var cause error
	ctxDone := ctx.Done()
	stop := func(err error) {
		if cause == nil {
			cause = err
		}
		if stopErr := seq.StopTest(); stopErr != nil {
			log.WithError(stopErr).Warn("Failed to stop test")
		}
	}

	for {
		select {
		case done := <-obs.completed:
			r.address, r.link = done.address, done.link
			return r.finish(v, seq, cause)
		case candidates := <-obs.candidates:
			index, err := r.choose(ctx, script, candidates)
			if err != nil {
				stop(err)
				continue
			}
			if err := seq.ContinueTest(index); err != nil {
				stop(err)
			}
		case <-timeout.C:
			stop(fmt.Errorf("%w: test did not finish within %s", device.ErrTimeout, r.opts.TestTimeout))
		case <-ctxDone:
			ctxDone = nil
			stop(ctx.Err())
		}
	}
}

func (r *Runner) choose(ctx context.Context, script *Script, candidates []Candidate) (int, error) {
	if r.opts.Chooser == nil {
		return 0, fmt.Errorf("%w: %d beacons found", ErrAmbiguousDeviceSet, len(candidates))
	}
	index, err := r.opts.Chooser.Choose(ctx, script.Name(), candidates)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAmbiguousDeviceSet, err)
	}
	return index, nil
}

// finish fills the verdict from the sequencer. cause overrides the run's own
// error when the runner itself stopped the test.
func (r *Runner) finish(v Verdict, seq *Sequencer, cause error) Verdict {
	st := seq.State()
	v.Steps = seq.Steps()
	v.Address = st.Address
	v.FinishedAt = time.Now()
	v.Passed = st.Finished && !st.Failed && cause == nil

	switch {
	case cause != nil:
		v.Err = cause
	case st.Err != nil:
		v.Err = st.Err
	case !v.Passed:
		v.Err = ErrNotStarted
	}
	var stepErr *StepError
	switch {
	case errors.As(st.Err, &stepErr) && cause == nil:
		v.Reason = stepErr.Reason
	case v.Err != nil:
		v.Reason = v.Err.Error()
	}

	r.logger.WithFields(logrus.Fields{
		"run":      r.runID.String(),
		"test":     v.Test,
		"passed":   v.Passed,
		"reason":   v.Reason,
		"duration": v.Duration(),
	}).Info("Test finished")
	return v
}

type completion struct {
	address string
	link    device.Link
}

// observer forwards notifications to the caller's sink and hands the two the
// runner acts on to its goroutine.
type observer struct {
	ReportSink
	completed  chan completion
	candidates chan []Candidate
}

func newObserver(sink ReportSink) *observer {
	return &observer{
		ReportSink: sink,
		completed:  make(chan completion, 1),
		candidates: make(chan []Candidate, 1),
	}
}

func (o *observer) MultipleCandidatesFound(candidates []Candidate) {
	o.ReportSink.MultipleCandidatesFound(candidates)
	select {
	case o.candidates <- candidates:
	default:
	}
}

func (o *observer) TestCompleted(address string, link device.Link) {
	o.ReportSink.TestCompleted(address, link)
	select {
	case o.completed <- completion{address: address, link: link}:
	default:
	}
}

// eventRelay is the LinkEvents a Runner hands to links. Links outlive a
// single test, so their completions follow whichever sequencer is current.
type eventRelay struct {
	mu     sync.RWMutex
	target device.LinkEvents
}

func (e *eventRelay) attach(target device.LinkEvents) {
	e.mu.Lock()
	e.target = target
	e.mu.Unlock()
}

func (e *eventRelay) current() device.LinkEvents {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.target
}

func (e *eventRelay) OnConnectionStateChange(link device.Link, status device.Status, state device.State) {
	if t := e.current(); t != nil {
		t.OnConnectionStateChange(link, status, state)
	}
}

func (e *eventRelay) OnServicesDiscovered(link device.Link, status device.Status) {
	if t := e.current(); t != nil {
		t.OnServicesDiscovered(link, status)
	}
}

func (e *eventRelay) OnCharacteristicRead(link device.Link, uuid string, value []byte, status device.Status) {
	if t := e.current(); t != nil {
		t.OnCharacteristicRead(link, uuid, value, status)
	}
}

func (e *eventRelay) OnCharacteristicWrite(link device.Link, uuid string, status device.Status) {
	if t := e.current(); t != nil {
		t.OnCharacteristicWrite(link, uuid, status)
	}
}

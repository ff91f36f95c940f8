package validator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/beaconval/internal/device"
	"github.com/srg/beaconval/internal/testutils"
	"github.com/srg/beaconval/internal/uribeacon"
	"github.com/srg/beaconval/internal/validator"
)

const (
	addrA = "AA:BB:CC:DD:EE:01"
	addrB = "AA:BB:CC:DD:EE:02"
)

type sinkEvent struct {
	kind       string
	address    string
	linked     bool
	candidates []validator.Candidate
}

// recordingSink turns notifications into a stream tests can wait on.
type recordingSink struct {
	events chan sinkEvent

	mu        sync.Mutex
	completed int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan sinkEvent, 64)}
}

func (r *recordingSink) TestStarted() {
	r.events <- sinkEvent{kind: "started"}
}

func (r *recordingSink) WaitingForConfigMode() {
	r.events <- sinkEvent{kind: "waiting"}
}

func (r *recordingSink) ConnectedToBeacon() {
	r.events <- sinkEvent{kind: "connected"}
}

func (r *recordingSink) MultipleCandidatesFound(candidates []validator.Candidate) {
	r.events <- sinkEvent{kind: "candidates", candidates: candidates}
}

func (r *recordingSink) TestCompleted(address string, link device.Link) {
	r.mu.Lock()
	r.completed++
	r.mu.Unlock()
	r.events <- sinkEvent{kind: "completed", address: address, linked: link != nil}
}

func (r *recordingSink) completions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

type SequencerTestSuite struct {
	testutils.FakeRadioSuite

	sink   *recordingSink
	cancel context.CancelFunc
	opts   validator.Options
}

func (s *SequencerTestSuite) SetupTest() {
	s.FakeRadioSuite.SetupTest()
	s.sink = newRecordingSink()
	s.opts = validator.Options{
		ScanTimeout:    100 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
	}
}

func (s *SequencerTestSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *SequencerTestSuite) start(script *validator.Script) *validator.Sequencer {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	seq := validator.New(script, s.Radio, s.sink, s.Logger, s.opts)
	s.Require().NoError(seq.Start(ctx), "sequencer MUST start")
	return seq
}

// waitFor skips notifications until one of kind arrives.
func (s *SequencerTestSuite) waitFor(kind string) sinkEvent {
	s.T().Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.sink.events:
			if ev.kind == kind {
				return ev
			}
		case <-timeout:
			s.FailNowf("notification not received", "expected %q notification", kind)
		}
	}
}

// connectPinned walks a pinned Connect step to the point where the link is
// ready, returning the link.
func (s *SequencerTestSuite) connectPinned() *testutils.FakeLink {
	conn := s.Radio.Expect(s.T(), testutils.OpConnect)
	s.Require().Equal(addrA, conn.Address, "MUST connect to the pinned beacon")
	conn.Link.Connected()
	s.Radio.Expect(s.T(), testutils.OpDiscover)
	conn.Link.ServicesDiscovered(device.StatusSuccess)
	return conn.Link
}

func (s *SequencerTestSuite) assertFailed(seq *validator.Sequencer, kind error, reason string) validator.RunState {
	st := seq.State()
	s.Assert().True(st.Finished, "run MUST be finished")
	s.Assert().True(st.Failed, "run MUST be failed")
	s.Assert().ErrorIs(st.Err, kind, "failure MUST wrap the failure kind")

	var stepErr *validator.StepError
	if s.Assert().ErrorAs(st.Err, &stepErr, "failure MUST be a StepError") {
		s.Assert().Equal(reason, stepErr.Reason, "failure reason MUST match")
	}
	return st
}

func (s *SequencerTestSuite) TestPassingRun() {
	// GOAL: Verify a script runs to completion through discovery, connection, writes, reads and disconnect
	//
	// TEST SCENARIO: One beacon advertises → sequencer scans, connects, writes, reads, disconnects → run passes

	script := validator.NewBuilder("Write URI").
		Connect().
		WriteAndRead(uribeacon.DataUUID, []byte{0x00, 'a'}).
		Disconnect().
		Build()
	s.Radio.WithAdvertisements(testutils.UriBeaconAdvertisement(addrA, nil))
	seq := s.start(script)

	s.Require().NoError(seq.Run("", nil, nil))
	s.waitFor("started")
	s.waitFor("waiting")

	scan := s.Radio.Expect(s.T(), testutils.OpScan)
	s.Assert().Equal(uribeacon.ConfigServiceUUID, scan.Service, "connect scan MUST filter on the config service")

	conn := s.Radio.Expect(s.T(), testutils.OpConnect)
	s.Assert().Equal(addrA, conn.Address, "MUST connect to the only beacon found")
	conn.Link.Connected()
	s.Radio.Expect(s.T(), testutils.OpDiscover)
	conn.Link.ServicesDiscovered(device.StatusSuccess)
	s.waitFor("connected")

	write := s.Radio.Expect(s.T(), testutils.OpWrite)
	s.Assert().Equal(uribeacon.DataUUID, write.Characteristic, "MUST write the data characteristic")
	s.Assert().Equal([]byte{0x00, 'a'}, write.Value, "MUST write the scripted value")
	s.Assert().Equal(uribeacon.ConfigServiceUUID, write.Service, "MUST write through the config service")
	s.Radio.ExpectNone(s.T(), 50*time.Millisecond)

	conn.Link.WriteDone(uribeacon.DataUUID, device.StatusSuccess)
	read := s.Radio.Expect(s.T(), testutils.OpRead)
	s.Assert().Equal(uribeacon.DataUUID, read.Characteristic, "MUST read back the data characteristic")

	conn.Link.ReadDone(uribeacon.DataUUID, []byte{0x00, 'a'}, device.StatusSuccess)
	s.Radio.Expect(s.T(), testutils.OpDisconnect)
	conn.Link.Disconnected()

	done := s.waitFor("completed")
	s.Assert().Equal(addrA, done.address, "completion MUST carry the beacon address")
	s.Assert().False(done.linked, "completion after disconnect MUST carry no link")

	st := seq.State()
	s.Assert().True(st.Finished, "run MUST be finished")
	s.Assert().False(st.Failed, "run MUST pass")
	s.Assert().NoError(st.Err, "passing run MUST have no error")
	s.Assert().Equal(1, st.Remaining, "only the terminal sentinel MUST remain")
	s.Assert().Equal(1, s.sink.completions(), "completion MUST be reported once")

	for _, step := range seq.Steps() {
		s.Assert().False(step.Failed, "no step MUST be marked failed")
	}
}

func (s *SequencerTestSuite) TestEvaluationFailures() {
	// GOAL: Verify read and write completions are turned into verdicts with exact reasons
	//
	// TEST SCENARIO: Pinned beacon → one completion per case → run fails on the head step with the expected reason

	cases := []struct {
		name    string
		builder func(*validator.Builder) *validator.Builder
		respond func(link *testutils.FakeLink)
		reason  string
		index   int
	}{
		{
			name: "write status mismatch",
			builder: func(b *validator.Builder) *validator.Builder {
				return b.Write(uribeacon.LockUUID, make([]byte, 16), uribeacon.StatusInsufficientAuthorization)
			},
			respond: func(link *testutils.FakeLink) {
				link.WriteDone(uribeacon.LockUUID, device.StatusSuccess)
			},
			reason: "Incorrect status code: 0. Expected: 8",
			index:  1,
		},
		{
			name: "multi-code write outside the accepted set",
			builder: func(b *validator.Builder) *validator.Builder {
				return b.WriteMulti(uribeacon.DataUUID, make([]byte, 19), uribeacon.StatusInvalidLength, uribeacon.StatusWriteNotPermitted)
			},
			respond: func(link *testutils.FakeLink) {
				link.WriteDone(uribeacon.DataUUID, device.StatusSuccess)
			},
			reason: "Status code 0: no accepted code matched [13 3]",
			index:  1,
		},
		{
			name: "read status mismatch",
			builder: func(b *validator.Builder) *validator.Builder {
				return b.AssertEquals(uribeacon.LockUUID, nil, uribeacon.StatusReadNotPermitted)
			},
			respond: func(link *testutils.FakeLink) {
				link.ReadDone(uribeacon.LockUUID, []byte{0x01}, device.StatusSuccess)
			},
			reason: "Incorrect status code: 0. Expected: 2",
			index:  1,
		},
		{
			name: "assert equals with different bytes",
			builder: func(b *validator.Builder) *validator.Builder {
				return b.AssertEquals(uribeacon.TxPowerModeUUID, []byte{0x02}, device.StatusSuccess)
			},
			respond: func(link *testutils.FakeLink) {
				link.ReadDone(uribeacon.TxPowerModeUUID, []byte{0x01}, device.StatusSuccess)
			},
			reason: "Result not the same. Expected: [0x02]. Received: [0x01]",
			index:  1,
		},
		{
			name: "assert not equals with equal bytes",
			builder: func(b *validator.Builder) *validator.Builder {
				return b.AssertNotEquals(uribeacon.DataUUID, []byte{0x00}, device.StatusSuccess)
			},
			respond: func(link *testutils.FakeLink) {
				link.ReadDone(uribeacon.DataUUID, []byte{0x00}, device.StatusSuccess)
			},
			reason: "Values read are the same: [0x00]",
			index:  1,
		},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.SetupTest()
			defer s.TearDownTest()

			script := tc.builder(validator.NewBuilder(tc.name).Connect()).Disconnect().Build()
			seq := s.start(script)
			s.Require().NoError(seq.Run(addrA, nil, nil))

			link := s.connectPinned()
			s.Radio.Next(time.Second) // the read or write of the step
			tc.respond(link)

			done := s.waitFor("completed")
			s.Assert().True(done.linked, "failure MUST report the held link")
			s.assertFailed(seq, validator.ErrProtocolMismatch, tc.reason)

			steps := seq.Steps()
			s.Assert().True(steps[tc.index].Failed, "failing step MUST be annotated")
			s.Assert().Equal(tc.reason, steps[tc.index].Reason, "failing step MUST carry the reason")
			s.Assert().False(steps[0].Failed, "passed steps MUST NOT be annotated")
			s.Radio.ExpectNone(s.T(), 50*time.Millisecond)
		})
	}
}

func (s *SequencerTestSuite) TestMultiCodeWriteAccepted() {
	// GOAL: Verify a multi-code write passes on any accepted status
	//
	// TEST SCENARIO: Write answered with the second accepted code → step passes → next step dispatched

	script := validator.NewBuilder("Long URI").
		Connect().
		WriteMulti(uribeacon.DataUUID, make([]byte, 19), uribeacon.StatusInvalidLength, uribeacon.StatusWriteNotPermitted).
		Disconnect().
		Build()
	seq := s.start(script)
	s.Require().NoError(seq.Run(addrA, nil, nil))

	link := s.connectPinned()
	s.Radio.Expect(s.T(), testutils.OpWrite)
	link.WriteDone(uribeacon.DataUUID, uribeacon.StatusWriteNotPermitted)

	s.Radio.Expect(s.T(), testutils.OpDisconnect)
	link.Disconnected()
	s.waitFor("completed")
	s.Assert().False(seq.State().Failed, "accepted status MUST pass")
}

func (s *SequencerTestSuite) TestScanResolution() {
	// GOAL: Verify the outcome of a scan window for each result set
	//
	// TEST SCENARIO: Zero, duplicate and several advertisements → fail, auto-select or ask for a choice

	s.Run("no beacon for connect", func() {
		s.SetupTest()
		defer s.TearDownTest()

		seq := s.start(validator.NewBuilder("connect").Connect().Build())
		s.Require().NoError(seq.Run("", nil, nil))
		s.waitFor("completed")
		s.assertFailed(seq, validator.ErrNoDeviceFound, "no beacon found")
	})

	s.Run("no advertisement for adv step", func() {
		s.SetupTest()
		defer s.TearDownTest()

		seq := s.start(validator.NewBuilder("flags").AssertAdvFlags(0x00).Build())
		s.Require().NoError(seq.Run("", nil, nil))

		scan := s.Radio.Expect(s.T(), testutils.OpScan)
		s.Assert().Equal(uribeacon.URIServiceUUID, scan.Service, "adv scan MUST filter on the URI service")
		s.waitFor("completed")
		s.assertFailed(seq, validator.ErrNoDeviceFound, "could not find adv packet")
	})

	s.Run("duplicates collapse to one candidate", func() {
		s.SetupTest()
		defer s.TearDownTest()

		s.Radio.WithAdvertisements(
			testutils.UriBeaconAdvertisement(addrA, nil),
			testutils.UriBeaconAdvertisement("aa:bb:cc:dd:ee:01", nil),
		)
		seq := s.start(validator.NewBuilder("connect").Connect().Build())
		s.Require().NoError(seq.Run("", nil, nil))

		s.Radio.Expect(s.T(), testutils.OpScan)
		conn := s.Radio.Expect(s.T(), testutils.OpConnect)
		s.Assert().Equal(addrA, conn.Address, "first observation MUST win")
		s.Assert().Equal(addrA, seq.State().Address, "single result MUST be pinned")
	})

	s.Run("several beacons wait for a choice", func() {
		s.SetupTest()
		defer s.TearDownTest()

		s.Radio.WithAdvertisements(
			testutils.UriBeaconAdvertisement(addrA, nil),
			testutils.UriBeaconAdvertisement(addrB, nil),
		)
		seq := s.start(validator.NewBuilder("connect").Connect().Build())
		s.Require().NoError(seq.Run("", nil, nil))

		ev := s.waitFor("candidates")
		s.Require().Len(ev.candidates, 2, "MUST report every distinct beacon")
		s.Assert().Equal(addrA, ev.candidates[0].Address, "candidates MUST keep discovery order")
		s.Assert().Equal(addrB, ev.candidates[1].Address, "candidates MUST keep discovery order")

		s.Radio.Expect(s.T(), testutils.OpScan)
		s.Radio.ExpectNone(s.T(), 150*time.Millisecond)

		err := seq.ContinueTest(2)
		s.Assert().ErrorIs(err, validator.ErrInvalidCandidate, "out of range index MUST be rejected")

		s.Require().NoError(seq.ContinueTest(1))
		conn := s.Radio.Expect(s.T(), testutils.OpConnect)
		s.Assert().Equal(addrB, conn.Address, "MUST connect to the chosen beacon")
		s.Assert().Equal(addrB, seq.State().Address, "chosen beacon MUST be pinned")

		err = seq.ContinueTest(0)
		s.Assert().ErrorIs(err, validator.ErrInvalidCandidate, "choice MUST be rejected when none is pending")
	})

	s.Run("scan error", func() {
		s.SetupTest()
		defer s.TearDownTest()

		s.Radio.WithScanError(device.ErrBluetoothOff)
		seq := s.start(validator.NewBuilder("connect").Connect().Build())
		s.Require().NoError(seq.Run("", nil, nil))
		s.waitFor("completed")

		st := seq.State()
		s.Assert().True(st.Failed, "scan error MUST fail the run")
		s.Assert().ErrorIs(st.Err, validator.ErrLinkDropped, "scan error MUST be a transport failure")
	})
}

func (s *SequencerTestSuite) TestAdvertisementSteps() {
	// GOAL: Verify advertisement steps inspect the URI service data of the pinned beacon
	//
	// TEST SCENARIO: Pinned beacon advertises → inspection runs without waiting out the window → verdict

	payload := []byte{0x00, 0x20, 0x00, 'a', 'b'}

	s.Run("pinned beacon resolves early", func() {
		s.SetupTest()
		defer s.TearDownTest()

		s.opts.ScanTimeout = 10 * time.Second
		s.Radio.WithAdvertisements(
			testutils.UriBeaconAdvertisement(addrB, []byte{0x01}),
			testutils.UriBeaconAdvertisement(addrA, payload),
		)
		script := validator.NewBuilder("adv").
			CheckAdvPacket().
			AssertAdvFlags(0x00).
			AssertAdvTxPower(0x20).
			AssertAdvURI([]byte{0x00, 'a', 'b'}).
			Build()
		seq := s.start(script)
		s.Require().NoError(seq.Run(addrA, nil, nil))

		s.waitFor("completed")
		st := seq.State()
		s.Assert().False(st.Failed, "matching advertisement MUST pass")
		s.Assert().Equal(1, st.Remaining, "every adv step MUST be consumed")
	})

	s.Run("tx power mismatch", func() {
		s.SetupTest()
		defer s.TearDownTest()

		s.Radio.WithAdvertisements(testutils.UriBeaconAdvertisement(addrA, payload))
		seq := s.start(validator.NewBuilder("adv").AssertAdvTxPower(0x10).Build())
		s.Require().NoError(seq.Run(addrA, nil, nil))

		s.waitFor("completed")
		s.assertFailed(seq, validator.ErrProtocolMismatch, "Received: 0x20. Expected: 0x10")
	})

	s.Run("single unpinned beacon is inspected", func() {
		s.SetupTest()
		defer s.TearDownTest()

		s.Radio.WithAdvertisements(testutils.UriBeaconAdvertisement(addrA, []byte{0x00}))
		seq := s.start(validator.NewBuilder("adv").CheckAdvPacket().Build())
		s.Require().NoError(seq.Run("", nil, nil))

		s.waitFor("completed")
		s.assertFailed(seq, validator.ErrProtocolMismatch, "invalid adv packet")
		s.Assert().Equal(addrA, seq.State().Address, "inspected beacon MUST be pinned")
	})

	s.Run("pinned beacon missing", func() {
		s.SetupTest()
		defer s.TearDownTest()

		s.Radio.WithAdvertisements(testutils.UriBeaconAdvertisement(addrB, payload))
		seq := s.start(validator.NewBuilder("adv").CheckAdvPacket().Build())
		s.Require().NoError(seq.Run(addrA, nil, nil))

		s.waitFor("completed")
		s.assertFailed(seq, validator.ErrNoDeviceFound, "could not find adv packet")
	})
}

func (s *SequencerTestSuite) TestLinkFailures() {
	// GOAL: Verify link-level failures end the run or trigger a reconnect
	//
	// TEST SCENARIO: Failure status, unexpected drop and missing service → expected verdict or recovery

	s.Run("failure status", func() {
		s.SetupTest()
		defer s.TearDownTest()

		seq := s.start(validator.NewBuilder("connect").Connect().Build())
		s.Require().NoError(seq.Run(addrA, nil, nil))

		conn := s.Radio.Expect(s.T(), testutils.OpConnect)
		conn.Link.StateChanged(device.Status(133), device.StateDisconnected)

		done := s.waitFor("completed")
		s.Assert().False(done.linked, "dropped link MUST be cleared")
		st := s.assertFailed(seq, validator.ErrLinkDropped, "Failed. Status: 133. New State: 0")
		s.Assert().False(st.Linked, "dropped link MUST be cleared")
	})

	s.Run("clean drop mid-step moves on after reconnecting", func() {
		s.SetupTest()
		defer s.TearDownTest()

		script := validator.NewBuilder("reset").
			Connect().
			Write(uribeacon.ResetUUID, []byte{0x01}, device.StatusSuccess).
			AssertEquals(uribeacon.LockStateUUID, []byte{0x00}, device.StatusSuccess).
			Build()
		seq := s.start(script)
		s.Require().NoError(seq.Run(addrA, nil, nil))

		link := s.connectPinned()
		s.Radio.Expect(s.T(), testutils.OpWrite)
		link.Disconnected()

		st := seq.State()
		s.Assert().Equal(2, st.Remaining, "clean disconnect MUST end the interrupted step")
		s.Assert().False(st.Linked, "clean disconnect MUST clear the link")

		link = s.connectPinned()
		read := s.Radio.Expect(s.T(), testutils.OpRead)
		s.Assert().Equal(uribeacon.LockStateUUID, read.Characteristic, "next step MUST be issued after reconnecting")
		link.ReadDone(uribeacon.LockStateUUID, []byte{0x00}, device.StatusSuccess)

		s.waitFor("completed")
		s.Assert().False(seq.State().Failed, "run MUST pass after reconnecting")
	})

	s.Run("missing config service", func() {
		s.SetupTest()
		defer s.TearDownTest()

		s.Radio = testutils.NewFakeRadio("180f")
		seq := s.start(validator.NewBuilder("read").Connect().AssertEquals(uribeacon.LockStateUUID, []byte{0x00}, device.StatusSuccess).Build())
		s.Require().NoError(seq.Run(addrA, nil, nil))

		conn := s.Radio.Expect(s.T(), testutils.OpConnect)
		conn.Link.Connected()
		s.Radio.Expect(s.T(), testutils.OpDiscover)
		conn.Link.ServicesDiscovered(device.StatusSuccess)

		s.waitFor("completed")
		s.assertFailed(seq, validator.ErrProtocolMismatch, `service "`+uribeacon.ConfigServiceUUID+`" not found`)
	})
}

func (s *SequencerTestSuite) TestReconnectSettleDelay() {
	// GOAL: Verify reconnecting after a disconnect waits for the beacon to settle
	//
	// TEST SCENARIO: Disconnect step then Connect step → no connect before the delay → connect after it

	s.opts.ReconnectDelay = 300 * time.Millisecond
	script := validator.NewBuilder("reconnect").Connect().Disconnect().Connect().Build()
	seq := s.start(script)
	s.Require().NoError(seq.Run(addrA, nil, nil))

	link := s.connectPinned()
	s.Radio.Expect(s.T(), testutils.OpDisconnect)
	link.Disconnected()

	s.Radio.ExpectNone(s.T(), 150*time.Millisecond)
	s.Assert().True(seq.State().Started, "run MUST still be active while settling")
	s.connectPinned()

	s.waitFor("completed")
	s.Assert().False(seq.State().Failed, "run MUST pass")
}

func (s *SequencerTestSuite) TestStop() {
	// GOAL: Verify StopTest fails an active run once and disconnects the held link once
	//
	// TEST SCENARIO: Stop in several phases → "Stopped by user" → one disconnect → later events ignored

	s.Run("while linked", func() {
		s.SetupTest()
		defer s.TearDownTest()

		script := validator.NewBuilder("stop").Connect().AssertEquals(uribeacon.LockStateUUID, []byte{0x00}, device.StatusSuccess).Build()
		seq := s.start(script)
		s.Require().NoError(seq.Run(addrA, nil, nil))
		link := s.connectPinned()
		s.Radio.Expect(s.T(), testutils.OpRead)

		s.Require().NoError(seq.StopTest())
		s.Radio.Expect(s.T(), testutils.OpDisconnect)
		s.waitFor("completed")
		st := s.assertFailed(seq, validator.ErrUserStopped, "Stopped by user")
		s.Assert().True(st.Stopped, "run MUST be marked stopped")

		link.ReadDone(uribeacon.LockStateUUID, []byte{0x01}, device.StatusSuccess)
		s.Require().NoError(seq.StopTest())
		s.Radio.ExpectNone(s.T(), 50*time.Millisecond)
		s.Assert().Equal(1, s.sink.completions(), "completion MUST be reported once")

		link.Disconnected()
		s.Assert().False(seq.State().Linked, "disconnect MUST clear the link")
	})

	s.Run("during a scan", func() {
		s.SetupTest()
		defer s.TearDownTest()

		s.Radio.WithAdvertisements(testutils.UriBeaconAdvertisement(addrA, nil))
		seq := s.start(validator.NewBuilder("stop").Connect().Build())
		s.Require().NoError(seq.Run("", nil, nil))
		s.Radio.Expect(s.T(), testutils.OpScan)

		s.Require().NoError(seq.StopTest())
		s.waitFor("completed")
		s.assertFailed(seq, validator.ErrUserStopped, "Stopped by user")
		s.Radio.ExpectNone(s.T(), 200*time.Millisecond)
	})

	s.Run("late connection is disconnected", func() {
		s.SetupTest()
		defer s.TearDownTest()

		seq := s.start(validator.NewBuilder("stop").Connect().Build())
		s.Require().NoError(seq.Run(addrA, nil, nil))
		conn := s.Radio.Expect(s.T(), testutils.OpConnect)

		s.Require().NoError(seq.StopTest())
		s.Radio.ExpectNone(s.T(), 50*time.Millisecond)

		conn.Link.Connected()
		s.Radio.Expect(s.T(), testutils.OpDisconnect)
		s.Radio.ExpectNone(s.T(), 50*time.Millisecond)
	})

	s.Run("before run", func() {
		s.SetupTest()
		defer s.TearDownTest()

		seq := s.start(validator.NewBuilder("stop").Connect().Build())
		s.Assert().ErrorIs(seq.StopTest(), validator.ErrNotStarted, "stop without a run MUST be rejected")
	})
}

func (s *SequencerTestSuite) TestLateEventsAfterFailure() {
	// GOAL: Verify completions arriving after a failure are never evaluated
	//
	// TEST SCENARIO: Write fails → stray read and write completions arrive → no dispatch, one completion

	script := validator.NewBuilder("late").
		Connect().
		Write(uribeacon.LockUUID, make([]byte, 16), uribeacon.StatusInsufficientAuthorization).
		Disconnect().
		Build()
	seq := s.start(script)
	s.Require().NoError(seq.Run(addrA, nil, nil))

	link := s.connectPinned()
	s.Radio.Expect(s.T(), testutils.OpWrite)
	link.WriteDone(uribeacon.LockUUID, device.StatusSuccess)
	s.waitFor("completed")

	link.WriteDone(uribeacon.LockUUID, uribeacon.StatusInsufficientAuthorization)
	link.ReadDone(uribeacon.LockUUID, nil, device.StatusSuccess)
	link.ServicesDiscovered(device.StatusSuccess)

	s.Radio.ExpectNone(s.T(), 100*time.Millisecond)
	s.Assert().Equal(1, s.sink.completions(), "completion MUST be reported once")
	s.Assert().True(seq.State().Failed, "failed run MUST stay failed")
}

func (s *SequencerTestSuite) TestRepeat() {
	// GOAL: Verify Repeat restores the whole script and clears the previous verdict
	//
	// TEST SCENARIO: Run fails → Repeat → not failed, full length, annotations cleared → run passes

	script := validator.NewBuilder("repeat").
		Connect().
		Write(uribeacon.TxPowerModeUUID, []byte{0x04}, uribeacon.StatusWriteNotPermitted).
		Build()
	seq := s.start(script)
	s.Require().NoError(seq.Run(addrA, nil, nil))

	link := s.connectPinned()
	s.Radio.Expect(s.T(), testutils.OpWrite)
	link.WriteDone(uribeacon.TxPowerModeUUID, device.StatusSuccess)
	s.waitFor("completed")
	s.Require().True(seq.State().Failed, "first run MUST fail")

	s.Require().NoError(seq.Repeat(nil))
	st := seq.State()
	s.Assert().False(st.Failed, "repeat MUST clear the failure")
	s.Assert().False(st.Finished, "repeat MUST start a new run")
	s.Assert().False(st.Linked, "repeat MUST NOT reuse the held link")
	s.Assert().Equal(script.Len(), st.Remaining, "repeat MUST restore every step")
	s.Assert().Equal(addrA, st.Address, "repeat MUST keep the pinned beacon")
	for _, step := range seq.Steps() {
		s.Assert().False(step.Failed, "repeat MUST clear step annotations")
	}

	closed := s.Radio.Expect(s.T(), testutils.OpDisconnect)
	s.Assert().Same(link, closed.Link, "repeat MUST disconnect the previous link")
	old := link

	link = s.connectPinned()
	s.Assert().NotSame(old, link, "repeat MUST dial a new link")
	old.Disconnected()
	s.Radio.Expect(s.T(), testutils.OpWrite)
	link.WriteDone(uribeacon.TxPowerModeUUID, uribeacon.StatusWriteNotPermitted)
	s.waitFor("completed")
	s.Assert().False(seq.State().Failed, "repeated run MUST pass")
}

func (s *SequencerTestSuite) TestRepeatAfterReadFailure() {
	// GOAL: Verify a repeat after an assertion failure closes the held link before dialing
	//
	// TEST SCENARIO: Read mismatch leaves the link held → Repeat → disconnect, settle, connect → stale events ignored → run passes

	script := validator.NewBuilder("lock state").
		Connect().
		AssertEquals(uribeacon.LockStateUUID, []byte{0x00}, device.StatusSuccess).
		Build()
	seq := s.start(script)
	s.Require().NoError(seq.Run(addrA, nil, nil))

	first := s.connectPinned()
	s.Radio.Expect(s.T(), testutils.OpRead)
	first.ReadDone(uribeacon.LockStateUUID, []byte{0x01}, device.StatusSuccess)
	s.waitFor("completed")
	s.Require().True(seq.State().Linked, "failed read MUST leave the link held")

	s.Require().NoError(seq.Repeat(nil))
	closed := s.Radio.Expect(s.T(), testutils.OpDisconnect)
	s.Assert().Same(first, closed.Link, "held link MUST be disconnected")

	second := s.connectPinned()
	s.Assert().NotSame(first, second, "repeat MUST dial a new link")

	// The old link's disconnect and completions belong to the previous run.
	first.Disconnected()
	first.ReadDone(uribeacon.LockStateUUID, []byte{0x01}, device.StatusSuccess)
	read := s.Radio.Expect(s.T(), testutils.OpRead)
	s.Assert().Same(second, read.Link, "read MUST go to the new link")
	s.Assert().False(seq.State().Failed, "events of the old link MUST be ignored")

	second.ReadDone(uribeacon.LockStateUUID, []byte{0x00}, device.StatusSuccess)
	s.waitFor("completed")
	s.Assert().False(seq.State().Failed, "repeated run MUST pass")
	s.Radio.ExpectNone(s.T(), 50*time.Millisecond)
}

func (s *SequencerTestSuite) TestConnectStepReplacesHeldLink() {
	// GOAL: Verify a Connect step never dials while an earlier link is still open
	//
	// TEST SCENARIO: Run handed an established link with a Connect head → old link disconnected → new dial

	held := testutils.NewFakeLink(s.Radio, addrA, nil)
	seq := s.start(validator.NewBuilder("connect").Connect().Build())
	s.Require().NoError(seq.Run(addrA, held, seq.Events()))

	closed := s.Radio.Expect(s.T(), testutils.OpDisconnect)
	s.Assert().Same(held, closed.Link, "held link MUST be disconnected before dialing")

	link := s.connectPinned()
	s.Assert().NotSame(held, link, "Connect MUST dial a new link")
	s.waitFor("completed")
	s.Assert().False(seq.State().Failed, "run MUST pass")
}

func (s *SequencerTestSuite) TestRunWithEstablishedLink() {
	// GOAL: Verify a run can reuse a link established before it started
	//
	// TEST SCENARIO: Run with a mock link and no Connect step → write goes straight to its service

	value := []byte{0xe8, 0x03}
	written := make(chan struct{})
	svc := &testutils.MockService{}
	svc.On("WriteCharacteristic", uribeacon.BeaconPeriodUUID, value).Return().Run(func(mock.Arguments) {
		close(written)
	}).Once()

	link := &testutils.MockLink{}
	link.On("Service", uribeacon.ConfigServiceUUID).Return(svc)

	seq := s.start(validator.NewBuilder("period").Write(uribeacon.BeaconPeriodUUID, value, device.StatusSuccess).Build())
	s.Require().NoError(seq.Run(addrA, link, seq.Events()))

	select {
	case <-written:
	case <-time.After(time.Second):
		s.FailNow("write MUST be issued on the provided link")
	}
	seq.Events().OnCharacteristicWrite(link, uribeacon.BeaconPeriodUUID, device.StatusSuccess)

	done := s.waitFor("completed")
	s.Assert().True(done.linked, "completion MUST hand back the link")
	s.Assert().False(seq.State().Failed, "run MUST pass")
	svc.AssertExpectations(s.T())
	link.AssertNotCalled(s.T(), "Disconnect")
}

func (s *SequencerTestSuite) TestAPIWithoutLoop() {
	// GOAL: Verify requests are rejected when the loop is not running
	//
	// TEST SCENARIO: Sequencer never started → Run returns ErrNotRunning; loop stopped → same

	seq := validator.New(validator.NewBuilder("idle").Build(), s.Radio, nil, s.Logger, s.opts)
	s.Assert().ErrorIs(seq.Run("", nil, nil), validator.ErrNotRunning, "Run MUST fail before Start")

	ctx, cancel := context.WithCancel(context.Background())
	s.Require().NoError(seq.Start(ctx))
	s.Assert().Error(seq.Start(ctx), "second Start MUST fail")
	cancel()
	<-seq.Done()
	s.Assert().True(errors.Is(seq.StopTest(), validator.ErrNotRunning), "StopTest MUST fail after the loop stopped")
}

func TestSequencerTestSuite(t *testing.T) {
	suite.Run(t, new(SequencerTestSuite))
}

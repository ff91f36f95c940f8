package sim_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/beaconval/internal/device"
	"github.com/srg/beaconval/internal/device/sim"
	"github.com/srg/beaconval/internal/uribeacon"
)

type BeaconTestSuite struct {
	suite.Suite
}

func (s *BeaconTestSuite) TestWriteRules() {
	// GOAL: Verify the simulated beacon answers writes with the configuration protocol status codes
	//
	// TEST SCENARIO: One write per rule on an unlocked beacon → expected status → state updated only on success

	code := bytes.Repeat([]byte{0x01}, uribeacon.LockCodeLength)
	cases := []struct {
		name   string
		uuid   string
		value  []byte
		status device.Status
	}{
		{"uri within limit", uribeacon.DataUUID, []byte{0x00, 'a'}, uribeacon.StatusSuccess},
		{"uri too long", uribeacon.DataUUID, make([]byte, uribeacon.MaxURILength+1), uribeacon.StatusInvalidLength},
		{"flags", uribeacon.FlagsUUID, []byte{0x10}, uribeacon.StatusSuccess},
		{"flags too long", uribeacon.FlagsUUID, []byte{0x10, 0x00}, uribeacon.StatusInvalidLength},
		{"power levels", uribeacon.AdvertisedPowerLevelsUUID, []byte{1, 2, 3, 4}, uribeacon.StatusSuccess},
		{"power levels short", uribeacon.AdvertisedPowerLevelsUUID, []byte{1, 2, 3}, uribeacon.StatusInvalidLength},
		{"power mode", uribeacon.TxPowerModeUUID, []byte{uribeacon.MaxTxPowerMode}, uribeacon.StatusSuccess},
		{"power mode out of range", uribeacon.TxPowerModeUUID, []byte{uribeacon.MaxTxPowerMode + 1}, uribeacon.StatusWriteNotPermitted},
		{"period", uribeacon.BeaconPeriodUUID, []byte{0x64, 0x00}, uribeacon.StatusSuccess},
		{"period short", uribeacon.BeaconPeriodUUID, []byte{0x64}, uribeacon.StatusInvalidLength},
		{"lock code short", uribeacon.LockUUID, code[:4], uribeacon.StatusInvalidLength},
		{"unlock while unlocked", uribeacon.UnlockUUID, code, uribeacon.StatusSuccess},
		{"lock state is read only", uribeacon.LockStateUUID, []byte{0x00}, uribeacon.StatusWriteNotPermitted},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			b := sim.NewBeacon("AA:BB:CC:DD:EE:01")
			s.Assert().Equal(tc.status, b.Write(tc.uuid, tc.value), "write status MUST match")

			if tc.status.OK() && tc.uuid != uribeacon.UnlockUUID {
				got, status := b.Read(tc.uuid)
				s.Assert().Equal(uribeacon.StatusSuccess, status)
				s.Assert().Equal(tc.value, got, "accepted write MUST be stored")
			}
		})
	}
}

func (s *BeaconTestSuite) TestLock() {
	// GOAL: Verify locking guards every configuration write until the right code unlocks it
	//
	// TEST SCENARIO: Lock → writes rejected → wrong code rejected → right code unlocks

	code := bytes.Repeat([]byte{0xab}, uribeacon.LockCodeLength)
	b := sim.NewBeacon("AA:BB:CC:DD:EE:01")

	s.Require().Equal(uribeacon.StatusSuccess, b.Write(uribeacon.LockUUID, code))
	s.Assert().True(b.Locked(), "beacon MUST be locked")

	state, _ := b.Read(uribeacon.LockStateUUID)
	s.Assert().Equal([]byte{0x01}, state, "lock state MUST read locked")

	s.Assert().Equal(uribeacon.StatusInsufficientAuthorization, b.Write(uribeacon.DataUUID, []byte{0x00}), "locked beacon MUST reject writes")
	s.Assert().Equal(uribeacon.StatusInsufficientAuthorization, b.Write(uribeacon.LockUUID, code), "locked beacon MUST reject a second lock")
	s.Assert().Equal(uribeacon.StatusInsufficientAuthorization, b.Write(uribeacon.ResetUUID, []byte{0x01}), "locked beacon MUST reject reset")
	s.Assert().Equal(uribeacon.StatusInsufficientAuthorization, b.Write(uribeacon.UnlockUUID, make([]byte, uribeacon.LockCodeLength)), "wrong code MUST be rejected")

	s.Require().Equal(uribeacon.StatusSuccess, b.Write(uribeacon.UnlockUUID, code))
	s.Assert().False(b.Locked(), "right code MUST unlock")

	_, status := b.Read(uribeacon.LockUUID)
	s.Assert().Equal(uribeacon.StatusReadNotPermitted, status, "lock MUST be write only")
	_, status = b.Read(uribeacon.UnlockUUID)
	s.Assert().Equal(uribeacon.StatusReadNotPermitted, status, "unlock MUST be write only")
}

func (s *BeaconTestSuite) TestResetAndPayload() {
	// GOAL: Verify reset restores defaults and the advertised frame follows the configuration
	//
	// TEST SCENARIO: Change flags, power mode and URI → frame reflects it → reset → default frame

	b := sim.NewBeacon("AA:BB:CC:DD:EE:01", sim.WithURI([]byte{0x02, 'g', 'o'}))
	s.Require().Equal(uribeacon.StatusSuccess, b.Write(uribeacon.FlagsUUID, []byte{0x10}))
	s.Require().Equal(uribeacon.StatusSuccess, b.Write(uribeacon.TxPowerModeUUID, []byte{0x00}))

	s.Assert().Equal([]byte{0x10, 0xee, 0x02, 'g', 'o'}, b.Payload(), "frame MUST carry flags, calibrated power and URI")

	s.Require().Equal(uribeacon.StatusSuccess, b.Write(uribeacon.ResetUUID, []byte{0x01}))
	want := append([]byte{0x00, uribeacon.DefaultPowerLevels[uribeacon.DefaultTxPowerMode]}, uribeacon.DefaultURI...)
	s.Assert().Equal(want, b.Payload(), "reset MUST restore the default frame")
}

func (s *BeaconTestSuite) TestWriteStatusOverride() {
	// GOAL: Verify a non-conforming beacon can be modelled
	//
	// TEST SCENARIO: Override data writes → status forced → data unchanged

	b := sim.NewBeacon("AA:BB:CC:DD:EE:01", sim.WithWriteStatus(uribeacon.DataUUID, device.StatusFailure))
	s.Assert().Equal(device.StatusFailure, b.Write(uribeacon.DataUUID, []byte{0x00}))
	got, _ := b.Read(uribeacon.DataUUID)
	s.Assert().Equal(uribeacon.DefaultURI, got, "overridden write MUST NOT change state")
}

func (s *BeaconTestSuite) TestRadio() {
	// GOAL: Verify the simulated radio scans by service and connects only to known beacons
	//
	// TEST SCENARIO: Scan for the URI service → beacon frame delivered; connect to unknown address → failure

	b := sim.NewBeacon("AA:BB:CC:DD:EE:01")
	radio := sim.NewRadio(nil, b)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var seen []device.Advertisement
	err := radio.Scan(ctx, uribeacon.URIServiceUUID, func(adv device.Advertisement) {
		seen = append(seen, adv)
	})
	s.Assert().ErrorIs(err, context.DeadlineExceeded, "scan MUST run until cancelled")
	s.Require().NotEmpty(seen, "beacon MUST be advertised")
	s.Assert().Equal(b.Payload(), seen[0].ServiceData(uribeacon.URIServiceUUID), "service data MUST be the beacon frame")
	s.Assert().Nil(seen[0].ServiceData("180f"), "other services MUST carry no data")

	events := newEventRecorder()
	radio.Connect("11:22:33:44:55:66", events)
	ev := events.next(s.T())
	s.Assert().Equal(device.StatusFailure, ev.status, "unknown beacon MUST fail")
	s.Assert().Equal(device.StateDisconnected, ev.state)

	radio.Connect("aa:bb:cc:dd:ee:01", events)
	ev = events.next(s.T())
	s.Require().Equal(device.StateConnected, ev.state, "known beacon MUST connect")
	s.Assert().NotNil(ev.link.Service(uribeacon.ConfigServiceUUID), "config service MUST be exposed")
	s.Assert().Nil(ev.link.Service("180f"), "other services MUST NOT be exposed")

	ev.link.Service(uribeacon.ConfigServiceUUID).WriteCharacteristic(uribeacon.FlagsUUID, []byte{0x01, 0x02})
	ev = events.next(s.T())
	s.Assert().Equal("write", ev.kind)
	s.Assert().Equal(uribeacon.StatusInvalidLength, ev.status, "write MUST be judged by the beacon rules")
}

func TestBeaconTestSuite(t *testing.T) {
	suite.Run(t, new(BeaconTestSuite))
}

type linkEvent struct {
	kind   string
	link   device.Link
	status device.Status
	state  device.State
	value  []byte
}

type eventRecorder struct {
	events chan linkEvent
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan linkEvent, 16)}
}

func (r *eventRecorder) next(t *testing.T) linkEvent {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no link event")
		return linkEvent{}
	}
}

func (r *eventRecorder) OnConnectionStateChange(link device.Link, status device.Status, state device.State) {
	r.events <- linkEvent{kind: "state", link: link, status: status, state: state}
}

func (r *eventRecorder) OnServicesDiscovered(link device.Link, status device.Status) {
	r.events <- linkEvent{kind: "services", link: link, status: status}
}

func (r *eventRecorder) OnCharacteristicRead(link device.Link, _ string, value []byte, status device.Status) {
	r.events <- linkEvent{kind: "read", link: link, status: status, value: value}
}

func (r *eventRecorder) OnCharacteristicWrite(link device.Link, _ string, status device.Status) {
	r.events <- linkEvent{kind: "write", link: link, status: status}
}

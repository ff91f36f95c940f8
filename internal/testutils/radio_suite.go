package testutils

import (
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/beaconval/internal/uribeacon"
)

// FakeRadioSuite gives every test a fresh FakeRadio whose links expose the
// UriBeacon config service.
//
//	type SequencerSuite struct {
//	    testutils.FakeRadioSuite
//	}
//
//	func (s *SequencerSuite) TestConnect() {
//	    s.Radio.WithAdvertisements(testutils.UriBeaconAdvertisement("AA:BB:CC:DD:EE:FF", nil))
//	    ...
//	    op := s.Radio.Expect(s.T(), testutils.OpConnect)
//	    op.Link.Connected()
//	}
type FakeRadioSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger
	Radio  *FakeRadio
}

func (s *FakeRadioSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

func (s *FakeRadioSuite) SetupTest() {
	s.Radio = NewFakeRadio(uribeacon.ConfigServiceUUID)
}

// UriBeaconAdvertisement builds a beacon advertising the config service and,
// when payload is not nil, URI service data.
func UriBeaconAdvertisement(address string, payload []byte) *Advertisement {
	b := NewAdvertisementBuilder().
		WithAddress(address).
		WithName("UriBeacon").
		WithServices(uribeacon.ConfigServiceUUID)
	if payload != nil {
		b.WithServiceData(uribeacon.URIServiceUUID, payload)
	}
	return b.Build()
}

package validator

import "github.com/srg/beaconval/internal/device"

// ReportSink receives progress notifications of a run. Calls are made from
// the sequencer loop goroutine; implementations must return quickly and must
// not call back into the Sequencer synchronously.
type ReportSink interface {
	TestStarted()
	WaitingForConfigMode()
	ConnectedToBeacon()
	MultipleCandidatesFound(candidates []Candidate)
	TestCompleted(address string, link device.Link)
}

// NopSink ignores every notification.
type NopSink struct{}

func (NopSink) TestStarted() {}
func (NopSink) WaitingForConfigMode() {}
func (NopSink) ConnectedToBeacon() {}
func (NopSink) MultipleCandidatesFound([]Candidate) {}
func (NopSink) TestCompleted(string, device.Link) {}

package report

import (
	"github.com/srg/beaconval/internal/device"
	"github.com/srg/beaconval/internal/validator"
)

// Multi fans notifications out to every sink in order. Sinks that implement
// validator.ScriptObserver also receive script boundaries.
func Multi(sinks ...validator.ReportSink) validator.ReportSink {
	return multi(sinks)
}

type multi []validator.ReportSink

func (m multi) TestStarted() {
	for _, s := range m {
		s.TestStarted()
	}
}

func (m multi) WaitingForConfigMode() {
	for _, s := range m {
		s.WaitingForConfigMode()
	}
}

func (m multi) ConnectedToBeacon() {
	for _, s := range m {
		s.ConnectedToBeacon()
	}
}

func (m multi) MultipleCandidatesFound(candidates []validator.Candidate) {
	for _, s := range m {
		s.MultipleCandidatesFound(candidates)
	}
}

func (m multi) TestCompleted(address string, link device.Link) {
	for _, s := range m {
		s.TestCompleted(address, link)
	}
}

func (m multi) ScriptStarting(script *validator.Script) {
	for _, s := range m {
		if o, ok := s.(validator.ScriptObserver); ok {
			o.ScriptStarting(script)
		}
	}
}

func (m multi) ScriptFinished(v validator.Verdict) {
	for _, s := range m {
		if o, ok := s.(validator.ScriptObserver); ok {
			o.ScriptFinished(v)
		}
	}
}

package report

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/srg/beaconval/internal/device"
	"github.com/srg/beaconval/internal/validator"
)

// Event kinds written by JSON.
const (
	EventRun        = "run"
	EventStarted    = "started"
	EventWaiting    = "waiting"
	EventConnected  = "connected"
	EventCandidates = "candidates"
	EventCompleted  = "completed"
	EventVerdict    = "verdict"
)

// Event is one line of JSON output.
type Event struct {
	Event      string                `json:"event"`
	Time       time.Time             `json:"time"`
	Test       string                `json:"test,omitempty"`
	Reference  string                `json:"reference,omitempty"`
	Address    string                `json:"address,omitempty"`
	Candidates []validator.Candidate `json:"candidates,omitempty"`
	Verdict    *validator.Verdict    `json:"verdict,omitempty"`
}

// JSON writes one Event per line.
type JSON struct {
	mu   sync.Mutex
	enc  *json.Encoder
	test string
	err  error
	now  func() time.Time
}

var (
	_ validator.ReportSink     = (*JSON)(nil)
	_ validator.ScriptObserver = (*JSON)(nil)
)

func NewJSON(w io.Writer) *JSON {
	return &JSON{enc: json.NewEncoder(w), now: time.Now}
}

// Err returns the first write error.
func (j *JSON) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *JSON) emit(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	ev.Time = j.now().UTC()
	if ev.Test == "" {
		ev.Test = j.test
	}
	if err := j.enc.Encode(ev); err != nil && j.err == nil {
		j.err = err
	}
}

func (j *JSON) ScriptStarting(script *validator.Script) {
	j.mu.Lock()
	j.test = script.Name()
	j.mu.Unlock()
	j.emit(Event{Event: EventRun, Reference: script.Reference()})
}

func (j *JSON) TestStarted() {
	j.emit(Event{Event: EventStarted})
}

func (j *JSON) WaitingForConfigMode() {
	j.emit(Event{Event: EventWaiting})
}

func (j *JSON) ConnectedToBeacon() {
	j.emit(Event{Event: EventConnected})
}

func (j *JSON) MultipleCandidatesFound(candidates []validator.Candidate) {
	j.emit(Event{Event: EventCandidates, Candidates: candidates})
}

func (j *JSON) TestCompleted(address string, _ device.Link) {
	j.emit(Event{Event: EventCompleted, Address: address})
}

func (j *JSON) ScriptFinished(v validator.Verdict) {
	j.emit(Event{Event: EventVerdict, Test: v.Test, Verdict: &v})
}

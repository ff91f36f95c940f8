package report_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/beaconval/internal/device/sim"
	"github.com/srg/beaconval/internal/report"
	"github.com/srg/beaconval/internal/testutils"
	"github.com/srg/beaconval/internal/uribeacon"
	"github.com/srg/beaconval/internal/validator"
)

type ReportTestSuite struct {
	suite.Suite
	started time.Time
}

func (s *ReportTestSuite) SetupTest() {
	s.started = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func (s *ReportTestSuite) verdict(test string, passed bool, d time.Duration, reason string) validator.Verdict {
	return validator.Verdict{
		Test:       test,
		Passed:     passed,
		Reason:     reason,
		StartedAt:  s.started,
		FinishedAt: s.started.Add(d),
	}
}

func (s *ReportTestSuite) TestConsoleProgress() {
	// GOAL: Verify the console prints a run in go test -v style
	//
	// TEST SCENARIO: Notifications of a failing run → run header, progress lines, FAIL with the failed step

	var buf bytes.Buffer
	console := report.NewConsole(&buf, false)

	script := validator.NewBuilder("flags").Reference("3.3.5 Flags").
		Connect().
		Write(uribeacon.FlagsUUID, []byte{0x10}, uribeacon.StatusSuccess).
		Build()

	v := s.verdict("flags", false, 120*time.Millisecond, "Incorrect status code: 3. Expected: 0")
	v.Steps = script.Steps()
	v.Steps[1].Failed = true
	v.Steps[1].Reason = v.Reason

	console.ScriptStarting(script)
	console.TestStarted()
	console.WaitingForConfigMode()
	console.MultipleCandidatesFound([]validator.Candidate{
		{Address: "AA:BB:CC:DD:EE:01", Name: "UriBeacon", RSSI: -40},
		{Address: "AA:BB:CC:DD:EE:02", RSSI: -60},
	})
	console.ConnectedToBeacon()
	console.TestCompleted("AA:BB:CC:DD:EE:01", nil)
	console.ScriptFinished(v)

	testutils.NewTextAsserter(s.T()).Assert(buf.String(), `
=== RUN flags (3.3.5 Flags)
    waiting for a beacon in configuration mode
    2 beacons found
      [0] AA:BB:CC:DD:EE:01 UriBeacon -40 dBm
      [1] AA:BB:CC:DD:EE:02 (unnamed) -60 dBm
    connected
--- FAIL: flags (0.12s)
    step 2: write flags [0x10] expect success
        Incorrect status code: 3. Expected: 0
`)
}

func (s *ReportTestSuite) TestConsoleFailureWithoutStep() {
	// GOAL: Verify a failure that no step owns still shows its reason
	//
	// TEST SCENARIO: Verdict failed by a timeout with no failed step → reason printed under FAIL

	var buf bytes.Buffer
	report.NewConsole(&buf, false).ScriptFinished(s.verdict("slow", false, 2*time.Second, "timeout: test did not finish within 2s"))

	testutils.NewTextAsserter(s.T()).Assert(buf.String(), `
--- FAIL: slow (2.00s)
    timeout: test did not finish within 2s
`)
}

func (s *ReportTestSuite) TestSummary() {
	// GOAL: Verify the verdict table and overall result, with and without colors
	//
	// TEST SCENARIO: One pass and one fail → aligned table, Result FAIL (1/2); colors add ANSI codes only

	verdicts := []validator.Verdict{
		s.verdict("flags", true, 120*time.Millisecond, ""),
		s.verdict("lock", false, 1500*time.Millisecond, "Incorrect status code: 8. Expected: 0"),
	}
	want := `
TEST   RESULT  DURATION  REASON
flags  PASS    0.12s
lock   FAIL    1.50s     Incorrect status code: 8. Expected: 0
Result: FAIL (1/2)
`

	var plain bytes.Buffer
	s.Require().NoError(report.Summary(&plain, verdicts, false))
	s.Assert().NotContains(plain.String(), "\x1b[", "plain summary MUST NOT contain escape codes")
	testutils.NewTextAsserter(s.T()).Assert(plain.String(), want)

	var colored bytes.Buffer
	s.Require().NoError(report.Summary(&colored, verdicts, true))
	s.Assert().Contains(colored.String(), "\x1b[", "colored summary MUST contain escape codes")
	testutils.NewTextAsserter(s.T()).Assert(colored.String(), want)
}

func (s *ReportTestSuite) TestJSONRun() {
	// GOAL: Verify the JSON sink writes one event per notification for a real run
	//
	// TEST SCENARIO: Runner over a simulated beacon with JSON and console behind Multi → NDJSON events in order

	var out, console bytes.Buffer
	jsonSink := report.NewJSON(&out)

	radio := sim.NewRadio(nil, sim.NewBeacon("AA:BB:CC:DD:EE:01"))
	radio.Latency = time.Millisecond
	runner := validator.NewRunner(radio, validator.RunnerOptions{
		Address: "AA:BB:CC:DD:EE:01",
		Sink:    report.Multi(jsonSink, report.NewConsole(&console, false)),
		Sequencer: validator.Options{
			ScanTimeout:    50 * time.Millisecond,
			ReconnectDelay: 10 * time.Millisecond,
		},
	})

	script := validator.NewBuilder("flags").Reference("3.3.5 Flags").
		Connect().
		WriteAndRead(uribeacon.FlagsUUID, []byte{0x10}).
		Build()
	v := runner.RunOne(context.Background(), script)
	s.Require().True(v.Passed, v.Reason)
	s.Require().NoError(jsonSink.Err())

	testutils.NewJSONAsserter(s.T(),
		testutils.WithIgnoredFields("time", "id", "run_id", "started_at", "finished_at"),
	).AssertLines(out.String(), `[
		{"event": "run", "test": "flags", "reference": "3.3.5 Flags"},
		{"event": "started", "test": "flags"},
		{"event": "waiting", "test": "flags"},
		{"event": "connected", "test": "flags"},
		{"event": "completed", "test": "flags", "address": "AA:BB:CC:DD:EE:01"},
		{"event": "verdict", "test": "flags", "verdict": {
			"test": "flags",
			"reference": "3.3.5 Flags",
			"address": "AA:BB:CC:DD:EE:01",
			"passed": true,
			"steps": "<<PRESENCE>>"
		}}
	]`)
	s.Assert().Contains(console.String(), "--- PASS: flags", "Multi MUST also feed the console")
}

func TestReportTestSuite(t *testing.T) {
	suite.Run(t, new(ReportTestSuite))
}

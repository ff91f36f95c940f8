// Package report renders test progress and verdicts for people (Console) and
// for tools (JSON).
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/srg/beaconval/internal/device"
	"github.com/srg/beaconval/internal/validator"
)

// palette holds the colors of one writer; a disabled palette prints plain text.
type palette struct {
	pass  *color.Color
	fail  *color.Color
	note  *color.Color
	head  *color.Color
	// title has the escape length of pass and fail so table columns align.
	title *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		pass:  color.New(color.FgGreen, color.Bold),
		fail:  color.New(color.FgRed, color.Bold),
		note:  color.New(color.FgYellow),
		head:  color.New(color.Bold),
		title: color.New(color.FgWhite, color.Bold),
	}
	for _, c := range []*color.Color{p.pass, p.fail, p.note, p.head, p.title} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) result(passed bool) string {
	if passed {
		return p.pass.Sprint("PASS")
	}
	return p.fail.Sprint("FAIL")
}

// Console prints progress in the style of go test -v.
type Console struct {
	mu  sync.Mutex
	w   io.Writer
	pal palette
}

var (
	_ validator.ReportSink     = (*Console)(nil)
	_ validator.ScriptObserver = (*Console)(nil)
)

func NewConsole(w io.Writer, colors bool) *Console {
	return &Console{w: w, pal: newPalette(colors)}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func (c *Console) ScriptStarting(script *validator.Script) {
	title := script.Name()
	if ref := script.Reference(); ref != "" {
		title += " (" + ref + ")"
	}
	c.printf("%s %s\n", c.pal.head.Sprint("=== RUN"), title)
}

func (c *Console) TestStarted() {}

func (c *Console) WaitingForConfigMode() {
	c.printf("    %s\n", c.pal.note.Sprint("waiting for a beacon in configuration mode"))
}

func (c *Console) ConnectedToBeacon() {
	c.printf("    connected\n")
}

func (c *Console) MultipleCandidatesFound(candidates []validator.Candidate) {
	var b strings.Builder
	fmt.Fprintf(&b, "    %s\n", c.pal.note.Sprintf("%d beacons found", len(candidates)))
	for i, cand := range candidates {
		fmt.Fprintf(&b, "      [%d] %s\n", i, FormatCandidate(cand))
	}
	c.printf("%s", b.String())
}

func (c *Console) TestCompleted(string, device.Link) {}

func (c *Console) ScriptFinished(v validator.Verdict) {
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s: %s (%s)\n", c.pal.result(v.Passed), v.Test, formatDuration(v.Duration()))
	if !v.Passed {
		described := false
		for _, step := range v.Steps {
			if step.Failed {
				fmt.Fprintf(&b, "    step %d: %s\n        %s\n", step.Index+1, step.Description, step.Reason)
				described = true
			}
		}
		if !described && v.Reason != "" {
			fmt.Fprintf(&b, "    %s\n", v.Reason)
		}
	}
	c.printf("%s", b.String())
}

// FormatCandidate renders a scanned beacon on one line.
func FormatCandidate(c validator.Candidate) string {
	name := c.Name
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("%s %s %d dBm", c.Address, name, c.RSSI)
}

// Summary writes a verdict table followed by the overall result.
func Summary(w io.Writer, verdicts []validator.Verdict, colors bool) error {
	pal := newPalette(colors)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "TEST\t%s\tDURATION\tREASON\n", pal.title.Sprint("RESULT"))

	passed := 0
	for _, v := range verdicts {
		if v.Passed {
			passed++
		}
		reason := v.Reason
		if len(reason) > 60 {
			reason = reason[:57] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Test, pal.result(v.Passed), formatDuration(v.Duration()), reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "Result: %s (%d/%d)\n", pal.result(passed == len(verdicts)), passed, len(verdicts))
	return err
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

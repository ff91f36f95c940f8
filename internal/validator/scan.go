package validator

import (
	"bytes"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/beaconval/internal/device"
)

// Candidate is one distinct beacon observed during a scan window.
type Candidate struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	RSSI    int    `json:"rssi"`
	// Payload is the service data advertised for the scan filter UUID.
	Payload []byte `json:"payload,omitempty"`
}

func candidateFrom(adv device.Advertisement, filter string) Candidate {
	return Candidate{
		Address: adv.Addr(),
		Name:    adv.LocalName(),
		RSSI:    adv.RSSI(),
		Payload: bytes.Clone(adv.ServiceData(filter)),
	}
}

// ScanCollector accumulates the first advertisement of every distinct device
// seen in one scan window, in discovery order. It is owned by the sequencer
// loop and is not safe for concurrent use.
type ScanCollector struct {
	filter string
	seen   *orderedmap.OrderedMap[string, Candidate]
}

func NewScanCollector() *ScanCollector {
	return &ScanCollector{seen: orderedmap.New[string, Candidate]()}
}

// Begin clears the result set and starts a new window for filter.
func (c *ScanCollector) Begin(filter string) {
	c.filter = filter
	c.seen = orderedmap.New[string, Candidate]()
}

// Filter returns the service UUID of the current window.
func (c *ScanCollector) Filter() string {
	return c.filter
}

// Add records adv unless its device was already seen in this window.
// It reports whether adv was recorded.
func (c *ScanCollector) Add(adv device.Advertisement) bool {
	key := addressKey(adv.Addr())
	if _, ok := c.seen.Get(key); ok {
		return false
	}
	c.seen.Set(key, candidateFrom(adv, c.filter))
	return true
}

// Len returns the number of distinct devices seen.
func (c *ScanCollector) Len() int {
	return c.seen.Len()
}

// Results returns the recorded candidates in discovery order.
func (c *ScanCollector) Results() []Candidate {
	out := make([]Candidate, 0, c.seen.Len())
	for pair := c.seen.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Lookup returns the candidate recorded for address.
func (c *ScanCollector) Lookup(address string) (Candidate, bool) {
	return c.seen.Get(addressKey(address))
}

// addressKey is the device identity used for deduplication and pinning.
func addressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

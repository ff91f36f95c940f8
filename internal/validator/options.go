package validator

import (
	"time"

	"github.com/mcuadros/go-defaults"

	"github.com/srg/beaconval/internal/uribeacon"
)

// Options tune a Sequencer. Zero fields are filled from the default tags.
type Options struct {
	// ScanTimeout is the length of every scan window.
	ScanTimeout time.Duration `default:"5s"`
	// ReconnectDelay is the settle pause before connecting again after the
	// run went through a disconnect.
	ReconnectDelay time.Duration `default:"1s"`
	// ConfigServiceUUID filters connect scans and selects the GATT service.
	ConfigServiceUUID string
	// URIServiceUUID filters advertisement scans and selects the service data.
	URIServiceUUID string
}

// DefaultOptions returns the protocol defaults.
func DefaultOptions() Options {
	var opts Options
	opts.applyDefaults()
	return opts
}

func (o *Options) applyDefaults() {
	defaults.SetDefaults(o)
	if o.ConfigServiceUUID == "" {
		o.ConfigServiceUUID = uribeacon.ConfigServiceUUID
	}
	if o.URIServiceUUID == "" {
		o.URIServiceUUID = uribeacon.URIServiceUUID
	}
}

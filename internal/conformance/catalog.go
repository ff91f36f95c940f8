package conformance

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/srg/beaconval/internal/validator"
)

//go:embed suites/basic.yaml
var basicSuiteYAML []byte

//go:embed suites/protocol.yaml
var protocolSuiteYAML []byte

var loadBuiltin = sync.OnceValues(func() ([]*Suite, error) {
	suites := make([]*Suite, 0, 2)
	for _, data := range [][]byte{basicSuiteYAML, protocolSuiteYAML} {
		s, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("built-in suite: %w", err)
		}
		suites = append(suites, s)
	}
	return suites, nil
})

// Builtin returns the built-in suites, basic first.
func Builtin() []*Suite {
	suites, err := loadBuiltin()
	if err != nil {
		panic(err)
	}
	return suites
}

// Selection resolves test names against a set of suites.
type Selection struct {
	suites []*Suite
}

// NewSelection searches suites in order; a nil list means the built-in ones.
func NewSelection(suites ...*Suite) *Selection {
	if len(suites) == 0 {
		suites = Builtin()
	}
	return &Selection{suites: suites}
}

func (sel *Selection) Suites() []*Suite {
	return sel.suites
}

func (sel *Selection) suite(name string) *Suite {
	for _, s := range sel.suites {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Scripts builds the scripts named by names, in order. A name is a suite
// ("basic"), a test ("flags") or a qualified test ("protocol/lock"). No names
// selects every test of every suite.
func (sel *Selection) Scripts(names ...string) ([]*validator.Script, error) {
	if len(names) == 0 {
		for _, s := range sel.suites {
			names = append(names, s.Name)
		}
	}

	var scripts []*validator.Script
	for _, name := range names {
		found, err := sel.resolve(name)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, found...)
	}
	return scripts, nil
}

func (sel *Selection) resolve(name string) ([]*validator.Script, error) {
	if suiteName, testName, ok := strings.Cut(name, "/"); ok {
		s := sel.suite(suiteName)
		if s == nil {
			return nil, fmt.Errorf("%w %q: no suite %q", ErrUnknownTest, name, suiteName)
		}
		script, err := s.Script(testName)
		if err != nil {
			return nil, err
		}
		return []*validator.Script{script}, nil
	}

	if s := sel.suite(name); s != nil {
		return s.Scripts()
	}
	for _, s := range sel.suites {
		if s.Has(name) {
			script, err := s.Script(name)
			if err != nil {
				return nil, err
			}
			return []*validator.Script{script}, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownTest, name)
}

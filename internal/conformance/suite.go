// Package conformance holds the built-in UriBeacon configuration test suites
// and loads user suites from YAML.
//
// A suite file lists tests; each test is a list of steps:
//
//	name: custom
//	tests:
//	  - name: flags
//	    reference: "3.3.5 Flags"
//	    steps:
//	      - connect
//	      - {kind: write_and_read, characteristic: flags, value: "0x10"}
//	      - {include: other-test}
//	      - disconnect
//
// Characteristics are short names ("data", "power-mode") or UUIDs. Values
// are hex strings, statuses are names ("invalid-length") or numbers.
package conformance

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/srg/beaconval/internal/validator"
)

// Suite is a named list of tests.
type Suite struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Tests       []Test `yaml:"tests"`
}

// Test is one script definition.
type Test struct {
	Name      string `yaml:"name"`
	Title     string `yaml:"title,omitempty"`
	Reference string `yaml:"reference,omitempty"`
	Steps     []Step `yaml:"steps"`
}

var ErrUnknownTest = errors.New("unknown test")

// Parse decodes and validates a suite.
func Parse(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse suite: %w", err)
	}
	if s.Name == "" {
		return nil, errors.New("parse suite: name is required")
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("suite %q: %w", s.Name, err)
	}
	return &s, nil
}

// LoadFile reads a suite from path.
func LoadFile(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s *Suite) validate() error {
	seen := make(map[string]bool, len(s.Tests))
	for _, t := range s.Tests {
		if t.Name == "" {
			return errors.New("test without a name")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate test %q", t.Name)
		}
		seen[t.Name] = true
	}
	for _, t := range s.Tests {
		if _, err := s.Script(t.Name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Suite) find(name string) *Test {
	for i := range s.Tests {
		if s.Tests[i].Name == name {
			return &s.Tests[i]
		}
	}
	return nil
}

// Has reports whether the suite defines a test called name.
func (s *Suite) Has(name string) bool {
	return s.find(name) != nil
}

// Script builds the named test.
func (s *Suite) Script(name string) (*validator.Script, error) {
	b, err := s.builder(name, nil)
	if err != nil {
		return nil, err
	}
	return b.Build(), nil
}

// Scripts builds every test in order.
func (s *Suite) Scripts() ([]*validator.Script, error) {
	scripts := make([]*validator.Script, 0, len(s.Tests))
	for _, t := range s.Tests {
		script, err := s.Script(t.Name)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)
	}
	return scripts, nil
}

// builder compiles a test; includes are expanded in place. chain holds the
// tests being expanded and catches include cycles.
func (s *Suite) builder(name string, chain []string) (*validator.Builder, error) {
	t := s.find(name)
	if t == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownTest, name)
	}
	for _, c := range chain {
		if c == name {
			return nil, fmt.Errorf("include cycle: %s -> %s", strings.Join(chain, " -> "), name)
		}
	}
	chain = append(chain, name)

	b := validator.NewBuilder(t.Name).Reference(t.Reference)
	for i, step := range t.Steps {
		if step.Include != "" {
			inc, err := s.builder(step.Include, chain)
			if err != nil {
				return nil, fmt.Errorf("test %q step %d: %w", name, i+1, err)
			}
			b.Insert(inc)
			continue
		}
		if err := step.apply(b); err != nil {
			return nil, fmt.Errorf("test %q step %d: %w", name, i+1, err)
		}
	}
	return b, nil
}

package conformance

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/srg/beaconval/internal/device"
	"github.com/srg/beaconval/internal/uribeacon"
	"github.com/srg/beaconval/internal/validator"
)

// Step kinds accepted in suite files.
const (
	StepConnect         = "connect"
	StepDisconnect      = "disconnect"
	StepWrite           = "write"
	StepWriteMulti      = "write_multi"
	StepWriteAndRead    = "write_and_read"
	StepAssertEquals    = "assert_equals"
	StepAssertNotEquals = "assert_not_equals"
	StepAdvPacket       = "adv_packet"
	StepAdvFlags        = "adv_flags"
	StepAdvTxPower      = "adv_tx_power"
	StepAdvURI          = "adv_uri"
)

// Step is one entry of a test. A bare scalar is shorthand for {kind: ...}.
type Step struct {
	Kind           string   `yaml:"kind,omitempty"`
	Include        string   `yaml:"include,omitempty"`
	Characteristic string   `yaml:"characteristic,omitempty"`
	Value          Hex      `yaml:"value,omitempty"`
	Values         []Hex    `yaml:"values,omitempty"`
	Status         string   `yaml:"status,omitempty"`
	Statuses       []string `yaml:"statuses,omitempty"`
}

func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Kind = node.Value
		return nil
	}
	type plain Step
	return node.Decode((*plain)(s))
}

// Hex is a byte string written as "0x0102", "01 02" or "".
type Hex []byte

func (h *Hex) UnmarshalYAML(node *yaml.Node) error {
	b, err := ParseHex(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*h = b
	return nil
}

func (h Hex) MarshalYAML() (any, error) {
	return "0x" + hex.EncodeToString(h), nil
}

// ParseHex decodes a hex byte string. Spaces and a 0x prefix are ignored.
func ParseHex(s string) ([]byte, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex value %q: %w", s, err)
	}
	return b, nil
}

func (s Step) apply(b *validator.Builder) error {
	switch s.Kind {
	case StepConnect:
		b.Connect()
	case StepDisconnect:
		b.Disconnect()
	case StepAdvPacket:
		b.CheckAdvPacket()
	case StepAdvFlags, StepAdvTxPower:
		if len(s.Value) != 1 {
			return fmt.Errorf("%s needs a one byte value", s.Kind)
		}
		if s.Kind == StepAdvFlags {
			b.AssertAdvFlags(s.Value[0])
		} else {
			b.AssertAdvTxPower(s.Value[0])
		}
	case StepAdvURI:
		b.AssertAdvURI(s.Value)
	case StepWrite, StepWriteMulti, StepWriteAndRead, StepAssertEquals, StepAssertNotEquals:
		return s.applyGATT(b)
	case "":
		return errors.New("step without a kind")
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	return nil
}

func (s Step) applyGATT(b *validator.Builder) error {
	uuid, ok := uribeacon.LookupCharacteristic(s.Characteristic)
	if !ok {
		return fmt.Errorf("unknown characteristic %q", s.Characteristic)
	}
	status := device.StatusSuccess
	if s.Status != "" {
		var err error
		if status, err = device.ParseStatus(s.Status); err != nil {
			return err
		}
	}

	switch s.Kind {
	case StepWrite:
		b.Write(uuid, s.Value, status)
	case StepAssertEquals:
		b.AssertEquals(uuid, s.Value, status)
	case StepAssertNotEquals:
		b.AssertNotEquals(uuid, s.Value, status)
	case StepWriteMulti:
		if len(s.Statuses) == 0 {
			return errors.New("write_multi needs statuses")
		}
		accepted := make([]device.Status, 0, len(s.Statuses))
		for _, name := range s.Statuses {
			st, err := device.ParseStatus(name)
			if err != nil {
				return err
			}
			accepted = append(accepted, st)
		}
		b.WriteMulti(uuid, s.Value, accepted...)
	case StepWriteAndRead:
		values := make([][]byte, 0, len(s.Values)+1)
		if s.Value != nil {
			values = append(values, s.Value)
		}
		for _, v := range s.Values {
			values = append(values, v)
		}
		if len(values) == 0 {
			return errors.New("write_and_read needs a value")
		}
		b.WriteAndReadAll(uuid, values...)
	}
	return nil
}

package validator

import (
	"bytes"
	"slices"

	"github.com/srg/beaconval/internal/device"
)

// Script is the immutable, ordered list of steps of one test, always
// terminated by a KindLast step.
type Script struct {
	name      string
	reference string
	steps     []*Action
}

func (s *Script) Name() string {
	return s.name
}

// Reference points at the protocol section the test covers.
func (s *Script) Reference() string {
	return s.reference
}

// Len returns the number of steps including the terminating KindLast.
func (s *Script) Len() int {
	return len(s.steps)
}

// Steps returns a snapshot of every step, sentinel included.
func (s *Script) Steps() []StepStatus {
	out := make([]StepStatus, len(s.steps))
	for i, a := range s.steps {
		out[i] = a.status(i)
	}
	return out
}

func (s *Script) clearFailures() {
	for _, a := range s.steps {
		a.clearFailure()
	}
}

// Builder constructs a Script step by step.
//
//	script := validator.NewBuilder("Write URI").
//	    Connect().
//	    WriteAndRead(uribeacon.DataUUID, []byte{0x00, 'a'}).
//	    Disconnect().
//	    Build()
type Builder struct {
	name      string
	reference string
	actions   []*Action
}

func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

func (b *Builder) Reference(reference string) *Builder {
	b.reference = reference
	return b
}

func (b *Builder) add(a *Action) *Builder {
	b.actions = append(b.actions, a)
	return b
}

func (b *Builder) Connect() *Builder {
	return b.add(newAction(KindConnect))
}

func (b *Builder) Disconnect() *Builder {
	return b.add(newAction(KindDisconnect))
}

// Write writes value to characteristic and expects exactly status.
func (b *Builder) Write(characteristic string, value []byte, status device.Status) *Builder {
	return b.add(&Action{
		kind:           KindWrite,
		characteristic: characteristic,
		value:          bytes.Clone(value),
		expectedStatus: status,
	})
}

// WriteMulti writes value to characteristic and passes if the returned status
// is any of accepted.
func (b *Builder) WriteMulti(characteristic string, value []byte, accepted ...device.Status) *Builder {
	return b.add(&Action{
		kind:           KindWriteMultiReturnCode,
		characteristic: characteristic,
		value:          bytes.Clone(value),
		acceptedStatus: slices.Clone(accepted),
	})
}

func (b *Builder) AssertEquals(characteristic string, expected []byte, status device.Status) *Builder {
	return b.add(&Action{
		kind:           KindAssertEquals,
		characteristic: characteristic,
		value:          bytes.Clone(expected),
		expectedStatus: status,
	})
}

func (b *Builder) AssertNotEquals(characteristic string, expected []byte, status device.Status) *Builder {
	return b.add(&Action{
		kind:           KindAssertNotEquals,
		characteristic: characteristic,
		value:          bytes.Clone(expected),
		expectedStatus: status,
	})
}

func (b *Builder) AssertAdvFlags(expected byte) *Builder {
	return b.add(&Action{kind: KindAdvFlags, value: []byte{expected}})
}

func (b *Builder) AssertAdvTxPower(expected byte) *Builder {
	return b.add(&Action{kind: KindAdvTxPower, value: []byte{expected}})
}

func (b *Builder) AssertAdvURI(expected []byte) *Builder {
	return b.add(&Action{kind: KindAdvURI, value: bytes.Clone(expected)})
}

func (b *Builder) CheckAdvPacket() *Builder {
	return b.add(newAction(KindAdvPacket))
}

// WriteAndRead writes value and then asserts the characteristic reads it
// back, both with GATT success.
func (b *Builder) WriteAndRead(characteristic string, value []byte) *Builder {
	b.Write(characteristic, value, device.StatusSuccess)
	return b.AssertEquals(characteristic, value, device.StatusSuccess)
}

// WriteAndReadAll runs WriteAndRead for every value in order.
func (b *Builder) WriteAndReadAll(characteristic string, values ...[]byte) *Builder {
	for _, v := range values {
		b.WriteAndRead(characteristic, v)
	}
	return b
}

// Insert appends copies of every step of other.
func (b *Builder) Insert(other *Builder) *Builder {
	for _, a := range other.actions {
		b.add(a.clone())
	}
	return b
}

// Build returns the script terminated by KindLast. The builder can be reused.
func (b *Builder) Build() *Script {
	steps := make([]*Action, 0, len(b.actions)+1)
	for _, a := range b.actions {
		steps = append(steps, a.clone())
	}
	steps = append(steps, newAction(KindLast))
	return &Script{name: b.name, reference: b.reference, steps: steps}
}

func (a *Action) clone() *Action {
	return &Action{
		kind:           a.kind,
		characteristic: a.characteristic,
		value:          bytes.Clone(a.value),
		expectedStatus: a.expectedStatus,
		acceptedStatus: slices.Clone(a.acceptedStatus),
	}
}

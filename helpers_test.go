package dbus

import (
	"context"
	"fmt"

	"github.com/opendbus/godbus/fragments"
)

// Simple has only fixed-width fields.
type Simple struct {
	A int16
	B bool
}

// Nested embeds a struct field rather than embedding it anonymously.
type Nested struct {
	A byte
	B Simple
}

// Embedded anonymously embeds a struct by value.
type Embedded struct {
	Simple
	C byte
}

// EmbeddedShadow anonymously embeds a struct by value, and shadows
// one of its fields with an outer field of the same name.
type EmbeddedShadow struct {
	Simple
	B byte
}

// Arrays holds nested slices of increasing complexity.
type Arrays struct {
	A []string
	B []Simple
	C [][]Nested
}

// Tree is self-referential and therefore has no wire representation.
type Tree struct {
	Left  *Tree
	Right *Tree
}

// Embedded_P anonymously embeds a struct by pointer.
type Embedded_P struct {
	*Simple
	C byte
}

// Embedded_PV embeds Embedded_P by value, for two layers of
// embedding.
type Embedded_PV struct {
	Embedded_P
}

// Embedded_PVP embeds Embedded_PV by pointer, for three layers of
// embedding alternating value and pointer.
type Embedded_PVP struct {
	*Embedded_PV
	D byte
}

// SelfMarshalerVal implements Marshaler and Unmarshaler with value
// receivers. Its Unmarshaler half is deliberately unusable, since
// UnmarshalDBus needs a pointer receiver to mutate anything.
type SelfMarshalerVal struct {
	B byte
}

func (s SelfMarshalerVal) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	e.Pad(3)
	e.Write([]byte{0, s.B + 1})
	return nil
}

func (s SelfMarshalerVal) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	if err := d.Pad(3); err != nil {
		return err
	}
	bs, err := d.Read(2)
	if err != nil {
		return err
	}
	if bs[0] != 0 {
		return fmt.Errorf("unexpected non-zero first bytes %x", bs[0])
	}
	s.B = bs[1] - 1
	return nil
}

func (s SelfMarshalerVal) IsDBusStruct() bool { return false }

func (s SelfMarshalerVal) SignatureDBus() Signature {
	return mustSignatureFor[uint16]()
}

// SelfMarshalerPtr implements Marshaler and Unmarshaler with pointer
// receivers, so both directions work.
type SelfMarshalerPtr struct {
	B byte
}

func (s *SelfMarshalerPtr) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	e.Pad(3)
	e.Write([]byte{0, s.B + 1})
	return nil
}

func (s *SelfMarshalerPtr) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	if err := d.Pad(3); err != nil {
		return err
	}
	bs, err := d.Read(2)
	if err != nil {
		return err
	}
	if bs[0] != 0 {
		return fmt.Errorf("unexpected non-zero first bytes %x", bs[0])
	}
	s.B = bs[1] - 1
	return nil
}

func (s *SelfMarshalerPtr) IsDBusStruct() bool { return false }

func (s *SelfMarshalerPtr) SignatureDBus() Signature {
	return mustSignatureFor[uint16]()
}

// NestedSelfMashalerVal has a field implementing Marshaler/Unmarshaler
// on value receivers; decoding into it must fail.
type NestedSelfMashalerVal struct {
	A byte
	B SelfMarshalerVal
}

// NestedSelfMarshalerPtr has a field implementing Marshaler/Unmarshaler
// on pointer receivers.
type NestedSelfMarshalerPtr struct {
	A byte
	B SelfMarshalerPtr
}

// NestedSelfMarshalerPtrPtr has a pointer field implementing
// Marshaler/Unmarshaler on pointer receivers.
type NestedSelfMarshalerPtrPtr struct {
	A byte
	B *SelfMarshalerPtr
}

// VarDict marshals to a dict of string to variant, exercising the
// key/encodeZero/catch-all tag options.
type VarDict struct {
	A uint16 `dbus:"key=foo"`
	B uint32 `dbus:"key=bar,encodeZero"`
	C string `dbus:"key=@"`
	D uint8  `dbus:"key=@"`

	Other map[string]Variant `dbus:"vardict"`
}

// VarDictByte is the byte-keyed counterpart to VarDict.
type VarDictByte struct {
	A uint16 `dbus:"key=1"`
	B string `dbus:"key=2"`

	Other map[byte]Variant `dbus:"vardict"`
}

func ptr[T any](v T) *T {
	return &v
}

func mustSignatureFor[T any]() Signature {
	sig, err := SignatureFor[T]()
	if err != nil {
		panic(err)
	}
	return sig
}

package dbus

import (
	"context"
	"fmt"

	"github.com/opendbus/godbus/fragments"
)

// wireByteOrder is a struct field wrapper around the fragments
// package's byte-order-mark primitive, letting it participate in the
// header's reflection-driven (un)marshalling.
type wireByteOrder bool

func (*wireByteOrder) SignatureDBus() Signature {
	ret, _ := SignatureFor[uint8]()
	return ret
}

func (*wireByteOrder) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	e.ByteOrderFlag()
	return nil
}

func (b *wireByteOrder) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	d.ByteOrderFlag()
	*b = d.Order == fragments.BigEndian
	return nil
}

func (b *wireByteOrder) Order() fragments.ByteOrder {
	if *b {
		return fragments.BigEndian
	}
	return fragments.LittleEndian
}

// messageKind identifies which of the four message shapes a header
// describes: a method call, a method return, an error reply, or a
// signal emission.
type messageKind byte

const (
	messageCall messageKind = iota + 1
	messageReturn
	messageError
	messageSignal
)

// headerPad is a zero-length field that forces alignment to an 8-byte
// boundary between the header and the message body, as the wire
// format requires.
type headerPad struct{}

func (*headerPad) SignatureDBus() Signature { return Signature{} }

func (*headerPad) MarshalDBus(_ context.Context, e *fragments.Encoder) error {
	e.Pad(8)
	return nil
}

func (*headerPad) UnmarshalDBus(_ context.Context, d *fragments.Decoder) error {
	d.Pad(8)
	return nil
}

// header is the fixed and variable-field preamble that precedes every
// message body on the wire.
type header struct {
	// Order is the message's byte order mark.
	Order wireByteOrder
	// Kind identifies the message shape (call, return, error, signal).
	Kind messageKind
	// Flags is the message's flag byte.
	Flags byte
	// Version is the protocol version in use.
	Version uint8
	// Length is the length of the message body, excluding the header
	// and the padding between header and body.
	Length uint32
	// Serial is this message's serial number. Must be non-zero.
	Serial uint32

	// Path is the target object of a call, or the source object of a
	// signal. Required for messageCall and messageSignal.
	Path ObjectPath `dbus:"key=1"`
	// Interface is the interface targeted by a call, or the source
	// interface of a signal. Optional for messageCall, required for
	// messageSignal.
	Interface string `dbus:"key=2"`
	// Member is the method name of a call, or the signal name of a
	// signal. Required for messageCall and messageSignal.
	Member string `dbus:"key=3"`
	// ErrName names the error that occurred. Required for messageError.
	ErrName string `dbus:"key=4"`
	// ReplySerial is the serial this message replies to. Required for
	// messageReturn and messageError.
	ReplySerial uint32 `dbus:"key=5"`
	// Destination is the message's target. Optional for signals,
	// required otherwise.
	Destination string `dbus:"key=6"`
	// Sender is the sending client's unique name. The bus fills this
	// in itself; any value supplied by the sender is discarded.
	Sender string `dbus:"key=7"`
	// Signature is the type signature of the message body. Required
	// whenever a body is present.
	Signature Signature `dbus:"key=8"`
	// NumFDs counts file descriptors attached to the message. Required
	// whenever any are attached.
	NumFDs uint32 `dbus:"key=9"`

	// Unknown collects header fields this implementation doesn't
	// recognize, keyed by their wire field code.
	Unknown map[uint8]any `dbus:"vardict"`

	Align headerPad
}

// requiredFields lists, per message kind, the header fields the wire
// format mandates be non-empty.
var requiredFields = map[messageKind][]string{
	messageCall:   {"Path", "Member", "Destination"},
	messageReturn: {"ReplySerial"},
	messageError:  {"ReplySerial", "ErrName"},
	messageSignal: {"Path", "Interface", "Member"},
}

// Valid checks that h carries the fields its Kind requires.
func (h *header) Valid() error {
	if h.Serial == 0 {
		return fmt.Errorf("invalid message with zero Serial")
	}
	if h.Kind == 0 {
		return fmt.Errorf("invalid message with Kind 0")
	}
	for _, field := range requiredFields[h.Kind] {
		var empty bool
		switch field {
		case "Path":
			empty = h.Path == ""
		case "Interface":
			empty = h.Interface == ""
		case "Member":
			empty = h.Member == ""
		case "Destination":
			empty = h.Destination == ""
		case "ReplySerial":
			empty = h.ReplySerial == 0
		case "ErrName":
			empty = h.ErrName == ""
		}
		if empty {
			return fmt.Errorf("missing required header field %s", field)
		}
	}
	// Message kinds outside the four defined above are unusual but the
	// wire format requires tolerating them.
	return nil
}

// WantReply reports whether this message requires a response.
func (h *header) WantReply() bool {
	return h.Kind == messageCall && h.Flags&0x1 == 0
}

// CanInteract reports whether the sender is prepared to wait through
// an interactive authorization prompt, should the bus or destination
// need one to authorize the message.
func (h header) CanInteract() bool {
	return h.Kind == messageCall && h.Flags&0x4 != 0
}

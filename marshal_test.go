package dbus

import (
	"bytes"
	"context"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/opendbus/godbus/fragments"
)

// roundTrip is one entry in a wire-format table: encoding want should
// produce raw, and decoding raw should reproduce want. Some entries
// are asymmetric — a nil pointer or a zero vardict field encodes to a
// different byte pattern than what decoding produces on the way back
// in — in which case encodeAs holds the value actually fed to the
// encoder.
type roundTrip struct {
	name     string
	sig      string
	want     any
	encodeAs any
	raw      []byte
}

func rt(name, sig string, want any, raw ...byte) roundTrip {
	return roundTrip{name, sig, want, want, raw}
}

func rtAsym(name, sig string, decoded, encoded any, raw ...byte) roundTrip {
	return roundTrip{name, sig, decoded, encoded, raw}
}

// runRoundTrips decodes each case's raw bytes and checks the result
// against want, then encodes encodeAs and checks the result against
// raw, then checks that SignatureOf(encodeAs) matches sig.
func runRoundTrips(t *testing.T, cases []roundTrip) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			slot := reflect.New(reflect.TypeOf(tc.want))
			got := slot.Interface()
			dec := fragments.Decoder{
				Order:  fragments.BigEndian,
				Mapper: decoderFor,
				In:     bytes.NewBuffer(tc.raw),
			}
			if err := dec.Value(context.Background(), got); err != nil {
				t.Fatalf("decode failed: %v\n  raw: % x\n  want: %#v", err, tc.raw, tc.want)
			}
			if diff := cmp.Diff(slot.Elem().Interface(), tc.want, cmpopts.EquateComparable(Signature{})); diff != "" {
				t.Fatalf("decoded value (-got+want):\n%s", diff)
			}

			enc := fragments.Encoder{
				Order:  fragments.BigEndian,
				Mapper: encoderFor,
			}
			if err := enc.Value(context.Background(), tc.encodeAs); err != nil {
				t.Fatalf("encode failed: %v\n  val: %#v\n  want: % x", err, tc.encodeAs, tc.raw)
			}
			if !bytes.Equal(enc.Out, tc.raw) {
				t.Fatalf("encoded bytes:\n  val: %#v\n  got:  % x\n  want: % x", tc.encodeAs, enc.Out, tc.raw)
			}

			sig, err := SignatureOf(tc.encodeAs)
			if err != nil {
				t.Fatalf("SignatureOf failed: %v", err)
			}
			if s := sig.String(); s != tc.sig {
				t.Fatalf("signature = %q, want %q", s, tc.sig)
			}
		})
	}
}

func TestRoundTripScalars(t *testing.T) {
	runRoundTrips(t, []roundTrip{
		rt("true", "b", true, 0, 0, 0, 1),
		rt("false", "b", false, 0, 0, 0, 0),
		rt("byte", "y", byte(42), 42),
		rt("i16", "n", int16(0x1234), 0x12, 0x34),
		rt("u16", "q", uint16(0x1234), 0x12, 0x34),
		rt("i32", "i", int32(0x12345678), 0x12, 0x34, 0x56, 0x78),
		rt("u32", "u", uint32(0x12345678), 0x12, 0x34, 0x56, 0x78),
		rt("i64", "x", int64(0x1abbccdd12345678),
			0x1a, 0xbb, 0xcc, 0xdd, 0x12, 0x34, 0x56, 0x78),
		rt("u64", "t", uint64(0x1abbccdd12345678),
			0x1a, 0xbb, 0xcc, 0xdd, 0x12, 0x34, 0x56, 0x78),
		rt("f64", "d", float64(3402823700),
			0x41, 0xE9, 0x5A, 0x5F, 0x02, 0x80, 0x00, 0x00),
		rt("string", "s", "foobar",
			0, 0, 0, 6,
			'f', 'o', 'o', 'b', 'a', 'r',
			0),
		rt("sig(byte)", "g", mustSignatureFor[byte](), 1, 'y', 0),
		rt("sig([]ObjectPath)", "g", mustSignatureFor[[]ObjectPath](), 2, 'a', 'o', 0),
	})
}

func TestRoundTripContainers(t *testing.T) {
	runRoundTrips(t, []roundTrip{
		rt("bytes", "ay", []byte("foobar"),
			0, 0, 0, 6,
			'f', 'o', 'o', 'b', 'a', 'r'),
		rt("[]string", "as", []string{"fo", "obar"},
			0, 0, 0, 17,
			0, 0, 0, 2, 'f', 'o', 0,
			0,
			0, 0, 0, 4, 'o', 'b', 'a', 'r', 0),
		rt("[][]string", "aas", [][]string{{"fo", "obar"}, {"qux"}},
			0, 0, 0, 36,

			0, 0, 0, 17,
			0, 0, 0, 2, 'f', 'o', 0,
			0,
			0, 0, 0, 4, 'o', 'b', 'a', 'r', 0,

			0, 0, 0,

			0, 0, 0, 8,
			0, 0, 0, 3, 'q', 'u', 'x', 0,
		),
		rt("map", "a{qy}", map[uint16]uint8{1: 2, 3: 4},
			0, 0, 0, 11,
			0, 0, 0, 0,
			0, 1,
			2,
			0, 0, 0, 0, 0,
			0, 3,
			4),
		rt("map ptr vals", "a{qy}",
			map[uint16]*uint8{1: ptr[uint8](2), 3: ptr[uint8](4)},
			0, 0, 0, 11,
			0, 0, 0, 0,
			0, 1,
			2,
			0, 0, 0, 0, 0,
			0, 3,
			4),
	})
}

func TestRoundTripStructs(t *testing.T) {
	runRoundTrips(t, []roundTrip{
		rt("simple", "(nb)", Simple{42, true},
			0, 42,
			0, 0,
			0, 0, 0, 1),
		rt("with any", "(qv)", WithAny{42, uint32(66)},
			0, 42,
			1, 'u', 0,
			0, 0, 0,
			0, 0, 0, 66,
		),
		rt("nested", "(y(nb))", Nested{66, Simple{42, true}},
			66,
			0, 0, 0,
			0, 0, 0, 0,
			0, 42,
			0, 0,
			0, 0, 0, 1),
		rt("embedded", "(nby)", Embedded{Simple{42, true}, 66},
			0, 42,
			0, 0,
			0, 0, 0, 1,
			66),
		rt("embedded ptr", "(nby)", Embedded_P{&Simple{42, true}, 66},
			0, 42,
			0, 0,
			0, 0, 0, 1,
			66),
		rtAsym("embedded nil ptr", "(nby)",
			Embedded_P{&Simple{}, 66}, Embedded_P{nil, 66},
			0, 0,
			0, 0,
			0, 0, 0, 0,
			66),
		rtAsym("embedded pointer chain", "(nbyy)",
			Embedded_PVP{&Embedded_PV{Embedded_P{&Simple{}, 0}}, 66},
			Embedded_PVP{D: 66},
			0,
			0, 0, 0,
			0, 0, 0, 0,
			0,
			66),
		rt("embedded shadow", "(ny)", EmbeddedShadow{Simple{42, false}, 66},
			0, 42,
			66),
		rt("nested selfmarshaler ptr", "(yq)",
			&NestedSelfMarshalerPtr{42, SelfMarshalerPtr{41}},
			42,
			0, 0,
			0, 42,
		),
		rt("nested selfmarshaler ptr ptr", "(yq)",
			&NestedSelfMarshalerPtrPtr{42, &SelfMarshalerPtr{41}},
			42,
			0, 0,
			0, 42,
		),
		rt("selfmarshaler ptr", "q", &SelfMarshalerPtr{41}, 0, 42),
	})
}

// TestRoundTripVarDict exercises the a{sv}/a{yv} idiom used for optional and
// extensible property bags: known fields decode into named struct
// fields, unrecognized keys fall into an Other map, and zero-valued
// fields are omitted on encode.
func TestRoundTripVarDict(t *testing.T) {
	runRoundTrips(t, []roundTrip{
		rt("known fields", "(a{sv})",
			VarDict{A: 1, B: 2, C: "foo"},
			0, 0, 0, 54,
			0, 0, 0, 0,

			0, 0, 0, 1, 'C', 0,
			1, 's', 0,
			0, 0, 0,
			0, 0, 0, 3, 'f', 'o', 'o', 0,

			0, 0, 0, 0,

			0, 0, 0, 3, 'b', 'a', 'r', 0,
			1, 'u', 0,
			0,
			0, 0, 0, 2,

			0, 0, 0, 3, 'f', 'o', 'o', 0,
			1, 'q', 0,
			0,
			0, 1),
		rt("unknown fields spill into Other", "(a{sv})",
			VarDict{D: 1, Other: map[string]Variant{"a": {uint8(2)}, "z": {uint16(3)}}},
			0, 0, 0, 60,
			0, 0, 0, 0,

			0, 0, 0, 1, 'D', 0,
			1, 'y', 0,
			1,

			0, 0, 0, 0, 0, 0,

			0, 0, 0, 3, 'b', 'a', 'r', 0,
			1, 'u', 0,
			0,
			0, 0, 0, 0,

			0, 0, 0, 1, 'a', 0,
			1, 'y', 0,
			2,

			0, 0, 0, 0, 0, 0,

			0, 0, 0, 1, 'z', 0,
			1, 'q', 0,
			0,
			0, 3,
		),
		rt("byte-keyed", "(a{yv})",
			VarDictByte{A: 42, B: "foo"},
			0, 0, 0, 20,
			0, 0, 0, 0,

			1,
			1, 'q', 0,
			0, 42,

			0, 0,

			2,
			1, 's', 0,
			0, 0, 0, 3, 'f', 'o', 'o', 0),
	})
}

// byteOrderCase pairs a value with the little- and big-endian
// encodings it must produce; unlike the round-trip tables above these
// only exercise the encoder, since decoderFor's byte-order handling
// is already covered there.
type byteOrderCase struct {
	label string
	in    any
	order fragments.ByteOrder
	want  []byte // nil means encoding must fail
}

func TestEncodeByteOrder(t *testing.T) {
	le, be := fragments.LittleEndian, fragments.BigEndian

	cases := []byteOrderCase{
		{"byte/le", byte(5), le, []byte{0x05}},
		{"byte/be", byte(5), be, []byte{0x05}},
		{"bool true/le", true, le, []byte{0x01, 0x00, 0x00, 0x00}},
		{"bool true/be", true, be, []byte{0x00, 0x00, 0x00, 0x01}},
		{"bool false/le", false, le, []byte{0x00, 0x00, 0x00, 0x00}},
		{"bool false/be", false, be, []byte{0x00, 0x00, 0x00, 0x00}},
		{"i16/le", int16(0x2bff), le, []byte{0xff, 0x2b}},
		{"i16/be", int16(0x2bff), be, []byte{0x2b, 0xff}},
		{"u16/le", uint16(0x2bff), le, []byte{0xff, 0x2b}},
		{"u16/be", uint16(0x2bff), be, []byte{0x2b, 0xff}},
		{"i32/le", int32(0x12342bff), le, []byte{0xff, 0x2b, 0x34, 0x12}},
		{"i32/be", int32(0x12342bff), be, []byte{0x12, 0x34, 0x2b, 0xff}},
		{"u32/le", uint32(0x12342bff), le, []byte{0xff, 0x2b, 0x34, 0x12}},
		{"u32/be", uint32(0x12342bff), be, []byte{0x12, 0x34, 0x2b, 0xff}},
		{"i64/le", int64(0x1abbccdd12342bff), le, []byte{
			0xff, 0x2b, 0x34, 0x12, 0xdd, 0xcc, 0xbb, 0x1a,
		}},
		{"i64/be", int64(0x1abbccdd12342bff), be, []byte{
			0x1a, 0xbb, 0xcc, 0xdd, 0x12, 0x34, 0x2b, 0xff,
		}},
		{"u64/le", uint64(0xaabbccdd12342bff), le, []byte{
			0xff, 0x2b, 0x34, 0x12, 0xdd, 0xcc, 0xbb, 0xaa,
		}},
		{"u64/be", uint64(0xaabbccdd12342bff), be, []byte{
			0xaa, 0xbb, 0xcc, 0xdd, 0x12, 0x34, 0x2b, 0xff,
		}},
		{"f64/le", float64(3402823700), le, []byte{
			0x00, 0x00, 0x80, 0x02, 0x5F, 0x5A, 0xE9, 0x41,
		}},
		{"f64/be", float64(3402823700), be, []byte{
			0x41, 0xE9, 0x5A, 0x5F, 0x02, 0x80, 0x00, 0x00,
		}},
		{"string/le", "foobar", le, []byte{
			0x06, 0x00, 0x00, 0x00,
			0x66, 0x6f, 0x6f, 0x62, 0x61, 0x72,
			0x00,
		}},
		{"string/be", "foobar", be, []byte{
			0x00, 0x00, 0x00, 0x06,
			0x66, 0x6f, 0x6f, 0x62, 0x61, 0x72,
			0x00,
		}},
		{"[]byte/le", []byte{1, 2, 3}, le, []byte{
			0x03, 0x00, 0x00, 0x00,
			0x01, 0x02, 0x03,
		}},
		{"[]byte/be", []byte{1, 2, 3}, be, []byte{
			0x00, 0x00, 0x00, 0x03,
			0x01, 0x02, 0x03,
		}},
		{"[][]string/le", [][]string{{"fo", "bar"}, {"qux"}}, le, []byte{
			0x20, 0x00, 0x00, 0x00,
			0x10, 0x00, 0x00, 0x00,
			0x02, 0x00, 0x00, 0x00, 0x66, 0x6f, 0x00, 0x00,
			0x03, 0x00, 0x00, 0x00, 0x62, 0x61, 0x72, 0x00,
			0x08, 0x00, 0x00, 0x00,
			0x03, 0x00, 0x00, 0x00, 0x71, 0x75, 0x78, 0x00,
		}},
		{"[][]string/be", [][]string{{"fo", "bar"}, {"qux"}}, be, []byte{
			0x00, 0x00, 0x00, 0x20,
			0x00, 0x00, 0x00, 0x10,
			0x00, 0x00, 0x00, 0x02, 0x66, 0x6f, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x03, 0x62, 0x61, 0x72, 0x00,
			0x00, 0x00, 0x00, 0x08,
			0x00, 0x00, 0x00, 0x03, 0x71, 0x75, 0x78, 0x00,
		}},
		{"struct simple/le", Simple{42, true}, le, []byte{
			0x2a, 0x00,
			0x00, 0x00,
			0x01, 0x00, 0x00, 0x00,
		}},
		{"struct simple/be", Simple{42, true}, be, []byte{
			0x00, 0x2a,
			0x00, 0x00,
			0x00, 0x00, 0x00, 0x01,
		}},
		{"struct with any/le", WithAny{42, uint32(66)}, le, []byte{
			0x2a, 0x00,
			0x01, 'u', 0x00,
			0x00, 0x00, 0x00,
			0x42, 0x00, 0x00, 0x00,
		}},
		{"struct with any/be", WithAny{42, uint32(66)}, be, []byte{
			0x00, 0x2a,
			0x01, 'u', 0x00,
			0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x42,
		}},
		{"struct nested/le", Nested{66, Simple{42, true}}, le, []byte{
			0x42,
			0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x2a, 0x00,
			0x00, 0x00,
			0x01, 0x00, 0x00, 0x00,
		}},
		{"struct nested/be", Nested{66, Simple{42, true}}, be, []byte{
			0x42,
			0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x00, 0x2a,
			0x00, 0x00,
			0x00, 0x00, 0x00, 0x01,
		}},
		{"struct embedded/le", Embedded{Simple{42, true}, 66}, le, []byte{
			0x2a, 0x00,
			0x00, 0x00,
			0x01, 0x00, 0x00, 0x00,
			0x42,
		}},
		{"struct embedded/be", Embedded{Simple{42, true}, 66}, be, []byte{
			0x00, 0x2a,
			0x00, 0x00,
			0x00, 0x00, 0x00, 0x01,
			0x42,
		}},
		{"struct embedded ptr/le", Embedded_P{&Simple{42, true}, 66}, le, []byte{
			0x2a, 0x00,
			0x00, 0x00,
			0x01, 0x00, 0x00, 0x00,
			0x42,
		}},
		{"struct embedded ptr/be", Embedded_P{&Simple{42, true}, 66}, be, []byte{
			0x00, 0x2a,
			0x00, 0x00,
			0x00, 0x00, 0x00, 0x01,
			0x42,
		}},
		{"struct embedded nil ptr/le", Embedded_P{C: 66}, le, []byte{
			0x00, 0x00,
			0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x42,
		}},
		{"struct embedded nil ptr/be", Embedded_P{C: 66}, be, []byte{
			0x00, 0x00,
			0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x42,
		}},
		{"pointer chain/le", Embedded_PVP{D: 66}, le, []byte{
			0x00, 0x00,
			0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x00,
			0x42,
		}},
		{"pointer chain/be", Embedded_PVP{D: 66}, be, []byte{
			0x00, 0x00,
			0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x00,
			0x42,
		}},
		{"embedded shadow/le", EmbeddedShadow{Simple{42, true}, 66}, le, []byte{
			0x2a, 0x00,
			0x42,
		}},
		{"embedded shadow/be", EmbeddedShadow{Simple{42, true}, 66}, be, []byte{
			0x00, 0x2a,
			0x42,
		}},
		// SelfMarshalerVal ignores the requested byte order and always
		// writes big-endian.
		{"self-marshaling value/le", SelfMarshalerVal{66}, le, []byte{0x00, 0x43}},
		{"self-marshaling value/be", SelfMarshalerVal{66}, be, []byte{0x00, 0x43}},
		{"self-marshaling ptr/le", &SelfMarshalerPtr{66}, le, []byte{0x00, 0x43}},
		{"self-marshaling ptr/be", &SelfMarshalerPtr{66}, be, []byte{0x00, 0x43}},
		{"nested self-marshaler/le", &NestedSelfMarshalerPtr{66, SelfMarshalerPtr{42}}, le, []byte{
			0x42,
			// pad to marshaler value; deliberately weird for DBus, to
			// verify we're delegating to the Marshaler instead of our
			// own struct-field padding rules.
			0x00, 0x00,
			0x00, 0x2b,
		}},
		{"nested self-marshaler/be", &NestedSelfMarshalerPtr{66, SelfMarshalerPtr{42}}, be, []byte{
			0x42,
			0x00, 0x00,
			0x00, 0x2b,
		}},
		{"slice of self-marshalers/le", []SelfMarshalerVal{{1}, {2}}, le, []byte{
			0x07, 0x00, 0x00, 0x00,
			0x00, 0x00,
			0x00, 0x02,
			0x00,
			0x00, 0x03,
		}},
		{"object path/be", ObjectPath("foo"), be, []byte{
			0x00, 0x00, 0x00, 0x03, 0x66, 0x6f, 0x6f, 0x00,
		}},
		{"object path/le", ObjectPath("foo"), le, []byte{
			0x03, 0x00, 0x00, 0x00, 0x66, 0x6f, 0x6f, 0x00,
		}},
		{"signature/be", mustSignatureFor[struct{ A, B uint32 }](), be, []byte{
			0x04, 0x28, 0x75, 0x75, 0x29, 0x00,
		}},
		{"signature/le", mustSignatureFor[struct{ A, B uint32 }](), le, []byte{
			0x04, 0x28, 0x75, 0x75, 0x29, 0x00,
		}},
		{"map[uint16]string/be", map[uint16]string{1: "foo", 2: "bar"}, be, []byte{
			0x00, 0x00, 0x00, 0x1c,
			0x00, 0x00, 0x00, 0x00,
			0x00, 0x01,
			0x00, 0x00,
			0x00, 0x00, 0x00, 0x03, 0x66, 0x6f, 0x6f, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x00, 0x02,
			0x00, 0x00,
			0x00, 0x00, 0x00, 0x03, 0x62, 0x61, 0x72, 0x00,
		}},
		{"map[uint16]string/le", map[uint16]string{1: "foo", 2: "bar"}, le, []byte{
			0x1c, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x01, 0x00,
			0x00, 0x00,
			0x03, 0x00, 0x00, 0x00, 0x66, 0x6f, 0x6f, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x02, 0x00,
			0x00, 0x00,
			0x03, 0x00, 0x00, 0x00, 0x62, 0x61, 0x72, 0x00,
		}},
		{"vardict/le", VarDict{A: 1, B: 2, C: "foo"}, le, []byte{
			0x36, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x01, 0x00, 0x00, 0x00, 0x43, 0x00,
			0x01, 0x73, 0x00, 0x00, 0x00, 0x00,
			0x03, 0x00, 0x00, 0x00, 0x66, 0x6f, 0x6f, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x03, 0x00, 0x00, 0x00, 0x62, 0x61, 0x72, 0x00,
			0x01, 0x75, 0x00, 0x00,
			0x02, 0x00, 0x00, 0x00,
			0x03, 0x00, 0x00, 0x00, 0x66, 0x6f, 0x6f, 0x00,
			0x01, 0x71, 0x00, 0x00,
			0x01, 0x00,
		}},
		{"vardict/be", VarDict{A: 1, B: 2, C: "foo"}, be, []byte{
			0x00, 0x00, 0x00, 0x36,
			0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x01, 0x43, 0x00,
			0x01, 0x73, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x03, 0x66, 0x6f, 0x6f, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x03, 0x62, 0x61, 0x72, 0x00,
			0x01, 0x75, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x02,
			0x00, 0x00, 0x00, 0x03, 0x66, 0x6f, 0x6f, 0x00,
			0x01, 0x71, 0x00, 0x00,
			0x00, 0x01,
		}},
		{"vardict other/le", VarDict{D: 1, Other: map[string]Variant{"a": {uint8(2)}, "z": {uint16(3)}}}, le, []byte{
			0x3c, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x01, 0x00, 0x00, 0x00, 0x44, 0x00,
			0x01, 0x79, 0x00, 0x01,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x03, 0x00, 0x00, 0x00, 0x62, 0x61, 0x72, 0x00,
			0x01, 0x75, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x01, 0x00, 0x00, 0x00, 0x61, 0x00,
			0x01, 0x79, 0x00, 0x02,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x01, 0x00, 0x00, 0x00, 0x7a, 0x00,
			0x01, 0x71, 0x00, 0x00,
			0x03, 0x00,
		}},
		{"vardict other/be", VarDict{D: 1, Other: map[string]Variant{"a": {uint8(2)}, "z": {uint16(3)}}}, be, []byte{
			0x00, 0x00, 0x00, 0x3c,
			0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x01, 0x44, 0x00,
			0x01, 0x79, 0x00, 0x01,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x03, 0x62, 0x61, 0x72, 0x00,
			0x01, 0x75, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x01, 0x61, 0x00,
			0x01, 0x79, 0x00, 0x02,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x01, 0x7a, 0x00,
			0x01, 0x71, 0x00, 0x00,
			0x00, 0x03,
		}},
		{"unsupported func/le", func() int { return 2 }, le, nil},
		{"unsupported func/be", func() int { return 2 }, be, nil},
		// Not addressable, and no exported fields - can't convert.
		{"unaddressable self-marshaler/le", SelfMarshalerPtr{66}, le, []byte{}},
		{"unaddressable self-marshaler/be", SelfMarshalerPtr{66}, be, []byte{}},
	}

	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			enc := fragments.Encoder{Order: tc.order, Mapper: encoderFor}
			err := enc.Value(context.Background(), tc.in)
			switch {
			case err != nil && len(tc.want) != 0:
				t.Fatalf("encode failed: %v", err)
			case err == nil && len(tc.want) == 0:
				t.Fatalf("encode succeeded, want error; got % x", enc.Out)
			case err == nil && !bytes.Equal(enc.Out, tc.want):
				t.Fatalf("encoded bytes:\n  got:  % x\n  want: % x", enc.Out, tc.want)
			}
		})
	}
}

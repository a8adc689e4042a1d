package fragments_test

import (
	"bytes"
	"fmt"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opendbus/godbus/fragments"
)

// checkedDecoder wraps a *fragments.Decoder with assertion helpers
// that fail the enclosing test instead of returning an error, so a
// test body reads as a straight-line sequence of expected reads.
type checkedDecoder struct {
	t *testing.T
	*fragments.Decoder
}

func (d *checkedDecoder) read(n int, want []byte) {
	got, err := d.Read(n)
	if err != nil {
		d.t.Fatalf("Read(%d) got err: %v", n, err)
	}
	if !bytes.Equal(got, want) {
		d.t.Fatalf("Read(%d) wrong output:\n  got: % x\n want: % x", n, got, want)
	}
}

func (d *checkedDecoder) bytesEqual(want []byte) {
	got, err := d.Bytes()
	if err != nil {
		d.t.Fatalf("Bytes() got err: %v", err)
	}
	if !bytes.Equal(got, want) {
		d.t.Fatalf("Bytes() wrong output:\n  got: % x\n want: % x", got, want)
	}
}

func (d *checkedDecoder) stringEqual(want string) {
	got, err := d.String()
	if err != nil {
		d.t.Fatalf("String() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("String() got %q, want %q", got, want)
	}
}

func (d *checkedDecoder) u8(want uint8) {
	got, err := d.Uint8()
	if err != nil {
		d.t.Fatalf("Uint8() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Uint8() got %d, want %d", got, want)
	}
}

func (d *checkedDecoder) u16(want uint16) {
	got, err := d.Uint16()
	if err != nil {
		d.t.Fatalf("Uint16() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Uint16() got %d, want %d", got, want)
	}
}

func (d *checkedDecoder) u32(want uint32) {
	got, err := d.Uint32()
	if err != nil {
		d.t.Fatalf("Uint32() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Uint32() got %d, want %d", got, want)
	}
}

func (d *checkedDecoder) u64(want uint64) {
	got, err := d.Uint64()
	if err != nil {
		d.t.Fatalf("Uint64() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Uint64() got %d, want %d", got, want)
	}
}

func (d *checkedDecoder) value(want any) {
	got := reflect.New(reflect.TypeOf(want).Elem()).Interface()
	if err := d.Value(got); err != nil {
		d.t.Fatalf("Value() got err: %v", err)
	}
	if diff := cmp.Diff(got, want); diff != "" {
		d.t.Fatalf("Value() got diff (-got+want):\n%s", diff)
	}
}

func (d *checkedDecoder) array(containsStructs bool, wantLen int) {
	gotLen, err := d.Array(containsStructs)
	if err != nil {
		d.t.Fatalf("Array() got err: %v", err)
	}
	if gotLen != wantLen {
		d.t.Fatalf("Array() got size %d, want %d", gotLen, wantLen)
	}
}

func (d *checkedDecoder) byteOrderFlag(want fragments.ByteOrder) {
	if err := d.ByteOrderFlag(); err != nil {
		d.t.Fatalf("ByteOrderFlag() got err: %v", err)
	}
	if got := d.Order; got != want {
		d.t.Fatalf("ByteOrderFlag() set byte order %s, want %s", got, want)
	}
}

// decoderCase pairs a wire-format input with a sequence of expected
// reads. runDecoderCases asserts the whole input is consumed once the
// sequence finishes, catching missing or over-eager padding skips.
type decoderCase struct {
	name string
	in   []byte
	run  func(d *checkedDecoder)
}

func runDecoderCases(t *testing.T, cases []decoderCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := checkedDecoder{
				t: t,
				Decoder: &fragments.Decoder{
					Order: fragments.BigEndian,
					In:    tc.in,
				},
			}
			tc.run(&d)
			if remain := d.Remaining(); remain > 0 {
				t.Fatalf("decoder failed to consume %d trailing bytes", remain)
			}
		})
	}
}

func TestDecoderScalars(t *testing.T) {
	runDecoderCases(t, []decoderCase{
		{
			"raw bytes",
			[]byte{0x01, 0x02, 0x03},
			func(d *checkedDecoder) { d.read(3, []byte{1, 2, 3}) },
		},
		{
			"byte array",
			[]byte{
				0x00, 0x00, 0x00, 0x03,
				0x01, 0x02, 0x03,
			},
			func(d *checkedDecoder) { d.bytesEqual([]byte{1, 2, 3}) },
		},
		{
			"string",
			[]byte{
				0x00, 0x00, 0x00, 0x03,
				0x66, 0x6f, 0x6f,
				0x00,
			},
			func(d *checkedDecoder) { d.stringEqual("foo") },
		},
		{
			"uints",
			[]byte{
				0x2a,
				0x00, // pad
				0x00, 0x42,
				0x00, 0x00, 0x00, 0x2a,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x42,
			},
			func(d *checkedDecoder) {
				d.u8(42)
				d.u16(66)
				d.u32(42)
				d.u64(66)
			},
		},
	})
}

func TestDecoderPadding(t *testing.T) {
	runDecoderCases(t, []decoderCase{
		{
			"scalar alignment",
			[]byte{
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x42,
				0x00,             // raw
				0x00, 0x00, 0x00, // pad
				0x00, 0x00, 0x00, 0x2a,
				0x00, // raw
				0x00, // pad
				0x00, 0x42,
				0x00, // raw
				0x2a,
			},
			func(d *checkedDecoder) {
				d.u64(66)
				d.read(1, []byte{0})
				d.u32(42)
				d.read(1, []byte{0})
				d.u16(66)
				d.read(1, []byte{0})
				d.u8(42)
			},
		},
		{
			"struct alignment",
			[]byte{
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x42,
				0x00, 0x00, 0x00, 0x2a,
				0x00, 0x00, 0x00, 0x00, // pad
				0x00, 0x42,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // pad
				0x2a,
			},
			func(d *checkedDecoder) {
				d.Struct()
				d.u64(66)
				d.Struct()
				d.u32(42)
				d.Struct()
				d.u16(66)
				d.Struct()
				d.u8(42)
			},
		},
	})
}

func TestDecoderArrays(t *testing.T) {
	runDecoderCases(t, []decoderCase{
		{
			"array",
			[]byte{
				0x00, 0x00, 0x00, 0x02, // length
				0x00, 0x01,
				0x00, 0x02,
			},
			func(d *checkedDecoder) {
				d.array(false, 2)
				d.u16(1)
				d.u16(2)
			},
		},
		{
			"empty array",
			[]byte{0x00, 0x00, 0x00, 0x00},
			func(d *checkedDecoder) { d.array(false, 0) },
		},
		{
			"struct array",
			[]byte{
				0x00, 0x00, 0x00, 0x02, // length
				0x00, 0x00, 0x00, 0x00, // pad
				0x00, 0x01,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // pad
				0x00, 0x02,
			},
			func(d *checkedDecoder) {
				d.array(true, 2)
				d.Struct()
				d.u16(1)
				d.Struct()
				d.u16(2)
			},
		},
		{
			"empty struct array",
			[]byte{
				0x00, 0x00, 0x00, 0x00, // length
				0x00, 0x00, 0x00, 0x00, // pad
			},
			func(d *checkedDecoder) { d.array(true, 0) },
		},
	})
}

func TestDecoderCustomMapper(t *testing.T) {
	runDecoderCases(t, []decoderCase{
		{
			"mapper",
			[]byte{
				0x73, 0x74, 0x72, 0x69, 0x6e, 0x67, // "string"
				0x75, 0x69, 0x6e, 0x74, 0x31, 0x36, // "uint16"
			},
			func(d *checkedDecoder) {
				d.Mapper = func(t reflect.Type) fragments.DecoderFunc {
					return func(d *fragments.Decoder, v reflect.Value) error {
						want := v.Type().String()
						gotBs, err := d.Read(len(want))
						if err != nil {
							return err
						}
						if got := string(gotBs); got != want {
							return fmt.Errorf("custom mapper got %q, want %q", got, want)
						}
						v.Set(reflect.Zero(t))
						return nil
					}
				}
				var s string
				d.value(&s)
				var u16 uint16
				d.value(&u16)
			},
		},
	})
}

func TestDecoderByteOrderFlag(t *testing.T) {
	runDecoderCases(t, []decoderCase{
		{
			"byte order flag",
			[]byte{'B', 'l', '?'},
			func(d *checkedDecoder) {
				d.byteOrderFlag(fragments.BigEndian)
				d.byteOrderFlag(fragments.LittleEndian)
				if err := d.ByteOrderFlag(); err == nil {
					d.t.Fatalf("ByteOrderFlag did not error on invalid byte order")
				}
			},
		},
	})
}

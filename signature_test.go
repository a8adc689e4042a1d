package dbus

import (
	"os"
	"reflect"
	"testing"
)

func TestSignatureOf(t *testing.T) {
	cases := []struct {
		val  any
		want string
	}{
		{byte(0), "y"},
		{bool(false), "b"},
		{int16(0), "n"},
		{uint16(0), "q"},
		{int32(0), "i"},
		{uint32(0), "u"},
		{int64(0), "x"},
		{uint64(0), "t"},
		{float64(0), "d"},
		{string(""), "s"},
		{Signature{}, "g"},
		{ObjectPath(""), "o"},
		{(*os.File)(nil), "h"},
		{[]string{}, "as"},
		{[4]byte{}, "ay"},
		{[][]string{}, "aas"},
		{map[string]int64{}, "a{sx}"},
		{Simple{}, "(nb)"},
		{[]Simple{}, "a(nb)"},
		{Nested{}, "(y(nb))"},
		{[]Nested{}, "a(y(nb))"},
		{Embedded{}, "(nby)"},
		{EmbeddedShadow{}, "(ny)"},
		{Arrays{}, "(asa(nb)aa(y(nb)))"},
		{ptr(any(int16(0))), "v"},
		{struct{ A any }{int16(0)}, "(v)"},
		{VarDict{}, "(a{sv})"},
		{VarDictByte{}, "(a{yv})"},
		{struct{}{}, "()"},

		{},
		{Tree{}, ""},
		{map[Simple]bool{}, ""},
		{map[[2]int64]bool{}, ""},
		{map[any]bool{}, ""},
		{func() int { return 2 }, ""},
	}

	for _, tc := range cases {
		gotSig, err := SignatureOf(tc.val)
		wantErr := tc.want == ""
		if gotErr := err != nil; gotErr != wantErr {
			wanted := "no error"
			if wantErr {
				wanted = "error"
			}
			t.Errorf("SignatureOf(%T) got err %v, want %s", tc.val, err, wanted)
		}
		if got := gotSig.String(); got != tc.want {
			t.Errorf("SignatureOf(%T).String() = %q, want %q", tc.val, got, tc.want)
		} else if testing.Verbose() {
			t.Logf("SignatureOf(%T).String() = %q, err=%v", tc.val, got, err)
		}
	}
}

func TestParseSignature(t *testing.T) {
	type simpleFields = struct {
		Field0 int16
		Field1 bool
	}
	cases := []struct {
		sig  string
		want reflect.Type
	}{
		{"(nb)", reflect.TypeFor[simpleFields]()},
		{"y", reflect.TypeFor[byte]()},
		{"b", reflect.TypeFor[bool]()},
		{"n", reflect.TypeFor[int16]()},
		{"q", reflect.TypeFor[uint16]()},
		{"i", reflect.TypeFor[int32]()},
		{"u", reflect.TypeFor[uint32]()},
		{"x", reflect.TypeFor[int64]()},
		{"t", reflect.TypeFor[uint64]()},
		{"d", reflect.TypeFor[float64]()},
		{"s", reflect.TypeFor[string]()},
		{"g", reflect.TypeFor[Signature]()},
		{"o", reflect.TypeFor[ObjectPath]()},
		{"h", reflect.TypeFor[File]()},
		{"as", reflect.TypeFor[[]string]()},
		{"ay", reflect.TypeFor[[]byte]()},
		{"aas", reflect.TypeFor[[][]string]()},
		{"a{sx}", reflect.TypeFor[map[string]int64]()},
		{"a(nb)", reflect.TypeFor[[]simpleFields]()},
		{"(y(nb))", reflect.TypeFor[struct {
			Field0 uint8
			Field1 simpleFields
		}]()},
		{"a(y(nb))", reflect.TypeFor[[]struct {
			Field0 uint8
			Field1 simpleFields
		}]()},
		{"(nby)", reflect.TypeFor[struct {
			Field0 int16
			Field1 bool
			Field2 uint8
		}]()},
		{"(ny)", reflect.TypeFor[struct {
			Field0 int16
			Field1 uint8
		}]()},
		{"(asa(nb)aa(y(nb)))", reflect.TypeFor[struct {
			Field0 []string
			Field1 []simpleFields
			Field2 [][]struct {
				Field0 uint8
				Field1 simpleFields
			}
		}]()},
		{"v", reflect.TypeFor[Variant]()},
	}

	for _, tc := range cases {
		t.Run(tc.sig, func(t *testing.T) {
			got, err := ParseSignature(tc.sig)
			if err != nil {
				t.Fatalf("ParseSignature(%q) got err %v", tc.sig, err)
			}
			if gotType := got.Type(); !reflect.DeepEqual(gotType, tc.want) {
				t.Errorf("ParseSignature(%q) got %s, want %s", tc.sig, gotType, tc.want)
			}
			if gotStr := got.String(); gotStr != tc.sig {
				t.Errorf("ParseSignature(%q).String() = %q, want %q", tc.sig, gotStr, tc.sig)
			}
		})
	}
}

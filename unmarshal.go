package dbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"

	"github.com/opendbus/godbus/fragments"
)

// Unmarshal reads a DBus message from data and stores the result in
// the value pointed to by v. If v is nil or not a pointer, Unmarshal
// returns an error.
//
// Generally, Unmarshal applies the inverse of the rules used by
// [Marshal]. The layout of the wire message must be compatible with
// the target's DBus signature. Since messages generally do not embed
// their signature, it is up to the caller to know the expected
// message format and match it.
//
// Unmarshal traverses the value v recursively. If an encountered
// value implements [Unmarshaler], Unmarshal calls UnmarshalDBus to
// unmarshal it. Types implementing [Unmarshaler] must implement
// UnmarshalDBus with a pointer receiver. Attempting to unmarshal
// using an UnmarshalDBus method with a value receiver results in a
// [TypeError].
//
// Otherwise, Unmarshal uses the following type-dependent default
// encodings:
//
// uint{8,16,32,64}, int{16,32,64}, float64, bool and string values
// encode the corresponding DBus basic types.
//
// Array and slice values decode DBus arrays. When decoding into an
// array, the message's array length must match the target array's
// length. When decoding into a slice, Unmarshal resets the slice
// length to zero and then appends each element to the slice.
//
// Struct values decode DBus structs. The message's fields decode into
// the target struct's fields in declaration order. Embedded struct
// fields are decoded as if their inner exported fields were fields in
// the outer struct, subject to the usual Go visibility rules.
//
// Maps decode DBus dictionaries. When decoding into a map, Unmarshal
// first clears the map, or allocates a new one if the target map is
// nil. Then, the incoming key-value pairs are stored into the map in
// message order. If the incoming dictionary contains duplicate values
// for a key, all but the last value are discarded.
//
// Several DBus protocols use map[K]dbus.Variant values to extend
// structs with new fields in a backwards compatible way. To support
// this "vardict" idiom, structs may contain a single "vardict" field
// and several "associated" fields:
//
//	struct Vardict{
//	    // A "vardict" map for the struct.
//	    M map[uint8]dbus.Variant `dbus:"vardict"`
//
//	    // "associated" fields. Associated fields can be declared
//	    // anywhere in the struct, before or after the vardict field.
//	    Foo string `dbus:"key=1"`
//	    Bar uint32 `dbus:"key=2"`
//	}
//
// A vardict field decodes a DBus dictionary just like regular map,
// except that if an incoming key matches an associated field's tag,
// the corresponding value decodes into that associated field instead,
// with the [Variant] envelope removed. If the associated field's type
// is incompatible with the received map value, Unmarshal returns a
// [TypeError].
//
// Pointers decode as the value pointed to. Unmarshal allocates zero
// values as needed when it encounters nil pointers.
//
// [Signature], [ObjectPath], and [File] decode the corresponding DBus
// types.
//
// [Variant] values decode DBus variants. The type of the variant's
// inner value is determined by the type signature carried in the
// message. Variants containing a struct are decoded into an anonymous
// struct with fields named Field0, Field1, ..., FieldN in message
// order.
//
// int8, int, uint, uintptr, complex64, complex128, interface,
// channel, and function values cannot decode any DBus type.
// Attempting to decode such values causes Unmarshal to return a
// [TypeError].
//
// DBus cannot represent cyclic or recursive types. Attempting to
// decode into such values causes Unmarshal to return a
// [TypeError].
func Unmarshal(data io.Reader, ord fragments.ByteOrder, v any) error {
	return unmarshal(context.Background(), data, ord, v)
}

// unmarshal is [Unmarshal] with a caller-supplied context, which is
// passed on to every UnmarshalDBus call.
func unmarshal(ctx context.Context, data io.Reader, ord fragments.ByteOrder, v any) error {
	if v == nil {
		return fmt.Errorf("can't unmarshal into nil interface")
	}
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Pointer {
		return fmt.Errorf("can't unmarshal into a non-pointer")
	}
	if val.IsNil() {
		return fmt.Errorf("can't unmarshal into a nil pointer")
	}
	dec, err := decoderFor(val.Type().Elem())
	if err != nil {
		return err
	}
	st := fragments.Decoder{
		Order:  ord,
		Mapper: decoderFor,
		In:     data,
	}
	return dec(ctx, &st, val.Elem())
}

// Unmarshaler is the interface implemented by types that can
// unmarshal themselves.
//
// SignatureDBus and IsDBusStruct are invoked on zero values of the
// Unmarshaler, and must return constant values.
//
// UnmarshalDBus must have a pointer receiver. If Unmarshal encounters
// an Unmarshaler whose UnmarshalDBus method takes a value receiver,
// it will return a [TypeError].
//
// UnmarshalDBus is responsible for consuming padding appropriate to
// the values being encoded, and for consuming input in a way that
// agrees with the values of SignatureDBus and IsDBusStruct.
type Unmarshaler interface {
	SignatureDBus() Signature
	IsDBusStruct() bool
	UnmarshalDBus(ctx context.Context, st *fragments.Decoder) error
}

var unmarshalerType = reflect.TypeFor[Unmarshaler]()

// unmarshalerOnly isolates Unmarshaler's method, so a pointer-receiver
// check can be done without also requiring SignatureDBus/IsDBusStruct
// to have pointer receivers.
type unmarshalerOnly interface {
	UnmarshalDBus(ctx context.Context, st *fragments.Decoder) error
}

var unmarshalerOnlyType = reflect.TypeFor[unmarshalerOnly]()

var decoders cache[reflect.Type, fragments.DecoderFunc]

// decoderFor returns the decoder func for the given type, if the type
// is representable in the DBus wire format. Results are memoized in
// decoders.
func decoderFor(t reflect.Type) (ret fragments.DecoderFunc, err error) {
	if cached, err := decoders.Get(t); err == nil {
		return cached, nil
	} else if !errors.Is(err, errNotFound) {
		return nil, err
	}
	defer func(t reflect.Type) {
		if err != nil {
			decoders.SetErr(t, err)
		} else {
			decoders.Set(t, ret)
		}
	}(t)

	// Only pointer-receiver Unmarshalers are usable: a value receiver
	// would silently discard whatever UnmarshalDBus wrote. Two shapes
	// qualify: a pointer type whose element does not itself implement
	// Unmarshaler (decode straight into the pointer), or a value type
	// whose pointer does (decode is only reached on addressable
	// values, so taking the address is always safe here).
	isPtr := t.Kind() == reflect.Pointer
	switch {
	case t.Implements(unmarshalerType):
		if !isPtr || t.Elem().Implements(unmarshalerOnlyType) {
			return nil, typeErr(t, "refusing to use dbus.Unmarshaler implementation with value receiver, Unmarshalers must use pointer receivers.")
		}
		return ptrUnmarshalDecoder(t), nil
	case !isPtr && reflect.PointerTo(t).Implements(unmarshalerType):
		return valueUnmarshalDecoder(t), nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		// Pointers to Unmarshaler are handled above.
		return newPtrDecoder(t)
	case reflect.Bool:
		return boolDecoder, nil
	case reflect.Int, reflect.Uint:
		return nil, typeErr(t, "int and uint aren't portable, use fixed width integers")
	case reflect.Int8:
		return nil, typeErr(t, "int8 has no corresponding DBus type, use uint8 instead")
	case reflect.Int16, reflect.Int32, reflect.Int64:
		return intDecoder(t), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return uintDecoder(t), nil
	case reflect.Float32, reflect.Float64:
		return floatDecoder, nil
	case reflect.String:
		return stringDecoder, nil
	case reflect.Slice, reflect.Array:
		return newSliceDecoder(t)
	case reflect.Struct:
		return newStructDecoder(t)
	case reflect.Map:
		return newMapDecoder(t)
	}

	return nil, typeErr(t, "no dbus mapping for type")
}

// valueUnmarshalDecoder decodes into a value type t whose pointer
// implements Unmarshaler, by taking its address and reusing the
// pointer decoder.
func valueUnmarshalDecoder(t reflect.Type) fragments.DecoderFunc {
	ptrDecode := ptrUnmarshalDecoder(reflect.PointerTo(t))
	return func(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
		return ptrDecode(ctx, st, v.Addr())
	}
}

// ptrUnmarshalDecoder decodes into a pointer type t that implements
// Unmarshaler, allocating a fresh element first if the pointer is nil.
func ptrUnmarshalDecoder(t reflect.Type) fragments.DecoderFunc {
	return func(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
		if v.IsNil() {
			v.Set(reflect.New(t.Elem()))
		}
		return v.Interface().(Unmarshaler).UnmarshalDBus(ctx, st)
	}
}

func newPtrDecoder(t reflect.Type) (fragments.DecoderFunc, error) {
	elem := t.Elem()
	elemDec, err := decoderFor(elem)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
		if !v.IsNil() {
			return elemDec(ctx, st, v.Elem())
		}
		if !v.CanSet() {
			panic("got an unsettable nil pointer, should be impossible!")
		}
		fresh := reflect.New(elem)
		if err := elemDec(ctx, st, fresh.Elem()); err != nil {
			return err
		}
		v.Set(fresh)
		return nil
	}, nil
}

func boolDecoder(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
	u, err := st.Uint32()
	if err != nil {
		return err
	}
	if u != 0 && u != 1 {
		return fmt.Errorf("%w: got %d", fragments.ErrBadBoolean, u)
	}
	v.SetBool(u != 0)
	return nil
}

// intDecoder returns a decoder for a signed integer kind of width 2,
// 4, or 8 bytes.
func intDecoder(t reflect.Type) fragments.DecoderFunc {
	switch t.Size() {
	case 2:
		return func(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
			u, err := st.Uint16()
			if err != nil {
				return err
			}
			v.SetInt(int64(int16(u)))
			return nil
		}
	case 4:
		return func(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
			u, err := st.Uint32()
			if err != nil {
				return err
			}
			v.SetInt(int64(int32(u)))
			return nil
		}
	case 8:
		return func(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
			u, err := st.Uint64()
			if err != nil {
				return err
			}
			v.SetInt(int64(u))
			return nil
		}
	default:
		panic("invalid intDecoder type")
	}
}

// uintDecoder returns a decoder for an unsigned integer kind of width
// 1, 2, 4, or 8 bytes.
func uintDecoder(t reflect.Type) fragments.DecoderFunc {
	switch t.Size() {
	case 1:
		return func(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
			u, err := st.Uint8()
			if err != nil {
				return err
			}
			v.SetUint(uint64(u))
			return nil
		}
	case 2:
		return func(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
			u, err := st.Uint16()
			if err != nil {
				return err
			}
			v.SetUint(uint64(u))
			return nil
		}
	case 4:
		return func(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
			u, err := st.Uint32()
			if err != nil {
				return err
			}
			v.SetUint(uint64(u))
			return nil
		}
	case 8:
		return func(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
			u, err := st.Uint64()
			if err != nil {
				return err
			}
			v.SetUint(u)
			return nil
		}
	default:
		panic("invalid uintDecoder type")
	}
}

func floatDecoder(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
	u, err := st.Uint64()
	if err != nil {
		return err
	}
	v.SetFloat(math.Float64frombits(u))
	return nil
}

func stringDecoder(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
	s, err := st.String()
	if err != nil {
		return err
	}
	v.SetString(s)
	return nil
}

func newSliceDecoder(t reflect.Type) (fragments.DecoderFunc, error) {
	if t.Elem().Kind() == reflect.Uint8 {
		return func(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
			bs, err := st.Bytes()
			if err != nil {
				return err
			}
			v.SetBytes(bs)
			return nil
		}, nil
	}

	elemDec, err := decoderFor(t.Elem())
	if err != nil {
		return nil, err
	}
	elemsAlign8 := structAligns8(t.Elem())

	return func(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
		v.Set(v.Slice(0, 0))
		_, err := st.Array(elemsAlign8, func(i int) error {
			v.Grow(1)
			v.Set(v.Slice(0, i+1))
			return elemDec(ctx, st, v.Index(i))
		})
		return err
	}, nil
}

func newStructDecoder(t reflect.Type) (fragments.DecoderFunc, error) {
	info, err := getStructInfo(t)
	if err != nil {
		return nil, typeErr(t, "getting struct info: %w", err)
	}

	fieldDecoders := make([]fragments.DecoderFunc, 0, len(info.StructFields))
	for _, f := range info.StructFields {
		fDec, err := newStructFieldDecoder(f)
		if err != nil {
			return nil, err
		}
		fieldDecoders = append(fieldDecoders, fDec)
	}

	return func(ctx context.Context, d *fragments.Decoder, v reflect.Value) error {
		return d.Struct(func() error {
			for _, decodeField := range fieldDecoders {
				if err := decodeField(ctx, d, v); err != nil {
					return err
				}
			}
			return nil
		})
	}, nil
}

// newStructFieldDecoder builds a decoder for one struct field. As
// with the encoder side, the returned function is handed the whole
// struct value, since GetWithAlloc must walk from the struct root to
// allocate any nil embedded struct pointers along the way.
func newStructFieldDecoder(f *structField) (fragments.DecoderFunc, error) {
	if f.IsVarDict() {
		return newVarDictFieldDecoder(f)
	}

	fDec, err := decoderFor(f.Type)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, d *fragments.Decoder, v reflect.Value) error {
		return fDec(ctx, d, f.GetWithAlloc(v))
	}, nil
}

// newVarDictFieldDecoder builds the decoder for a struct's vardict
// map field. Incoming keys that match an associated field are routed
// into that field with the Variant envelope stripped; anything else
// lands in the map itself.
func newVarDictFieldDecoder(f *structField) (fragments.DecoderFunc, error) {
	keyDec, err := decoderFor(f.Type.Key())
	if err != nil {
		return nil, err
	}
	valDec, err := decoderFor(variantType)
	if err != nil {
		return nil, err
	}

	byStrKey := map[string]*varDictField{}
	for _, key := range f.VarDictFields.MapKeys() {
		vf := f.VarDictField(key)
		byStrKey[vf.StrKey] = vf
	}

	return func(ctx context.Context, d *fragments.Decoder, v reflect.Value) error {
		extra := f.GetWithAlloc(v)
		extraInit := false

		key := reflect.New(f.Type.Key())
		val := reflect.New(variantType)

		_, err := d.Array(true, func(i int) error {
			key.Elem().SetZero()
			val.Elem().SetZero()

			err := d.Struct(func() error {
				if err := keyDec(ctx, d, key.Elem()); err != nil {
					return err
				}
				return valDec(ctx, d, val.Elem())
			})
			if err != nil {
				return err
			}

			assoc, isAssoc := byStrKey[fmt.Sprint(key.Elem())]
			if !isAssoc {
				if !extraInit {
					extraInit = true
					if extra.IsNil() {
						extra.Set(reflect.MakeMap(extra.Type()))
					} else {
						extra.Clear()
					}
				}
				extra.SetMapIndex(key.Elem(), val.Elem())
				return nil
			}

			fv := assoc.GetWithAlloc(v)
			inner := val.Elem().Interface().(Variant).Value
			innerVal := reflect.ValueOf(inner)
			if fv.Type() != innerVal.Type() {
				return fmt.Errorf("invalid type %s received for vardict field %s (%s)", innerVal.Type(), assoc.Name, fv.Type())
			}
			fv.Set(innerVal)
			return nil
		})
		return err
	}, nil
}

func newMapDecoder(t reflect.Type) (fragments.DecoderFunc, error) {
	keyType := t.Key()
	if !mapKeyKinds.Has(keyType.Kind()) {
		return nil, typeErr(t, "invalid map key type %s", keyType)
	}
	keyDec, err := decoderFor(keyType)
	if err != nil {
		return nil, err
	}
	valType := t.Elem()
	valDec, err := decoderFor(valType)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, st *fragments.Decoder, v reflect.Value) error {
		if v.IsNil() {
			v.Set(reflect.MakeMap(t))
		} else {
			v.Clear()
		}

		key := reflect.New(keyType)
		val := reflect.New(valType)

		_, err := st.Array(true, func(i int) error {
			key.Elem().SetZero()
			val.Elem().SetZero()
			err := st.Struct(func() error {
				if err := keyDec(ctx, st, key.Elem()); err != nil {
					return err
				}
				return valDec(ctx, st, val.Elem())
			})
			if err != nil {
				return err
			}
			v.SetMapIndex(key.Elem(), val.Elem())
			return nil
		})
		return err
	}, nil
}

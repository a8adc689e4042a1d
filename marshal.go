package dbus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"

	"github.com/opendbus/godbus/fragments"
)

// Marshal returns the DBus wire encoding of v, using the given byte
// ordering.
//
// Marshal traverses the value v recursively. If an encountered value
// implements [Marshaler], Marshal calls MarshalDBus on it to produce
// its encoding.
//
// Otherwise, Marshal uses the following type-dependent default
// encodings:
//
// uint{8,16,32,64}, int{16,32,64}, float64, bool and string values
// encode to the corresponding DBus basic type.
//
// Array and slice values encode as DBus arrays. Nil slices encode the
// same as an empty slice.
//
// Struct values encode as DBus structs. Each exported struct field is
// encoded in declaration order, according to its own type. Embedded
// struct fields are encoded as if their inner exported fields were
// fields in the outer struct, subject to the usual Go visibility
// rules.
//
// Map values encode as a DBus dictionary, i.e. an array of key/value
// pairs. The map's key underlying type must be uint{8,16,32,64},
// int{16,32,64}, float64, bool, or string.
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
// A vardict field encodes as a DBus dictionary just like a regular
// map, except that associated fields with nonzero values are encoded
// as additional key/value pairs. An associated field can be tagged
// with `dbus:"key=X,encodeZero"` to encode its zero value as well.
//
// Pointer values encode as the value pointed to. A nil pointer
// encodes as the zero value of the type pointed to.
//
// [Signature], [ObjectPath], and [File] values encode to the
// corresponding DBus types.
//
// [Variant] values encode as DBus variants. The Variant's inner value
// must be a valid value according to these rules, or Marshal will
// return a [TypeError].
//
// int8, int, uint, uintptr, complex64, complex128, interface,
// channel, and function values cannot be encoded. Attempting to
// encode such values causes Marshal to return a [TypeError].
//
// DBus cannot represent cyclic or recursive types. Attempting to
// encode such values causes Marshal to return a [TypeError].
func Marshal(v any, ord fragments.ByteOrder) ([]byte, error) {
	return marshal(context.Background(), v, ord)
}

// marshal is [Marshal] with a caller-supplied context, which is
// passed on to every MarshalDBus call.
func marshal(ctx context.Context, v any, ord fragments.ByteOrder) ([]byte, error) {
	val := reflect.ValueOf(v)
	enc, err := encoderFor(val.Type())
	if err != nil {
		return nil, err
	}
	e := fragments.Encoder{
		Order:  ord,
		Mapper: encoderFor,
	}
	if err := enc(ctx, &e, val); err != nil {
		return nil, err
	}
	return e.Out, nil
}

// Marshaler is the interface implemented by types that can marshal
// themselves to the DBus wire format.
//
// SignatureDBus and IsDBusStruct are invoked on zero values of the
// Marshaler, and must return constant values.
//
// MarshalDBus is responsible for inserting padding appropriate to the
// values being encoded, and for producing output that matches the
// structure declared by SignatureDBus and IsDBusStruct.
type Marshaler interface {
	SignatureDBus() Signature
	IsDBusStruct() bool
	MarshalDBus(ctx context.Context, e *fragments.Encoder) error
}

var marshalerType = reflect.TypeFor[Marshaler]()

var encoders cache[reflect.Type, fragments.EncoderFunc]

// encoderFor builds (or fetches from cache) the encoder function for
// values of type t. The result is memoized in encoders, since
// building an encoder involves reflection work that's wasteful to
// repeat on every call.
func encoderFor(t reflect.Type) (ret fragments.EncoderFunc, err error) {
	if cached, err := encoders.Get(t); err == nil {
		return cached, nil
	} else if !errors.Is(err, errNotFound) {
		return nil, err
	}
	// t is captured explicitly since the deferred closure must record
	// the result against the type this call was asked to build for,
	// not whatever t might refer to after further reassignment below.
	defer func(t reflect.Type) {
		if err != nil {
			encoders.SetErr(t, err)
		} else {
			encoders.Set(t, ret)
		}
	}(t)

	// A pointer-receiver Marshaler can encode addressable values
	// without a copy; fall back to a value-receiver check only when
	// that doesn't apply.
	switch {
	case t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(marshalerType):
		return addressableMarshalEncoder(t), nil
	case t.Implements(marshalerType):
		return callMarshalEncoder(), nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		return newPtrEncoder(t)
	case reflect.Bool:
		return boolEncoder, nil
	case reflect.Int, reflect.Uint:
		return nil, typeErr(t, "int and uint aren't portable, use fixed width integers")
	case reflect.Int8:
		return nil, typeErr(t, "int8 has no corresponding DBus type, use uint8 instead")
	case reflect.Int16, reflect.Int32, reflect.Int64:
		return intEncoder(t), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return uintEncoder(t), nil
	case reflect.Float32:
		return nil, typeErr(t, "float32 has no corresponding DBus type, use float64 instead")
	case reflect.Float64:
		return floatEncoder, nil
	case reflect.String:
		return stringEncoder, nil
	case reflect.Slice, reflect.Array:
		return newSliceEncoder(t)
	case reflect.Struct:
		return newStructEncoder(t)
	case reflect.Map:
		return newMapEncoder(t)
	}
	return nil, typeErr(t, "no dbus mapping for type")
}

// addressableMarshalEncoder builds an encoder for a type t whose
// pointer implements Marshaler, using the address of the value being
// encoded when possible and falling back to a value copy otherwise.
func addressableMarshalEncoder(t reflect.Type) fragments.EncoderFunc {
	viaPointer := callMarshalEncoder()
	if !t.Implements(marshalerType) {
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			if !v.CanAddr() {
				return typeErr(t, "Marshaler is only implemented on pointer receiver, and cannot take the address of given value")
			}
			return viaPointer(ctx, e, v.Addr())
		}
	}
	viaValue := callMarshalEncoder()
	return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
		if v.CanAddr() {
			return viaPointer(ctx, e, v.Addr())
		}
		return viaValue(ctx, e, v)
	}
}

func callMarshalEncoder() fragments.EncoderFunc {
	return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
		return v.Interface().(Marshaler).MarshalDBus(ctx, e)
	}
}

func newPtrEncoder(t reflect.Type) (fragments.EncoderFunc, error) {
	elemEnc, err := encoderFor(t.Elem())
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
		if v.IsNil() {
			return elemEnc(ctx, e, reflect.Zero(t.Elem()))
		}
		return elemEnc(ctx, e, v.Elem())
	}, nil
}

func boolEncoder(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
	var wire uint32
	if v.Bool() {
		wire = 1
	}
	e.Uint32(wire)
	return nil
}

// intEncoder returns an encoder for a signed integer kind whose width
// (in bytes) is one of 2, 4, or 8 — the widths DBus has wire types for.
func intEncoder(t reflect.Type) fragments.EncoderFunc {
	switch t.Size() {
	case 2:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			e.Uint16(uint16(v.Int()))
			return nil
		}
	case 4:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			e.Uint32(uint32(v.Int()))
			return nil
		}
	case 8:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			e.Uint64(uint64(v.Int()))
			return nil
		}
	default:
		panic("invalid intEncoder type")
	}
}

// uintEncoder returns an encoder for an unsigned integer kind of
// width 1, 2, 4, or 8 bytes.
func uintEncoder(t reflect.Type) fragments.EncoderFunc {
	switch t.Size() {
	case 1:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			e.Uint8(uint8(v.Uint()))
			return nil
		}
	case 2:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			e.Uint16(uint16(v.Uint()))
			return nil
		}
	case 4:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			e.Uint32(uint32(v.Uint()))
			return nil
		}
	case 8:
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			e.Uint64(v.Uint())
			return nil
		}
	default:
		panic("invalid uintEncoder type")
	}
}

func floatEncoder(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
	e.Uint64(math.Float64bits(v.Float()))
	return nil
}

func stringEncoder(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
	e.String(v.String())
	return nil
}

func newSliceEncoder(t reflect.Type) (fragments.EncoderFunc, error) {
	if t.Elem().Kind() == reflect.Uint8 {
		return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
			e.Bytes(v.Bytes())
			return nil
		}, nil
	}

	elemEnc, err := encoderFor(t.Elem())
	if err != nil {
		return nil, err
	}
	elemsAlign8 := structAligns8(t.Elem())

	return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
		return e.Array(elemsAlign8, func() error {
			for i := 0; i < v.Len(); i++ {
				if err := elemEnc(ctx, e, v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		})
	}, nil
}

func newStructEncoder(t reflect.Type) (fragments.EncoderFunc, error) {
	info, err := getStructInfo(t)
	if err != nil {
		return nil, fmt.Errorf("getting struct info for %s: %w", t, err)
	}

	fieldEncoders := make([]fragments.EncoderFunc, 0, len(info.StructFields))
	for _, f := range info.StructFields {
		fEnc, err := newStructFieldEncoder(f)
		if err != nil {
			return nil, err
		}
		fieldEncoders = append(fieldEncoders, fEnc)
	}

	return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
		return e.Struct(func() error {
			for _, encodeField := range fieldEncoders {
				if err := encodeField(ctx, e, v); err != nil {
					return err
				}
			}
			return nil
		})
	}, nil
}

// newStructFieldEncoder builds an encoder for one field of a struct.
// The returned function still expects the whole struct value, not
// just the field, since GetWithZero needs to walk from the struct
// root to reach fields behind embedded pointers.
func newStructFieldEncoder(f *structField) (fragments.EncoderFunc, error) {
	if f.IsVarDict() {
		return newVarDictFieldEncoder(f)
	}

	fEnc, err := encoderFor(f.Type)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
		return fEnc(ctx, e, f.GetWithZero(v))
	}, nil
}

// newVarDictFieldEncoder builds the encoder for a struct's vardict
// map field, folding in the struct's associated fields as extra
// entries alongside whatever the map itself holds. Like
// newStructFieldEncoder, the returned function expects the whole
// struct value.
func newVarDictFieldEncoder(f *structField) (fragments.EncoderFunc, error) {
	keyEnc, err := encoderFor(f.Type.Key())
	if err != nil {
		return nil, err
	}
	valEnc, err := encoderFor(variantType)
	if err != nil {
		return nil, err
	}
	keyCmp := f.VarDictKeyCmp()

	encodeEntry := func(ctx context.Context, e *fragments.Encoder, key, val reflect.Value) error {
		return e.Struct(func() error {
			if err := keyEnc(ctx, e, key); err != nil {
				return err
			}
			return valEnc(ctx, e, val)
		})
	}

	sortedKeys := f.VarDictFields.MapKeys()
	slices.SortFunc(sortedKeys, keyCmp)
	associated := make([]*varDictField, 0, len(sortedKeys))
	for _, k := range sortedKeys {
		associated = append(associated, f.VarDictField(k))
	}

	return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
		return e.Array(true, func() error {
			for _, af := range associated {
				fv := af.GetWithZero(v)
				if fv.IsZero() && !af.EncodeZero {
					continue
				}
				if err := encodeEntry(ctx, e, af.Key, reflect.ValueOf(Variant{fv.Interface()})); err != nil {
					return err
				}
			}

			extra := f.GetWithZero(v)
			extraKeys := extra.MapKeys()
			slices.SortFunc(extraKeys, keyCmp)
			for _, k := range extraKeys {
				if err := encodeEntry(ctx, e, k, extra.MapIndex(k)); err != nil {
					return err
				}
			}
			return nil
		})
	}, nil
}

func newMapEncoder(t reflect.Type) (fragments.EncoderFunc, error) {
	keyType := t.Key()
	if !mapKeyKinds.Has(keyType.Kind()) {
		return nil, typeErr(t, "invalid map key type %s", keyType)
	}
	keyEnc, err := encoderFor(keyType)
	if err != nil {
		return nil, err
	}
	valEnc, err := encoderFor(t.Elem())
	if err != nil {
		return nil, err
	}
	keyCmp := mapKeyCmp(keyType)

	return func(ctx context.Context, e *fragments.Encoder, v reflect.Value) error {
		keys := v.MapKeys()
		slices.SortFunc(keys, keyCmp)
		return e.Array(true, func() error {
			for _, k := range keys {
				val := v.MapIndex(k)
				err := e.Struct(func() error {
					if err := keyEnc(ctx, e, k); err != nil {
						return err
					}
					return valEnc(ctx, e, val)
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}, nil
}

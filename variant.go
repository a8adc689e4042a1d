package dbus

import (
	"context"
	"fmt"
	"reflect"

	"github.com/opendbus/godbus/fragments"
)

// Variant is a self-describing DBus value: a signature paired with a
// value of that type.
type Variant struct {
	Value any
}

var variantType = reflect.TypeFor[Variant]()

func (v Variant) IsDBusStruct() bool { return false }

func (v Variant) SignatureDBus() Signature { return mkSignature(variantType, "v") }

func (v Variant) MarshalDBus(ctx context.Context, st *fragments.Encoder) error {
	sig, err := SignatureOf(v.Value)
	if err != nil {
		return err
	}
	if err := st.Value(ctx, sig); err != nil {
		return err
	}
	if err := st.Value(ctx, v.Value); err != nil {
		return err
	}
	return nil
}

func (v *Variant) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	var sig Signature
	if err := d.Value(ctx, &sig); err != nil {
		return fmt.Errorf("reading Variant signature: %w", err)
	}
	innerValue := sig.Value()
	if !innerValue.IsValid() {
		return fmt.Errorf("unsupported Variant type signature %q", sig)
	}
	inner := innerValue.Interface()
	if err := d.Value(ctx, inner); err != nil {
		return fmt.Errorf("reading Variant value (signature %q): %w", sig, err)
	}
	v.Value = innerValue.Elem().Interface()
	return nil
}

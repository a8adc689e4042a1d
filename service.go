package dbus

import (
	"context"
	"fmt"
	"reflect"
)

// EmitPolicy controls whether and how a property change is announced
// through org.freedesktop.DBus.Properties's PropertiesChanged signal.
type EmitPolicy int

const (
	// EmitFalse means the property never triggers PropertiesChanged.
	EmitFalse EmitPolicy = iota
	// EmitInvalidates means changes are announced by naming the
	// property in the signal's invalidated list, without its value.
	EmitInvalidates
	// EmitTrue means changes are announced with the new value
	// included in the signal.
	EmitTrue
	// EmitConst means the property's value never changes after the
	// object is exported, so no signal is ever needed. Const
	// properties may be cached indefinitely by callers.
	EmitConst
)

// PropertyAccess describes which of Get and Set a [Property] supports.
type PropertyAccess int

const (
	PropertyRead PropertyAccess = iota
	PropertyWrite
	PropertyReadWrite
)

func (a PropertyAccess) readable() bool { return a == PropertyRead || a == PropertyReadWrite }
func (a PropertyAccess) writable() bool { return a == PropertyWrite || a == PropertyReadWrite }

// Method describes one callable member of an [InterfaceModel].
//
// Fn must have one of these shapes:
//
//	func(context.Context, dbus.ObjectPath) error
//	func(context.Context, dbus.ObjectPath) (RetType, error)
//	func(context.Context, dbus.ObjectPath, ReqType) error
//	func(context.Context, dbus.ObjectPath, ReqType) (RetType, error)
type Method struct {
	// Name is the member name as seen on the wire and in
	// introspection. It need not match Fn's Go name.
	Name string
	Fn   any
	// NoReply marks the method one-way in introspection. Whether a
	// reply is sent depends only on the no-reply flag of the incoming
	// call, not on this field.
	NoReply bool
	// Deprecated marks the method as deprecated in introspection.
	Deprecated bool
	// Disabled removes the method from introspection and dispatch, as
	// if it had never been declared.
	Disabled bool

	handler handlerFunc
	inSig   Signature
	outSig  Signature
}

// Property describes one member exposed through
// org.freedesktop.DBus.Properties.
type Property struct {
	Name string
	// Type is a zero value of the property's Go type, used only to
	// derive its DBus signature for introspection and wire encoding.
	// It is never read for its value; uint32(0) and (*MyStruct)(nil)
	// are both fine.
	Type any
	// Get returns the property's current value. Required when Access
	// is PropertyRead or PropertyReadWrite.
	Get func(ctx context.Context, path ObjectPath) (any, error)
	// Set applies a newly requested value. Required when Access is
	// PropertyWrite or PropertyReadWrite. Set receives the decoded
	// variant value as is; its type is not checked against Type.
	Set func(ctx context.Context, path ObjectPath, val any) error

	Access PropertyAccess
	Emit   EmitPolicy

	Deprecated bool
	Disabled   bool

	sig Signature
}

// Signal describes one member an [InterfaceModel] may emit.
//
// The signal's payload type must already be registered with
// [RegisterSignalType] under the owning InterfaceModel's Name and
// this Signal's Name; Signal itself only carries the metadata needed
// for introspection.
type Signal struct {
	Name       string
	Deprecated bool
	Disabled   bool

	sig Signature
}

// InterfaceModel is a declarative description of a DBus interface: a
// named set of methods, properties and signals that [Conn.Export]
// binds to an object path.
//
// An InterfaceModel may be exported at more than one path, and by
// more than one Conn; the model itself holds no per-object state,
// only the wiring between wire names and application-provided Go
// functions.
type InterfaceModel struct {
	Name       string
	Methods    []Method
	Properties []Property
	Signals    []Signal
}

// builtInterface is the validated, dispatch-ready form of an
// InterfaceModel, produced once by Conn.Export and shared by every
// object path it's exported under.
type builtInterface struct {
	name string

	methods    map[string]*Method
	properties map[string]*Property
	signals    map[string]*Signal

	// order preserves declaration order for introspection XML, which
	// callers reasonably expect to be stable across calls.
	methodOrder   []string
	propertyOrder []string
	signalOrder   []string
}

func (m *InterfaceModel) build() (*builtInterface, error) {
	if err := validateInterfaceName(m.Name); err != nil {
		return nil, err
	}
	bi := &builtInterface{
		name:       m.Name,
		methods:    map[string]*Method{},
		properties: map[string]*Property{},
		signals:    map[string]*Signal{},
	}

	for i := range m.Methods {
		meth := &m.Methods[i]
		if meth.Disabled {
			continue
		}
		if err := validateMemberName(meth.Name); err != nil {
			return nil, fmt.Errorf("interface %s: %w", m.Name, err)
		}
		if _, dup := bi.methods[meth.Name]; dup {
			return nil, fmt.Errorf("interface %s declares method %s more than once", m.Name, meth.Name)
		}
		in, out, err := methodSignatures(meth.Fn)
		if err != nil {
			return nil, fmt.Errorf("interface %s method %s: %w", m.Name, meth.Name, err)
		}
		meth.handler = handlerForFunc(meth.Fn)
		meth.inSig, meth.outSig = in, out
		bi.methods[meth.Name] = meth
		bi.methodOrder = append(bi.methodOrder, meth.Name)
	}

	for i := range m.Properties {
		prop := &m.Properties[i]
		if prop.Disabled {
			continue
		}
		if err := validateMemberName(prop.Name); err != nil {
			return nil, fmt.Errorf("interface %s: %w", m.Name, err)
		}
		if _, dup := bi.properties[prop.Name]; dup {
			return nil, fmt.Errorf("interface %s declares property %s more than once", m.Name, prop.Name)
		}
		if prop.Access.readable() && prop.Get == nil {
			return nil, fmt.Errorf("interface %s property %s is readable but has no Get", m.Name, prop.Name)
		}
		if prop.Access.writable() && prop.Set == nil {
			return nil, fmt.Errorf("interface %s property %s is writable but has no Set", m.Name, prop.Name)
		}
		if prop.Type != nil {
			s, err := signatureFor(reflect.TypeOf(prop.Type), nil)
			if err != nil {
				return nil, fmt.Errorf("interface %s property %s: %w", m.Name, prop.Name, err)
			}
			prop.sig = s
		}
		bi.properties[prop.Name] = prop
		bi.propertyOrder = append(bi.propertyOrder, prop.Name)
	}

	for i := range m.Signals {
		sig := &m.Signals[i]
		if sig.Disabled {
			continue
		}
		if err := validateMemberName(sig.Name); err != nil {
			return nil, fmt.Errorf("interface %s: %w", m.Name, err)
		}
		if _, dup := bi.signals[sig.Name]; dup {
			return nil, fmt.Errorf("interface %s declares signal %s more than once", m.Name, sig.Name)
		}
		if t := signalTypeFor(m.Name, sig.Name); t != nil {
			s, err := signatureFor(t, nil)
			if err != nil {
				return nil, fmt.Errorf("interface %s signal %s: %w", m.Name, sig.Name, err)
			}
			sig.sig = s
		}
		bi.signals[sig.Name] = sig
		bi.signalOrder = append(bi.signalOrder, sig.Name)
	}

	return bi, nil
}

// methodSignatures derives the request and response DBus signatures
// implied by fn's Go type, using the same shape rules as
// [handlerForFunc].
func methodSignatures(fn any) (in, out Signature, err error) {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return Signature{}, Signature{}, fmt.Errorf("method handler must be a function, got %v", fn)
	}
	ni, no := t.NumIn(), t.NumOut()
	if ni < 2 || ni > 3 || no < 1 || no > 2 {
		return Signature{}, Signature{}, fmt.Errorf("invalid handler signature %s", t)
	}
	if ni == 3 {
		in, err = signatureFor(t.In(2), nil)
		if err != nil {
			return Signature{}, Signature{}, fmt.Errorf("request type %s: %w", t.In(2), err)
		}
	}
	if no == 2 {
		out, err = signatureFor(t.Out(0), nil)
		if err != nil {
			return Signature{}, Signature{}, fmt.Errorf("response type %s: %w", t.Out(0), err)
		}
	}
	return in, out, nil
}

// Package dbusgen turns an introspected DBus interface description
// into a Go source file for a typed client proxy.
package dbusgen

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"go/format"
	"reflect"
	"slices"
	"strings"
	"unicode"

	"github.com/opendbus/godbus"
)

// emitter accumulates the source of one generated interface file. The
// body and the init() block are built up separately because
// init()'s contents (signal/property-change registrations) are
// discovered while walking methods, signals, and properties, but must
// be emitted once, at the end.
type emitter struct {
	body  bytes.Buffer
	init  bytes.Buffer
	iface *dbus.InterfaceDescription
}

// Interface generates a gofmt-formatted Go source file implementing a
// typed proxy for iface. If the generated source fails to format
// (typically a bug in this package), the unformatted source is
// returned alongside the error, to aid debugging.
func Interface(iface *dbus.InterfaceDescription) (string, error) {
	if iface == nil {
		return "", errors.New("no interface provided")
	}
	e := emitter{iface: iface}
	e.writeInterface()

	formatted, err := format.Source(e.body.Bytes())
	if err != nil {
		return e.body.String(), err
	}
	return string(formatted), nil
}

func (e *emitter) emit(format string, args ...any) {
	fmt.Fprintf(&e.body, format, args...)
}

func (e *emitter) emitInit(format string, args ...any) {
	fmt.Fprintf(&e.init, format, args...)
}

func (e *emitter) writeInterface() {
	name := publicIdentifier(e.iface.Name)
	e.emit(`
type %[1]s struct { iface dbus.Interface }

// New returns an interface to TODO
func new(conn *dbus.Conn) %[1]s {
  obj := conn.Peer("TODO").Object("TODO")
  return Interface(obj)
}

// Interface returns a %[1]s on the given object.
func Interface(obj dbus.Object) %[1]s {
  return %[1]s{
    iface: obj.Interface(%[2]q),
  }
}
`, name, e.iface.Name)

	byName := func(a, b string) int { return cmp.Compare(a, b) }
	slices.SortFunc(e.iface.Methods, func(a, b *dbus.MethodDescription) int { return byName(a.Name, b.Name) })
	slices.SortFunc(e.iface.Signals, func(a, b *dbus.SignalDescription) int { return byName(a.Name, b.Name) })
	slices.SortFunc(e.iface.Properties, func(a, b *dbus.PropertyDescription) int { return byName(a.Name, b.Name) })

	for _, m := range e.iface.Methods {
		e.writeMethod(m)
	}
	for _, p := range e.iface.Properties {
		e.writeProperty(p)
	}
	for _, s := range e.iface.Signals {
		e.writeSignal(s)
	}
	if init := strings.TrimSpace(e.init.String()); init != "" {
		e.emit("func init() {\n%s\n}", init)
	}
}

func (e *emitter) writeMethod(m *dbus.MethodDescription) {
	name := publicIdentifier(m.Name)
	in := methodInputs{name, m.In}
	out := methodOutputs{name, m.Out}

	in.writeRequestType(e)
	out.writeResponseType(e)

	e.emit("func (iface %s) %s(", publicIdentifier(e.iface.Name), name)
	in.writeParams(e)
	e.emit(") (")
	out.writeResults(e)
	e.emit(") {\n")

	req := in.writeRequestValue(e)
	resp := out.writeResponseVar(e)
	if out.empty() {
		e.emit("err := iface.iface.Call(ctx, %q, %s, %s)\n", m.Name, req, resp)
	} else {
		e.emit("err = iface.iface.Call(ctx, %q, %s, %s)\n", m.Name, req, resp)
	}
	out.writeReturn(e)
	e.emit("}\n\n")
}

func (e *emitter) writeSignal(s *dbus.SignalDescription) {
	name := publicIdentifier(s.Name)
	e.emit(`
// %[1]s implements the signal %[2]s.%[3]s.
type %[1]s %[4]s

`, name, e.iface.Name, s.Name, argsStructSignature(s.Args).Type())
	e.emitInit("dbus.RegisterSignalType[%s](%q, %q)\n", name, e.iface.Name, s.Name)
}

func (e *emitter) writeProperty(prop *dbus.PropertyDescription) {
	ifaceName := publicIdentifier(e.iface.Name)
	propName := publicIdentifier(prop.Name)

	if prop.Constant || prop.Readable {
		e.emit(`
// %[2]s returns the value of the property %[4]q.
func (iface %[1]s) %[2]s(ctx context.Context) (%[3]s, error) {
  var ret %[3]s
  err := iface.iface.GetProperty(ctx, %[4]q, &ret)
  return ret, err
}

`, ifaceName, propName, prop.Type.Type(), prop.Name)
	}

	if prop.Writable {
		e.emit(`
// %[2]s sets the value of property %[4]q to val.
func (iface %[1]s) Set%[2]s(ctx context.Context, val %[3]s) error {
  return iface.iface.SetProperty(ctx, %[4]q, val)
}

`, ifaceName, propName, prop.Type.Type(), prop.Name)
	}

	if !prop.EmitsSignal {
		return
	}

	if prop.SignalIncludesValue {
		e.emit(`
// %[1]sChanged signals that the value of property %[3]q has changed.
type %[1]sChanged %[2]s
`, propName, prop.Type.Type(), prop.Name)
	} else {
		e.emit(`
// %[1]sChanged signals that the value of property %[2]q has changed.
type %[1]sChanged struct{}
`, propName, prop.Name)
	}
	e.emitInit("dbus.RegisterPropertyChangeType[%sChanged](%q, %q)\n", propName, e.iface.Name, prop.Name)
}

// argName picks a Go parameter name for the n'th argument of a method
// or signal, falling back to a positional name if the introspection
// data didn't provide one.
func argName(n int, arg dbus.ArgumentDescription) string {
	name := arg.Name
	if name == "" {
		name = fmt.Sprintf("arg%d", n)
	}
	name = identifier(name)
	if name == "type" {
		name = "typ"
	}
	return name
}

// identifier converts a DBus-style dotted, underscore_separated name
// into a lowerCamelCase Go identifier.
func identifier(s string) string {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	words := strings.Split(s, "_")
	for i, w := range words {
		if i == 0 {
			words[i] = lowerFirst(w)
			continue
		}
		switch w {
		case "id":
			words[i] = "ID"
		case "fd":
			words[i] = "FD"
		default:
			words[i] = strings.Title(w)
		}
	}
	return strings.Join(words, "")
}

func lowerFirst(s string) string {
	first := true
	return strings.Map(func(r rune) rune {
		if first {
			first = false
			return unicode.ToLower(r)
		}
		return r
	}, s)
}

func publicIdentifier(s string) string {
	return strings.Title(identifier(s))
}

// argsStructSignature builds the DBus signature of an anonymous
// struct with one field per argument, matching how [Marshal] would
// encode a real struct with those fields.
func argsStructSignature(args []dbus.ArgumentDescription) dbus.Signature {
	fields := make([]reflect.StructField, len(args))
	for i, a := range args {
		fields[i] = reflect.StructField{
			Name: publicIdentifier(argName(i, a)),
			Type: a.Type.Type(),
		}
	}
	st := reflect.StructOf(fields)
	sig, err := dbus.SignatureOf(reflect.New(st).Elem().Interface())
	if err != nil {
		panic(err)
	}
	return sig
}

// methodInputs generates the Go-side representation of a method's
// "in" arguments: either individual parameters, or (once there are
// more than a handful) a single request struct.
type methodInputs struct {
	methodName string
	args       []dbus.ArgumentDescription
}

func (m methodInputs) grouped() bool { return len(m.args) > 3 }

func (m methodInputs) writeRequestType(e *emitter) {
	if !m.grouped() {
		return
	}
	e.emit("type %sRequest %s\n", m.methodName, argsStructSignature(m.args).Type())
}

func (m methodInputs) writeParams(e *emitter) {
	if m.grouped() {
		e.emit("ctx context.Context, req %sRequest", m.methodName)
		return
	}
	e.emit("ctx context.Context")
	for i, a := range m.args {
		e.emit(", %s %s", argName(i, a), a.Type.Type())
	}
}

func (m methodInputs) writeRequestValue(e *emitter) (varName string) {
	switch {
	case len(m.args) == 0:
		return "nil"
	case len(m.args) == 1:
		return argName(0, m.args[0])
	case m.grouped():
		return "req"
	}

	e.emit("req := %s{\n", argsStructSignature(m.args).Type())
	for i, a := range m.args {
		e.emit("%s: %s,\n", publicIdentifier(argName(i, a)), argName(i, a))
	}
	e.emit("}\n")
	return "req"
}

// methodOutputs generates the Go-side representation of a method's
// "out" arguments: no return, a single value, a response struct, a
// slice of struct values, or several plain returns.
type methodOutputs struct {
	methodName string
	args       []dbus.ArgumentDescription
}

func (m methodOutputs) empty() bool   { return len(m.args) == 0 }
func (m methodOutputs) grouped() bool { return len(m.args) > 2 }

func (m methodOutputs) slicedStruct() bool {
	if len(m.args) != 1 {
		return false
	}
	t := m.args[0].Type.Type()
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Struct
}

func (m methodOutputs) writeResponseType(e *emitter) {
	if m.grouped() {
		e.emit("type %sResponse %s\n", m.methodName, argsStructSignature(m.args).Type())
	}
}

func (m methodOutputs) writeResults(e *emitter) {
	switch {
	case m.empty():
		e.emit("error")
	case m.grouped():
		e.emit("resp %sResponse, err error", m.methodName)
	case m.slicedStruct():
		e.emit("resp []%s, err error", m.args[0].Type.Type().Elem())
	default:
		for i, a := range m.args {
			if i > 0 {
				e.emit(",")
			}
			e.emit("%s %s", argName(i, a), a.Type.Type())
		}
		e.emit(", err error")
	}
}

func (m methodOutputs) writeResponseVar(e *emitter) (varName string) {
	switch {
	case len(m.args) == 0:
		return "nil"
	case m.grouped() || m.slicedStruct():
		// resp is already declared as a named result.
		return "&resp"
	case len(m.args) == 1:
		return "&" + argName(0, m.args[0])
	}
	e.emit("var resp %s\n", argsStructSignature(m.args).Type())
	return "&resp"
}

func (m methodOutputs) writeReturn(e *emitter) {
	switch {
	case len(m.args) == 0:
		e.emit("return err\n")
	case m.grouped() || m.slicedStruct():
		e.emit("return resp, err\n")
	case len(m.args) == 1:
		e.emit("return %s, err", argName(0, m.args[0]))
	default:
		e.emit("return ")
		for i, a := range m.args {
			if i > 0 {
				e.emit(",")
			}
			e.emit("resp.%s", publicIdentifier(argName(i, a)))
		}
		e.emit(", err\n")
	}
}

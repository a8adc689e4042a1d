package dbus

import (
	"cmp"
	"encoding/xml"
	"fmt"
	"slices"
	"strings"
)

// annotation is the raw shape of a DBus introspection <annotation>
// element, used as an intermediate decode target before its meaning
// is folded into the owning method/signal/property description.
type annotation struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// annotations flattens a list of introspection <annotation> elements
// into a name-to-value map for easy lookup.
func annotations(raw []annotation) map[string]string {
	m := make(map[string]string, len(raw))
	for _, a := range raw {
		m[a.Name] = a.Value
	}
	return m
}

// ObjectDescription describes a DBus object's exported interfaces and
// child objects.
//
// Interface and child descriptions are provided by the DBus peer
// hosting the object, and may not accurately reflect the actual
// exposed API or object structure.
type ObjectDescription struct {
	// Interfaces maps an interface name to a description of its API.
	Interfaces map[string]*InterfaceDescription
	// Children is the relative paths to child objects under this
	// object. The relative paths may contain multiple path
	// components.
	Children []string
}

func (o *ObjectDescription) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw struct {
		Interfaces []*InterfaceDescription `xml:"interface"`
		Children   []struct {
			Name string `xml:"name,attr"`
		} `xml:"node"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	o.Interfaces = make(map[string]*InterfaceDescription, len(raw.Interfaces))
	for _, iface := range raw.Interfaces {
		o.Interfaces[iface.Name] = iface
	}
	o.Children = make([]string, 0, len(raw.Children))
	for _, child := range raw.Children {
		o.Children = append(o.Children, child.Name)
	}
	return nil
}

// InterfaceDescription describes a DBus interface.
//
// Interface descriptions are provided by the DBus peer offering the
// interface, and may not accurately reflect the actual exposed API.
type InterfaceDescription struct {
	Name       string                 `xml:"name,attr"`
	Methods    []*MethodDescription   `xml:"method"`
	Signals    []*SignalDescription   `xml:"signal"`
	Properties []*PropertyDescription `xml:"property"`
}

func sortedByName[T any](items []T, name func(T) string) []T {
	return slices.SortedFunc(slices.Values(items), func(a, b T) int {
		return cmp.Compare(name(a), name(b))
	})
}

func (d InterfaceDescription) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "interface %s {\n", d.Name)
	for _, m := range sortedByName(d.Methods, func(m *MethodDescription) string { return m.Name }) {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	for _, s := range sortedByName(d.Signals, func(s *SignalDescription) string { return s.Name }) {
		fmt.Fprintf(&b, "  %s\n", s)
	}
	for _, p := range sortedByName(d.Properties, func(p *PropertyDescription) string { return p.Name }) {
		fmt.Fprintf(&b, "  %s\n", p)
	}
	b.WriteString("}")
	return b.String()
}

// MethodDescription describes a DBus method.
//
// Method descriptions are provided by the DBus peer offering the
// method, and may not accurately reflect the actual exposed API.
type MethodDescription struct {
	Name string
	In   []ArgumentDescription
	Out  []ArgumentDescription
	// Deprecated, if true, indicates that the method should be
	// avoided in new code.
	Deprecated bool
	// If true, NoReply indicates that the caller is expected to use
	// Interface.OneWay to invoke this method, not Interface.Call.
	NoReply bool
}

func writeArgList(b *strings.Builder, args []ArgumentDescription) {
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
}

func (m MethodDescription) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s(", m.Name)
	writeArgList(&b, m.In)
	b.WriteByte(')')

	if len(m.Out) > 0 {
		b.WriteString(" (")
		writeArgList(&b, m.Out)
		b.WriteByte(')')
	}
	switch {
	case m.Deprecated && m.NoReply:
		b.WriteString(" [deprecated,noreply]")
	case m.Deprecated:
		b.WriteString(" [deprecated]")
	case m.NoReply:
		b.WriteString(" [noreply]")
	}
	return b.String()
}

func (m *MethodDescription) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw struct {
		Name string `xml:"name,attr"`
		Args []struct {
			Name      string `xml:"name,attr"`
			Type      string `xml:"type,attr"`
			Direction string `xml:"direction,attr"`
		} `xml:"arg"`
		Meta []annotation `xml:"annotation"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	m.Name = raw.Name
	m.In, m.Out = nil, nil
	for _, arg := range raw.Args {
		sig, err := ParseSignature(arg.Type)
		if err != nil {
			return fmt.Errorf("invalid signature %q for arg %s: %w", arg.Type, arg.Name, err)
		}
		ad := ArgumentDescription{Name: arg.Name, Type: sig}
		if arg.Direction == "in" {
			m.In = append(m.In, ad)
		} else {
			m.Out = append(m.Out, ad)
		}
	}
	meta := annotations(raw.Meta)
	m.Deprecated = meta["org.freedesktop.DBus.Deprecated"] == "true"
	m.NoReply = meta["org.freedesktop.DBus.Method.NoReply"] == "true"
	return nil
}

// SignalDescription describes a DBus signal.
//
// Signal descriptions are provided by the DBus peer emitting the
// signal, and may not accurately reflect the received signal.
type SignalDescription struct {
	Name string
	Args []ArgumentDescription
	// Deprecated, if true, indicates that the signal should be
	// avoided in new code.
	Deprecated bool
}

func (s SignalDescription) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "signal %s(", s.Name)
	writeArgList(&b, s.Args)
	b.WriteByte(')')
	if s.Deprecated {
		b.WriteString(" [deprecated]")
	}
	return b.String()
}

func (s *SignalDescription) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw struct {
		Name       string `xml:"name,attr"`
		Attributes []struct {
			Name string `xml:"name,attr"`
			Type string `xml:"type,attr"`
		} `xml:"arg"`
		Meta []annotation `xml:"annotation"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	s.Name = raw.Name
	s.Args = nil
	for _, attr := range raw.Attributes {
		sig, err := ParseSignature(attr.Type)
		if err != nil {
			return fmt.Errorf("invalid signature %q for signal arg %s: %w", attr.Type, attr.Name, err)
		}
		s.Args = append(s.Args, ArgumentDescription{Name: attr.Name, Type: sig})
	}
	s.Deprecated = annotations(raw.Meta)["org.freedesktop.DBus.Deprecated"] == "true"
	return nil
}

// PropertyDescription describes a DBus property.
//
// Property descriptions are provied by the DBus peer offering the
// property, and may not accurately reflect the actual property.
type PropertyDescription struct {
	Name string
	Type Signature

	// If true, Constant indicates that the property's value never
	// changes, and thus can safely be cached locally.
	Constant bool
	// Readable is whether the property value can be read using
	// Interface.GetProperty.
	Readable bool
	// Writable is whether the property value can be set using
	// Interface.SetProperty
	Writable bool

	// EmitsSignal is whether the property emits a PropertiesChanged
	// signal when updated.
	EmitsSignal bool
	// SignalIncludesValue is whether the PropertiesChanged signal
	// emitted when this property changes includes the new value. If
	// false, the signal merely reports that the property's value has
	// been invalidated, and the recipient must use
	// Interface.GetProperty to retrieve the updated value.
	SignalIncludesValue bool

	// Deprecated, if true, indicates that the property should be
	// avoided in new code.
	Deprecated bool
}

func (p PropertyDescription) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "property %s %s [", p.Name, p.Type.Type())
	switch {
	case p.Readable && !p.Writable && p.Constant:
		b.WriteString("const")
	case p.Readable && p.Writable:
		b.WriteString("readwrite")
	case p.Readable:
		b.WriteString("readonly")
	case p.Writable:
		b.WriteString("writeonly")
	}
	if p.Deprecated {
		b.WriteString(",deprecated")
	}
	switch {
	case p.EmitsSignal && p.SignalIncludesValue:
		b.WriteString(",signals")
	case p.EmitsSignal:
		b.WriteString(",invalidates")
	}
	b.WriteByte(']')
	return b.String()
}

func (p *PropertyDescription) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw struct {
		Name   string       `xml:"name,attr"`
		Type   string       `xml:"type,attr"`
		Access string       `xml:"access,attr"`
		Meta   []annotation `xml:"annotation"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	p.Name = raw.Name
	sig, err := ParseSignature(raw.Type)
	if err != nil {
		return fmt.Errorf("invalid signature %q for property %s: %w", raw.Type, raw.Name, err)
	}
	p.Type = sig
	p.Constant, p.EmitsSignal, p.SignalIncludesValue = false, true, true
	switch raw.Access {
	case "read":
		p.Readable, p.Writable = true, false
	case "write":
		p.Readable, p.Writable = false, true
	case "readwrite":
		p.Readable, p.Writable = true, true
	default:
		return fmt.Errorf("unknown property access value %q", raw.Access)
	}
	meta := annotations(raw.Meta)
	p.Deprecated = meta["org.freedesktop.DBus.Deprecated"] == "true"
	switch meta["org.freedesktop.DBus.Property.EmitsChangedSignal"] {
	case "false":
		p.EmitsSignal, p.SignalIncludesValue = false, false
	case "invalidates":
		p.SignalIncludesValue = false
	case "const":
		p.Constant, p.EmitsSignal, p.SignalIncludesValue = true, false, false
	}
	return nil
}

// ArgumentDescription describes a DBus method's input or output, or a
// signal's argument.
type ArgumentDescription struct {
	Name string // optional
	Type Signature
}

func (a ArgumentDescription) String() string {
	if a.Name == "" {
		return a.Type.Type().String()
	}
	// Older interfaces spell argument names with dashes, which reads
	// oddly next to C- and Go-style identifiers. Argument names carry
	// no correctness weight, so normalize to underscores for display.
	name := strings.ReplaceAll(a.Name, "-", "_")
	return fmt.Sprintf("%s %s", name, a.Type.Type())
}

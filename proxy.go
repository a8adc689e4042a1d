package dbus

import (
	"context"
	"encoding/xml"
	"fmt"
)

// Call invokes method on o's default interface (the bus interface,
// org.freedesktop.DBus) and decodes the single return value as T.
//
// Call exists to give the strongly-typed bus wrapper methods in
// bus.go a terse way to round-trip a request/response pair without
// hand-rolling a response variable at every call site.
func Call[T any, ReqT any](ctx context.Context, o Object, method string, req ReqT, opts ...CallOption) (T, error) {
	var resp T
	err := o.Conn().call(ctx, o.Peer().Name(), o.path, ifaceBus, method, req, &resp, opts...)
	return resp, err
}

// propertySource is implemented by the types that GetProperty can
// read a property from: a bare [Object] (assumed to expose properties
// under the bus interface) or a specific [Interface].
type propertySource interface {
	asInterface() Interface
}

func (o Object) asInterface() Interface    { return o.Interface(ifaceBus) }
func (f Interface) asInterface() Interface { return f }

// GetProperty reads a property by name from s and decodes it as T.
func GetProperty[T any, S propertySource](ctx context.Context, s S, name string, opts ...CallOption) (T, error) {
	var zero T
	iface := s.asInterface()
	var val T
	if err := iface.GetProperty(ctx, name, &val); err != nil {
		return zero, err
	}
	return val, nil
}

// Proxy is a dynamically constructed view of a remote object, built
// from its introspection XML rather than from Go types known at
// compile time.
//
// Proxy is useful for generic tooling (the command line client,
// debugging utilities) that needs to interact with arbitrary objects
// without a matching set of hand-written bindings.
type Proxy struct {
	obj  Object
	desc *ObjectDescription
}

// NewProxy introspects obj and returns a Proxy describing its
// interfaces, methods, properties and signals.
func NewProxy(ctx context.Context, obj Object, opts ...CallOption) (*Proxy, error) {
	desc, err := obj.Introspect(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("introspecting %s: %w", obj, err)
	}
	return &Proxy{obj: obj, desc: desc}, nil
}

// Object returns the object the proxy describes.
func (p *Proxy) Object() Object { return p.obj }

// Describe returns the introspected shape of the proxied object.
func (p *Proxy) Describe() *ObjectDescription { return p.desc }

// Interfaces returns the names of the interfaces the proxy knows
// about.
func (p *Proxy) Interfaces() []string {
	ret := make([]string, 0, len(p.desc.Interfaces))
	for name := range p.desc.Interfaces {
		ret = append(ret, name)
	}
	return ret
}

// HasMethod reports whether the named interface offers a method with
// the given name.
func (p *Proxy) HasMethod(interfaceName, method string) bool {
	iface, ok := p.desc.Interfaces[interfaceName]
	if !ok {
		return false
	}
	for _, m := range iface.Methods {
		if m.Name == method {
			return true
		}
	}
	return false
}

// Call invokes method on the named interface, after checking that the
// introspected interface actually offers it.
//
// As with [Interface.Call], it is the caller's responsibility to
// supply a body and response whose DBus signatures match the method
// being invoked; Call only validates that the method exists, not that
// its types line up.
func (p *Proxy) Call(ctx context.Context, interfaceName, method string, body, response any, opts ...CallOption) error {
	iface, ok := p.desc.Interfaces[interfaceName]
	if !ok {
		return fmt.Errorf("object %s has no interface %s", p.obj, interfaceName)
	}
	found := false
	for _, m := range iface.Methods {
		if m.Name == method {
			found = true
			if m.NoReply && response != nil {
				return fmt.Errorf("method %s.%s is one-way, cannot decode a response", interfaceName, method)
			}
			break
		}
	}
	if !found {
		return fmt.Errorf("interface %s has no method %s", interfaceName, method)
	}
	return p.obj.Interface(interfaceName).Call(ctx, method, body, response, opts...)
}

// ParseIntrospection parses a DBus introspection XML document into an
// [ObjectDescription].
func ParseIntrospection(doc string) (*ObjectDescription, error) {
	var ret ObjectDescription
	if err := xml.Unmarshal([]byte(doc), &ret); err != nil {
		return nil, fmt.Errorf("parsing introspection XML: %w", err)
	}
	return &ret, nil
}

package dbus

import (
	"cmp"
	"context"
	"fmt"
	"maps"
)

type Object struct {
	p    Peer
	path ObjectPath
}

func (o Object) Conn() *Conn      { return o.p.Conn() }
func (o Object) Peer() Peer       { return o.p }
func (o Object) Path() ObjectPath { return o.path }

func (o Object) String() string {
	return fmt.Sprintf("%s:%s", o.p, o.path)
}

// Compare orders objects by peer name, then by path. It gives tooling
// that walks an object tree (such as the CLI's introspection walker) a
// stable traversal order.
func (o Object) Compare(other Object) int {
	if c := cmp.Compare(o.p.name, other.p.name); c != 0 {
		return c
	}
	return cmp.Compare(o.path, other.path)
}

func (o Object) Interface(name string) Interface {
	return Interface{
		o:    o,
		name: name,
	}
}

// Child returns the object at the given path relative to o. relative
// must not start with a "/"; it is typically one of the entries in an
// [ObjectDescription]'s Children field.
func (o Object) Child(relative string) Object {
	if o.path == "/" {
		return o.p.Object(ObjectPath("/" + relative))
	}
	return o.p.Object(o.path + "/" + ObjectPath(relative))
}

// Introspect fetches and parses o's introspection XML document,
// describing its interfaces and child objects as reported by the
// peer hosting it.
func (o Object) Introspect(ctx context.Context, opts ...CallOption) (*ObjectDescription, error) {
	var resp string
	if err := o.Conn().call(ctx, o.p.name, o.path, "org.freedesktop.DBus.Introspectable", "Introspect", nil, &resp, opts...); err != nil {
		return nil, err
	}
	return ParseIntrospection(resp)
}

func (o Object) Interfaces(ctx context.Context, opts ...CallOption) ([]Interface, error) {
	names, err := GetProperty[[]string](ctx, o.Interface("org.freedesktop.DBus"), "Interfaces", opts...)
	if err != nil {
		return nil, err
	}
	ret := make([]Interface, 0, len(names))
	for _, n := range names {
		ret = append(ret, o.Interface(n))
	}
	return ret, nil
}

func (o Object) ManagedObjects(ctx context.Context, opts ...CallOption) (map[Object][]Interface, error) {
	// object path -> interface name -> map[property name]value
	var resp map[ObjectPath]map[string]map[string]Variant
	err := o.Conn().call(ctx, o.p.name, o.path, "org.freedesktop.DBus.ObjectManager", "GetManagedObjects", nil, &resp, opts...)
	if err != nil {
		return nil, err
	}
	ret := make(map[Object][]Interface, len(resp))
	for path, ifs := range resp {
		// TODO: validate that path is a subpath of the current object
		child := o.Peer().Object(path)
		ifaces := make([]Interface, 0, len(ifs))
		for ifname := range maps.Keys(ifs) {
			ifaces = append(ifaces, child.Interface(ifname))
		}
		ret[o.Peer().Object(path)] = ifaces
	}
	return ret, nil
}

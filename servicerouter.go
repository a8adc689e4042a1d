package dbus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/opendbus/godbus/fragments"
)

// routeError is a ServiceRouter-raised failure that carries the
// reverse-DNS error name to send back on the wire, distinct from a
// plain Go error which the router reports as
// org.freedesktop.DBus.Error.Failed.
type routeError struct {
	Name   string
	Detail string
}

func (e *routeError) Error() string {
	if e.Detail == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Detail)
}

func unknownObject(path ObjectPath) error {
	return &routeError{"org.freedesktop.DBus.Error.UnknownObject", fmt.Sprintf("no object at %s", path)}
}

func unknownInterface(path ObjectPath, name string) error {
	return &routeError{"org.freedesktop.DBus.Error.UnknownInterface", fmt.Sprintf("no interface %s at %s", name, path)}
}

func unknownMethod(iface, member string) error {
	return &routeError{"org.freedesktop.DBus.Error.UnknownMethod", fmt.Sprintf("no method %s on interface %s", member, iface)}
}

func invalidArgs(detail string) error {
	return &routeError{"org.freedesktop.DBus.Error.InvalidArgs", detail}
}

// ServiceRouter dispatches inbound method calls to the InterfaceModels
// exported on a Connection, and itself implements the standard
// org.freedesktop.DBus.{Peer,Introspectable,Properties,ObjectManager}
// interfaces on every exported path.
type ServiceRouter struct {
	c         *Conn
	machineID func() (string, error)

	mu      sync.Mutex
	objects map[ObjectPath]map[string]*builtInterface
	paths   []ObjectPath // kept sorted, for subtree scans
}

func newServiceRouter(c *Conn, machineID func() (string, error)) *ServiceRouter {
	return &ServiceRouter{
		c:         c,
		machineID: machineID,
		objects:   map[ObjectPath]map[string]*builtInterface{},
	}
}

// Export binds model to path, making its methods, properties and
// signals reachable by remote peers. Export replaces any
// previously-exported interface of the same name at path.
func (r *ServiceRouter) Export(path ObjectPath, model *InterfaceModel) error {
	if err := path.Valid(); err != nil {
		return err
	}
	bi, err := model.build()
	if err != nil {
		return err
	}

	r.mu.Lock()
	ifaces, existed := r.objects[path]
	if !existed {
		ifaces = map[string]*builtInterface{}
		r.objects[path] = ifaces
		r.insertPathLocked(path)
	}
	ifaces[bi.name] = bi
	r.mu.Unlock()

	r.emitInterfacesAdded(path, []string{bi.name})
	return nil
}

// Unexport removes interfaceName from path. If path has no exported
// interfaces left afterward, it is dropped from the export table.
func (r *ServiceRouter) Unexport(path ObjectPath, interfaceName string) {
	r.mu.Lock()
	ifaces, ok := r.objects[path]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := ifaces[interfaceName]; !ok {
		r.mu.Unlock()
		return
	}
	delete(ifaces, interfaceName)
	if len(ifaces) == 0 {
		delete(r.objects, path)
		r.removePathLocked(path)
	}
	r.mu.Unlock()

	r.emitInterfacesRemoved(path, []string{interfaceName})
}

// dispatch resolves (path, interfaceName, member) and invokes the
// matching handler, returning the reply body (nil for none) or an
// error to send back as an ERROR reply.
func (r *ServiceRouter) dispatch(ctx context.Context, path ObjectPath, interfaceName, member string, req *fragments.Decoder) (any, error) {
	switch interfaceName {
	case ifacePeer:
		return r.dispatchPeer(member)
	case ifaceIntrospect:
		if member != "Introspect" {
			return nil, unknownMethod(ifaceIntrospect, member)
		}
		return r.introspect(path)
	case ifaceProps:
		return r.dispatchProps(ctx, path, member, req)
	case ifaceObjectManager:
		if member != "GetManagedObjects" {
			return nil, unknownMethod(ifaceObjectManager, member)
		}
		return r.getManagedObjects(path), nil
	case "":
		return r.dispatchAmbiguous(ctx, path, member, req)
	}

	meth, err := r.lookupMethod(path, interfaceName, member)
	if err != nil {
		return nil, err
	}
	return meth.handler(ctx, path, req)
}

func (r *ServiceRouter) lookupMethod(path ObjectPath, interfaceName, member string) (*Method, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ifaces, ok := r.objects[path]
	if !ok {
		return nil, unknownObject(path)
	}
	bi, ok := ifaces[interfaceName]
	if !ok {
		return nil, unknownInterface(path, interfaceName)
	}
	meth, ok := bi.methods[member]
	if !ok {
		return nil, unknownMethod(interfaceName, member)
	}
	return meth, nil
}

// dispatchAmbiguous implements the empty-interface calling convention:
// find the unique user interface on path offering member, or fail
// with InvalidArgs if zero or more than one do.
func (r *ServiceRouter) dispatchAmbiguous(ctx context.Context, path ObjectPath, member string, req *fragments.Decoder) (any, error) {
	r.mu.Lock()
	ifaces, ok := r.objects[path]
	if !ok {
		r.mu.Unlock()
		return nil, unknownObject(path)
	}
	var candidate *Method
	matches := 0
	for _, bi := range ifaces {
		if m, ok := bi.methods[member]; ok {
			candidate = m
			matches++
		}
	}
	r.mu.Unlock()

	switch matches {
	case 0:
		return nil, invalidArgs(fmt.Sprintf("no interface on %s offers method %s", path, member))
	case 1:
		return candidate.handler(ctx, path, req)
	default:
		return nil, invalidArgs(fmt.Sprintf("method %s on %s is ambiguous across %d interfaces", member, path, matches))
	}
}

func (r *ServiceRouter) dispatchPeer(member string) (any, error) {
	switch member {
	case "Ping":
		return nil, nil
	case "GetMachineId":
		if r.machineID == nil {
			return nil, unknownMethod(ifacePeer, member)
		}
		return r.machineID()
	}
	return nil, unknownMethod(ifacePeer, member)
}

type getPropertyReq struct {
	InterfaceName string
	PropertyName  string
}

type setPropertyReq struct {
	InterfaceName string
	PropertyName  string
	Value         Variant
}

func (r *ServiceRouter) dispatchProps(ctx context.Context, path ObjectPath, member string, req *fragments.Decoder) (any, error) {
	switch member {
	case "Get":
		var args getPropertyReq
		if err := req.Value(ctx, &args); err != nil {
			return nil, err
		}
		prop, err := r.lookupProperty(path, args.InterfaceName, args.PropertyName)
		if err != nil {
			return nil, err
		}
		if !prop.Access.readable() {
			return nil, &routeError{"org.freedesktop.DBus.Error.PropertyWriteOnly", args.PropertyName}
		}
		val, err := prop.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		return Variant{val}, nil

	case "Set":
		var args setPropertyReq
		if err := req.Value(ctx, &args); err != nil {
			return nil, err
		}
		prop, err := r.lookupProperty(path, args.InterfaceName, args.PropertyName)
		if err != nil {
			return nil, err
		}
		if !prop.Access.writable() {
			return nil, &routeError{"org.freedesktop.DBus.Error.PropertyReadOnly", args.PropertyName}
		}
		if err := prop.Set(ctx, path, args.Value.Value); err != nil {
			return nil, err
		}
		r.emitPropertyChange(path, args.InterfaceName, prop, args.PropertyName, args.Value)
		return nil, nil

	case "GetAll":
		var interfaceName string
		if err := req.Value(ctx, &interfaceName); err != nil {
			return nil, err
		}
		r.mu.Lock()
		bi, ok := r.objects[path][interfaceName]
		r.mu.Unlock()
		if !ok {
			return nil, unknownInterface(path, interfaceName)
		}
		ret := map[string]Variant{}
		for _, name := range bi.propertyOrder {
			prop := bi.properties[name]
			if !prop.Access.readable() {
				continue
			}
			val, err := prop.Get(ctx, path)
			if err != nil {
				return nil, err
			}
			ret[name] = Variant{val}
		}
		return ret, nil
	}
	return nil, unknownMethod(ifaceProps, member)
}

func (r *ServiceRouter) lookupProperty(path ObjectPath, interfaceName, propertyName string) (*Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ifaces, ok := r.objects[path]
	if !ok {
		return nil, unknownObject(path)
	}
	bi, ok := ifaces[interfaceName]
	if !ok {
		return nil, unknownInterface(path, interfaceName)
	}
	prop, ok := bi.properties[propertyName]
	if !ok {
		return nil, invalidArgs(fmt.Sprintf("no property %s on interface %s", propertyName, interfaceName))
	}
	return prop, nil
}

func (r *ServiceRouter) emitPropertyChange(path ObjectPath, interfaceName string, prop *Property, name string, val Variant) {
	switch prop.Emit {
	case EmitFalse, EmitConst:
		return
	case EmitInvalidates:
		r.c.EmitSignal(context.Background(), path, PropertiesChanged{
			InterfaceName: interfaceName,
			Invalidated:   []string{name},
		})
	case EmitTrue:
		r.c.EmitSignal(context.Background(), path, PropertiesChanged{
			InterfaceName: interfaceName,
			Changed:       map[string]Variant{name: val},
		})
	}
}

// introspect renders the introspection XML for path: its non-disabled
// interfaces, plus a <node> stub for every direct child discovered by
// scanning the export table for paths that have path as a strict
// prefix.
func (r *ServiceRouter) introspect(path ObjectPath) (string, error) {
	r.mu.Lock()
	ifaces, ok := r.objects[path]
	children := r.directChildrenLocked(path)
	r.mu.Unlock()

	if !ok && len(children) == 0 {
		return "", unknownObject(path)
	}

	var b strings.Builder
	b.WriteString(`<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN" "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">` + "\n")
	fmt.Fprintf(&b, "<node name=%q>\n", path)
	b.WriteString(introspectStandardInterfaces)
	for name, bi := range ifaces {
		writeInterfaceXML(&b, name, bi)
	}
	for _, child := range children {
		fmt.Fprintf(&b, "  <node name=%q/>\n", child)
	}
	b.WriteString("</node>\n")
	return b.String(), nil
}

const introspectStandardInterfaces = `  <interface name="org.freedesktop.DBus.Peer">
    <method name="Ping"/>
    <method name="GetMachineId"><arg type="s" direction="out"/></method>
  </interface>
  <interface name="org.freedesktop.DBus.Introspectable">
    <method name="Introspect"><arg type="s" direction="out"/></method>
  </interface>
  <interface name="org.freedesktop.DBus.Properties">
    <method name="Get"><arg type="s" direction="in"/><arg type="s" direction="in"/><arg type="v" direction="out"/></method>
    <method name="Set"><arg type="s" direction="in"/><arg type="s" direction="in"/><arg type="v" direction="in"/></method>
    <method name="GetAll"><arg type="s" direction="in"/><arg type="a{sv}" direction="out"/></method>
  </interface>
  <interface name="org.freedesktop.DBus.ObjectManager">
    <method name="GetManagedObjects"><arg type="a{oa{sa{sv}}}" direction="out"/></method>
  </interface>
`

func writeInterfaceXML(b *strings.Builder, name string, bi *builtInterface) {
	fmt.Fprintf(b, "  <interface name=%q>\n", name)
	for _, mname := range bi.methodOrder {
		m := bi.methods[mname]
		fmt.Fprintf(b, "    <method name=%q>\n", mname)
		if !m.inSig.IsZero() {
			fmt.Fprintf(b, "      <arg type=%q direction=\"in\"/>\n", m.inSig.String())
		}
		if !m.outSig.IsZero() {
			fmt.Fprintf(b, "      <arg type=%q direction=\"out\"/>\n", m.outSig.String())
		}
		if m.Deprecated {
			b.WriteString("      <annotation name=\"org.freedesktop.DBus.Deprecated\" value=\"true\"/>\n")
		}
		if m.NoReply {
			b.WriteString("      <annotation name=\"org.freedesktop.DBus.Method.NoReply\" value=\"true\"/>\n")
		}
		b.WriteString("    </method>\n")
	}
	for _, sname := range bi.signalOrder {
		s := bi.signals[sname]
		fmt.Fprintf(b, "    <signal name=%q>\n", sname)
		if !s.sig.IsZero() {
			fmt.Fprintf(b, "      <arg type=%q/>\n", s.sig.String())
		}
		b.WriteString("    </signal>\n")
	}
	for _, pname := range bi.propertyOrder {
		p := bi.properties[pname]
		access := "read"
		switch {
		case p.Access.readable() && p.Access.writable():
			access = "readwrite"
		case p.Access.writable():
			access = "write"
		}
		fmt.Fprintf(b, "    <property name=%q type=%q access=%q>\n", pname, p.sig.String(), access)
		switch p.Emit {
		case EmitFalse:
			b.WriteString("      <annotation name=\"org.freedesktop.DBus.Property.EmitsChangedSignal\" value=\"false\"/>\n")
		case EmitInvalidates:
			b.WriteString("      <annotation name=\"org.freedesktop.DBus.Property.EmitsChangedSignal\" value=\"invalidates\"/>\n")
		case EmitConst:
			b.WriteString("      <annotation name=\"org.freedesktop.DBus.Property.EmitsChangedSignal\" value=\"const\"/>\n")
		}
		b.WriteString("    </property>\n")
	}
	b.WriteString("  </interface>\n")
}


package dbus

// Well-known interface names defined by the DBus specification.
const (
	ifaceBus           = "org.freedesktop.DBus"
	ifacePeer          = "org.freedesktop.DBus.Peer"
	ifaceIntrospect    = "org.freedesktop.DBus.Introspectable"
	ifaceProps         = "org.freedesktop.DBus.Properties"
	ifaceObjectManager = "org.freedesktop.DBus.ObjectManager"
)

// NameOwnerChanged is the payload of org.freedesktop.DBus's
// NameOwnerChanged signal, emitted whenever a bus name's owner
// changes (including acquisition and loss).
type NameOwnerChanged struct {
	Name     string
	OldOwner string
	NewOwner string
}

// NameLost is the payload of org.freedesktop.DBus's NameLost signal,
// sent to a client that has just lost ownership of a bus name.
type NameLost struct {
	Name string
}

// NameAcquired is the payload of org.freedesktop.DBus's NameAcquired
// signal, sent to a client that has just gained ownership of a bus
// name.
type NameAcquired struct {
	Name string
}

// ActivatableServicesChanged is the payload of org.freedesktop.DBus's
// ActivatableServicesChanged signal. It carries no data; receipt
// means the caller should re-query ListActivatableNames.
type ActivatableServicesChanged struct{}

// PropertiesChanged is the payload of
// org.freedesktop.DBus.Properties's PropertiesChanged signal.
type PropertiesChanged struct {
	InterfaceName string
	Changed       map[string]Variant
	Invalidated   []string
}

// InterfacesAdded is the payload of
// org.freedesktop.DBus.ObjectManager's InterfacesAdded signal.
type InterfacesAdded struct {
	Path       ObjectPath
	Interfaces map[string]map[string]Variant
}

// InterfacesRemoved is the payload of
// org.freedesktop.DBus.ObjectManager's InterfacesRemoved signal.
type InterfacesRemoved struct {
	Path       ObjectPath
	Interfaces []string
}

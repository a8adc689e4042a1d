package dbus

func init() {
	// org.freedesktop.DBus itself.
	RegisterSignalType[NameOwnerChanged]("org.freedesktop.DBus", "NameOwnerChanged")
	RegisterSignalType[NameLost]("org.freedesktop.DBus", "NameLost")
	RegisterSignalType[NameAcquired]("org.freedesktop.DBus", "NameAcquired")
	RegisterSignalType[ActivatableServicesChanged]("org.freedesktop.DBus", "ActivatableServicesChanged")

	// The standard property and object-manager interfaces every
	// service implicitly exposes.
	RegisterSignalType[PropertiesChanged]("org.freedesktop.DBus.Properties", "PropertiesChanged")
	RegisterSignalType[InterfacesAdded]("org.freedesktop.DBus.ObjectManager", "InterfacesAdded")
	RegisterSignalType[InterfacesRemoved]("org.freedesktop.DBus.ObjectManager", "InterfacesRemoved")
}

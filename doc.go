// Package dbus implements a client and service framework for the
// DBus message bus protocol.
//
// A [Conn] carries a connection to a bus daemon or a direct peer. Use
// [Dial], [SystemBus], or [SessionBus] to obtain one, then
// [Conn.Peer] to address a remote peer and [Object.Interface] to
// invoke its methods.
//
// To expose objects of your own, build an [InterfaceModel] and pass
// it to [Conn.Export].
//
// [Marshal] and [Unmarshal] describe how Go values are encoded to and
// decoded from the DBus wire format; most callers never need to
// invoke them directly, since method calls and object exports take
// care of (un)marshaling arguments and return values automatically.
package dbus

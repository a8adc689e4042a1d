package dbus

import (
	"cmp"
	"context"
	"strings"
)

type Peer struct {
	c    *Conn
	name string
}

func (p Peer) Ping(ctx context.Context, opts ...CallOption) error {
	return p.Conn().call(ctx, p.name, "/", "org.freedesktop.DBus.Peer", "Ping", nil, nil, opts...)
}

func (p Peer) Conn() *Conn  { return p.c }
func (p Peer) Name() string { return p.name }

func (p Peer) String() string {
	if p.c == nil {
		return "<no peer>"
	}
	return p.name
}

// Compare orders peers by name, giving a stable, deterministic order
// to sorted peer lists.
func (p Peer) Compare(other Peer) int {
	return cmp.Compare(p.name, other.name)
}

// IsUniqueName reports whether p is a unique connection name (of the
// form ":1.42") rather than a well-known bus name.
func (p Peer) IsUniqueName() bool {
	return strings.HasPrefix(p.name, ":")
}

// Exists reports whether p is currently connected to the bus.
func (p Peer) Exists(ctx context.Context) (bool, error) {
	return p.c.NameHasOwner(ctx, p.name)
}

// Owner returns the unique connection name currently owning p's
// bus name. If p is already a unique name, Owner returns p itself.
func (p Peer) Owner(ctx context.Context) (Peer, error) {
	if p.IsUniqueName() {
		return p, nil
	}
	name, err := p.c.GetNameOwner(ctx, p.name)
	if err != nil {
		return Peer{}, err
	}
	return p.c.Peer(name), nil
}

// Identity returns the credentials the bus recorded for the
// connection that owns p's bus name.
func (p Peer) Identity(ctx context.Context) (*PeerCredentials, error) {
	return p.c.GetPeerCredentials(ctx, p.name)
}

// UID returns the numeric user ID of the connection owning p's bus
// name.
//
// Deprecated: use [Peer.Identity], which returns every identity
// attribute the bus knows about in one round trip.
func (p Peer) UID(ctx context.Context) (uint32, error) {
	return p.c.GetPeerUID(ctx, p.name)
}

// PID returns the process ID of the connection owning p's bus name.
//
// Deprecated: use [Peer.Identity], which returns every identity
// attribute the bus knows about in one round trip.
func (p Peer) PID(ctx context.Context) (uint32, error) {
	return p.c.GetPeerPID(ctx, p.name)
}

func (p Peer) Object(path ObjectPath) Object {
	return Object{
		p:    p,
		path: path,
	}
}

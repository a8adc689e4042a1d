package dbus

import (
	"errors"
	"fmt"
	"reflect"
)

// Sentinel errors returned by [Conn] and its associated types.
// Callers can match them with errors.Is even after they've been
// wrapped with additional context.
var (
	// ErrDisconnected is returned by operations attempted on a [Conn]
	// that has been closed, or that lost its connection to the bus
	// while the operation was in flight.
	ErrDisconnected = errors.New("disconnected from dbus")

	// ErrTimeout is returned by [Conn] method calls whose deadline
	// elapsed before a reply arrived.
	ErrTimeout = errors.New("dbus call timed out")

	// ErrAuthFailed reports that the SASL handshake with a bus failed
	// to authenticate. The transports in this module report handshake
	// failures with their own errors, which do not wrap ErrAuthFailed.
	ErrAuthFailed = errors.New("dbus authentication failed")

	// ErrInvalidSignature is returned when a value's DBus signature is
	// malformed or unrepresentable.
	ErrInvalidSignature = errors.New("invalid dbus signature")

	// ErrInvalidObjectPath is returned when a string does not follow
	// the DBus object path grammar.
	ErrInvalidObjectPath = errors.New("invalid dbus object path")

	// ErrInvalidBusName is returned when a string does not follow the
	// DBus bus name grammar.
	ErrInvalidBusName = errors.New("invalid dbus bus name")

	// ErrInvalidInterfaceName is returned when a string does not
	// follow the DBus interface name grammar.
	ErrInvalidInterfaceName = errors.New("invalid dbus interface name")

	// ErrInvalidMemberName is returned when a string does not follow
	// the DBus member (method, signal, property) name grammar.
	ErrInvalidMemberName = errors.New("invalid dbus member name")
)

// TypeError is the error returned when a type cannot be represented
// in the DBus wire format.
type TypeError struct {
	// Type is the name of the type that caused the error.
	Type string
	// Reason is an explanation of why the type isn't representable by
	// DBus.
	Reason error
}

func (e TypeError) Error() string {
	return fmt.Sprintf("dbus cannot represent %s: %s", e.Type, e.Reason)
}

func (e TypeError) Unwrap() error {
	return e.Reason
}

func typeErr(t reflect.Type, reason string, args ...any) error {
	ts := ""
	if t != nil {
		ts = t.String()
	}
	return TypeError{ts, fmt.Errorf(reason, args...)}
}

// CallError is the error returned from failed DBus method calls.
type CallError struct {
	// Name is the error name provided by the remote peer.
	Name string
	// Detail is the human-readable explanation of what went wrong.
	Detail string
}

func (e CallError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("call error %s", e.Name)
	}
	return fmt.Sprintf("call error %s: %s", e.Name, e.Detail)
}

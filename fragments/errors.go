package fragments

import "errors"

// Sentinel errors returned by [Decoder] when a message violates the
// DBus wire format. Callers can match them with errors.Is even after
// they've been wrapped with additional context.
var (
	// ErrTruncated is returned when the input ends before a complete
	// value could be read.
	ErrTruncated = errors.New("truncated dbus message")

	// ErrBadUTF8 is returned when a string value is not valid UTF-8.
	ErrBadUTF8 = errors.New("string is not valid utf-8")

	// ErrEmbeddedNUL is returned when a string value contains a NUL
	// byte before its terminator.
	ErrEmbeddedNUL = errors.New("string contains embedded NUL byte")

	// ErrArrayTooLong is returned when an array's declared byte length
	// exceeds the maximum permitted by the DBus specification (64
	// MiB).
	ErrArrayTooLong = errors.New("array exceeds maximum length")

	// ErrBadBoolean is returned when a boolean value's wire
	// representation is a value other than 0 or 1.
	ErrBadBoolean = errors.New("boolean value is neither 0 nor 1")
)

// MaxArrayLength is the largest permissible length, in bytes, of a
// marshalled DBus array.
const MaxArrayLength = 64 * 1024 * 1024

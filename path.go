package dbus

import (
	"context"
	"fmt"
	"path"
	"reflect"
	"strings"

	"github.com/opendbus/godbus/fragments"
)

type ObjectPath string

func (p ObjectPath) MarshalDBus(ctx context.Context, st *fragments.Encoder) error {
	st.Value(ctx, string(p))
	return nil
}

func (p *ObjectPath) UnmarshalDBus(ctx context.Context, st *fragments.Decoder) error {
	var s string
	if err := st.Value(ctx, &s); err != nil {
		return err
	}
	*p = ObjectPath(s)
	return nil
}

func (p ObjectPath) IsDBusStruct() bool { return false }

var objectPathSignature = mkSignature(reflect.TypeFor[ObjectPath](), "o")

func (p ObjectPath) SignatureDBus() Signature { return objectPathSignature }

// Valid reports whether p follows the DBus object path grammar: an
// absolute, slash-separated sequence of elements drawn from
// [A-Za-z0-9_], with no empty elements and no trailing slash (except
// for the root path "/" itself).
func (p ObjectPath) Valid() error {
	s := string(p)
	if s == "" || s[0] != '/' {
		return fmt.Errorf("%w: %q must start with /", ErrInvalidObjectPath, s)
	}
	if s == "/" {
		return nil
	}
	if strings.HasSuffix(s, "/") {
		return fmt.Errorf("%w: %q must not end with /", ErrInvalidObjectPath, s)
	}
	for _, elem := range strings.Split(s[1:], "/") {
		if elem == "" {
			return fmt.Errorf("%w: %q has an empty path element", ErrInvalidObjectPath, s)
		}
		for _, r := range elem {
			if !isPathElementByte(r) {
				return fmt.Errorf("%w: %q contains invalid character %q", ErrInvalidObjectPath, s, r)
			}
		}
	}
	return nil
}

func isPathElementByte(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

// IsSubpath reports whether p is child, or child itself, i.e. whether
// child's path elements start with all of p's path elements.
func (p ObjectPath) IsSubpath(child ObjectPath) bool {
	if p == "/" {
		return true
	}
	return child == p || strings.HasPrefix(string(child), string(p)+"/")
}

// String returns p as a plain string.
func (p ObjectPath) String() string { return string(p) }

// IsChildOf reports whether p lies strictly below parent.
func (p ObjectPath) IsChildOf(parent ObjectPath) bool {
	return p != parent && parent.IsSubpath(p)
}

// Clean returns p with redundant slashes and "." and ".." elements
// resolved, as [path.Clean] does.
func (p ObjectPath) Clean() ObjectPath { return ObjectPath(path.Clean(string(p))) }

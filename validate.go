package dbus

import (
	"fmt"
	"strings"
)

// validateInterfaceName checks name against the DBus interface name
// grammar: two or more dot-separated elements, each starting with a
// letter or underscore and continuing with letters, digits or
// underscores, the whole name at most 255 bytes.
func validateInterfaceName(name string) error {
	if len(name) == 0 || len(name) > 255 {
		return fmt.Errorf("%w: %q has invalid length", ErrInvalidInterfaceName, name)
	}
	elems := strings.Split(name, ".")
	if len(elems) < 2 {
		return fmt.Errorf("%w: %q must have at least two elements", ErrInvalidInterfaceName, name)
	}
	for _, e := range elems {
		if err := validateNameElement(e); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidInterfaceName, name, err)
		}
	}
	return nil
}

// validateBusName checks name against the DBus bus name grammar. It
// accepts both well-known names (interface-name-shaped, but elements
// may start with a digit) and unique names (a leading ':' followed by
// dot-separated elements).
func validateBusName(name string) error {
	if len(name) == 0 || len(name) > 255 {
		return fmt.Errorf("%w: %q has invalid length", ErrInvalidBusName, name)
	}
	unique := strings.HasPrefix(name, ":")
	body := name
	if unique {
		body = name[1:]
	}
	elems := strings.Split(body, ".")
	if !unique && len(elems) < 2 {
		return fmt.Errorf("%w: %q must have at least two elements", ErrInvalidBusName, name)
	}
	for _, e := range elems {
		if e == "" {
			return fmt.Errorf("%w: %q has an empty element", ErrInvalidBusName, name)
		}
		for i, r := range e {
			ok := r == '_' || r == '-' ||
				(r >= 'a' && r <= 'z') ||
				(r >= 'A' && r <= 'Z') ||
				(unique && r >= '0' && r <= '9') ||
				(!unique && i > 0 && r >= '0' && r <= '9')
			if !ok {
				return fmt.Errorf("%w: %q contains invalid character %q", ErrInvalidBusName, name, r)
			}
		}
	}
	return nil
}

// validateMemberName checks name against the DBus member name
// grammar used by methods, signals and properties: a single element,
// at most 255 bytes, starting with a letter or underscore.
func validateMemberName(name string) error {
	if len(name) == 0 || len(name) > 255 {
		return fmt.Errorf("%w: %q has invalid length", ErrInvalidMemberName, name)
	}
	if strings.Contains(name, ".") {
		return fmt.Errorf("%w: %q must not contain a dot", ErrInvalidMemberName, name)
	}
	if err := validateNameElement(name); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidMemberName, name, err)
	}
	return nil
}

func validateNameElement(e string) error {
	if e == "" {
		return fmt.Errorf("empty element")
	}
	for i, r := range e {
		ok := r == '_' ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(i > 0 && r >= '0' && r <= '9')
		if !ok {
			return fmt.Errorf("invalid character %q", r)
		}
	}
	return nil
}

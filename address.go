package dbus

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/opendbus/godbus/transport"
)

// busAddress is one parsed entry of a DBus address string: a
// transport name and its key=value parameters.
type busAddress struct {
	transport string
	params    map[string]string
}

// parseAddresses parses a DBus address string of the form
// "transport:key=value,key=value;transport:key=value...", with
// %XX-escaped reserved characters in values, into an ordered
// list of candidate transports.
func parseAddresses(s string) ([]busAddress, error) {
	var ret []busAddress
	for _, entry := range strings.Split(s, ";") {
		if entry == "" {
			continue
		}
		name, rest, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("invalid dbus address entry %q: missing transport", entry)
		}
		addr := busAddress{transport: name, params: map[string]string{}}
		if rest != "" {
			for _, kv := range strings.Split(rest, ",") {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return nil, fmt.Errorf("invalid dbus address entry %q: malformed parameter %q", entry, kv)
				}
				dv, err := url.PathUnescape(v)
				if err != nil {
					return nil, fmt.Errorf("invalid dbus address entry %q: %w", entry, err)
				}
				addr.params[k] = dv
			}
		}
		ret = append(ret, addr)
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("empty dbus address string")
	}
	return ret, nil
}

// dial tries each candidate transport in addrs, left to right,
// returning the first one that connects successfully.
func dial(ctx context.Context, addrs []busAddress) (transport.Transport, error) {
	var errs []error
	for _, addr := range addrs {
		t, err := dialOne(ctx, addr)
		if err == nil {
			return t, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr.transport, err))
	}
	return nil, fmt.Errorf("no usable dbus transport in address: %w", combineErrs(errs))
}

func combineErrs(errs []error) error {
	if len(errs) == 0 {
		return fmt.Errorf("no candidates")
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func dialOne(ctx context.Context, addr busAddress) (transport.Transport, error) {
	switch addr.transport {
	case "unix":
		path, err := unixSocketPath(addr.params)
		if err != nil {
			return nil, err
		}
		return transport.DialUnix(ctx, path)
	case "tcp":
		host, port := addr.params["host"], addr.params["port"]
		if host == "" || port == "" {
			return nil, fmt.Errorf("tcp address requires host and port")
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid tcp port %q: %w", port, err)
		}
		return transport.DialTCP(ctx, host, p)
	case "launchd":
		env := addr.params["env"]
		if env == "" {
			return nil, fmt.Errorf("launchd address requires env")
		}
		return transport.DialLaunchd(ctx, env)
	default:
		return nil, fmt.Errorf("unsupported transport %q", addr.transport)
	}
}

func unixSocketPath(params map[string]string) (string, error) {
	if p, ok := params["path"]; ok {
		return p, nil
	}
	if a, ok := params["abstract"]; ok {
		return "@" + a, nil
	}
	if params["runtime"] == "yes" {
		dir := os.Getenv("XDG_RUNTIME_DIR")
		if dir == "" {
			return "", fmt.Errorf("unix:runtime=yes requires XDG_RUNTIME_DIR to be set")
		}
		return dir + "/bus", nil
	}
	return "", fmt.Errorf("unix address must specify path=, abstract= or runtime=yes")
}

// resolveSystemBusAddress returns the address string used to reach
// the system bus: the DBUS_SYSTEM_BUS_ADDRESS environment variable if
// set, else the well-known default socket path.
func resolveSystemBusAddress() string {
	if s := os.Getenv("DBUS_SYSTEM_BUS_ADDRESS"); s != "" {
		return s
	}
	return "unix:path=/run/dbus/system_bus_socket"
}

// resolveSessionBusAddress returns the address string used to reach
// the caller's session bus: the DBUS_SESSION_BUS_ADDRESS environment
// variable, or an error if it is unset, since there is no portable
// well-known default for the session bus.
func resolveSessionBusAddress() (string, error) {
	if s := os.Getenv("DBUS_SESSION_BUS_ADDRESS"); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("session bus not available: DBUS_SESSION_BUS_ADDRESS is not set")
}

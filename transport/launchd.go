package transport

import (
	"context"
	"fmt"
	"os"
)

// DialLaunchd connects to a bus advertised through launchd, macOS's
// session bus bootstrap mechanism. envVar names an environment
// variable (conventionally DBUS_LAUNCHD_SESSION_BUS_SOCKET) whose
// value is the unix socket path launchd created for the bus.
func DialLaunchd(ctx context.Context, envVar string) (Transport, error) {
	path := os.Getenv(envVar)
	if path == "" {
		return nil, fmt.Errorf("launchd bus socket variable %s is not set", envVar)
	}
	return DialUnix(ctx, path)
}

package dbus

import (
	"context"
	"time"
)

// defaultCallTimeout is applied to a method call when the caller's
// context carries no deadline and no explicit timeout option is
// given.
const defaultCallTimeout = 25 * time.Second

// CallOption adjusts the behavior of a single method call.
type CallOption func(*callOptions)

type callOptions struct {
	noReply  bool
	deadline time.Time
	extraFDs int
}

// NoReply tells the peer not to send a reply to this call. The call
// resolves as soon as the message is written to the transport.
func NoReply() CallOption {
	return func(o *callOptions) { o.noReply = true }
}

// WithDeadline overrides the call's deadline.
func WithDeadline(t time.Time) CallOption {
	return func(o *callOptions) { o.deadline = t }
}

// WithTimeout overrides the call's timeout, relative to when the call
// is issued.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.deadline = time.Now().Add(d) }
}

// WithExtraFDCapacity records n as a number of extra file descriptors
// in the call options. The value is not consulted when the call is
// sent, so it does not change how the call is made.
func WithExtraFDCapacity(n int) CallOption {
	return func(o *callOptions) { o.extraFDs = n }
}

func resolveCallOptions(ctx context.Context, opts []CallOption) (context.Context, context.CancelFunc, callOptions) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	if co.deadline.IsZero() {
		if _, ok := ctx.Deadline(); !ok {
			co.deadline = time.Now().Add(defaultCallTimeout)
		}
	}
	if co.deadline.IsZero() {
		return ctx, func() {}, co
	}
	ctx, cancel := context.WithDeadline(ctx, co.deadline)
	return ctx, cancel, co
}

package dbus

import (
	"context"
	"fmt"
)

// requestNameFlag bits, passed to org.freedesktop.DBus's RequestName
// method to control queueing and replacement behavior for a claim.
const (
	flagAllowReplacement uint32 = 1 << iota
	flagReplaceExisting
	flagNoQueue
)

// Claim requests ownership of a bus name.
//
// A bus name may have several simultaneous claimants, but the bus
// hands ownership to only one of them at a time; the [ClaimOptions]
// each claimant supplies governs who owns the name and how ownership
// passes between claimants.
//
// Claiming a name is not the same as owning it. Callers must read
// [Claim.Chan] to learn whether, and when, ownership is granted.
func (c *Conn) Claim(name string, opts ClaimOptions) (*Claim, error) {
	claim := &Claim{
		conn:      c,
		watcher:   c.Watch(),
		ownership: make(chan bool, 1),
		name:      name,
		done:      make(chan struct{}),
	}
	if _, err := claim.watcher.Match(MatchNotification[NameAcquired]().ArgStr(0, name)); err != nil {
		claim.watcher.Close()
		return nil, err
	}
	if _, err := claim.watcher.Match(MatchNotification[NameLost]().ArgStr(0, name)); err != nil {
		claim.watcher.Close()
		return nil, err
	}
	if err := claim.Request(opts); err != nil {
		claim.watcher.Close()
		return nil, err
	}

	c.dispatch.Go(func() error {
		claim.trackOwnership()
		return nil
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims.Add(claim)
	return claim, nil
}

// ClaimOptions govern how a [Claim] competes for ownership of a bus
// name.
type ClaimOptions struct {
	// AllowReplacement permits a later claim with TryReplace set to
	// take ownership away from this one.
	AllowReplacement bool
	// TryReplace attempts to take ownership from the current owner, if
	// any. Replacement only succeeds if the current owner claimed the
	// name with AllowReplacement set; otherwise this claim joins the
	// backup queue, or fails outright if NoQueue is set.
	//
	// TryReplace is evaluated only at the moment the request is made.
	// If replacement fails and the owner later turns on
	// AllowReplacement, a queued claim must call [Claim.Request] again
	// to retry.
	TryReplace bool
	// NoQueue keeps this claim out of the backup queue entirely.
	//
	// If ownership can't be secured immediately, creating the Claim
	// fails. If ownership is secured and later lost (for example,
	// because this claim allowed replacement and another client
	// requested it), the claim goes inactive until [Claim.Request] is
	// called again.
	NoQueue bool
}

func (o ClaimOptions) flags() uint32 {
	var f uint32
	if o.AllowReplacement {
		f |= flagAllowReplacement
	}
	if o.TryReplace {
		f |= flagReplaceExisting
	}
	if o.NoQueue {
		f |= flagNoQueue
	}
	return f
}

// Claim tracks one client's bid for ownership of a bus name.
//
// The bus may see several Claims to the same name from different
// clients; it keeps a single current owner plus a queue of claimants
// eligible to succeed it. How claims interact depends on the
// [ClaimOptions] each one supplied.
type Claim struct {
	conn      *Conn
	watcher   *Watcher
	ownership chan bool
	name      string

	done chan struct{}

	isOwner bool
	opts    ClaimOptions
}

// Request (re-)submits this claim to the bus.
//
// If this Claim already owns the name, Request updates the
// AllowReplacement and NoQueue settings in place without giving up
// ownership — though turning on AllowReplacement may let another
// claimant take over. Otherwise, the bus evaluates this claim fresh,
// as though it were being made for the first time.
func (c *Claim) Request(opts ClaimOptions) error {
	c.opts = opts

	req := struct {
		Name  string
		Flags uint32
	}{Name: c.name, Flags: opts.flags()}

	var resp uint32
	if err := c.conn.bus.Interface(ifaceBus).Call(context.Background(), "RequestName", req, &resp); err != nil {
		return err
	}
	// Reply code 3 means the name is owned by another client and this
	// request was not queued.
	if resp == 3 {
		return fmt.Errorf("bus name %q is owned by another client and this claim does not queue", c.name)
	}
	return nil
}

// Close abandons the claim, releasing ownership of the bus name if
// this claim currently holds it.
func (c *Claim) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	c.watcher.Close()
	<-c.done

	// Report loss of ownership one last time before the channel closes.
	c.reportOwnership(false)
	close(c.ownership)

	var ignore uint32
	return c.conn.bus.Interface(ifaceBus).Call(context.Background(), "ReleaseName", c.name, &ignore)
}

// Name returns the bus name this Claim is competing for.
func (c *Claim) Name() string { return c.name }

// Chan returns a channel reporting whether this Claim currently owns
// its bus name.
func (c *Claim) Chan() <-chan bool { return c.ownership }

// reportOwnership pushes the latest ownership state to Chan, dropping
// any stale unread value first so the channel never blocks a sender
// and never lags behind the true state.
func (c *Claim) reportOwnership(owned bool) {
	select {
	case c.ownership <- owned:
	case <-c.ownership:
		c.ownership <- owned
	}
}

// trackOwnership consumes NameAcquired/NameLost notifications for
// this claim's name and reflects them onto Chan, until the watcher
// backing this claim is closed.
func (c *Claim) trackOwnership() {
	defer close(c.done)
	for n := range c.watcher.Chan() {
		switch body := n.Body.(type) {
		case *NameAcquired:
			if body.Name != c.name {
				continue
			}
			c.isOwner = true
		case *NameLost:
			if body.Name != c.name {
				continue
			}
			c.isOwner = false
		default:
			panic(fmt.Errorf("unexpected signal: %#v", n))
		}
		c.reportOwnership(c.isOwner)
	}
}

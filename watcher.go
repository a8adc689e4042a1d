package dbus

import (
	"context"
	"maps"
	"reflect"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/mds/queue"
)

// pendingQueueLimit bounds how many undelivered notifications a
// Watcher will buffer before it starts dropping the newest ones and
// flagging the loss on the last notification it kept.
const pendingQueueLimit = 20

// Watch opens a Watcher on c that observes signals and property
// changes from other bus participants.
//
// A freshly opened Watcher delivers nothing until [Watcher.Match] is
// called at least once to install a filter.
func (c *Conn) Watch() *Watcher {
	w := &Watcher{
		conn:     c,
		delivery: make(chan *Notification),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		filters:  mapset.New[*Match](),
	}
	go w.pump()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers.Add(w)
	return w
}

// A Watcher delivers bus signals and property changes that satisfy at
// least one of its installed [Match] filters.
type Watcher struct {
	conn     *Conn
	delivery chan *Notification
	wake     chan struct{}

	done    chan struct{}
	stopped chan struct{}

	mu      sync.Mutex
	pending queue.Queue[*Notification]
	filters mapset.Set[*Match]
}

// Notification is a signal or property change observed by a Watcher.
type Notification struct {
	// Sender is the peer that originated the notification.
	Sender Interface
	// Name is the signal name, or the name of the changed property.
	Name string
	// Body is the signal payload or the new property value.
	//
	// For signals, Body is a pointer to the struct type registered
	// with RegisterSignalType for the signal's name, or a pointer to
	// an anonymous struct if none was registered.
	//
	// For property changes, Body is a pointer to the struct type
	// registered with RegisterPropertyChangeType, or a pointer to an
	// anonymous struct if none was registered.
	Body any
	// Overflow reports that notifications following this one were
	// discarded because the caller wasn't draining the Watcher's
	// channel fast enough.
	Overflow bool
}

// Close shuts the Watcher down, removing every filter it installed.
func (w *Watcher) Close() {
	select {
	case <-w.stopped:
		return
	default:
	}

	close(w.done)
	close(w.wake)
	<-w.stopped

	w.mu.Lock()
	defer w.mu.Unlock()
	for m := range w.filters {
		w.conn.removeMatch(context.Background(), m)
	}
	w.pending.Clear()
}

// Chan returns the channel notifications are delivered on.
//
// Callers must drain it promptly: a Watcher that falls behind drops
// the newest notifications and marks the loss via the Overflow field
// of the last [Notification] it managed to keep.
func (w *Watcher) Chan() <-chan *Notification {
	return w.delivery
}

// Match adds m to the set of filters this Watcher accepts
// notifications through. Filters are additive: a notification is
// delivered if any installed filter accepts it.
//
// The returned remove function detaches m without disturbing the
// Watcher's other filters. Calling it is optional if the filter set
// never needs to change for the Watcher's lifetime.
func (w *Watcher) Match(m *Match) (remove func(), err error) {
	if err := w.conn.addMatch(context.Background(), m); err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.filters.Add(m)
	w.mu.Unlock()

	return func() {
		w.conn.removeMatch(context.Background(), m)
		w.mu.Lock()
		delete(w.filters, m)
		w.mu.Unlock()
	}, nil
}

// enqueueLocked adds n to the pending queue, or marks the most recent
// pending notification as having an overflow following it once the
// queue is full. w.mu must be held.
func (w *Watcher) enqueueLocked(n Notification) {
	if w.pending.Len() >= pendingQueueLimit {
		if last, ok := w.pending.Peek(-1); ok {
			last.Overflow = true
		}
		return
	}

	w.pending.Add(&n)
	if w.pending.Len() == 1 {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

// anyFilterMatchesLocked reports whether any installed filter accepts
// check. w.mu must be held.
func (w *Watcher) anyFilterMatchesLocked(check func(*Match) bool) bool {
	for m := range maps.Keys(w.filters) {
		if check(m) {
			return true
		}
	}
	return false
}

func (w *Watcher) deliverSignal(sender Interface, hdr *header, body reflect.Value) {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.stopped:
		// Close raced us here; nothing left to deliver to.
		return
	default:
	}

	if !w.anyFilterMatchesLocked(func(m *Match) bool { return m.matchesSignal(hdr, body) }) {
		return
	}

	w.enqueueLocked(Notification{
		Sender: sender,
		Name:   hdr.Member,
		Body:   body.Interface(),
	})
}

func (w *Watcher) deliverProp(sender Interface, hdr *header, prop interfaceMember, value reflect.Value) {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.stopped:
		// Close raced us here; nothing left to deliver to.
		return
	default:
	}

	if !w.anyFilterMatchesLocked(func(m *Match) bool { return m.matchesProperty(hdr, prop, value) }) {
		return
	}

	w.enqueueLocked(Notification{
		Sender: sender,
		Name:   prop.Member,
		Body:   value.Interface(),
	})
}

// pump moves notifications from the pending queue to the delivery
// channel one at a time, so a slow consumer blocks on the channel
// send rather than on whatever goroutine is producing notifications.
func (w *Watcher) pump() {
	defer close(w.stopped)
	defer close(w.delivery)
	for {
		next := func() *Notification {
			w.mu.Lock()
			defer w.mu.Unlock()
			n, _ := w.pending.Pop()
			return n
		}()
		if next == nil {
			select {
			case <-w.done:
				return
			case <-w.wake:
				continue
			}
		}
		select {
		case w.delivery <- next:
		case <-w.done:
			return
		}
	}
}

package dbus_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/opendbus/godbus"
	"github.com/opendbus/godbus/dbustest"
)

// logBusTraffic controls whether test buses log dbus-monitor's output
// through t.Logf. Turn it off locally if it's drowning out a test
// failure you're chasing.
//
// Every dbus-monitor record is logged through the same source line in
// dbustest, so grepping test output for that line isolates bus
// traffic from everything else a test logs.
const logBusTraffic = true

// TestBusIdentity exercises the handful of org.freedesktop.DBus calls
// that report facts about the bus itself, rather than about any
// particular peer.
func TestBusIdentity(t *testing.T) {
	bus := dbustest.New(t, logBusTraffic)
	conn := bus.MustConn(t)
	defer conn.Close()

	if got, want := conn.LocalName(), ":1.1"; got != want {
		t.Errorf("LocalName() = %s, want %s", got, want)
	}

	peers, err := conn.Peers(context.Background())
	if err != nil {
		t.Fatalf("Peers() failed: %v", err)
	}
	want := []dbus.Peer{conn.Peer(":1.1"), conn.Peer("org.freedesktop.DBus")}
	slices.SortFunc(peers, dbus.Peer.Compare)
	if got, want := fmt.Sprint(peers), fmt.Sprint(want); got != want {
		t.Errorf("Peers() = %s, want %s", got, want)
	}

	id, err := conn.BusID(context.Background())
	if err != nil {
		t.Fatalf("BusID() failed: %v", err)
	} else if id == "" {
		t.Error("BusID() is empty")
	}

	features, err := conn.Features(context.Background())
	if err != nil {
		t.Fatalf("Features() failed: %v", err)
	} else if !slices.Contains(features, "HeaderFiltering") {
		t.Errorf("Features() = %v, missing HeaderFiltering", features)
	}
}

// startSlowMethod exports a single blocking method on server, and
// returns a channel that receives a value once a call has actually
// reached the handler, plus a function that unblocks it.
func startSlowMethod(t *testing.T, server *dbus.Conn, ifaceName string) (entered <-chan struct{}, release func()) {
	t.Helper()
	enteredCh := make(chan struct{}, 1)
	blockCh := make(chan struct{})

	model := &dbus.InterfaceModel{
		Name: ifaceName,
		Methods: []dbus.Method{
			{
				Name: "Wait",
				Fn: func(ctx context.Context, path dbus.ObjectPath) (string, error) {
					enteredCh <- struct{}{}
					<-blockCh
					return "done", nil
				},
			},
		},
	}
	if err := server.Export("/", model); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	var once bool
	return enteredCh, func() {
		if !once {
			once = true
			close(blockCh)
		}
	}
}

// TestCallCancellation covers scenario (e): cancelling the context of
// an in-flight call resolves it immediately with the cancellation
// error, regardless of when (or whether) the handler eventually
// replies.
func TestCallCancellation(t *testing.T) {
	bus := dbustest.New(t, logBusTraffic)
	server := bus.MustConn(t)
	defer server.Close()
	client := bus.MustConn(t)
	defer client.Close()

	entered, release := startSlowMethod(t, server, "org.test.Slow")
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		var resp string
		result <- client.Peer(server.LocalName()).Object("/").Interface("org.test.Slow").Call(ctx, "Wait", nil, &resp)
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}
	cancel()

	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Call() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cancelled call to resolve")
	}

	// Unblocking the handler now lets its reply arrive after the
	// caller has already moved on; it must be dropped silently rather
	// than panicking or leaking.
	release()
	time.Sleep(50 * time.Millisecond)
}

// TestDisconnectDuringCall covers scenario (f): closing the
// connection while a call is outstanding resolves it with
// ErrDisconnected, and leaves the connection unable to start new
// calls.
func TestDisconnectDuringCall(t *testing.T) {
	bus := dbustest.New(t, logBusTraffic)
	server := bus.MustConn(t)
	defer server.Close()
	client := bus.MustConn(t)

	entered, release := startSlowMethod(t, server, "org.test.Slow")
	defer release()

	result := make(chan error, 1)
	go func() {
		var resp string
		result <- client.Peer(server.LocalName()).Object("/").Interface("org.test.Slow").Call(context.Background(), "Wait", nil, &resp)
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("client.Close() failed: %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, dbus.ErrDisconnected) {
			t.Fatalf("Call() = %v, want ErrDisconnected", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for disconnected call to resolve")
	}

	var resp string
	err := client.Peer(server.LocalName()).Object("/").Interface("org.test.Slow").Call(context.Background(), "Wait", nil, &resp)
	if !errors.Is(err, dbus.ErrDisconnected) {
		t.Fatalf("Call() on closed conn = %v, want ErrDisconnected", err)
	}
}

func awaitOwner(t *testing.T, claim *dbus.Claim, who string, wantOwner bool) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case gotOwner := <-claim.Chan():
			if gotOwner == wantOwner {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s's ownership of %q to become %v", who, claim.Name(), wantOwner)
		}
	}
}

// TestClaimSuccession covers scenario (g): a second claimant with
// TryReplace takes ownership from a first claimant that opted into
// AllowReplacement, and the first claimant observes the loss.
func TestClaimSuccession(t *testing.T) {
	bus := dbustest.New(t, logBusTraffic)
	first := bus.MustConn(t)
	defer first.Close()
	second := bus.MustConn(t)
	defer second.Close()

	claim1, err := first.Claim("org.test.Bus", dbus.ClaimOptions{AllowReplacement: true})
	if err != nil {
		t.Fatalf("first.Claim() failed: %v", err)
	}
	defer claim1.Close()
	awaitOwner(t, claim1, "first", true)

	claim2, err := second.Claim("org.test.Bus", dbus.ClaimOptions{TryReplace: true})
	if err != nil {
		t.Fatalf("second.Claim() failed: %v", err)
	}
	defer claim2.Close()

	awaitOwner(t, claim2, "second", true)
	awaitOwner(t, claim1, "first", false)

	owner, err := first.Peer("org.test.Bus").Owner(context.Background())
	if err != nil {
		t.Fatalf("Owner() failed: %v", err)
	}
	if got, want := owner.Name(), second.LocalName(); got != want {
		t.Fatalf("owner of org.test.Bus = %q, want %q", got, want)
	}
}

// TestClaimNoQueue covers invariant 7: a NoQueue claim never lands in
// the backup queue behind another owner.
func TestClaimNoQueue(t *testing.T) {
	bus := dbustest.New(t, logBusTraffic)
	first := bus.MustConn(t)
	defer first.Close()
	second := bus.MustConn(t)
	defer second.Close()

	claim1, err := first.Claim("org.test.Bus", dbus.ClaimOptions{})
	if err != nil {
		t.Fatalf("first.Claim() failed: %v", err)
	}
	defer claim1.Close()
	awaitOwner(t, claim1, "first", true)

	claim2, err := second.Claim("org.test.Bus", dbus.ClaimOptions{NoQueue: true})
	if err == nil {
		claim2.Close()
		t.Fatal("second.Claim() with NoQueue succeeded while the name is owned, want error")
	}

	queued, err := first.ListQueuedOwners(context.Background(), "org.test.Bus")
	if err != nil {
		t.Fatalf("ListQueuedOwners() failed: %v", err)
	}
	if want := []string{first.LocalName()}; !slices.Equal(queued, want) {
		t.Fatalf("ListQueuedOwners() = %v, want %v", queued, want)
	}
}

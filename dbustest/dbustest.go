// Package dbustest provides a helper to run an isolated bus
// instance in tests.
package dbustest

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opendbus/godbus"
)

//go:embed dbus.config
var busConfigTemplate string

//go:embed services/*
var busServices embed.FS

// Available reports whether the required binaries are available for
// testing against a real DBus server.
func Available() bool {
	if _, err := exec.LookPath("dbus-daemon"); err != nil {
		return false
	}
	_, err := exec.LookPath("dbus-monitor")
	return err == nil
}

// Bus is an isolated DBus instance for tests.
type Bus struct {
	daemon  *exec.Cmd
	monitor *exec.Cmd
	traffic *trafficLog
	sock    string

	stopping     chan struct{}
	daemonExited chan struct{}
	monitorExited chan struct{}
}

// New launches a DBus instance dedicated to the calling test.
//
// If [Available] is false, New calls t.Skip to skip the calling test.
//
// If logTraffic is true, the returned bus logs all bus messages using
// t.Logf.
func New(t *testing.T, logTraffic bool) *Bus {
	if !Available() {
		t.Skip("dbus-daemon and dbus-monitor not available, cannot run test bus")
	}

	tmp := t.TempDir()
	svcDir := stageServiceFiles(t, tmp)
	cfgPath := writeBusConfig(t, tmp, svcDir)

	b := &Bus{
		sock:          filepath.Join(tmp, "bus.sock"),
		stopping:      make(chan struct{}),
		daemonExited:  make(chan struct{}),
		monitorExited: make(chan struct{}),
	}

	b.daemon = exec.Command("dbus-daemon", "--config-file="+cfgPath, "--nofork", "--nopidfile", "--nosyslog", "--address=unix:path="+b.sock)
	b.daemon.Stdout = os.Stdout
	b.daemon.Stderr = os.Stderr
	if err := b.daemon.Start(); err != nil {
		t.Fatalf("starting bus: %v", err)
	}
	t.Cleanup(b.shutdown)

	go func() {
		defer close(b.daemonExited)
		err := b.daemon.Wait()
		select {
		case <-b.stopping:
		default:
			panic(fmt.Errorf("bus stopped prematurely: %w", err))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := waitForSocket(ctx, b.sock); err != nil {
		t.Fatalf("bus failed to start: %v", err)
	}

	if logTraffic {
		b.traffic = newTrafficLog(t)
		b.monitor = exec.Command("dbus-monitor", "--address", "unix:path="+b.sock)
		b.monitor.Stdout = b.traffic
		b.monitor.Stderr = b.traffic
		if err := b.monitor.Start(); err != nil {
			t.Fatalf("starting monitor: %v", err)
		}
		go func() {
			defer close(b.monitorExited)
			err := b.monitor.Wait()
			select {
			case <-b.stopping:
			default:
				panic(fmt.Errorf("dbus-monitor stopped prematurely: %w", err))
			}
			b.traffic.Flush()
		}()
		if err := b.traffic.WaitForFirstLine(ctx); err != nil {
			t.Fatalf("waiting for monitor: %v", err)
		}
	} else {
		close(b.monitorExited)
	}

	return b
}

// stageServiceFiles copies the embedded service activation files into
// a fresh directory under tmp, so each test bus gets its own.
func stageServiceFiles(t *testing.T, tmp string) string {
	svc := filepath.Join(tmp, "services")
	if err := os.Mkdir(svc, 0700); err != nil {
		t.Fatalf("creating dbus services dir: %v", err)
	}
	ents, err := busServices.ReadDir("services")
	if err != nil {
		t.Fatalf("reading dbus services dir: %v", err)
	}
	for _, ent := range ents {
		bs, err := busServices.ReadFile(filepath.Join("services", ent.Name()))
		if err != nil {
			t.Fatalf("reading dbus service file %q: %v", ent.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(svc, ent.Name()), bs, 0600); err != nil {
			t.Fatalf("writing dbus service file %q: %v", ent.Name(), err)
		}
	}
	return svc
}

func writeBusConfig(t *testing.T, tmp, svcDir string) string {
	cfgPath := filepath.Join(tmp, "bus.config")
	cfg := strings.ReplaceAll(busConfigTemplate, "__SERVICEDIR__", svcDir)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func waitForSocket(ctx context.Context, sock string) error {
	for ctx.Err() == nil {
		_, err := os.Stat(sock)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
	return ctx.Err()
}

func (b *Bus) shutdown() {
	close(b.stopping)
	b.daemon.Process.Kill()
	if b.monitor != nil {
		b.monitor.Process.Kill()
	}
	timeout := time.After(10 * time.Second)
	select {
	case <-b.daemonExited:
	case <-timeout:
		log.Print("timed out waiting for bus to stop")
	}
	select {
	case <-b.monitorExited:
	case <-timeout:
		log.Print("timed out waiting for dbus-monitor to stop")
	}
}

// Socket returns the path to the bus's unix socket.
func (b *Bus) Socket() string {
	return b.sock
}

// MustConn returns a connection to the bus. It causes an immediate
// test failure with t.Fatal if it is unable to connect.
func (b *Bus) MustConn(t *testing.T) *dbus.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := dbus.Dial(ctx, b.sock)
	if err != nil {
		t.Fatalf("connecting to test bus: %v", err)
	}
	return conn
}

// trafficLog relays dbus-monitor's output to t.Logf one complete
// bus-event record at a time, so interleaved goroutine output doesn't
// get chopped mid-record.
type trafficLog struct {
	sawFirst chan struct{}
	t        *testing.T
	buf      bytes.Buffer
}

func newTrafficLog(t *testing.T) *trafficLog {
	return &trafficLog{
		sawFirst: make(chan struct{}, 1),
		t:        t,
	}
}

func (l *trafficLog) Flush() {
	l.emitComplete()
	l.t.Log(l.buf.String())
	l.buf.Reset()
}

func (l *trafficLog) Write(bs []byte) (int, error) {
	l.buf.Write(bs)
	l.emitComplete()
	return len(bs), nil
}

// emitComplete logs each fully-buffered dbus-monitor record (one that
// starts with "method "/"signal "/"error " and ends at the next such
// record) as soon as it's available, leaving any trailing partial
// record buffered for the next Write.
func (l *trafficLog) emitComplete() {
	bs := l.buf.Bytes()
	total := 0
	for {
		i := bytes.IndexByte(bs, '\n')
		if i == -1 {
			return
		}
		total += i
		bs = bs[i+1:]
		if !bytes.HasPrefix(bs, []byte("method ")) && !bytes.HasPrefix(bs, []byte("signal ")) && !bytes.HasPrefix(bs, []byte("error ")) {
			total++
			continue
		}

		record := l.buf.Next(total)
		l.t.Log(string(record))
		l.buf.Next(1)
		select {
		case l.sawFirst <- struct{}{}:
		default:
		}
		total = 0
		bs = l.buf.Bytes()
	}
}

func (l *trafficLog) WaitForFirstLine(ctx context.Context) error {
	select {
	case <-l.sawFirst:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

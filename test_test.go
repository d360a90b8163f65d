package dbsock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"runtime/debug"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// recoverAsFail catches a panic and converts it into a test failure.
func recoverAsFail(t *testing.T) {
	if v := recover(); v != nil {
		t.Log(v)
		t.Log(string(debug.Stack()))
		t.Fail()
	}
}

func assertError(t *testing.T, expectedErrorRegExp string, e error) {
	t.Helper()
	expected := regexp.MustCompile("(?i)" + expectedErrorRegExp)
	if e == nil {
		t.Errorf("expected error (but error is nil)")
	} else if !expected.MatchString(e.Error()) {
		t.Errorf("expected error to match %q but got %q", expectedErrorRegExp, e.Error())
	}
}

func reprValue(v interface{}) string {
	switch v.(type) {
	case []byte, string:
		return fmt.Sprintf("%q", v)
	}
	return fmt.Sprintf("%#v", v)
}

func assertEq(t *testing.T, expect, actual interface{}) {
	if actual != expect {
		t.Helper()
		t.Errorf("expected %s (%T) but got %s (%T)",
			reprValue(expect), expect, reprValue(actual), actual)
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// -----------------------------------------------------------------------------------------------

var errFakeTransport = errors.New("fake transport failure")

// fakeTransport delivers whatever is written to `in` and records writes
type fakeTransport struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	readErr   error

	mu      sync.Mutex
	out     [][]byte
	writeFn func([]byte) error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case b, ok := <-f.in:
		if !ok {
			if f.readErr != nil {
				return nil, f.readErr
			}
			return nil, io.EOF
		}
		return b, nil
	case <-f.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (f *fakeTransport) WriteMessage(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeFn != nil {
		if err := f.writeFn(b); err != nil {
			return err
		}
	}
	f.out = append(f.out, append([]byte(nil), b...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := make([]string, len(f.out))
	for i, b := range f.out {
		s[i] = string(b)
	}
	return s
}

type fakeDialer struct {
	t     *fakeTransport
	err   error
	block chan struct{} // Dial waits for this (or ctx) when non-nil
}

func (d fakeDialer) Dial(ctx context.Context, _ string) (Transport, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.t, nil
}

// connEvents records connection callbacks
type connEvents struct {
	opened chan struct{}
	closed chan struct{}
	errc   chan error
}

func newConnEvents() *connEvents {
	return &connEvents{
		opened: make(chan struct{}),
		closed: make(chan struct{}),
		errc:   make(chan error, 1),
	}
}

func (e *connEvents) connect(t *testing.T, c *Conn) {
	t.Helper()
	require.NoError(t, c.Connect(context.Background(),
		func(*Conn) { close(e.opened) },
		func(*Conn) { close(e.closed) },
		func(_ *Conn, err error) { e.errc <- err }))
}

// openConn returns a connection that is open on a fake transport
func openConn(t *testing.T, h *Handlers, opts ...Option) (*Conn, *fakeTransport, *connEvents) {
	t.Helper()
	ft := newFakeTransport()
	opts = append([]Option{WithDialer(fakeDialer{t: ft}), WithLogger(zerolog.Nop())}, opts...)
	c := NewConn("ws://test"+DefaultPath, h, opts...)
	ev := newConnEvents()
	ev.connect(t, c)
	waitFor(t, ev.opened, "open")
	return c, ft, ev
}

const syncCommand = "test_sync"

// syncHandlers returns a registry with a handler that signals on the returned channel.
// Sending a syncCommand message after other messages proves they have been dispatched.
func syncHandlers() (*Handlers, chan struct{}) {
	h := NewHandlers()
	ch := make(chan struct{}, 16)
	h.SetHandler(syncCommand, func(*Conn, string, *Fields) { ch <- struct{}{} })
	return h, ch
}

func flush(t *testing.T, ft *fakeTransport, synced chan struct{}) {
	t.Helper()
	ft.in <- []byte(syncCommand)
	waitFor(t, synced, "dispatch")
}

package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/bourbonbuddy/tastecast/internal/transport"
)

// fakeConn is an in-memory transport. The test plays the server by pushing
// messages and reading what the client sent.
type fakeConn struct {
	kind    transport.Kind
	respond func(c *fakeConn, msg *protocol.Message)

	mu     sync.Mutex
	in     chan *protocol.Message
	closed bool
	err    error
	sent   []*protocol.Message
}

func newFakeConn(kind transport.Kind, respond func(*fakeConn, *protocol.Message)) *fakeConn {
	return &fakeConn{kind: kind, respond: respond, in: make(chan *protocol.Message, 64)}
}

func (c *fakeConn) Kind() transport.Kind { return c.kind }

func (c *fakeConn) Incoming() <-chan *protocol.Message { return c.in }

func (c *fakeConn) Send(ctx context.Context, msg *protocol.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	c.sent = append(c.sent, msg)
	c.mu.Unlock()

	if c.respond != nil {
		c.respond(c, msg)
	}
	return nil
}

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.drop(transport.ErrClosed)
	return nil
}

func (c *fakeConn) push(msg *protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.in <- msg
	}
}

func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.in)
}

func (c *fakeConn) sentOfType(typ string) []*protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.Message
	for _, m := range c.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// fakeDialer hands out fakeConns. While fail is set every dial errors; when
// silent is set conns never send a welcome.
type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	kinds   []transport.Kind
	fail    error
	silent  bool
	respond func(*fakeConn, *protocol.Message)
	conns   chan *fakeConn

	// Dials block until open is called so tests can register listeners
	// before the first event.
	ready    chan struct{}
	openOnce sync.Once
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		respond: autoRespond,
		conns:   make(chan *fakeConn, 16),
		ready:   make(chan struct{}),
	}
}

func (d *fakeDialer) open() {
	d.openOnce.Do(func() { close(d.ready) })
}

func (d *fakeDialer) Dial(ctx context.Context, kind transport.Kind) (transport.Conn, error) {
	select {
	case <-d.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	d.mu.Lock()
	d.dials++
	d.kinds = append(d.kinds, kind)
	n := d.dials
	fail, silent, respond := d.fail, d.silent, d.respond
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail != nil {
		return nil, fail
	}

	c := newFakeConn(kind, respond)
	if !silent {
		c.push(&protocol.Message{Type: protocol.TypeWelcome, ChannelID: fmt.Sprintf("ch-%d", n)})
	}
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// autoRespond acks joins and leaves and answers pings.
func autoRespond(c *fakeConn, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeJoinRoom, protocol.TypeLeaveRoom:
		c.push(&protocol.Message{Type: protocol.TypeAck, Ref: msg.Seq, RoomID: msg.RoomID})
	case protocol.TypePing:
		c.push(&protocol.Message{Type: protocol.TypePong, Ref: msg.Seq})
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(d transport.Dialer) Options {
	return Options{
		Dialer:            d,
		BackoffBase:       5 * time.Millisecond,
		BackoffMax:        20 * time.Millisecond,
		ConnectTimeout:    time.Second,
		HeartbeatInterval: time.Hour,
		RequestTimeout:    time.Second,
		Logger:            testLogger(),
	}
}

// start acquires a handle, records the given events and lets dials through.
func start(m *Manager, d *fakeDialer, types ...EventType) (*Handle, *recorder) {
	h := m.Acquire()
	rec := record(h, types...)
	d.open()
	return h, rec
}

// recorder collects events of the given types from a handle.
type recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

func record(h *Handle, types ...EventType) *recorder {
	r := &recorder{notify: make(chan Event, 64)}
	for _, t := range types {
		h.On(t, func(ev Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
			r.notify <- ev
		})
	}
	return r
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) of(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// wait blocks until an event matching t arrives.
func (r *recorder) wait(t *testing.T, typ EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-r.notify:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
			return Event{}
		}
	}
}

func waitConn(t *testing.T, d *fakeDialer) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

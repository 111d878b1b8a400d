package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/bourbonbuddy/tastecast/internal/transport"
)

// liveChannel talks to the relay over a real transport. One owner goroutine
// (run) performs every connect and reconnect attempt in sequence.
type liveChannel struct {
	opts        Options
	bus         *bus
	logger      *slog.Logger
	onExhausted func(*liveChannel)

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	running   bool
	closed    bool
	id        string
	kind      transport.Kind
	conn      transport.Conn
	heartbeat *Heartbeat
	attempts  int
	seq       uint64
	pending   map[uint64]chan *protocol.Message
}

func newLiveChannel(opts Options, b *bus, onExhausted func(*liveChannel)) *liveChannel {
	ctx, cancel := context.WithCancel(context.Background())
	return &liveChannel{
		opts:        opts,
		bus:         b,
		logger:      opts.Logger,
		onExhausted: onExhausted,
		ctx:         ctx,
		cancel:      cancel,
		state:       StateDisconnected,
		pending:     make(map[uint64]chan *protocol.Message),
	}
}

func (c *liveChannel) start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running || c.closed {
		return
	}
	c.running = true
	c.setState(StateConnecting)
	go c.run()
}

func (c *liveChannel) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *liveChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *liveChannel) Transport() transport.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind
}

func (c *liveChannel) LastHeartbeat() time.Time {
	c.mu.Lock()
	hb := c.heartbeat
	c.mu.Unlock()

	if hb == nil {
		return time.Time{}
	}
	return hb.LastAck()
}

func (c *liveChannel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Shutdown cancels pending timers and the heartbeat, closes the transport
// and leaves the channel disconnected for good.
func (c *liveChannel) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	conn := c.conn
	c.conn = nil
	c.failPending()
	c.transition(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.logger.Info("Channel shut down", "channel_id", c.ID())
}

// setState changes state and publishes it. Caller holds c.mu.
func (c *liveChannel) setState(s State) {
	if c.closed {
		return
	}
	c.transition(s)
}

func (c *liveChannel) transition(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.bus.publish(Event{Type: EventStateChanged, State: s, ChannelID: c.id, Transport: c.kind})
}

// emit publishes unless the channel was shut down. Caller holds c.mu.
func (c *liveChannel) emit(ev Event) {
	if c.closed {
		return
	}
	if ev.ChannelID == "" {
		ev.ChannelID = c.id
	}
	ev.State = c.state
	c.bus.publish(ev)
}

// failPending wakes every request waiting for a reply. Caller holds c.mu.
func (c *liveChannel) failPending() {
	for seq, ch := range c.pending {
		close(ch)
		delete(c.pending, seq)
	}
}

func (c *liveChannel) nextSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// sleep waits d unless the channel is shut down first.
func (c *liveChannel) sleep(d time.Duration) bool {
	if d <= 0 {
		return c.ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *liveChannel) run() {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	attempt := 0
	failures := 0
	reconnecting := false

	for {
		retry := failures
		if reconnecting {
			retry++
			c.mu.Lock()
			c.emit(Event{Type: EventReconnecting, Attempt: retry})
			c.mu.Unlock()
		}
		if retry > 0 && !c.sleep(Backoff(c.opts.BackoffBase, c.opts.BackoffMax, retry)) {
			return
		}
		if c.ctx.Err() != nil {
			return
		}

		attempt++
		conn, id, err := c.connect(attempt, failures+1)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			failures++

			c.mu.Lock()
			c.attempts = failures
			c.logger.Warn("Connection attempt failed",
				"attempt", failures,
				"transport", err.Transport,
				"error", err.Err,
			)
			c.emit(Event{Type: EventConnectError, Attempt: failures, Transport: err.Transport, Err: err})

			if failures >= c.opts.MaxAttempts {
				c.setState(StateFailed)
				c.emit(Event{Type: EventFailed, Attempt: failures, Err: fmt.Errorf("%w: %w", ErrRetriesExhausted, err)})
				closed := c.closed
				c.mu.Unlock()

				c.logger.Error("Connection failed", "attempts", failures, "error", err)
				if !closed && c.onExhausted != nil {
					c.onExhausted(c)
				}
				return
			}
			c.mu.Unlock()
			continue
		}

		manual, lost := c.serve(conn, id)
		if manual || lost == nil {
			return
		}

		failures = 0
		reconnecting = true
	}
}

// connect makes one attempt: every transport the policy offers, inside a
// single connect timeout covering dial and welcome.
func (c *liveChannel) connect(attempt, cycleAttempt int) (transport.Conn, string, *ConnectError) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.ConnectTimeout)
	defer cancel()

	if c.opts.Dialer == nil {
		return nil, "", &ConnectError{Attempt: cycleAttempt, Err: ErrNoDialer}
	}

	kinds := c.opts.Policy.Order(attempt, c.opts.Capabilities)
	cerr := &ConnectError{Attempt: cycleAttempt, Err: errors.New("no transport offered")}

	for _, kind := range kinds {
		if ctx.Err() != nil {
			break
		}
		cerr.Transport = kind

		conn, err := c.opts.Dialer.Dial(ctx, kind)
		if err != nil {
			cerr.Err = err
			c.logger.Debug("Dial failed", "attempt", cycleAttempt, "transport", kind, "error", err)
			continue
		}

		id, err := awaitWelcome(ctx, conn)
		if err != nil {
			conn.Close()
			cerr.Err = err
			c.logger.Debug("Handshake failed", "attempt", cycleAttempt, "transport", kind, "error", err)
			continue
		}
		return conn, id, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && c.ctx.Err() == nil {
		cerr.Err = fmt.Errorf("%w after %s: %w", ErrHandshakeTimeout, c.opts.ConnectTimeout, cerr.Err)
	}
	return nil, "", cerr
}

func awaitWelcome(ctx context.Context, conn transport.Conn) (string, error) {
	for {
		select {
		case msg, ok := <-conn.Incoming():
			if !ok {
				if err := conn.Err(); err != nil {
					return "", err
				}
				return "", transport.ErrClosed
			}
			if msg.Type == protocol.TypeWelcome {
				return msg.ChannelID, nil
			}

		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrHandshakeTimeout
			}
			return "", ctx.Err()
		}
	}
}

// serve runs one connected session. It returns manual when the server
// ended the channel on purpose, or the transport error when it was lost.
// Both are zero when the channel was shut down.
func (c *liveChannel) serve(conn transport.Conn, id string) (bool, *TransportError) {
	hb := NewHeartbeat(c.opts.HeartbeatInterval, conn.Send, c.nextSeq, c.logger.With("channel_id", id))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return false, nil
	}
	c.conn = conn
	c.id = id
	c.kind = conn.Kind()
	c.attempts = 0
	c.heartbeat = hb
	c.setState(StateConnected)
	c.emit(Event{Type: EventConnected, Transport: conn.Kind()})
	c.mu.Unlock()

	c.logger.Info("Channel connected", "channel_id", id, "transport", conn.Kind())

	sessionCtx, stop := context.WithCancel(c.ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hb.Run(sessionCtx)
	}()

	manual, err := c.readLoop(sessionCtx, conn, hb)

	// The monitor is gone before any new attempt starts.
	stop()
	wg.Wait()
	conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		c.conn = nil
	}
	c.failPending()

	if c.closed {
		return false, nil
	}

	if manual {
		c.setState(StateDisconnected)
		c.emit(Event{Type: EventDisconnected, Manual: true, Transport: conn.Kind()})
		c.logger.Info("Channel closed by server", "channel_id", id)
		return true, nil
	}

	terr := &TransportError{Transport: conn.Kind(), Err: err}
	c.setState(StateReconnecting)
	c.emit(Event{Type: EventDisconnected, Transport: conn.Kind(), Err: terr})
	c.logger.Warn("Transport lost", "channel_id", id, "transport", conn.Kind(), "error", err)
	return false, terr
}

func (c *liveChannel) readLoop(ctx context.Context, conn transport.Conn, hb *Heartbeat) (bool, error) {
	for {
		select {
		case msg, ok := <-conn.Incoming():
			if !ok {
				if err := conn.Err(); err != nil {
					return false, err
				}
				return false, transport.ErrClosed
			}

			if msg.Type == protocol.TypeDisconnect {
				if msg.Reason == protocol.ReasonManual {
					return true, nil
				}
				return false, ErrServerRestart
			}
			c.handle(msg, hb)

		case <-ctx.Done():
			return false, ErrShutdown
		}
	}
}

func (c *liveChannel) handle(msg *protocol.Message, hb *Heartbeat) {
	switch msg.Type {
	case protocol.TypePong:
		hb.Ack(msg.Ref)

	case protocol.TypeAck, protocol.TypeError:
		c.mu.Lock()
		ch, ok := c.pending[msg.Ref]
		if ok {
			delete(c.pending, msg.Ref)
		}
		c.mu.Unlock()

		if ok {
			ch <- msg
			return
		}
		if msg.Type == protocol.TypeError {
			c.logger.Warn("Server error", "room", msg.RoomID, "error", msg.Error)
		}

	case protocol.TypeParticipantCount:
		c.mu.Lock()
		c.emit(Event{Type: EventParticipantCount, Room: msg.RoomID, Count: msg.Count})
		c.mu.Unlock()

	case protocol.TypeSignal:
		c.mu.Lock()
		c.emit(Event{Type: EventSignal, Room: msg.RoomID, Signal: &Signal{
			Room:    msg.RoomID,
			Kind:    msg.Kind,
			From:    msg.From,
			Role:    msg.Role,
			Payload: msg.Payload,
		}})
		c.mu.Unlock()

	case protocol.TypeWelcome:
		// Already handled during the handshake.

	default:
		c.logger.Debug("Ignoring message", "type", msg.Type)
	}
}

// request sends msg and waits for the matching ack or error.
func (c *liveChannel) request(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrShutdown
	}
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := c.conn
	c.seq++
	msg.Seq = c.seq
	reply := make(chan *protocol.Message, 1)
	c.pending[msg.Seq] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.Seq)
		c.mu.Unlock()
	}()

	if err := conn.Send(ctx, msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-reply:
		if !ok {
			return nil, ErrNotConnected
		}
		return resp, nil
	case <-timer.C:
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *liveChannel) Join(ctx context.Context, room string, role protocol.Role) error {
	if err := validateJoin(room, role); err != nil {
		return err
	}

	resp, err := c.request(ctx, &protocol.Message{Type: protocol.TypeJoinRoom, RoomID: room, Role: role})
	if err != nil {
		c.logger.Warn("Join failed", "room", room, "transport", c.Transport(), "error", err)
		return joinError(room, err)
	}
	if resp.Type == protocol.TypeError {
		return &RoomProtocolError{Op: "join", Room: room, Reason: resp.Error, Err: ErrRejected}
	}

	c.logger.Debug("Joined room", "room", room, "role", role)
	return nil
}

func (c *liveChannel) Leave(ctx context.Context, room string) error {
	resp, err := c.request(ctx, &protocol.Message{Type: protocol.TypeLeaveRoom, RoomID: room})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	if err != nil {
		return leaveError(room, err)
	}
	if resp.Type == protocol.TypeError {
		return &RoomProtocolError{Op: "leave", Room: room, Reason: resp.Error, Err: ErrRejected}
	}
	return nil
}

func (c *liveChannel) SendSignal(ctx context.Context, room, to string, kind protocol.SignalKind, payload json.RawMessage) error {
	if err := validateSignal(room, kind); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &SignalSendError{Room: room, Kind: kind, Err: ErrShutdown}
	}
	if c.state != StateConnected || c.conn == nil {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("Signal dropped", "room", room, "kind", kind, "state", state)
		return &SignalSendError{Room: room, Kind: kind, Err: ErrNotConnected}
	}
	conn := c.conn
	c.mu.Unlock()

	msg := &protocol.Message{Type: protocol.TypeSignal, RoomID: room, To: to, Kind: kind, Payload: payload}
	if err := conn.Send(ctx, msg); err != nil {
		c.logger.Warn("Signal send failed", "room", room, "kind", kind, "transport", conn.Kind(), "error", err)
		return &SignalSendError{Room: room, Kind: kind, Err: err}
	}
	return nil
}

// Package coordinator keeps a client's room memberships alive across
// reconnects. The channel layer forgets memberships when a connection
// drops; the coordinator remembers what the caller asked for and replays
// the joins every time the channel connects.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/channel"
	"github.com/bourbonbuddy/tastecast/internal/protocol"
)

// JoinResult tells the caller what happened to a join.
type JoinResult int

const (
	// JoinSent means the server acknowledged the join.
	JoinSent JoinResult = iota

	// JoinDeferred means the channel is not connected; the join is issued
	// as soon as it is.
	JoinDeferred
)

func (r JoinResult) String() string {
	if r == JoinDeferred {
		return "deferred"
	}
	return "sent"
}

// RejoinError reports a membership that could not be restored after a
// reconnect. A room the server refused is dropped from the desired set;
// any other failure keeps it for the next connect.
type RejoinError struct {
	Room string
	Err  error
}

// Coordinator owns the desired membership set for one Handle.
type Coordinator struct {
	handle  *channel.Handle
	logger  *slog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	rooms    map[string]protocol.Role
	onError  func(RejoinError)
	onJoined func(room string)
	wg       sync.WaitGroup
}

// New subscribes to connection events on h.
func New(h *channel.Handle, logger *slog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		handle:  h,
		logger:  logger,
		timeout: channel.DefaultRequestTimeout,
		ctx:     ctx,
		cancel:  cancel,
		rooms:   make(map[string]protocol.Role),
	}
	h.On(channel.EventConnected, c.onConnected)
	return c
}

// OnRejoinError registers fn for joins the server refused on reconnect.
func (c *Coordinator) OnRejoinError(fn func(RejoinError)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// OnJoined registers fn for every join the server accepted, including
// rejoins after a reconnect. fn runs off the dispatcher.
func (c *Coordinator) OnJoined(fn func(room string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onJoined = fn
}

func (c *Coordinator) joined(room string) {
	c.mu.Lock()
	fn := c.onJoined
	c.mu.Unlock()
	if fn != nil {
		fn(room)
	}
}

// Join records room as desired and joins it now if possible.
// A rejection is returned as an error and the room is not kept.
func (c *Coordinator) Join(ctx context.Context, room string, role protocol.Role) (JoinResult, error) {
	c.mu.Lock()
	prev, had := c.rooms[room]
	c.rooms[room] = role
	c.mu.Unlock()

	err := c.handle.Join(ctx, room, role)
	switch {
	case err == nil:
		c.joined(room)
		return JoinSent, nil
	case errors.Is(err, channel.ErrNotConnected):
		if cause := c.unrecoverable(); cause != nil {
			err = &channel.RoomProtocolError{Op: "join", Room: room, Err: cause}
			break
		}
		c.logger.Debug("Join deferred until connected", "room", room, "role", role)
		return JoinDeferred, nil
	}

	c.mu.Lock()
	if had {
		c.rooms[room] = prev
	} else {
		delete(c.rooms, room)
	}
	c.mu.Unlock()
	return JoinSent, err
}

// unrecoverable reports why the handle will never connect again without a
// fresh Acquire, or nil if a connect may still come.
func (c *Coordinator) unrecoverable() error {
	ch := c.handle.Channel()
	switch {
	case ch == nil:
		return channel.ErrShutdown
	case ch.State() == channel.StateFailed:
		return channel.ErrRetriesExhausted
	}
	return nil
}

// Leave forgets room and leaves it if connected.
func (c *Coordinator) Leave(ctx context.Context, room string) error {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()

	return c.handle.Leave(ctx, room)
}

// Rooms returns the desired rooms in order.
func (c *Coordinator) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Close stops rejoining and releases the handle's listeners.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()

	c.handle.Release()
	c.wg.Wait()
}

// onConnected runs on the dispatcher, so the joins happen elsewhere.
func (c *Coordinator) onConnected(channel.Event) {
	c.mu.Lock()
	if len(c.rooms) == 0 || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	desired := make(map[string]protocol.Role, len(c.rooms))
	for room, role := range c.rooms {
		desired[room] = role
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.rejoin(desired)
	}()
}

func (c *Coordinator) rejoin(desired map[string]protocol.Role) {
	rooms := make([]string, 0, len(desired))
	for room := range desired {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	for _, room := range rooms {
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		err := c.handle.Join(ctx, room, desired[room])
		cancel()

		switch {
		case err == nil:
			c.logger.Info("Rejoined room", "room", room)
			c.joined(room)
		case errors.Is(err, channel.ErrRejected):
			c.logger.Warn("Rejoin rejected", "room", room, "error", err)
			c.mu.Lock()
			if c.rooms[room] == desired[room] {
				delete(c.rooms, room)
			}
			c.mu.Unlock()
			c.rejoinFailed(room, err)
		case c.ctx.Err() != nil,
			errors.Is(err, channel.ErrNotConnected),
			errors.Is(err, channel.ErrShutdown),
			c.handle.State() != channel.StateConnected:
			// Lost the connection again; the next connect retries.
			c.logger.Debug("Rejoin interrupted", "room", room, "error", err)
			return
		default:
			// Still connected: keep the room for the next connect and move on.
			c.logger.Warn("Rejoin failed", "room", room, "error", err)
			c.rejoinFailed(room, err)
		}
	}
}

func (c *Coordinator) rejoinFailed(room string, err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(RejoinError{Room: room, Err: err})
	}
}

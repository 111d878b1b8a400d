package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/bourbonbuddy/tastecast/internal/transport"
	"github.com/google/uuid"
)

// SyntheticParticipantCount is the fixed count reported by the synthetic
// channel so consumers can tell it apart from a real room.
const SyntheticParticipantCount = -1

// syntheticChannel stands in for the relay when it cannot be reached in a
// non-production environment. Joins resolve locally and signals go nowhere.
type syntheticChannel struct {
	opts   Options
	bus    *bus
	logger *slog.Logger
	id     string

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	closed bool
	rooms  map[string]protocol.Role
}

func newSyntheticChannel(opts Options, b *bus) *syntheticChannel {
	ctx, cancel := context.WithCancel(context.Background())
	id := "synthetic-" + uuid.NewString()
	return &syntheticChannel{
		opts:   opts,
		bus:    b,
		logger: opts.Logger.With("channel_id", id, "transport", KindSynthetic),
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		state:  StateDisconnected,
		rooms:  make(map[string]protocol.Role),
	}
}

func (s *syntheticChannel) start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state == StateConnected {
		return
	}
	s.state = StateConnected
	s.bus.publish(Event{Type: EventStateChanged, State: StateConnected, ChannelID: s.id, Transport: KindSynthetic})
	s.bus.publish(Event{Type: EventConnected, State: StateConnected, ChannelID: s.id, Transport: KindSynthetic, Synthetic: true})
	s.logger.Warn("Using synthetic channel")
}

func (s *syntheticChannel) ID() string { return s.id }

func (s *syntheticChannel) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *syntheticChannel) Transport() transport.Kind { return KindSynthetic }

func (s *syntheticChannel) LastHeartbeat() time.Time { return time.Time{} }

func (s *syntheticChannel) Attempts() int { return 0 }

func (s *syntheticChannel) Join(ctx context.Context, room string, role protocol.Role) error {
	if err := validateJoin(room, role); err != nil {
		return err
	}

	timer := time.NewTimer(s.opts.SyntheticJoinDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return joinError(room, ctx.Err())
	case <-s.ctx.Done():
		return joinError(room, ErrShutdown)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return joinError(room, ErrShutdown)
	}
	s.rooms[room] = role
	s.bus.publish(Event{
		Type:      EventParticipantCount,
		State:     s.state,
		ChannelID: s.id,
		Room:      room,
		Count:     SyntheticParticipantCount,
	})
	return nil
}

func (s *syntheticChannel) Leave(ctx context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, room)
	return nil
}

func (s *syntheticChannel) SendSignal(ctx context.Context, room, to string, kind protocol.SignalKind, payload json.RawMessage) error {
	if err := validateSignal(room, kind); err != nil {
		return err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return &SignalSendError{Room: room, Kind: kind, Err: ErrShutdown}
	}
	s.logger.Debug("Signal dropped by synthetic channel", "room", room, "kind", kind, "bytes", len(payload))
	return nil
}

func (s *syntheticChannel) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	s.state = StateDisconnected
	s.bus.publish(Event{Type: EventStateChanged, State: StateDisconnected, ChannelID: s.id, Transport: KindSynthetic})
}

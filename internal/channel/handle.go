package channel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/bourbonbuddy/tastecast/internal/transport"
)

// Handle is one caller's view of the shared Channel. Operations always go
// to the Manager's current Channel; listeners registered through a Handle
// are removed by its Release and by nothing else.
type Handle struct {
	m *Manager

	mu       sync.Mutex
	subs     []subscription
	released bool
}

type subscription struct {
	typ EventType
	id  uint64
}

func (h *Handle) channel() Channel {
	return h.m.Current()
}

// Channel returns the Channel this handle currently points at, or nil.
func (h *Handle) Channel() Channel {
	return h.channel()
}

// State reports the current Channel's state.
func (h *Handle) State() State {
	if ch := h.channel(); ch != nil {
		return ch.State()
	}
	return StateDisconnected
}

// ChannelID returns the server-assigned identifier, empty until connected.
func (h *Handle) ChannelID() string {
	if ch := h.channel(); ch != nil {
		return ch.ID()
	}
	return ""
}

// Transport returns the active transport kind.
func (h *Handle) Transport() transport.Kind {
	if ch := h.channel(); ch != nil {
		return ch.Transport()
	}
	return ""
}

// LastHeartbeat returns when the server last acknowledged a ping.
func (h *Handle) LastHeartbeat() time.Time {
	if ch := h.channel(); ch != nil {
		return ch.LastHeartbeat()
	}
	return time.Time{}
}

// On registers fn for events of type t. It is a no-op after Release.
func (h *Handle) On(t EventType, fn Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return
	}
	id := h.m.bus.subscribe(t, fn)
	h.subs = append(h.subs, subscription{typ: t, id: id})
}

// OnSignal registers fn for inbound signals of one kind.
func (h *Handle) OnSignal(kind protocol.SignalKind, fn func(Signal)) {
	h.On(EventSignal, func(ev Event) {
		if ev.Signal != nil && ev.Signal.Kind == kind {
			fn(*ev.Signal)
		}
	})
}

// OnParticipantCount registers fn for server-pushed participant counts.
func (h *Handle) OnParticipantCount(fn func(room string, count int)) {
	h.On(EventParticipantCount, func(ev Event) {
		fn(ev.Room, ev.Count)
	})
}

// Join asks the server to add this channel to room.
func (h *Handle) Join(ctx context.Context, room string, role protocol.Role) error {
	ch := h.channel()
	if ch == nil {
		return joinError(room, ErrNotConnected)
	}
	return ch.Join(ctx, room, role)
}

// Leave removes this channel from room. It succeeds without a connection.
func (h *Handle) Leave(ctx context.Context, room string) error {
	ch := h.channel()
	if ch == nil {
		return nil
	}
	return ch.Leave(ctx, room)
}

// SendSignal relays payload to the other side of room. It fails fast with
// a *SignalSendError unless the Channel is connected.
func (h *Handle) SendSignal(ctx context.Context, room string, kind protocol.SignalKind, payload json.RawMessage) error {
	return h.SendSignalTo(ctx, room, "", kind, payload)
}

// SendSignalTo relays payload to a single member of room.
func (h *Handle) SendSignalTo(ctx context.Context, room, to string, kind protocol.SignalKind, payload json.RawMessage) error {
	ch := h.channel()
	if ch == nil {
		return &SignalSendError{Room: room, Kind: kind, Err: ErrNotConnected}
	}
	return ch.SendSignal(ctx, room, to, kind, payload)
}

// Release detaches this handle's listeners. The shared Channel stays up.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return
	}
	h.released = true
	for _, s := range h.subs {
		h.m.bus.unsubscribe(s.typ, s.id)
	}
	h.subs = nil
}

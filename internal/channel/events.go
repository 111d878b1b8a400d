package channel

import (
	"encoding/json"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/bourbonbuddy/tastecast/internal/transport"
)

// EventType identifies what an Event reports.
type EventType int

const (
	EventStateChanged EventType = iota
	EventConnected
	EventDisconnected
	EventConnectError
	EventReconnecting
	EventFailed
	EventParticipantCount
	EventSignal
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventConnectError:
		return "connect_error"
	case EventReconnecting:
		return "reconnecting"
	case EventFailed:
		return "failed"
	case EventParticipantCount:
		return "participant_count"
	case EventSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners on the Manager's dispatcher goroutine.
// Only the fields relevant to Type are set.
type Event struct {
	Type      EventType
	State     State
	ChannelID string
	Transport transport.Kind
	Attempt   int
	Err       error

	// Manual is set on EventDisconnected when the server closed the
	// channel on purpose.
	Manual bool

	// Synthetic is set on EventConnected for the local stand-in channel.
	Synthetic bool

	Room   string
	Count  int
	Signal *Signal
}

// Signal is an inbound peer-negotiation message.
type Signal struct {
	Room    string
	Kind    protocol.SignalKind
	From    string
	Role    protocol.Role
	Payload json.RawMessage
}

// Listener receives events. Listeners run one at a time.
type Listener func(Event)

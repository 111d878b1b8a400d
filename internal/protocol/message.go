package protocol

import (
	"encoding/json"
	"time"
)

// Message defines the structure for all C2S (client to server) and S2C
// (server to client) messages, on every transport.
type Message struct {
	Type string `json:"type" msgpack:"type"`

	// Seq numbers a client request; the server echoes it back in Ref.
	Seq uint64 `json:"seq,omitempty" msgpack:"seq,omitempty"`
	Ref uint64 `json:"ref,omitempty" msgpack:"ref,omitempty"`

	RoomID  string          `json:"room_id,omitempty" msgpack:"room_id,omitempty"`
	Role    Role            `json:"role,omitempty" msgpack:"role,omitempty"`
	Kind    SignalKind      `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty"`

	// From and To carry channel ids for relayed signals.
	From string `json:"from,omitempty" msgpack:"from,omitempty"`
	To   string `json:"to,omitempty" msgpack:"to,omitempty"`

	ChannelID string `json:"channel_id,omitempty" msgpack:"channel_id,omitempty"`
	Count     int    `json:"count,omitempty" msgpack:"count,omitempty"`
	Reason    string `json:"reason,omitempty" msgpack:"reason,omitempty"`
	Error     string `json:"error,omitempty" msgpack:"error,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

// Message type constants.
const (
	TypeJoinRoom  = "join_room"
	TypeLeaveRoom = "leave_room"
	TypePing      = "ping"
	TypeSignal    = "signal"

	TypeWelcome          = "welcome"
	TypeAck              = "ack"
	TypeError            = "error"
	TypePong             = "pong"
	TypeParticipantCount = "participant_count"
	TypeDisconnect       = "disconnect"
)

// Disconnect reasons sent by the server.
const (
	// ReasonManual means the channel was closed on purpose and must not
	// reconnect.
	ReasonManual = "manual"

	// ReasonRestart means the server is going away; clients reconnect.
	ReasonRestart = "restart"
)

// Role is the part a channel plays inside a room.
type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleBroadcaster || r == RoleViewer
}

// SignalKind is the kind of an opaque peer-negotiation payload.
type SignalKind string

const (
	KindOffer     SignalKind = "offer"
	KindAnswer    SignalKind = "answer"
	KindCandidate SignalKind = "candidate"
)

// Valid reports whether k is a known signal kind.
func (k SignalKind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate:
		return true
	}
	return false
}

// NewPing returns a liveness probe stamped with the current time.
func NewPing(seq uint64) *Message {
	return &Message{Type: TypePing, Seq: seq, Timestamp: time.Now().UnixMilli()}
}

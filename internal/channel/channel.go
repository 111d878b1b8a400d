package channel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/bourbonbuddy/tastecast/internal/transport"
)

// KindSynthetic is reported as the transport of the synthetic channel.
const KindSynthetic transport.Kind = "synthetic"

// Channel is the single shared logical connection owned by a Manager.
type Channel interface {
	ID() string
	State() State
	Transport() transport.Kind
	LastHeartbeat() time.Time

	// Attempts is the number of failed attempts in the current cycle.
	Attempts() int

	Join(ctx context.Context, room string, role protocol.Role) error
	Leave(ctx context.Context, room string) error
	SendSignal(ctx context.Context, room, to string, kind protocol.SignalKind, payload json.RawMessage) error

	// Shutdown ends the channel and suppresses reconnection. Idempotent.
	Shutdown()

	start()
}

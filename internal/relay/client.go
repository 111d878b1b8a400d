package relay

import (
	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/google/uuid"
)

// sendBuffer bounds the messages queued for one channel before the hub
// gives up on it.
const sendBuffer = 256

// Client is the relay's view of one channel, whatever transport carries it.
type Client struct {
	// ID is the channel id announced in the welcome message.
	ID string

	// Transport names the transport carrying this channel.
	Transport string

	// Session is the cookie value presented on the handshake. It is
	// recorded, never verified.
	Session string

	// Send is a buffered channel for all outbound messages. The hub closes
	// it when the client is detached.
	Send chan *protocol.Message

	// rooms is owned by the hub goroutine.
	rooms map[string]struct{}
}

// NewClient creates a client with a fresh channel id.
func NewClient(transport, session string) *Client {
	return &Client{
		ID:        uuid.NewString(),
		Transport: transport,
		Session:   session,
		Send:      make(chan *protocol.Message, sendBuffer),
		rooms:     make(map[string]struct{}),
	}
}

package relay

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/metrics"
	"github.com/bourbonbuddy/tastecast/internal/protocol"
)

var (
	// ErrHubClosed is returned once Run has returned.
	ErrHubClosed = errors.New("hub closed")

	// ErrUnknownChannel is returned by Disconnect for an unknown channel id.
	ErrUnknownChannel = errors.New("unknown channel")
)

// Error texts sent to clients.
const (
	errRoomRequired     = "room_id is required"
	errInvalidRole      = "role must be broadcaster or viewer"
	errRoleTaken        = "room already has a broadcaster"
	errRoleConflict     = "already joined with another role"
	errNotMember        = "not a member of this room"
	errInvalidKind      = "kind must be offer, answer or candidate"
	errUnknownRecipient = "recipient is not in this room"
	errUnknownType      = "unknown message type"
)

// envelope is an inbound message together with the client that sent it.
type envelope struct {
	client *Client
	msg    *protocol.Message
}

// Hub is the central brain of the relay.
// It manages all active rooms and clients from a single goroutine.
type Hub struct {
	// rooms maps room IDs to Room instances.
	rooms map[string]*Room

	// clients maps channel ids to attached clients.
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope

	// requests run inside the hub goroutine.
	requests chan func()

	done    chan struct{}
	metrics metrics.Collector
	logger  *slog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(collector metrics.Collector, logger *slog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 256),
		requests:   make(chan func()),
		done:       make(chan struct{}),
		metrics:    collector,
		logger:     logger,
	}
}

// Attach registers c and sends it the welcome message.
func (h *Hub) Attach(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Detach removes c from every room and closes its Send channel.
func (h *Hub) Detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Dispatch hands an inbound message to the hub.
func (h *Hub) Dispatch(c *Client, msg *protocol.Message) {
	select {
	case h.broadcast <- envelope{client: c, msg: msg}:
	case <-h.done:
	}
}

// Rooms returns a snapshot of every room ordered by id.
func (h *Hub) Rooms(ctx context.Context) ([]RoomInfo, error) {
	var out []RoomInfo
	err := h.do(ctx, func() {
		out = make([]RoomInfo, 0, len(h.rooms))
		for _, r := range h.rooms {
			out = append(out, r.info())
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	})
	return out, err
}

// Disconnect tells a channel to go away with reason and detaches it.
func (h *Hub) Disconnect(ctx context.Context, channelID, reason string) error {
	var found bool
	err := h.do(ctx, func() {
		c, ok := h.clients[channelID]
		if !ok {
			return
		}
		found = true
		h.logger.Info("Disconnecting channel", "channel_id", channelID, "reason", reason)
		h.deliver(c, &protocol.Message{Type: protocol.TypeDisconnect, Reason: reason})
		h.drop(c)
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownChannel
	}
	return nil
}

func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	req := func() {
		fn()
		close(finished)
	}

	select {
	case h.requests <- req:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Run starts the hub's main processing loop. When ctx is done every client
// is told the server is restarting and detached.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			h.clients[c.ID] = c
			h.metrics.ChannelConnected(c.Transport)
			h.logger.Debug("Channel attached", "channel_id", c.ID, "transport", c.Transport)
			h.deliver(c, &protocol.Message{
				Type:      protocol.TypeWelcome,
				ChannelID: c.ID,
				Timestamp: time.Now().UnixMilli(),
			})

		case c := <-h.unregister:
			if _, ok := h.clients[c.ID]; ok {
				h.drop(c)
			}

		case env := <-h.broadcast:
			if _, ok := h.clients[env.client.ID]; !ok {
				continue
			}
			h.handle(env.client, env.msg)

		case req := <-h.requests:
			req()

		case <-ctx.Done():
			h.logger.Info("Relay hub stopping", "channels", len(h.clients))
			for _, c := range h.clients {
				h.deliver(c, &protocol.Message{Type: protocol.TypeDisconnect, Reason: protocol.ReasonRestart})
				h.drop(c)
			}
			return
		}
	}
}

// deliver queues msg for c, dropping c if it cannot keep up.
func (h *Hub) deliver(c *Client, msg *protocol.Message) {
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	select {
	case c.Send <- msg:
	default:
		h.logger.Warn("Send buffer full, dropping channel", "channel_id", c.ID)
		h.metrics.ChannelDropped(c.Transport, "slow")
		h.drop(c)
	}
}

// drop removes c from all rooms and closes its Send channel.
func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)

	for roomID := range c.rooms {
		h.leave(c, roomID)
	}

	close(c.Send)
	h.metrics.ChannelDisconnected(c.Transport)
	h.logger.Debug("Channel detached", "channel_id", c.ID)
}

func (h *Hub) handle(c *Client, msg *protocol.Message) {
	h.metrics.MessageReceived(msg.Type)

	switch msg.Type {
	case protocol.TypeJoinRoom:
		h.handleJoin(c, msg)

	case protocol.TypeLeaveRoom:
		if msg.RoomID != "" {
			h.leave(c, msg.RoomID)
		}
		h.ack(c, msg)

	case protocol.TypePing:
		h.deliver(c, &protocol.Message{
			Type:      protocol.TypePong,
			Ref:       msg.Seq,
			Timestamp: time.Now().UnixMilli(),
		})

	case protocol.TypeSignal:
		h.handleSignal(c, msg)

	default:
		h.logger.Debug("Unknown message type", "channel_id", c.ID, "type", msg.Type)
		h.reject(c, msg, errUnknownType)
	}
}

func (h *Hub) ack(c *Client, msg *protocol.Message) {
	h.deliver(c, &protocol.Message{Type: protocol.TypeAck, Ref: msg.Seq, RoomID: msg.RoomID})
}

func (h *Hub) reject(c *Client, msg *protocol.Message, reason string) {
	h.metrics.MessageRejected(msg.Type, reason)
	h.deliver(c, &protocol.Message{Type: protocol.TypeError, Ref: msg.Seq, RoomID: msg.RoomID, Error: reason})
}

func (h *Hub) handleJoin(c *Client, msg *protocol.Message) {
	if msg.RoomID == "" {
		h.reject(c, msg, errRoomRequired)
		return
	}
	if !msg.Role.Valid() {
		h.reject(c, msg, errInvalidRole)
		return
	}

	room, ok := h.rooms[msg.RoomID]
	if ok {
		if role, member := room.role(c); member {
			if role != msg.Role {
				h.reject(c, msg, errRoleConflict)
				return
			}
			// Repeated join: acknowledge without changing membership.
			h.ack(c, msg)
			h.deliver(c, &protocol.Message{Type: protocol.TypeParticipantCount, RoomID: room.ID, Count: room.Count()})
			return
		}
		if msg.Role == protocol.RoleBroadcaster && room.Broadcaster != nil {
			h.logger.Info("Join rejected", "room", room.ID, "channel_id", c.ID, "reason", errRoleTaken)
			h.reject(c, msg, errRoleTaken)
			return
		}
	} else {
		room = newRoom(msg.RoomID)
		h.rooms[room.ID] = room
		h.metrics.RoomOpened()
		h.logger.Info("Room opened", "room", room.ID)
	}

	room.add(c, msg.Role)
	c.rooms[room.ID] = struct{}{}
	h.metrics.MembershipChanged(string(msg.Role), 1)
	h.logger.Info("Channel joined room", "room", room.ID, "channel_id", c.ID, "role", msg.Role, "participants", room.Count())

	h.ack(c, msg)
	h.pushCount(room)
}

func (h *Hub) leave(c *Client, roomID string) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	role, ok := room.remove(c)
	if !ok {
		return
	}
	delete(c.rooms, roomID)
	h.metrics.MembershipChanged(string(role), -1)
	h.logger.Info("Channel left room", "room", roomID, "channel_id", c.ID, "role", role)

	if room.empty() {
		delete(h.rooms, roomID)
		h.metrics.RoomClosed()
		h.logger.Info("Room closed", "room", roomID)
		return
	}
	h.pushCount(room)
}

// pushCount sends the authoritative participant count to every member.
func (h *Hub) pushCount(room *Room) {
	count := room.Count()
	for _, m := range room.members() {
		h.deliver(m, &protocol.Message{Type: protocol.TypeParticipantCount, RoomID: room.ID, Count: count})
	}
}

func (h *Hub) handleSignal(c *Client, msg *protocol.Message) {
	if !msg.Kind.Valid() {
		h.reject(c, msg, errInvalidKind)
		return
	}

	room, ok := h.rooms[msg.RoomID]
	if !ok {
		h.reject(c, msg, errNotMember)
		return
	}
	role, ok := room.role(c)
	if !ok {
		h.reject(c, msg, errNotMember)
		return
	}

	var targets []*Client
	switch {
	case msg.To != "":
		target := room.member(msg.To)
		if target == nil || target == c {
			h.reject(c, msg, errUnknownRecipient)
			return
		}
		targets = []*Client{target}
	case role == protocol.RoleBroadcaster:
		targets = room.viewers()
	case room.Broadcaster != nil:
		targets = []*Client{room.Broadcaster}
	}

	if len(targets) == 0 {
		h.logger.Debug("Signal has no recipient", "room", room.ID, "channel_id", c.ID, "kind", msg.Kind)
		return
	}

	for _, target := range targets {
		h.deliver(target, &protocol.Message{
			Type:    protocol.TypeSignal,
			RoomID:  room.ID,
			Role:    role,
			Kind:    msg.Kind,
			Payload: msg.Payload,
			From:    c.ID,
			To:      target.ID,
		})
	}
	h.metrics.SignalRelayed(string(msg.Kind), len(targets))
}

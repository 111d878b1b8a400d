package relay

import (
	"sort"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
)

// Room is one tasting stream: at most one broadcaster and any number of
// viewers.
type Room struct {
	// ID is the stream identifier.
	ID string

	// Broadcaster is the channel publishing the stream, if any.
	Broadcaster *Client

	// Viewers are the channels watching the stream.
	Viewers map[*Client]struct{}
}

func newRoom(id string) *Room {
	return &Room{ID: id, Viewers: make(map[*Client]struct{})}
}

// Count is the authoritative participant count.
func (r *Room) Count() int {
	n := len(r.Viewers)
	if r.Broadcaster != nil {
		n++
	}
	return n
}

func (r *Room) empty() bool {
	return r.Count() == 0
}

// role reports the role c holds in the room.
func (r *Room) role(c *Client) (protocol.Role, bool) {
	if r.Broadcaster == c {
		return protocol.RoleBroadcaster, true
	}
	if _, ok := r.Viewers[c]; ok {
		return protocol.RoleViewer, true
	}
	return "", false
}

func (r *Room) add(c *Client, role protocol.Role) {
	if role == protocol.RoleBroadcaster {
		r.Broadcaster = c
		return
	}
	r.Viewers[c] = struct{}{}
}

func (r *Room) remove(c *Client) (protocol.Role, bool) {
	role, ok := r.role(c)
	if !ok {
		return "", false
	}
	if role == protocol.RoleBroadcaster {
		r.Broadcaster = nil
	} else {
		delete(r.Viewers, c)
	}
	return role, true
}

// members returns every member ordered by channel id.
func (r *Room) members() []*Client {
	out := make([]*Client, 0, r.Count())
	if r.Broadcaster != nil {
		out = append(out, r.Broadcaster)
	}
	out = append(out, r.viewers()...)
	return out
}

func (r *Room) viewers() []*Client {
	out := make([]*Client, 0, len(r.Viewers))
	for c := range r.Viewers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Room) member(id string) *Client {
	if r.Broadcaster != nil && r.Broadcaster.ID == id {
		return r.Broadcaster
	}
	for c := range r.Viewers {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// RoomInfo is the public summary of a room.
type RoomInfo struct {
	ID           string `json:"id"`
	Broadcasting bool   `json:"broadcasting"`
	Viewers      int    `json:"viewers"`
	Participants int    `json:"participants"`
}

func (r *Room) info() RoomInfo {
	return RoomInfo{
		ID:           r.ID,
		Broadcasting: r.Broadcaster != nil,
		Viewers:      len(r.Viewers),
		Participants: r.Count(),
	}
}

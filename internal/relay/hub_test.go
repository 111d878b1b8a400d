package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/metrics"
	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCollector() metrics.Collector {
	return metrics.NewPrometheusCollector(prometheus.NewRegistry())
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(testCollector(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func attach(t *testing.T, hub *Hub) *Client {
	t.Helper()
	c := NewClient("test", "")
	if err := hub.Attach(c); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	expect(t, c, protocol.TypeWelcome)
	return c
}

func recv(t *testing.T, c *Client) *protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Send:
		if !ok {
			t.Fatal("send channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func expect(t *testing.T, c *Client, typ string) *protocol.Message {
	t.Helper()
	msg := recv(t, c)
	if msg.Type != typ {
		t.Fatalf("got %s message %+v, want %s", msg.Type, msg, typ)
	}
	return msg
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(30 * time.Millisecond):
	}
}

func join(t *testing.T, hub *Hub, c *Client, room string, role protocol.Role, seq uint64) {
	t.Helper()
	hub.Dispatch(c, &protocol.Message{Type: protocol.TypeJoinRoom, Seq: seq, RoomID: room, Role: role})
	ack := expect(t, c, protocol.TypeAck)
	if ack.Ref != seq {
		t.Fatalf("ack ref = %d, want %d", ack.Ref, seq)
	}
	expect(t, c, protocol.TypeParticipantCount)
}

func TestAttachSendsWelcome(t *testing.T) {
	hub, _ := startHub(t)
	c := NewClient("test", "sid=abc")
	if err := hub.Attach(c); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	msg := expect(t, c, protocol.TypeWelcome)
	if msg.ChannelID != c.ID {
		t.Fatalf("welcome channel id = %q, want %q", msg.ChannelID, c.ID)
	}
}

func TestJoinPushesParticipantCounts(t *testing.T) {
	hub, _ := startHub(t)
	b := attach(t, hub)
	v1 := attach(t, hub)
	v2 := attach(t, hub)

	join(t, hub, b, "stream-1", protocol.RoleBroadcaster, 1)
	join(t, hub, v1, "stream-1", protocol.RoleViewer, 1)
	if got := expect(t, b, protocol.TypeParticipantCount); got.Count != 2 {
		t.Fatalf("broadcaster count = %d, want 2", got.Count)
	}

	join(t, hub, v2, "stream-1", protocol.RoleViewer, 1)
	for _, c := range []*Client{b, v1} {
		if got := expect(t, c, protocol.TypeParticipantCount); got.Count != 3 {
			t.Fatalf("count = %d, want 3", got.Count)
		}
	}

	rooms, err := hub.Rooms(context.Background())
	if err != nil {
		t.Fatalf("Rooms() error = %v", err)
	}
	if len(rooms) != 1 || rooms[0].Participants != 3 || !rooms[0].Broadcasting || rooms[0].Viewers != 2 {
		t.Fatalf("Rooms() = %+v", rooms)
	}
}

func TestRepeatedJoinIsDeduplicated(t *testing.T) {
	hub, _ := startHub(t)
	b := attach(t, hub)
	v := attach(t, hub)

	join(t, hub, b, "stream-1", protocol.RoleBroadcaster, 1)
	join(t, hub, v, "stream-1", protocol.RoleViewer, 1)
	expect(t, b, protocol.TypeParticipantCount)

	hub.Dispatch(v, &protocol.Message{Type: protocol.TypeJoinRoom, Seq: 2, RoomID: "stream-1", Role: protocol.RoleViewer})
	expect(t, v, protocol.TypeAck)
	if got := expect(t, v, protocol.TypeParticipantCount); got.Count != 2 {
		t.Fatalf("count after repeat join = %d, want 2", got.Count)
	}
	expectNothing(t, b)
}

func TestSecondBroadcasterRejected(t *testing.T) {
	hub, _ := startHub(t)
	b1 := attach(t, hub)
	b2 := attach(t, hub)

	join(t, hub, b1, "stream-1", protocol.RoleBroadcaster, 1)
	hub.Dispatch(b2, &protocol.Message{Type: protocol.TypeJoinRoom, Seq: 7, RoomID: "stream-1", Role: protocol.RoleBroadcaster})

	msg := expect(t, b2, protocol.TypeError)
	if msg.Ref != 7 || msg.Error != errRoleTaken {
		t.Fatalf("error = %+v", msg)
	}
}

func TestJoinValidation(t *testing.T) {
	hub, _ := startHub(t)
	c := attach(t, hub)

	hub.Dispatch(c, &protocol.Message{Type: protocol.TypeJoinRoom, Seq: 1, Role: protocol.RoleViewer})
	if msg := expect(t, c, protocol.TypeError); msg.Error != errRoomRequired {
		t.Fatalf("error = %q", msg.Error)
	}

	hub.Dispatch(c, &protocol.Message{Type: protocol.TypeJoinRoom, Seq: 2, RoomID: "r", Role: "host"})
	if msg := expect(t, c, protocol.TypeError); msg.Error != errInvalidRole {
		t.Fatalf("error = %q", msg.Error)
	}
}

func TestSignalRouting(t *testing.T) {
	hub, _ := startHub(t)
	b := attach(t, hub)
	v1 := attach(t, hub)
	v2 := attach(t, hub)

	join(t, hub, b, "stream-1", protocol.RoleBroadcaster, 1)
	join(t, hub, v1, "stream-1", protocol.RoleViewer, 1)
	expect(t, b, protocol.TypeParticipantCount)
	join(t, hub, v2, "stream-1", protocol.RoleViewer, 1)
	expect(t, b, protocol.TypeParticipantCount)
	expect(t, v1, protocol.TypeParticipantCount)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	hub.Dispatch(b, &protocol.Message{Type: protocol.TypeSignal, RoomID: "stream-1", Kind: protocol.KindOffer, Payload: offer})
	for _, v := range []*Client{v1, v2} {
		msg := expect(t, v, protocol.TypeSignal)
		if msg.From != b.ID || msg.Role != protocol.RoleBroadcaster || string(msg.Payload) != string(offer) {
			t.Fatalf("relayed offer = %+v", msg)
		}
	}

	hub.Dispatch(v1, &protocol.Message{Type: protocol.TypeSignal, RoomID: "stream-1", Kind: protocol.KindAnswer, Payload: json.RawMessage(`{}`)})
	if msg := expect(t, b, protocol.TypeSignal); msg.From != v1.ID || msg.Kind != protocol.KindAnswer {
		t.Fatalf("relayed answer = %+v", msg)
	}
	expectNothing(t, v2)

	hub.Dispatch(b, &protocol.Message{Type: protocol.TypeSignal, RoomID: "stream-1", To: v2.ID, Kind: protocol.KindCandidate, Payload: json.RawMessage(`{}`)})
	if msg := expect(t, v2, protocol.TypeSignal); msg.To != v2.ID {
		t.Fatalf("addressed signal = %+v", msg)
	}
	expectNothing(t, v1)
}

func TestSignalFromNonMemberRejected(t *testing.T) {
	hub, _ := startHub(t)
	b := attach(t, hub)
	outsider := attach(t, hub)
	join(t, hub, b, "stream-1", protocol.RoleBroadcaster, 1)

	hub.Dispatch(outsider, &protocol.Message{Type: protocol.TypeSignal, Seq: 3, RoomID: "stream-1", Kind: protocol.KindOffer})
	if msg := expect(t, outsider, protocol.TypeError); msg.Error != errNotMember || msg.Ref != 3 {
		t.Fatalf("error = %+v", msg)
	}
	expectNothing(t, b)

	hub.Dispatch(b, &protocol.Message{Type: protocol.TypeSignal, RoomID: "stream-1", Kind: "bye"})
	if msg := expect(t, b, protocol.TypeError); msg.Error != errInvalidKind {
		t.Fatalf("error = %+v", msg)
	}
}

func TestPingPong(t *testing.T) {
	hub, _ := startHub(t)
	c := attach(t, hub)

	hub.Dispatch(c, protocol.NewPing(42))
	if msg := expect(t, c, protocol.TypePong); msg.Ref != 42 {
		t.Fatalf("pong ref = %d, want 42", msg.Ref)
	}
}

func TestLeaveAndDetachUpdateCounts(t *testing.T) {
	hub, _ := startHub(t)
	b := attach(t, hub)
	v := attach(t, hub)

	join(t, hub, b, "stream-1", protocol.RoleBroadcaster, 1)
	join(t, hub, v, "stream-1", protocol.RoleViewer, 1)
	expect(t, b, protocol.TypeParticipantCount)

	hub.Dispatch(v, &protocol.Message{Type: protocol.TypeLeaveRoom, Seq: 2, RoomID: "stream-1"})
	expect(t, v, protocol.TypeAck)
	if msg := expect(t, b, protocol.TypeParticipantCount); msg.Count != 1 {
		t.Fatalf("count after leave = %d, want 1", msg.Count)
	}

	// Leaving a room never joined is acknowledged.
	hub.Dispatch(v, &protocol.Message{Type: protocol.TypeLeaveRoom, Seq: 3, RoomID: "elsewhere"})
	if msg := expect(t, v, protocol.TypeAck); msg.Ref != 3 {
		t.Fatalf("ack = %+v", msg)
	}

	hub.Detach(b)
	if _, ok := <-b.Send; ok {
		t.Fatal("detached client still has an open send channel")
	}

	rooms, err := hub.Rooms(context.Background())
	if err != nil {
		t.Fatalf("Rooms() error = %v", err)
	}
	if len(rooms) != 0 {
		t.Fatalf("Rooms() = %+v, want none", rooms)
	}
}

func TestDisconnectManual(t *testing.T) {
	hub, _ := startHub(t)
	c := attach(t, hub)

	if err := hub.Disconnect(context.Background(), c.ID, protocol.ReasonManual); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if msg := expect(t, c, protocol.TypeDisconnect); msg.Reason != protocol.ReasonManual {
		t.Fatalf("reason = %q", msg.Reason)
	}
	if _, ok := <-c.Send; ok {
		t.Fatal("send channel left open")
	}

	err := hub.Disconnect(context.Background(), "nope", protocol.ReasonManual)
	if !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("Disconnect(unknown) error = %v", err)
	}
}

func TestStopSendsRestart(t *testing.T) {
	hub, cancel := startHub(t)
	c := attach(t, hub)

	cancel()
	if msg := expect(t, c, protocol.TypeDisconnect); msg.Reason != protocol.ReasonRestart {
		t.Fatalf("reason = %q, want restart", msg.Reason)
	}
	if _, ok := <-c.Send; ok {
		t.Fatal("send channel left open")
	}
	if err := hub.Attach(NewClient("test", "")); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("Attach() after stop error = %v", err)
	}
}

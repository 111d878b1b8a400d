package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
)

func TestPollSessionLifecycle(t *testing.T) {
	hub, _ := startHub(t)
	sessions := NewPollSessions(hub, time.Minute, testCollector(), testLogger())
	ctx := context.Background()

	sid, err := sessions.Open("session=1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	batch, err := sessions.Poll(ctx, sid, time.Second)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(batch) != 1 || batch[0].Type != protocol.TypeWelcome {
		t.Fatalf("first poll = %+v, want welcome", batch)
	}

	err = sessions.Push(sid, []*protocol.Message{
		{Type: protocol.TypeJoinRoom, Seq: 1, RoomID: "stream-1", Role: protocol.RoleViewer},
		protocol.NewPing(2),
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	var got []*protocol.Message
	deadline := time.Now().Add(time.Second)
	for len(got) < 3 && time.Now().Before(deadline) {
		batch, err := sessions.Poll(ctx, sid, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
		got = append(got, batch...)
	}
	if len(got) != 3 {
		t.Fatalf("received %d messages, want ack, count and pong", len(got))
	}
	if got[0].Type != protocol.TypeAck || got[1].Type != protocol.TypeParticipantCount || got[2].Type != protocol.TypePong {
		t.Fatalf("order = %s %s %s", got[0].Type, got[1].Type, got[2].Type)
	}

	if err := sessions.Close(sid); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := sessions.Poll(ctx, sid, time.Millisecond); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("Poll() after close error = %v", err)
	}
}

func TestPollTimesOutEmpty(t *testing.T) {
	hub, _ := startHub(t)
	sessions := NewPollSessions(hub, time.Minute, testCollector(), testLogger())

	sid, err := sessions.Open("")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := sessions.Poll(context.Background(), sid, time.Second); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	batch, err := sessions.Poll(context.Background(), sid, 20*time.Millisecond)
	if err != nil || len(batch) != 0 {
		t.Fatalf("Poll() = %v, %v, want empty", batch, err)
	}
}

func TestReapIdleSessions(t *testing.T) {
	hub, _ := startHub(t)
	sessions := NewPollSessions(hub, 10*time.Millisecond, testCollector(), testLogger())

	sid, err := sessions.Open("")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if n := sessions.reapIdle(time.Now()); n != 0 {
		t.Fatalf("reaped %d fresh sessions", n)
	}
	if n := sessions.reapIdle(time.Now().Add(time.Second)); n != 1 {
		t.Fatalf("reaped %d sessions, want 1", n)
	}
	if sessions.Len() != 0 {
		t.Fatalf("Len() = %d after reap", sessions.Len())
	}
	if err := sessions.Push(sid, nil); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("Push() after reap error = %v", err)
	}
}

func TestPollReportsHubClose(t *testing.T) {
	hub, cancel := startHub(t)
	sessions := NewPollSessions(hub, time.Minute, testCollector(), testLogger())

	sid, err := sessions.Open("")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sessions.Poll(context.Background(), sid, time.Second)

	cancel()

	batch, err := sessions.Poll(context.Background(), sid, time.Second)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(batch) != 1 || batch[0].Reason != protocol.ReasonRestart {
		t.Fatalf("Poll() = %+v, want restart notice", batch)
	}
	if _, err := sessions.Poll(context.Background(), sid, time.Second); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Poll() after hub close error = %v", err)
	}
}

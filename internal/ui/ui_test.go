package ui

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bourbonbuddy/tastecast/internal/channel"
	"github.com/bourbonbuddy/tastecast/internal/relay"
	"github.com/bourbonbuddy/tastecast/internal/transport"
	tea "github.com/charmbracelet/bubbletea"
)

func TestStatusModelFollowsEvents(t *testing.T) {
	m := NewStatusModel("highland-flight")

	events := []channel.Event{
		{Type: channel.EventStateChanged, State: channel.StateConnected, ChannelID: "ch-1", Transport: transport.KindPolling},
		{Type: channel.EventParticipantCount, Room: "highland-flight", Count: 4},
		{Type: channel.EventReconnecting, Attempt: 1},
		{Type: channel.EventSignal},
	}
	for _, ev := range events {
		if msg := EventMsg(ev); msg != nil {
			m.Update(msg)
		}
	}
	m.Update(noteMsg("vanilla, oak, a little smoke"))

	view := m.View()
	for _, want := range []string{"highland-flight", "connected", "polling", "ch-1", "4 in the room", "vanilla", "1 reconnects"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}
}

func TestStatusModelSyntheticAndFailure(t *testing.T) {
	m := NewStatusModel("s")
	m.Update(EventMsg(channel.Event{Type: channel.EventParticipantCount, Count: channel.SyntheticParticipantCount, Synthetic: true}))
	m.Update(EventMsg(channel.Event{Type: channel.EventFailed, Err: errors.New("boom")}))

	view := m.View()
	if !strings.Contains(view, "offline preview") {
		t.Errorf("synthetic count not shown:\n%s", view)
	}
	if !strings.Contains(view, channel.UserMessage) {
		t.Errorf("failure text not shown:\n%s", view)
	}
}

func TestStatusModelKeepsLatestNotes(t *testing.T) {
	m := NewStatusModel("s")
	for i := 0; i < maxNotes+3; i++ {
		m.Update(noteMsg(fmt.Sprintf("note-%d", i)))
	}
	notes := m.Notes()
	if len(notes) != maxNotes || notes[0] != "note-3" {
		t.Fatalf("notes = %v", notes)
	}
}

func TestStatusModelQuit(t *testing.T) {
	m := NewStatusModel("s")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q did not quit")
	}
	if m.View() != "" {
		t.Fatal("view not cleared after quit")
	}
}

func TestRoomsView(t *testing.T) {
	view := RoomsView([]relay.RoomInfo{
		{ID: "islay-night", Broadcasting: true, Viewers: 3, Participants: 4},
		{ID: "rye-101", Viewers: 1, Participants: 1},
	})
	// Headers render upper-cased.
	for _, want := range []string{"islay-night", "rye-101", "PARTICIPANTS", "yes"} {
		if !strings.Contains(view, want) {
			t.Errorf("RoomsView() missing %q:\n%s", want, view)
		}
	}

	if !strings.Contains(RoomsView(nil), "No live streams") {
		t.Error("empty rooms not reported")
	}
}

func TestSessionSummaryView(t *testing.T) {
	view := SessionSummaryView(SessionSummary{Stream: "rye-101", Role: "viewer", Transport: "websocket", Notes: 2})
	if !strings.Contains(view, "rye-101") || !strings.Contains(view, "websocket") {
		t.Fatalf("summary:\n%s", view)
	}
}

func TestStreamInfoView(t *testing.T) {
	view := StreamInfoView("islay-night", "http://localhost:8080")
	for _, want := range []string{"islay-night", "http://localhost:8080", "Broadcasting!"} {
		if !strings.Contains(view, want) {
			t.Errorf("stream info missing %q:\n%s", want, view)
		}
	}
}

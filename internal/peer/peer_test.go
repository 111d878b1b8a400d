package peer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/bourbonbuddy/tastecast/internal/channel"
	"github.com/bourbonbuddy/tastecast/internal/config"
	"github.com/bourbonbuddy/tastecast/internal/protocol"
	pion "github.com/pion/webrtc/v4"
)

type sent struct {
	room    string
	to      string
	kind    protocol.SignalKind
	payload json.RawMessage
}

type recordingSignaler struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recordingSignaler) SendSignalTo(_ context.Context, room, to string, kind protocol.SignalKind, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{room: room, to: to, kind: kind, payload: payload})
	return nil
}

func (r *recordingSignaler) first(kind protocol.SignalKind) (sent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.kind == kind {
			return m, true
		}
	}
	return sent{}, false
}

func localConfig() *config.Config {
	cfg := config.Defaults()
	cfg.STUNServer = ""
	return cfg
}

func candidatePayload(t *testing.T) json.RawMessage {
	t.Helper()
	mid := "0"
	index := uint16(0)
	payload, err := json.Marshal(pion.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2130706431 192.0.2.10 50000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	})
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func TestOfferAnswerExchange(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig()

	viewerSig := &recordingSignaler{}
	viewer, err := NewViewer(cfg, viewerSig, "stream-1", false, nil)
	if err != nil {
		t.Fatalf("NewViewer() error = %v", err)
	}
	defer viewer.Close()

	if err := viewer.Offer(ctx); err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	offer, ok := viewerSig.first(protocol.KindOffer)
	if !ok {
		t.Fatal("no offer sent")
	}
	if offer.to != "" || offer.room != "stream-1" {
		t.Fatalf("offer routed to %q in %q", offer.to, offer.room)
	}
	if !strings.Contains(string(offer.payload), "m=application") {
		t.Fatalf("offer has no data section: %s", offer.payload)
	}

	// A candidate ahead of the answer waits for it.
	if err := viewer.HandleSignal(channel.Signal{Room: "stream-1", Kind: protocol.KindCandidate, Payload: candidatePayload(t)}); err != nil {
		t.Fatalf("early candidate error = %v", err)
	}
	if n := viewer.link.pendingCandidates(); n != 1 {
		t.Fatalf("pending candidates = %d, want 1", n)
	}

	hostSig := &recordingSignaler{}
	host := NewBroadcaster(cfg, hostSig, "stream-1", false, nil)
	defer host.Close()

	err = host.HandleSignal(ctx, channel.Signal{
		Room:    "stream-1",
		Kind:    protocol.KindOffer,
		From:    "viewer-1",
		Role:    protocol.RoleViewer,
		Payload: offer.payload,
	})
	if err != nil {
		t.Fatalf("HandleSignal(offer) error = %v", err)
	}
	if host.Viewers() != 1 {
		t.Fatalf("Viewers() = %d, want 1", host.Viewers())
	}

	answer, ok := hostSig.first(protocol.KindAnswer)
	if !ok {
		t.Fatal("no answer sent")
	}
	if answer.to != "viewer-1" {
		t.Fatalf("answer sent to %q, want viewer-1", answer.to)
	}

	if err := viewer.HandleSignal(channel.Signal{Room: "stream-1", Kind: protocol.KindAnswer, Payload: answer.payload}); err != nil {
		t.Fatalf("HandleSignal(answer) error = %v", err)
	}
	if n := viewer.link.pendingCandidates(); n != 0 {
		t.Fatalf("pending candidates after answer = %d, want 0", n)
	}
}

func TestBroadcasterRejectsStrayCandidate(t *testing.T) {
	host := NewBroadcaster(localConfig(), &recordingSignaler{}, "stream-1", false, nil)
	defer host.Close()

	err := host.HandleSignal(context.Background(), channel.Signal{
		Room:    "stream-1",
		Kind:    protocol.KindCandidate,
		From:    "nobody",
		Payload: candidatePayload(t),
	})
	if !errors.Is(err, ErrUnknownViewer) {
		t.Fatalf("error = %v, want ErrUnknownViewer", err)
	}
}

func TestSignalsForOtherRoomsIgnored(t *testing.T) {
	host := NewBroadcaster(localConfig(), &recordingSignaler{}, "stream-1", false, nil)
	defer host.Close()

	err := host.HandleSignal(context.Background(), channel.Signal{Room: "stream-2", Kind: protocol.KindAnswer})
	if err != nil {
		t.Fatalf("error = %v, want nil", err)
	}

	err = host.HandleSignal(context.Background(), channel.Signal{Room: "stream-1", Kind: protocol.KindAnswer})
	if !errors.Is(err, ErrUnexpectedSignal) {
		t.Fatalf("error = %v, want ErrUnexpectedSignal", err)
	}
}

func TestRelayPolicyNeedsTURN(t *testing.T) {
	cfg := localConfig()

	pc, err := NewPeerConnection(cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()
	if got := pc.GetConfiguration().ICETransportPolicy; got != pion.ICETransportPolicyAll {
		t.Fatalf("policy without TURN = %s, want all", got)
	}

	cfg.TURNServer = "turn:turn.example.com"
	cfg.TURNUser, cfg.TURNPass = "u", "p"
	pc2, err := NewPeerConnection(cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	defer pc2.Close()
	if got := pc2.GetConfiguration().ICETransportPolicy; got != pion.ICETransportPolicyRelay {
		t.Fatalf("policy with TURN = %s, want relay", got)
	}
}

// Package peer negotiates WebRTC data channels between a broadcaster and its
// viewers, using a stream room to carry offers, answers and candidates.
package peer

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bourbonbuddy/tastecast/internal/channel"
	"github.com/bourbonbuddy/tastecast/internal/config"
	"github.com/bourbonbuddy/tastecast/internal/protocol"
	pion "github.com/pion/webrtc/v4"
)

// NotesLabel is the data channel label tasting notes travel on.
const NotesLabel = "tasting-notes"

// Signaler relays negotiation payloads. An empty to lets the server route
// by role.
type Signaler interface {
	SendSignalTo(ctx context.Context, room, to string, kind protocol.SignalKind, payload json.RawMessage) error
}

// NewPeerConnection builds a peer connection from the ICE settings in cfg.
func NewPeerConnection(cfg *config.Config, relay bool) (*pion.PeerConnection, error) {
	var iceServers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && relay {
		policy = pion.ICETransportPolicyRelay
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, newError("create peer connection", err)
	}
	return pc, nil
}

// link is one negotiated peer connection plus the candidates that arrived
// before its remote description.
type link struct {
	pc *pion.PeerConnection

	mu      sync.Mutex
	pending []pion.ICECandidateInit
}

func newLink(pc *pion.PeerConnection) *link {
	return &link{pc: pc}
}

func (l *link) addCandidate(payload json.RawMessage) error {
	var ice pion.ICECandidateInit
	if err := json.Unmarshal(payload, &ice); err != nil {
		return newError("parse ICE candidate", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pc.RemoteDescription() == nil {
		l.pending = append(l.pending, ice)
		return nil
	}
	if err := l.pc.AddICECandidate(ice); err != nil {
		return newError("add ICE candidate", err)
	}
	return nil
}

func (l *link) setRemote(desc pion.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return newError("set remote description", err)
	}
	for _, ice := range l.pending {
		if err := l.pc.AddICECandidate(ice); err != nil {
			return newError("add ICE candidate", err)
		}
	}
	l.pending = nil
	return nil
}

func (l *link) pendingCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// trickle forwards local candidates to the remote side.
func trickle(ctx context.Context, pc *pion.PeerConnection, sig Signaler, room, to string, onErr func(error)) {
	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			onErr(newError("encode ICE candidate", err))
			return
		}
		if err := sig.SendSignalTo(ctx, room, to, protocol.KindCandidate, payload); err != nil {
			onErr(err)
		}
	})
}

func decodeDescription(s channel.Signal, want pion.SDPType) (pion.SessionDescription, error) {
	var desc pion.SessionDescription
	if err := json.Unmarshal(s.Payload, &desc); err != nil {
		return desc, newError("parse session description", err)
	}
	if desc.Type != want {
		return desc, newError("handle signal", ErrUnexpectedSignal)
	}
	return desc, nil
}

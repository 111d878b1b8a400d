package peer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/bourbonbuddy/tastecast/internal/channel"
	"github.com/bourbonbuddy/tastecast/internal/config"
	"github.com/bourbonbuddy/tastecast/internal/protocol"
	pion "github.com/pion/webrtc/v4"
)

// Viewer offers a notes data channel to the room's broadcaster.
type Viewer struct {
	room   string
	sig    Signaler
	link   *link
	dc     *pion.DataChannel
	notes  chan string
	logger *slog.Logger
}

// NewViewer prepares a peer connection for room.
func NewViewer(cfg *config.Config, sig Signaler, room string, relay bool, logger *slog.Logger) (*Viewer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := NewPeerConnection(cfg, relay)
	if err != nil {
		return nil, err
	}

	ordered := true
	dc, err := pc.CreateDataChannel(NotesLabel, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return nil, newError("create data channel", err)
	}

	v := &Viewer{
		room:   room,
		sig:    sig,
		link:   newLink(pc),
		dc:     dc,
		notes:  make(chan string, 32),
		logger: logger.With("room", room),
	}

	dc.OnMessage(func(msg pion.DataChannelMessage) {
		select {
		case v.notes <- string(msg.Data):
		default:
			v.logger.Warn("dropping tasting note, reader too slow")
		}
	})
	return v, nil
}

// Offer creates the local offer and sends it to the broadcaster.
func (v *Viewer) Offer(ctx context.Context) error {
	pc := v.link.pc
	trickle(ctx, pc, v.sig, v.room, "", func(err error) {
		v.logger.Debug("candidate not sent", "error", err)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return newError("create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return newError("set local description", err)
	}

	payload, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		return newError("encode offer", err)
	}
	return v.sig.SendSignalTo(ctx, v.room, "", protocol.KindOffer, payload)
}

// HandleSignal applies an answer or candidate from the broadcaster.
func (v *Viewer) HandleSignal(s channel.Signal) error {
	if s.Room != v.room {
		return nil
	}

	switch s.Kind {
	case protocol.KindAnswer:
		desc, err := decodeDescription(s, pion.SDPTypeAnswer)
		if err != nil {
			return err
		}
		return v.link.setRemote(desc)
	case protocol.KindCandidate:
		return v.link.addCandidate(s.Payload)
	default:
		return newError("handle signal", ErrUnexpectedSignal)
	}
}

// Notes delivers tasting notes as they arrive.
func (v *Viewer) Notes() <-chan string {
	return v.notes
}

// OnStateChange reports peer connection state changes.
func (v *Viewer) OnStateChange(fn func(pion.PeerConnectionState)) {
	v.link.pc.OnConnectionStateChange(fn)
}

// Close tears down the peer connection.
func (v *Viewer) Close() error {
	return v.link.pc.Close()
}

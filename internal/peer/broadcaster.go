package peer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/bourbonbuddy/tastecast/internal/channel"
	"github.com/bourbonbuddy/tastecast/internal/config"
	"github.com/bourbonbuddy/tastecast/internal/protocol"
	pion "github.com/pion/webrtc/v4"
)

// Broadcaster answers viewer offers and fans tasting notes out to every
// open data channel.
type Broadcaster struct {
	cfg    *config.Config
	relay  bool
	room   string
	sig    Signaler
	logger *slog.Logger

	mu       sync.Mutex
	viewers  map[string]*link
	channels map[string]*pion.DataChannel
	greeting string
}

// NewBroadcaster serves viewers of room.
func NewBroadcaster(cfg *config.Config, sig Signaler, room string, relay bool, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		cfg:      cfg,
		relay:    relay,
		room:     room,
		sig:      sig,
		logger:   logger.With("room", room),
		viewers:  make(map[string]*link),
		channels: make(map[string]*pion.DataChannel),
	}
}

// SetGreeting sets the note sent to each viewer when its channel opens.
func (b *Broadcaster) SetGreeting(note string) {
	b.mu.Lock()
	b.greeting = note
	b.mu.Unlock()
}

// HandleSignal answers an offer or applies a candidate from a viewer.
func (b *Broadcaster) HandleSignal(ctx context.Context, s channel.Signal) error {
	if s.Room != b.room {
		return nil
	}

	switch s.Kind {
	case protocol.KindOffer:
		return b.answer(ctx, s)
	case protocol.KindCandidate:
		b.mu.Lock()
		l, ok := b.viewers[s.From]
		b.mu.Unlock()
		if !ok {
			return newError("add ICE candidate", ErrUnknownViewer)
		}
		return l.addCandidate(s.Payload)
	default:
		return newError("handle signal", ErrUnexpectedSignal)
	}
}

func (b *Broadcaster) answer(ctx context.Context, s channel.Signal) error {
	offer, err := decodeDescription(s, pion.SDPTypeOffer)
	if err != nil {
		return err
	}

	pc, err := NewPeerConnection(b.cfg, b.relay)
	if err != nil {
		return err
	}
	viewer := s.From
	l := newLink(pc)

	b.mu.Lock()
	if old, ok := b.viewers[viewer]; ok {
		old.pc.Close()
	}
	b.viewers[viewer] = l
	b.mu.Unlock()

	trickle(ctx, pc, b.sig, b.room, viewer, func(err error) {
		b.logger.Debug("candidate not sent", "viewer", viewer, "error", err)
	})
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() != NotesLabel {
			return
		}
		dc.OnOpen(func() {
			b.mu.Lock()
			b.channels[viewer] = dc
			greeting := b.greeting
			b.mu.Unlock()

			b.logger.Info("viewer connected", "viewer", viewer)
			if greeting != "" {
				dc.SendText(greeting)
			}
		})
		dc.OnClose(func() {
			b.mu.Lock()
			delete(b.channels, viewer)
			b.mu.Unlock()
		})
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		if state == pion.PeerConnectionStateFailed || state == pion.PeerConnectionStateClosed {
			b.drop(viewer, l)
		}
	})

	if err := l.setRemote(offer); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return newError("create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return newError("set local description", err)
	}

	payload, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		return newError("encode answer", err)
	}
	return b.sig.SendSignalTo(ctx, b.room, viewer, protocol.KindAnswer, payload)
}

func (b *Broadcaster) drop(viewer string, l *link) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.viewers[viewer] == l {
		delete(b.viewers, viewer)
		delete(b.channels, viewer)
	}
}

// Publish sends note to every viewer with an open channel and returns how
// many received it.
func (b *Broadcaster) Publish(note string) int {
	b.mu.Lock()
	channels := make([]*pion.DataChannel, 0, len(b.channels))
	for _, dc := range b.channels {
		channels = append(channels, dc)
	}
	b.mu.Unlock()

	sent := 0
	for _, dc := range channels {
		if err := dc.SendText(note); err != nil {
			b.logger.Debug("note not delivered", "label", dc.Label(), "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Viewers returns how many viewers are negotiating or connected.
func (b *Broadcaster) Viewers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.viewers)
}

// Close tears down every viewer connection.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	viewers := b.viewers
	b.viewers = make(map[string]*link)
	b.channels = make(map[string]*pion.DataChannel)
	b.mu.Unlock()

	for _, l := range viewers {
		l.pc.Close()
	}
}

package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/metrics"
	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/google/uuid"
)

var (
	// ErrUnknownSession is returned for a sid the relay never issued or
	// already forgot.
	ErrUnknownSession = errors.New("unknown poll session")

	// ErrSessionClosed is returned once the hub detached the session.
	ErrSessionClosed = errors.New("poll session closed")
)

type pollSession struct {
	client *Client

	mu       sync.Mutex
	lastSeen time.Time
	active   int
}

func (s *pollSession) touch(delta int) {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.active += delta
	s.mu.Unlock()
}

func (s *pollSession) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active > 0 {
		return 0
	}
	return now.Sub(s.lastSeen)
}

// PollSessions maps long-polling session ids onto hub clients.
type PollSessions struct {
	hub     *Hub
	ttl     time.Duration
	metrics metrics.Collector
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*pollSession
}

// NewPollSessions creates the session table. Sessions idle for longer than
// ttl are reaped by Reap.
func NewPollSessions(hub *Hub, ttl time.Duration, collector metrics.Collector, logger *slog.Logger) *PollSessions {
	return &PollSessions{
		hub:      hub,
		ttl:      ttl,
		metrics:  collector,
		logger:   logger,
		sessions: make(map[string]*pollSession),
	}
}

// Open attaches a new polling client to the hub and returns its sid.
func (p *PollSessions) Open(session string) (string, error) {
	client := NewClient("polling", session)
	if err := p.hub.Attach(client); err != nil {
		return "", err
	}

	sid := uuid.NewString()
	s := &pollSession{client: client, lastSeen: time.Now()}

	p.mu.Lock()
	p.sessions[sid] = s
	p.mu.Unlock()

	p.metrics.PollSessionOpened()
	p.logger.Debug("Poll session opened", "sid", sid, "channel_id", client.ID)
	return sid, nil
}

func (p *PollSessions) get(sid string) (*pollSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sid]
	return s, ok
}

// Poll waits up to wait for outbound messages and returns at most one
// batch. An empty result with a nil error means nothing arrived in time.
func (p *PollSessions) Poll(ctx context.Context, sid string, wait time.Duration) ([]*protocol.Message, error) {
	s, ok := p.get(sid)
	if !ok {
		return nil, ErrUnknownSession
	}
	s.touch(1)
	defer s.touch(-1)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	var batch []*protocol.Message
	select {
	case msg, ok := <-s.client.Send:
		if !ok {
			p.forget(sid, false)
			return nil, ErrSessionClosed
		}
		batch = append(batch, msg)
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for len(batch) < protocol.MaxBatchSize {
		select {
		case msg, ok := <-s.client.Send:
			if !ok {
				// Deliver what we have; the next poll reports the close.
				return batch, nil
			}
			batch = append(batch, msg)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// Push dispatches client messages to the hub in order.
func (p *PollSessions) Push(sid string, msgs []*protocol.Message) error {
	s, ok := p.get(sid)
	if !ok {
		return ErrUnknownSession
	}
	s.touch(0)

	for _, msg := range msgs {
		p.hub.Dispatch(s.client, msg)
	}
	return nil
}

// Close detaches a session on the client's request.
func (p *PollSessions) Close(sid string) error {
	s, ok := p.get(sid)
	if !ok {
		return ErrUnknownSession
	}
	p.hub.Detach(s.client)
	p.forget(sid, false)
	return nil
}

func (p *PollSessions) forget(sid string, reaped bool) {
	p.mu.Lock()
	_, ok := p.sessions[sid]
	delete(p.sessions, sid)
	p.mu.Unlock()

	if ok {
		p.metrics.PollSessionClosed(reaped)
	}
}

// Len reports the number of open sessions.
func (p *PollSessions) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Reap detaches idle sessions every interval until ctx is done.
func (p *PollSessions) Reap(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.reapIdle(now)
		}
	}
}

func (p *PollSessions) reapIdle(now time.Time) int {
	p.mu.Lock()
	var idle []string
	for sid, s := range p.sessions {
		if s.idleSince(now) > p.ttl {
			idle = append(idle, sid)
		}
	}
	p.mu.Unlock()

	for _, sid := range idle {
		s, ok := p.get(sid)
		if !ok {
			continue
		}
		p.logger.Info("Reaping idle poll session", "sid", sid, "channel_id", s.client.ID)
		p.hub.Detach(s.client)
		p.forget(sid, true)
	}
	return len(idle)
}

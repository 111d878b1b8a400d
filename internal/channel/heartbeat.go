package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
)

// Heartbeat sends a ping every interval for one connection session.
// A missing acknowledgment is only logged; the transport decides liveness.
type Heartbeat struct {
	interval time.Duration
	send     func(ctx context.Context, msg *protocol.Message) error
	nextSeq  func() uint64
	logger   *slog.Logger

	mu          sync.Mutex
	outstanding uint64
	lastAck     time.Time
}

// NewHeartbeat creates a monitor. send must not block past ctx.
func NewHeartbeat(interval time.Duration, send func(context.Context, *protocol.Message) error, nextSeq func() uint64, logger *slog.Logger) *Heartbeat {
	return &Heartbeat{
		interval: interval,
		send:     send,
		nextSeq:  nextSeq,
		logger:   logger,
	}
}

// Run pings until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			seq := h.nextSeq()

			h.mu.Lock()
			if h.outstanding != 0 {
				h.logger.Debug("Heartbeat ack missing", "seq", h.outstanding)
			}
			h.outstanding = seq
			h.mu.Unlock()

			if err := h.send(ctx, protocol.NewPing(seq)); err != nil {
				h.logger.Debug("Failed to send heartbeat", "error", err)
			}
		}
	}
}

// Ack records a pong. It returns the acknowledgment time.
func (h *Heartbeat) Ack(ref uint64) time.Time {
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	if ref == h.outstanding {
		h.outstanding = 0
	}
	h.lastAck = now
	return now
}

// LastAck returns the time of the most recent pong.
func (h *Heartbeat) LastAck() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastAck
}

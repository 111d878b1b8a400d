package channel

import (
	"log/slog"
	"sync"
)

// Manager is the registry for the one shared Channel of a process.
// Construct one with NewManager and inject it where it is needed.
type Manager struct {
	opts   Options
	logger *slog.Logger
	bus    *bus

	mu      sync.Mutex
	current Channel
	closed  bool
}

// NewManager creates a Manager and starts its event dispatcher.
// No connection is made until the first Acquire.
func NewManager(opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:   opts,
		logger: opts.Logger,
		bus:    newBus(opts.Logger),
	}
}

// Acquire returns a handle onto the shared Channel, creating and starting
// it on first use. It never blocks on the network. A failed Channel is
// shut down and replaced by a fresh one.
func (m *Manager) Acquire() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		if m.current != nil && m.current.State() == StateFailed {
			m.logger.Info("Replacing failed channel")
			m.current.Shutdown()
			m.current = nil
		}

		if m.current == nil {
			ch := newLiveChannel(m.opts, m.bus, m.exhausted)
			m.current = ch
			ch.start()
		}
	}

	return &Handle{m: m}
}

// Current returns the shared Channel, or nil before the first Acquire and
// after Shutdown.
func (m *Manager) Current() Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Shutdown terminates the shared Channel and suppresses reconnection.
// A later Acquire starts a fresh Channel.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Shutdown()
		m.current = nil
	}
}

// Close shuts down the Channel and stops the event dispatcher once queued
// events are delivered. The Manager cannot be reused.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.current != nil {
		m.current.Shutdown()
		m.current = nil
	}
	m.mu.Unlock()

	m.bus.close()
}

// Listeners reports how many listeners are registered across all handles.
func (m *Manager) Listeners() int {
	return m.bus.count()
}

func (m *Manager) exhausted(ch *liveChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.current != ch || !m.opts.fallbackAllowed() {
		return
	}

	m.logger.Warn("Real connection exhausted, falling back to synthetic channel",
		"environment", m.opts.Environment,
		"attempts", ch.Attempts(),
	)
	synth := newSyntheticChannel(m.opts, m.bus)
	m.current = synth
	synth.start()
}

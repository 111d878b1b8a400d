package channel

import (
	"log/slog"
	"sort"
	"sync"
)

// bus fans events out to listeners from a single dispatcher goroutine.
// Publish never blocks and never calls listeners itself, so it is safe to
// publish while holding a channel lock.
type bus struct {
	mu        sync.Mutex
	cond      *sync.Cond
	nextID    uint64
	listeners map[EventType]map[uint64]Listener
	queue     []Event
	closed    bool
	done      chan struct{}
	logger    *slog.Logger
}

func newBus(logger *slog.Logger) *bus {
	b := &bus{
		listeners: make(map[EventType]map[uint64]Listener),
		done:      make(chan struct{}),
		logger:    logger,
	}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

func (b *bus) subscribe(t EventType, fn Listener) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	set, ok := b.listeners[t]
	if !ok {
		set = make(map[uint64]Listener)
		b.listeners[t] = set
	}
	set[b.nextID] = fn
	return b.nextID
}

func (b *bus) unsubscribe(t EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.listeners[t]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(b.listeners, t)
		}
	}
}

func (b *bus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, set := range b.listeners {
		n += len(set)
	}
	return n
}

func (b *bus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.queue = append(b.queue, ev)
	b.cond.Signal()
}

func (b *bus) close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Signal()
	b.mu.Unlock()
	<-b.done
}

func (b *bus) run() {
	defer close(b.done)

	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}

		ev := b.queue[0]
		b.queue[0] = Event{}
		b.queue = b.queue[1:]
		fns := b.snapshot(ev.Type)
		b.mu.Unlock()

		for _, fn := range fns {
			b.dispatch(fn, ev)
		}
	}
}

// snapshot returns listeners in subscription order. Caller holds b.mu.
func (b *bus) snapshot(t EventType) []Listener {
	set := b.listeners[t]
	if len(set) == 0 {
		return nil
	}

	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fns := make([]Listener, len(ids))
	for i, id := range ids {
		fns[i] = set[id]
	}
	return fns
}

func (b *bus) dispatch(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Listener panicked", "event", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}

// Package panel is the one-way event channel from the ingest core to an
// optional external status display (spec.md §5, §9): the core pushes
// updates and never blocks on a slow or absent consumer; the panel never
// mutates core state.
package panel

import (
	"sync"

	"github.com/kayserspace/waps-ies-sub000/internal/logging"
)

// EventKind classifies a status update pushed to the panel.
type EventKind int

const (
	ImageChanged EventKind = iota
	CountersChanged
	FileSaved
)

// Event is one status update. Fields are populated according to Kind;
// unused fields are left zero.
type Event struct {
	Kind     EventKind
	ImageID  string
	Status   string // "In progress" | "Finished" | "Incomplete" | "Overwritten" | "Outdated"
	FilePath string
}

// Bus is a bounded, drop-on-full one-way queue from the core to the panel.
// It is safe for one producer (the ingest loop) and any number of consumers
// calling Events().
type Bus struct {
	mu      sync.Mutex
	out     chan Event
	closed  bool
	dropped uint64
}

// NewBus creates a Bus with the given buffer capacity. A capacity of 0
// still type-checks but every Push drops immediately; callers should pass a
// small positive capacity (e.g. 64).
func NewBus(capacity int) *Bus {
	return &Bus{out: make(chan Event, capacity)}
}

// Push enqueues an event, dropping it silently if the buffer is full so the
// core never blocks on a slow or absent panel.
func (b *Bus) Push(e Event) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	select {
	case b.out <- e:
	default:
		b.mu.Lock()
		b.dropped++
		n := b.dropped
		b.mu.Unlock()
		if n == 1 || n%100 == 0 {
			logging.L().Warn("panel: event dropped, consumer too slow or absent", "dropped_total", n)
		}
	}
}

// Events returns the receive-only channel the panel consumes from.
func (b *Bus) Events() <-chan Event { return b.out }

// Close shuts down the bus; safe to call once the ingest loop has stopped
// producing. Further Push calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.out)
}

// Dropped reports how many events have been dropped due to a full buffer.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

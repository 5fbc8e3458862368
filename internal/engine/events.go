package engine

import (
	"sync"
	"sync/atomic"
)

// EventKind names what happened.
type EventKind string

const (
	EventTradeSettled       EventKind = "trade-settled"
	EventReputationChanged  EventKind = "reputation-changed"
	EventQuestStateChanged  EventKind = "quest-state-changed"
	EventMayorPolicyChanged EventKind = "mayor-policy-changed"
	EventQuestOffered       EventKind = "quest-offered"
	EventQuestRewardFailed  EventKind = "quest-reward-failed"
	EventCommandRejected    EventKind = "command-rejected"
	EventTickAborted        EventKind = "tick-aborted"
)

// Event is a notable occurrence in the town. Events are queued while a
// tick runs and published once it has committed.
type Event struct {
	Tick        uint64    `json:"tick"`
	Kind        EventKind `json:"kind"`
	Description string    `json:"description"`
	Data        any       `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.Mutex
	subs    map[uint64]chan Event
	nextID  uint64
	buffer  int
	dropped atomic.Uint64
}

// NewBus creates a bus whose subscriber channels hold buffer events.
func NewBus(buffer int) *Bus {
	return &Bus{subs: make(map[uint64]chan Event), buffer: max(buffer, 1)}
}

// Subscribe registers a listener.
func (b *Bus) Subscribe() (uint64, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[b.nextID] = ch
	return b.nextID, ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers events in order to every subscriber.
func (b *Bus) Publish(events []Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		for _, e := range events {
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// Subscribers returns the number of listeners.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped counts events lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// ring keeps the most recent events for catch-up reads.
type ring struct {
	buf  []Event
	next int
	full bool
}

func newRing(n int) *ring { return &ring{buf: make([]Event, max(n, 1))} }

func (r *ring) push(events ...Event) {
	for _, e := range events {
		r.buf[r.next] = e
		r.next = (r.next + 1) % len(r.buf)
		if r.next == 0 {
			r.full = true
		}
	}
}

// last returns up to n events, oldest first.
func (r *ring) last(n int) []Event {
	size := r.next
	if r.full {
		size = len(r.buf)
	}
	n = min(max(n, 0), size)
	out := make([]Event, 0, n)
	for i := size - n; i < size; i++ {
		idx := i
		if r.full {
			idx = (r.next + i) % len(r.buf)
		}
		out = append(out, r.buf[idx])
	}
	return out
}

// Package events is a fire-and-forget publisher for domain events. The sync
// core only publishes; UI and badge aggregation subscribe.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

type Type string

const (
	NodeCreated       Type = "node.created"
	NodeUpdated       Type = "node.updated"
	NodeDeleted       Type = "node.deleted"
	SyncProgress      Type = "sync.progress"
	SyncRejected      Type = "sync.rejected"
	ConnectionChanged Type = "connection.changed"
	WorkspaceRemoved  Type = "workspace.removed"
)

type Event struct {
	Type        Type
	AccountID   string
	WorkspaceID string
	NodeID      string
	Data        map[string]any
	At          time.Time
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(e Event)
}

// Bus fans events out to subscribers. A subscriber whose buffer is full misses
// the event; publishers never wait.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	closed  bool
	dropped atomic.Int64
	now     func() time.Time
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event), now: time.Now}
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = b.now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Dropped returns how many deliveries were skipped because of full buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Package hub keeps track of the open channels of every account and fans
// notifications out to them.
package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/nodesync/internal/logging"
	"github.com/dmitrijs2005/nodesync/internal/wire"
)

const DefaultBuffer = 32

// Conn is one registered channel. Frames are delivered on C until the
// connection is removed from the hub.
type Conn struct {
	AccountID string
	C         <-chan *wire.Frame

	ch chan *wire.Frame
}

// Hub is safe for concurrent use. Notify never blocks: a connection whose
// buffer is full misses the frame.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]map[*Conn]struct{}
	buffer  int
	dropped atomic.Int64
	logger  logging.Logger
}

func New(buffer int, logger logging.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		conns:  map[string]map[*Conn]struct{}{},
		buffer: buffer,
		logger: logger.With("module", "hub"),
	}
}

func (h *Hub) Connect(accountID string) *Conn {
	ch := make(chan *wire.Frame, h.buffer)
	c := &Conn{AccountID: accountID, C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[accountID]
	if !ok {
		set = map[*Conn]struct{}{}
		h.conns[accountID] = set
	}
	set[c] = struct{}{}
	return c
}

// Disconnect removes c and closes its frame channel. Calling it twice is
// harmless.
func (h *Hub) Disconnect(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[c.AccountID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.AccountID)
	}
	close(c.ch)
}

func (h *Hub) Notify(accountID string, f *wire.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[accountID] {
		select {
		case c.ch <- f:
		default:
			h.dropped.Add(1)
			h.logger.Warn(context.Background(), "notification dropped", "account", accountID, "type", f.Type)
		}
	}
}

// Connections returns the number of open channels of accountID.
func (h *Hub) Connections(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[accountID])
}

func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

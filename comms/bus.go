package comms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/GoCodeAlone/agentcore/core"
)

const defaultHistory = 1000

// InMemoryBus is a thread-safe in-process message bus. Handlers run on the
// caller's goroutine, so messages from one sender to one recipient arrive in
// the order they were sent.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]handlerEntry // agentID -> handler
	history  []core.Message
	maxHist  int
	nextID   atomic.Int64
	sent     atomic.Int64
}

type handlerEntry struct {
	id      int64
	handler Handler
}

// NewInMemoryBus creates an InMemoryBus with a 1000-message history cap.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string]handlerEntry),
		maxHist:  defaultHistory,
	}
}

func (b *InMemoryBus) record(msg core.Message) {
	b.history = append(b.history, msg)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
	b.sent.Add(1)
}

// Deliver routes msg to the handler subscribed under msg.To.
func (b *InMemoryBus) Deliver(ctx context.Context, msg core.Message) (core.Ack, error) {
	b.mu.Lock()
	entry, ok := b.handlers[msg.To]
	b.record(msg)
	b.mu.Unlock()

	if !ok {
		return core.Ack{}, fmt.Errorf("deliver %s: %w: %s", msg.ID, ErrNoRecipient, msg.To)
	}
	return entry.handler(ctx, msg)
}

// Publish delivers msg to every subscriber except its sender, in agent ID order.
func (b *InMemoryBus) Publish(ctx context.Context, msg core.Message) (int, error) {
	b.mu.Lock()
	b.record(msg)
	ids := make([]string, 0, len(b.handlers))
	for id := range b.handlers {
		if id != msg.From {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	targets := make([]Handler, len(ids))
	for i, id := range ids {
		targets[i] = b.handlers[id].handler
	}
	b.mu.Unlock()

	var errs []error
	delivered := 0
	for i, h := range targets {
		if _, err := h(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", ids[i], err))
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// Subscribe registers handler for agentID. The returned function removes it
// unless a later Subscribe has already replaced it.
func (b *InMemoryBus) Subscribe(agentID string, handler Handler) (unsubscribe func()) {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.handlers[agentID] = handlerEntry{id: id, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if e, ok := b.handlers[agentID]; ok && e.id == id {
			delete(b.handlers, agentID)
		}
	}
}

// Subscribed reports whether agentID currently has a handler.
func (b *InMemoryBus) Subscribed(agentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.handlers[agentID]
	return ok
}

// Sent returns the number of messages that passed through the bus.
func (b *InMemoryBus) Sent() int64 { return b.sent.Load() }

// History returns the most recent limit messages visible to agentID in
// chronological order. An empty agentID returns all messages.
func (b *InMemoryBus) History(agentID string, limit int) []core.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []core.Message
	for i := len(b.history) - 1; i >= 0; i-- {
		m := b.history[i]
		if agentID == "" || m.To == agentID || m.From == agentID || m.IsBroadcast() {
			result = append(result, m)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	for l, r := 0, len(result)-1; l < r; l, r = l+1, r-1 {
		result[l], result[r] = result[r], result[l]
	}
	return result
}

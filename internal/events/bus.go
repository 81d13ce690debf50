// Package events fans committed ledger changes out to in-process observers.
package events

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"ledger/internal/core"
)

// Handler receives events synchronously on the publisher's goroutine. It must
// not call back into a mutating service.
type Handler func(ctx context.Context, e core.LedgerEvent)

type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers e to every subscriber in subscription order. A panicking
// handler is logged and skipped.
func (b *Bus) Publish(ctx context.Context, e core.LedgerEvent) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers))
	for _, id := range slices.Sorted(maps.Keys(b.handlers)) {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		deliver(ctx, h, e)
	}
}

func deliver(ctx context.Context, h Handler, e core.LedgerEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Event handler panicked", "event", e.Type, "panic", r)
		}
	}()
	h(ctx, e)
}

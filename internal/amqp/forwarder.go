package amqp

import (
	"context"
	"log/slog"
	"sync"

	"ledger/internal/core"
)

// EventPublisher is the part of Client the forwarder needs.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, e core.LedgerEvent) error
}

// Forwarder relays bus events to the broker from a single goroutine so
// that a slow or unavailable broker never delays a committed write.
// Events that do not fit in the buffer are dropped and logged.
type Forwarder struct {
	publisher EventPublisher
	queue     chan core.LedgerEvent

	mu      sync.Mutex
	dropped int
}

func NewForwarder(publisher EventPublisher, buffer int) *Forwarder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Forwarder{
		publisher: publisher,
		queue:     make(chan core.LedgerEvent, buffer),
	}
}

// Handle matches events.Handler.
func (f *Forwarder) Handle(ctx context.Context, e core.LedgerEvent) {
	select {
	case f.queue <- e:
	default:
		f.mu.Lock()
		f.dropped++
		f.mu.Unlock()
		slog.WarnContext(ctx, "Event forward buffer full, dropping event",
			"type", e.Type,
			"transaction_id", e.TransactionID)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (f *Forwarder) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Run publishes queued events until ctx is done, then drains what is left
// on a best-effort basis.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			f.drain()
			return nil
		case e := <-f.queue:
			f.forward(ctx, e)
		}
	}
}

func (f *Forwarder) drain() {
	for {
		select {
		case e := <-f.queue:
			f.forward(context.Background(), e)
		default:
			return
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, e core.LedgerEvent) {
	if err := f.publisher.PublishLedgerEvent(ctx, e); err != nil {
		slog.ErrorContext(ctx, "Failed to forward ledger event",
			"type", e.Type,
			"error", err)
	}
}

package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ledger/internal/core"
)

// Policy bounds how often a conflicting operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
	}
}

// Backoff returns the wait before retry number attempt (0-based):
// BaseDelay doubled per attempt, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

// Do runs fn until it succeeds, fails with something other than
// core.ErrConcurrencyConflict, or the attempts run out.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, core.ErrConcurrencyConflict) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := p.Backoff(attempt)
		slog.WarnContext(ctx, "Concurrency conflict, retrying",
			"operation", op,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	slog.ErrorContext(ctx, "Giving up after repeated conflicts",
		"operation", op,
		"attempts", attempts,
		"error", err)
	return err
}

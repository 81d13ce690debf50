package lock

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"ledger/internal/core"
)

func TestPolicyBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 20 * time.Millisecond},
		{2, 40 * time.Millisecond},
		{3, 80 * time.Millisecond},
		{4, 100 * time.Millisecond},
		{10, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := p.Backoff(tt.attempt); got != tt.expected {
				t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestDoRetriesConflicts(t *testing.T) {
	p := Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	calls := 0
	err := Do(context.Background(), p, "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("busy: %w", core.ErrConcurrencyConflict)
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d, want nil/3", err, calls)
	}
}

func TestDoGivesUp(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	err := Do(context.Background(), p, "test", func(ctx context.Context) error {
		calls++
		return core.ErrConcurrencyConflict
	})
	if !errors.Is(err, core.ErrConcurrencyConflict) || calls != 3 {
		t.Fatalf("err=%v calls=%d, want conflict/3", err, calls)
	}
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), "test", func(ctx context.Context) error {
		calls++
		return core.ErrNotFound
	})
	if !errors.Is(err, core.ErrNotFound) || calls != 1 {
		t.Fatalf("err=%v calls=%d, want not found/1", err, calls)
	}
}

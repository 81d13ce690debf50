// Package services implements the ledger operations on top of storage.
//
// Every mutating operation runs the same way: validate input, take the
// locks it needs with a bounded wait, apply all writes in one SQLite
// transaction, and publish an event once the transaction has committed.
// Lock timeouts and SQLite busy errors surface as core.ErrConcurrencyConflict
// and are retried according to the runtime's policy.
package services

import (
	"context"
	"errors"
	"time"

	"ledger/internal/core"
	"ledger/internal/lock"
	"ledger/internal/log"
)

// Publisher receives committed ledger events.
type Publisher interface {
	Publish(ctx context.Context, e core.LedgerEvent)
}

// Runtime carries the collaborators shared by every service.
type Runtime struct {
	Locks     *lock.Manager
	Retry     lock.Policy
	Publisher Publisher
	Logger    *log.Logger
	Now       func() time.Time
}

// DefaultRuntime returns a runtime with a 5s lock wait, the default retry
// policy and the wall clock.
func DefaultRuntime() Runtime {
	return Runtime{
		Locks: lock.NewManager(5 * time.Second),
		Retry: lock.DefaultPolicy(),
	}
}

func (rt Runtime) withDefaults() Runtime {
	if rt.Locks == nil {
		rt.Locks = lock.NewManager(5 * time.Second)
	}
	if rt.Retry.MaxAttempts == 0 {
		rt.Retry = lock.DefaultPolicy()
	}
	if rt.Logger == nil {
		rt.Logger = log.Wrap(nil, log.ComponentApp)
	}
	if rt.Now == nil {
		rt.Now = time.Now
	}
	return rt
}

func (rt Runtime) now() time.Time {
	return rt.Now().UTC()
}

func (rt Runtime) publish(ctx context.Context, e core.LedgerEvent) {
	if rt.Publisher == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = rt.now()
	}
	rt.Publisher.Publish(ctx, e)
}

// locked runs fn under the shared period lock plus the given keys,
// retrying on conflicts.
func (rt Runtime) locked(ctx context.Context, op string, keys []string, fn func(ctx context.Context) error) error {
	return lock.Do(ctx, rt.Retry, op, func(ctx context.Context) error {
		release, err := rt.Locks.Shared(ctx, keys...)
		if err != nil {
			return err
		}
		defer release()
		return fn(ctx)
	})
}

func moneyPtr(m core.Money) *core.Money { return &m }

func isNotFound(err error) bool {
	return errors.Is(err, core.ErrNotFound)
}

// Package lock serializes ledger writers.
//
// Every posting takes the budget-period lock in shared mode plus one keyed
// lock per aggregate it touches ("account:<id>", "envelope:<id>"). Rollover
// takes the period lock exclusively, which waits for in-flight postings and
// blocks new ones until the period switch commits. All waits are bounded.
package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"ledger/internal/core"

	"golang.org/x/sync/semaphore"
)

// periodWeight is the capacity of the period semaphore. Shared holders take 1,
// the exclusive holder takes all of it.
const periodWeight = 1 << 30

// Release gives back whatever an acquisition took. It is safe to call once.
type Release func()

type keyedSem struct {
	sem  *semaphore.Weighted
	refs int
}

type Manager struct {
	period  *semaphore.Weighted
	timeout time.Duration

	mu   sync.Mutex
	keys map[string]*keyedSem
}

func NewManager(timeout time.Duration) *Manager {
	return &Manager{
		period:  semaphore.NewWeighted(periodWeight),
		timeout: timeout,
		keys:    make(map[string]*keyedSem),
	}
}

func AccountKey(id string) string  { return "account:" + id }
func EnvelopeKey(id string) string { return "envelope:" + id }

// Shared takes the period lock in shared mode and then every key, in sorted
// order so two callers never wait on each other's keys.
func (m *Manager) Shared(ctx context.Context, keys ...string) (Release, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.period.Acquire(waitCtx, 1); err != nil {
		return nil, m.waitError(ctx, "budget period (shared)", err)
	}

	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]string, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.unlockKey(held[i])
		}
		m.period.Release(1)
	}

	for _, k := range sorted {
		if err := m.lockKey(waitCtx, k); err != nil {
			release()
			return nil, m.waitError(ctx, k, err)
		}
		held = append(held, k)
	}

	return onceRelease(release), nil
}

// Exclusive takes the whole period lock. Waiters for Shared queue behind it.
func (m *Manager) Exclusive(ctx context.Context) (Release, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.period.Acquire(waitCtx, periodWeight); err != nil {
		return nil, m.waitError(ctx, "budget period (exclusive)", err)
	}
	return onceRelease(func() { m.period.Release(periodWeight) }), nil
}

func (m *Manager) lockKey(ctx context.Context, key string) error {
	m.mu.Lock()
	ks, ok := m.keys[key]
	if !ok {
		ks = &keyedSem{sem: semaphore.NewWeighted(1)}
		m.keys[key] = ks
	}
	ks.refs++
	m.mu.Unlock()

	if err := ks.sem.Acquire(ctx, 1); err != nil {
		m.dropRef(key, ks)
		return err
	}
	return nil
}

func (m *Manager) unlockKey(key string) {
	m.mu.Lock()
	ks := m.keys[key]
	m.mu.Unlock()

	ks.sem.Release(1)
	m.dropRef(key, ks)
}

func (m *Manager) dropRef(key string, ks *keyedSem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks.refs--
	if ks.refs == 0 {
		delete(m.keys, key)
	}
}

// waitError tells a caller-side cancellation apart from a lock timeout.
func (m *Manager) waitError(ctx context.Context, what string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out after %s waiting for %s", core.ErrConcurrencyConflict, m.timeout, what)
	}
	return err
}

func onceRelease(fn func()) Release {
	var once sync.Once
	return func() { once.Do(fn) }
}

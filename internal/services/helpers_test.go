package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ledger/internal/core"
	"ledger/internal/lock"
	"ledger/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type eventRecorder struct {
	mu     sync.Mutex
	events []core.LedgerEvent
}

func (r *eventRecorder) Publish(ctx context.Context, e core.LedgerEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []core.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *eventRecorder) count(typ core.EventType) int {
	n := 0
	for _, t := range r.types() {
		if t == typ {
			n++
		}
	}
	return n
}

type testEnv struct {
	repo   *storage.SQLiteRepository
	ledger *Ledger
	clock  *fakeClock
	events *eventRecorder
	rt     Runtime
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	clock := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	events := &eventRecorder{}
	rt := Runtime{
		Locks:     lock.NewManager(5 * time.Second),
		Retry:     lock.Policy{MaxAttempts: 10, BaseDelay: time.Millisecond, MaxDelay: 20 * time.Millisecond},
		Publisher: events,
		Now:       clock.Now,
	}
	return &testEnv{
		repo:   repo,
		ledger: NewLedger(repo, rt, opts),
		clock:  clock,
		events: events,
		rt:     rt,
	}
}

func (e *testEnv) account(t *testing.T, name string, typ core.AccountType) core.Account {
	t.Helper()
	a, err := e.ledger.Accounts.CreateAccount(context.Background(), core.NewAccount{Name: name, Type: typ, Currency: "eur"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}

func (e *testEnv) envelope(t *testing.T, name string, limit int64, rollover bool) core.Envelope {
	t.Helper()
	env, err := e.ledger.Envelopes.CreateEnvelope(context.Background(), core.NewEnvelope{
		Name:            name,
		Category:        "Food",
		MonthlyLimit:    core.Cents(limit),
		RolloverEnabled: rollover,
	})
	if err != nil {
		t.Fatalf("create envelope: %v", err)
	}
	return env
}

func (e *testEnv) rollover(t *testing.T, year, month int) core.RolloverResult {
	t.Helper()
	res, err := e.ledger.Rollover.RunRollover(context.Background(), year, month)
	if err != nil {
		t.Fatalf("rollover %d-%02d: %v", year, month, err)
	}
	return res
}

func (e *testEnv) post(t *testing.T, accountID string, cents int64, category string, envelopeID *string) core.Transaction {
	t.Helper()
	tx, err := e.ledger.Transactions.PostTransaction(context.Background(), core.NewTransaction{
		AccountID:   accountID,
		Amount:      core.Cents(cents),
		Description: category + " posting",
		Category:    category,
		EnvelopeID:  envelopeID,
	})
	if err != nil {
		t.Fatalf("post %d: %v", cents, err)
	}
	return tx
}

func (e *testEnv) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	a, err := e.ledger.Accounts.GetAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return a.CurrentBalance.Cents
}

func (e *testEnv) env(t *testing.T, id string) core.Envelope {
	t.Helper()
	env, err := e.ledger.Envelopes.GetEnvelope(context.Background(), id)
	if err != nil {
		t.Fatalf("get envelope: %v", err)
	}
	return env
}

func (e *testEnv) mustBeConsistent(t *testing.T) {
	t.Helper()
	if report, err := e.ledger.Consistency.Verify(context.Background()); err != nil {
		t.Fatalf("consistency: %v (%v)", err, report.Problems)
	}
}

func ptr(s string) *string { return &s }

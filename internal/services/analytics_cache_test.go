package services

import (
	"context"
	"testing"
	"time"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/events"
)

func TestCachedAnalyticsInvalidatedByEvents(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, Options{})

	bus := events.NewBus()
	rt := e.rt
	rt.Publisher = bus
	l := NewLedger(e.repo, rt, Options{})

	manager := cache.NewManager(nil)
	defer manager.Stop()
	cached := NewCachedAnalytics(l.Analytics, manager, 16, time.Hour)
	bus.Subscribe(cached.Invalidate)

	acct, err := l.Accounts.CreateAccount(ctx, core.NewAccount{Name: "Checking", Type: core.Checking, Currency: "EUR"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	march := core.Period{Year: 2025, Month: 3}.Range()

	sum, err := cached.FinancialSummary(ctx, march)
	if err != nil || sum.TransactionCount != 0 {
		t.Fatalf("initial summary = %+v, %v", sum, err)
	}

	if _, err := l.Transactions.PostTransaction(ctx, core.NewTransaction{
		AccountID: acct.ID, Amount: core.Cents(200000), Description: "Pay", Category: "Salary",
	}); err != nil {
		t.Fatalf("post: %v", err)
	}

	sum, err = cached.FinancialSummary(ctx, march)
	if err != nil || sum.TransactionCount != 1 || sum.Income.Cents != 200000 {
		t.Errorf("summary after post = %+v, %v", sum, err)
	}
	balances, err := cached.BalanceByAccountType(ctx)
	if err != nil || len(balances) != 1 || balances[0].Balance.Cents != 200000 {
		t.Errorf("balances = %+v, %v", balances, err)
	}

	if _, err := cached.SpendingByCategory(ctx, core.DateRange{}); err == nil {
		t.Error("invalid range should be rejected before hitting the cache")
	}
}

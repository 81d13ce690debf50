package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledger/internal/core"
)

func TestCreateAccount(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, Options{})

	acct, err := e.ledger.Accounts.CreateAccount(ctx, core.NewAccount{Name: "  Checking ", Type: core.Checking, Currency: "eur"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if acct.Name != "Checking" || acct.Currency != "EUR" || !acct.IsActive || !acct.CurrentBalance.IsZero() {
		t.Errorf("unexpected account: %+v", acct)
	}
	if e.events.count(core.EventAccountCreated) != 1 {
		t.Errorf("events = %v", e.events.types())
	}

	tests := []struct {
		name string
		in   core.NewAccount
	}{
		{"empty name", core.NewAccount{Name: "", Type: core.Checking, Currency: "EUR"}},
		{"bad type", core.NewAccount{Name: "X", Type: "piggybank", Currency: "EUR"}},
		{"bad currency", core.NewAccount{Name: "X", Type: core.Cash, Currency: "EURO"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.ledger.Accounts.CreateAccount(ctx, tt.in); !errors.Is(err, core.ErrValidation) {
				t.Errorf("got %v, want validation error", err)
			}
		})
	}
}

func TestAccountFlagsAndBalance(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, Options{})
	checking := e.account(t, "Checking", core.Checking)
	savings := e.account(t, "Savings", core.Savings)
	e.post(t, checking.ID, 200000, "Salary", nil)

	if _, err := e.ledger.Accounts.SetAccountHidden(ctx, savings.ID, true); err != nil {
		t.Fatalf("hide: %v", err)
	}
	visible, err := e.ledger.Accounts.ListAccounts(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != checking.ID {
		t.Errorf("visible accounts = %+v", visible)
	}
	all, _ := e.ledger.Accounts.ListAccounts(ctx, true)
	if len(all) != 2 {
		t.Errorf("all accounts = %d, want 2", len(all))
	}

	// Hidden accounts still accept postings.
	e.post(t, savings.ID, 500, "Interest", nil)

	bal, err := e.ledger.Accounts.GetAccountBalance(ctx, checking.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Current.Cents != 200000 || bal.Available != bal.Current {
		t.Errorf("balance = %+v", bal)
	}
	if _, err := e.ledger.Accounts.GetAccountBalance(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown account: got %v", err)
	}
	if _, err := e.ledger.Accounts.SetAccountActive(ctx, "missing", false); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("deactivate unknown: got %v", err)
	}
}

func TestListTransactions(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, Options{})
	acct := e.account(t, "Checking", core.Checking)

	e.post(t, acct.ID, 200000, "Salary", nil)
	e.clock.Set(time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC))
	e.post(t, acct.ID, -1200, "Transport", nil)

	march, err := e.ledger.Accounts.ListTransactions(ctx, acct.ID, core.Period{Year: 2025, Month: 3}.Range())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(march) != 1 || march[0].Amount.Cents != 200000 {
		t.Errorf("march = %+v", march)
	}

	spring := core.DateRange{From: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	both, err := e.ledger.Accounts.ListTransactions(ctx, acct.ID, spring)
	if err != nil || len(both) != 2 {
		t.Fatalf("spring = %+v, %v", both, err)
	}
	if !both[0].PostedAt.Before(both[1].PostedAt) {
		t.Error("transactions not ordered by posting date")
	}

	if _, err := e.ledger.Accounts.ListTransactions(ctx, acct.ID, core.DateRange{}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("empty range: got %v", err)
	}
	if _, err := e.ledger.Accounts.ListTransactions(ctx, "missing", spring); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown account: got %v", err)
	}
}

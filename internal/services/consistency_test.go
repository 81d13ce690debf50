package services

import (
	"context"
	"errors"
	"testing"

	"ledger/internal/core"
	"ledger/internal/storage"
)

// corruptBalance moves an account balance without a ledger row.
func corruptBalance(t *testing.T, e *testEnv, accountID string, delta int64) {
	t.Helper()
	ctx := context.Background()
	err := e.repo.WithTx(ctx, func(st storage.Stores) error {
		acct, err := st.Ledger.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		return st.Ledger.ApplyBalanceDelta(ctx, accountID, acct.Version, core.Cents(delta), e.clock.Now())
	})
	if err != nil {
		t.Fatalf("corrupt balance: %v", err)
	}
}

func TestVerifyDetectsDivergence(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, Options{})
	acct := e.account(t, "Checking", core.Checking)
	groceries := e.envelope(t, "Groceries", 50000, true)
	e.rollover(t, 2025, 3)
	e.post(t, acct.ID, -4550, "Food", &groceries.ID)

	report, err := e.ledger.Consistency.Verify(ctx)
	if err != nil {
		t.Fatalf("clean ledger: %v", err)
	}
	if report.Accounts != 1 || report.Envelopes != 1 {
		t.Errorf("report = %+v", report)
	}

	corruptBalance(t, e, acct.ID, 1)

	report, err = e.ledger.Consistency.Verify(ctx)
	if !errors.Is(err, core.ErrInvariantViolation) {
		t.Fatalf("got %v, want ErrInvariantViolation", err)
	}
	if len(report.Problems) != 1 {
		t.Errorf("problems = %v", report.Problems)
	}
}

func TestVerifyWritesRejectsPostingOnDivergedAccount(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, Options{VerifyWrites: true})
	acct := e.account(t, "Checking", core.Checking)
	e.post(t, acct.ID, 10000, "Salary", nil)

	corruptBalance(t, e, acct.ID, 5)

	_, err := e.ledger.Transactions.PostTransaction(ctx, core.NewTransaction{
		AccountID: acct.ID, Amount: core.Cents(-100), Description: "coffee", Category: "Food",
	})
	if !errors.Is(err, core.ErrInvariantViolation) {
		t.Fatalf("got %v, want ErrInvariantViolation", err)
	}
	if got := e.balance(t, acct.ID); got != 10005 {
		t.Errorf("balance = %d, want the rejected posting rolled back (10005)", got)
	}

	// Without verification the same posting goes through.
	plain := NewTransactionService(e.repo, e.rt, false)
	if _, err := plain.PostTransaction(ctx, core.NewTransaction{
		AccountID: acct.ID, Amount: core.Cents(-100), Description: "coffee", Category: "Food",
	}); err != nil {
		t.Fatalf("unverified post: %v", err)
	}
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledger/internal/core"
)

func TestImportPostsEachRecordIndependently(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, Options{})
	acct := e.account(t, "Checking", core.Checking)
	groceries := e.envelope(t, "Groceries", 50000, true)
	e.rollover(t, 2025, 3)

	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	records := []core.ImportRecord{
		{AccountID: acct.ID, Amount: core.Cents(200000), Description: "ACME payroll", Category: "Salary", Date: day},
		{AccountID: "missing", Amount: core.Cents(-500), Description: "Lost", Category: "Food", Date: day},
		{AccountID: acct.ID, Amount: core.Cents(-4550), Description: "Market", Category: "Food", Date: day, EnvelopeID: &groceries.ID},
		{AccountID: acct.ID, Amount: core.Cents(100), Description: "Cashback", Category: "Food", EnvelopeID: &groceries.ID},
	}

	report, err := e.ledger.Importer.Import(ctx, records)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Posted != 2 || report.Failed != 2 || len(report.Results) != 4 {
		t.Fatalf("report = %+v", report)
	}
	if report.Results[0].TransactionID == "" || report.Results[1].Error == "" || report.Results[3].Error == "" {
		t.Errorf("results = %+v", report.Results)
	}

	if got := e.balance(t, acct.ID); got != 195450 {
		t.Errorf("balance = %d, want 195450", got)
	}
	txs, err := e.ledger.Accounts.ListTransactions(ctx, acct.ID, core.Period{Year: 2025, Month: 3}.Range())
	if err != nil || len(txs) != 2 || !txs[0].PostedAt.Equal(day) {
		t.Errorf("imported transactions = %+v, %v", txs, err)
	}
	e.mustBeConsistent(t)
}

func TestImportStopsOnCancel(t *testing.T) {
	e := newTestEnv(t, Options{})
	acct := e.account(t, "Checking", core.Checking)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := e.ledger.Importer.Import(ctx, []core.ImportRecord{
		{AccountID: acct.ID, Amount: core.Cents(100), Description: "x", Category: "y"},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if report.Posted != 0 {
		t.Errorf("posted %d records after cancel", report.Posted)
	}
}

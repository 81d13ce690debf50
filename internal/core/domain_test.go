package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestNewTransactionValidate(t *testing.T) {
	good := NewTransaction{
		AccountID:   "acc",
		Amount:      Cents(-4550),
		Description: "Groceries",
		Category:    "Food",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []NewTransaction{
		{Amount: Cents(1), Description: "a", Category: "c"},
		{AccountID: "acc", Amount: Cents(0), Description: "a", Category: "c"},
		{AccountID: "acc", Amount: Cents(1), Description: " ", Category: "c"},
		{AccountID: "acc", Amount: Cents(1), Description: strings.Repeat("x", 201), Category: "c"},
		{AccountID: "acc", Amount: Cents(1), Description: "a", Category: ""},
		{AccountID: "acc", Amount: Cents(1), Description: "a", Category: "c", Merchant: strPtr(strings.Repeat("m", 101))},
	}
	for i, n := range bads {
		err := n.Validate()
		if err == nil {
			t.Fatalf("case %d expected error", i)
		}
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
	}
}

func TestNewEnvelopeValidate(t *testing.T) {
	good := NewEnvelope{Name: "Groceries", Category: "Food", MonthlyLimit: Cents(50000)}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	zero := NewEnvelope{Name: "Buffer", Category: "Misc"}
	if err := zero.Validate(); err != nil {
		t.Fatalf("zero limit should be allowed, got %v", err)
	}

	bads := []NewEnvelope{
		{Name: "", Category: "Food", MonthlyLimit: Cents(1)},
		{Name: "x", Category: "", MonthlyLimit: Cents(1)},
		{Name: "x", Category: "Food", MonthlyLimit: Cents(-1)},
	}
	for i, n := range bads {
		if err := n.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestNewAccountValidate(t *testing.T) {
	cases := []struct {
		in NewAccount
		ok bool
	}{
		{NewAccount{Name: "Main", Type: Checking, Currency: "EUR"}, true},
		{NewAccount{Name: "Card", Type: Credit, Currency: "USD"}, true},
		{NewAccount{Name: "", Type: Checking, Currency: "EUR"}, false},
		{NewAccount{Name: "Main", Type: "brokerage", Currency: "EUR"}, false},
		{NewAccount{Name: "Main", Type: Cash, Currency: "EURO"}, false},
	}
	for i, tc := range cases {
		err := tc.in.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestEnvelopeTotals(t *testing.T) {
	totals := EnvelopeTotals{
		Allocated: Cents(50000),
		Carried:   Cents(5450),
		Activity:  Cents(-4550),
	}
	if totals.Balance().Cents != 50900 {
		t.Errorf("Balance = %d, want 50900", totals.Balance().Cents)
	}
	if totals.Spent().Cents != 4550 {
		t.Errorf("Spent = %d, want 4550", totals.Spent().Cents)
	}
}

func TestCarryPolicy(t *testing.T) {
	tests := []struct {
		name     string
		policy   CarryPolicy
		rem      int64
		rollover bool
		want     int64
	}{
		{"forfeit keeps surplus", CarryForfeit, 5450, true, 5450},
		{"forfeit drops overspend", CarryForfeit, -2000, true, 0},
		{"debt carries overspend", CarryDebt, -2000, true, -2000},
		{"disabled rollover forfeits surplus", CarryForfeit, 5450, false, 0},
		{"disabled rollover ignores debt policy", CarryDebt, -2000, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.CarryForward(Cents(tt.rem), tt.rollover)
			if got.Cents != tt.want {
				t.Errorf("CarryForward() = %d, want %d", got.Cents, tt.want)
			}
		})
	}

	if _, err := ParseCarryPolicy("debt"); err != nil {
		t.Errorf("ParseCarryPolicy(debt) error = %v", err)
	}
	if _, err := ParseCarryPolicy("borrow"); err == nil {
		t.Error("ParseCarryPolicy(borrow) expected error")
	}
}

func TestNewEnvelopeProgress(t *testing.T) {
	env := Envelope{ID: "e", Name: "Groceries", Category: "Food"}
	p := Period{Year: 2025, Month: 3}

	progress := NewEnvelopeProgress(env, p, EnvelopeTotals{
		Allocated: Cents(50000),
		Activity:  Cents(-4550),
	})
	if progress.Remaining.Cents != 45450 || progress.Spent.Cents != 4550 {
		t.Errorf("unexpected progress: %+v", progress)
	}
	if progress.PercentUsed != 9.1 || progress.Overspent {
		t.Errorf("unexpected percent/overspent: %+v", progress)
	}

	over := NewEnvelopeProgress(env, p, EnvelopeTotals{Activity: Cents(-100)})
	if !over.Overspent || over.PercentUsed != 100 {
		t.Errorf("expected overspent at 100%%, got %+v", over)
	}
}

func TestImportRecordTransaction(t *testing.T) {
	date := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	rec := ImportRecord{AccountID: "a", Amount: Cents(-100), Description: "d", Category: "c", Date: date}
	n := rec.Transaction()
	if n.PostedAt == nil || !n.PostedAt.Equal(date) {
		t.Fatalf("PostedAt not carried over: %v", n.PostedAt)
	}
	if (ImportRecord{}).Transaction().PostedAt != nil {
		t.Fatal("zero date should leave PostedAt unset")
	}
}

package core

import (
	"strings"
	"time"
)

const (
	Checking   AccountType = "checking"
	Savings    AccountType = "savings"
	Credit     AccountType = "credit"
	Cash       AccountType = "cash"
	Investment AccountType = "investment"
)

const (
	// KindAllocation credits an envelope with its monthly limit for a period.
	KindAllocation EnvelopeTxKind = "allocation"
	// KindRollover carries the previous period's balance forward.
	KindRollover EnvelopeTxKind = "rollover"
	// KindSpend records an expense attributed to the envelope.
	KindSpend EnvelopeTxKind = "spend"
	// KindRefund undoes a spend when its transaction is reversed.
	KindRefund EnvelopeTxKind = "refund"
)

const (
	maxDescriptionLen = 200
	maxNameLen        = 100
)

type (
	AccountType    string
	EnvelopeTxKind string

	Account struct {
		ID               string      `json:"id"`
		Name             string      `json:"name"`
		Type             AccountType `json:"type"`
		Currency         string      `json:"currency"`
		CurrentBalance   Money       `json:"current_balance"`
		AvailableBalance Money       `json:"available_balance"`
		IsActive         bool        `json:"is_active"`
		IsHidden         bool        `json:"is_hidden"`
		Version          int64       `json:"version"`
		CreatedAt        time.Time   `json:"created_at"`
		UpdatedAt        time.Time   `json:"updated_at"`
	}

	// Transaction is an immutable ledger entry. Corrections are new rows that
	// reference the original through ReversalOf.
	Transaction struct {
		ID          string    `json:"id"`
		AccountID   string    `json:"account_id"`
		Amount      Money     `json:"amount"`
		Description string    `json:"description"`
		Category    string    `json:"category"`
		Subcategory *string   `json:"subcategory,omitempty"`
		Merchant    *string   `json:"merchant,omitempty"`
		PostedAt    time.Time `json:"posted_at"`
		EnvelopeID  *string   `json:"envelope_id,omitempty"`
		ReversalOf  *string   `json:"reversal_of,omitempty"`
		CreatedAt   time.Time `json:"created_at"`
	}

	// Envelope is a sub-budget. CurrentBalance and Spent are derived from the
	// envelope transaction log of the active period; storage recomputes them
	// from the log after every envelope write.
	Envelope struct {
		ID              string    `json:"id"`
		Name            string    `json:"name"`
		Category        string    `json:"category"`
		MonthlyLimit    Money     `json:"monthly_limit"`
		RolloverEnabled bool      `json:"rollover_enabled"`
		CurrentBalance  Money     `json:"current_balance"`
		Spent           Money     `json:"spent"`
		IsActive        bool      `json:"is_active"`
		CreatedAt       time.Time `json:"created_at"`
		UpdatedAt       time.Time `json:"updated_at"`
	}

	BudgetPeriod struct {
		ID        string     `json:"id"`
		Year      int        `json:"year"`
		Month     int        `json:"month"`
		IsActive  bool       `json:"is_active"`
		CreatedAt time.Time  `json:"created_at"`
		ClosedAt  *time.Time `json:"closed_at,omitempty"`
	}

	// EnvelopeAllocation snapshots an envelope's limit for one period.
	EnvelopeAllocation struct {
		ID              string    `json:"id"`
		EnvelopeID      string    `json:"envelope_id"`
		PeriodID        string    `json:"period_id"`
		AllocatedAmount Money     `json:"allocated_amount"`
		CreatedAt       time.Time `json:"created_at"`
	}

	// EnvelopeTransaction is an append-only envelope log entry. Negative
	// amounts are spending, positive amounts are allocation, rollover or
	// refund credits.
	EnvelopeTransaction struct {
		ID            string         `json:"id"`
		EnvelopeID    string         `json:"envelope_id"`
		PeriodID      string         `json:"period_id"`
		Amount        Money          `json:"amount"`
		Kind          EnvelopeTxKind `json:"kind"`
		TransactionID *string        `json:"transaction_id,omitempty"`
		CreatedAt     time.Time      `json:"created_at"`
	}
)

// IsValid returns true if the account type is known.
func (t AccountType) IsValid() bool {
	switch t {
	case Checking, Savings, Credit, Cash, Investment:
		return true
	default:
		return false
	}
}

// IsReversal reports whether t reverses an earlier transaction.
func (t Transaction) IsReversal() bool {
	return t.ReversalOf != nil
}

// Period returns the calendar month this budget period covers.
func (p BudgetPeriod) Period() Period {
	return Period{Year: p.Year, Month: p.Month}
}

// EnvelopeTotals are the per-kind sums of an envelope's log for one period.
type EnvelopeTotals struct {
	Allocated Money
	Carried   Money
	Activity  Money // spend + refund, normally <= 0
}

// Balance is the money left to spend: allocation + carry + activity.
func (t EnvelopeTotals) Balance() Money {
	return t.Allocated.Add(t.Carried).Add(t.Activity)
}

// Spent is the net amount spent, positive when money went out.
func (t EnvelopeTotals) Spent() Money {
	return t.Activity.Neg()
}

// NewAccount is the input for opening an account.
type NewAccount struct {
	Name     string      `json:"name"`
	Type     AccountType `json:"type"`
	Currency string      `json:"currency"`
}

func (a NewAccount) Validate() error {
	if err := validateName(a.Name); err != nil {
		return err
	}
	if !a.Type.IsValid() {
		return ErrInvalidAccountType
	}
	if len(strings.TrimSpace(a.Currency)) != 3 {
		return ErrInvalidCurrency
	}
	return nil
}

// NewTransaction is the input for posting to the ledger.
type NewTransaction struct {
	AccountID   string     `json:"account_id"`
	Amount      Money      `json:"amount"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Subcategory *string    `json:"subcategory,omitempty"`
	Merchant    *string    `json:"merchant,omitempty"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
	EnvelopeID  *string    `json:"envelope_id,omitempty"`
}

func (n NewTransaction) Validate() error {
	if strings.TrimSpace(n.AccountID) == "" {
		return ErrEmptyAccountID
	}
	if err := n.Amount.ValidateNonZero(); err != nil {
		return err
	}
	if len(strings.TrimSpace(n.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(n.Description) > maxDescriptionLen {
		return ErrTextTooLong
	}
	if strings.TrimSpace(n.Category) == "" {
		return ErrEmptyCategory
	}
	for _, opt := range []*string{n.Subcategory, n.Merchant} {
		if opt != nil && len(*opt) > maxNameLen {
			return ErrTextTooLong
		}
	}
	return nil
}

// NewEnvelope is the input for creating a budget envelope.
type NewEnvelope struct {
	Name            string `json:"name"`
	Category        string `json:"category"`
	MonthlyLimit    Money  `json:"monthly_limit"`
	RolloverEnabled bool   `json:"rollover_enabled"`
}

func (n NewEnvelope) Validate() error {
	if err := validateName(n.Name); err != nil {
		return err
	}
	if strings.TrimSpace(n.Category) == "" {
		return ErrEmptyCategory
	}
	return n.MonthlyLimit.ValidateNonNegative()
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if len(name) > maxNameLen {
		return ErrTextTooLong
	}
	return nil
}

// ImportRecord is one statement line handed over by an importer.
type ImportRecord struct {
	AccountID   string    `json:"account_id"`
	Amount      Money     `json:"amount"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Date        time.Time `json:"date"`
	EnvelopeID  *string   `json:"envelope_id,omitempty"`
	Subcategory *string   `json:"subcategory,omitempty"`
	Merchant    *string   `json:"merchant,omitempty"`
}

// Transaction converts the record into a posting request.
func (r ImportRecord) Transaction() NewTransaction {
	n := NewTransaction{
		AccountID:   r.AccountID,
		Amount:      r.Amount,
		Description: r.Description,
		Category:    r.Category,
		Subcategory: r.Subcategory,
		Merchant:    r.Merchant,
		EnvelopeID:  r.EnvelopeID,
	}
	if !r.Date.IsZero() {
		d := r.Date
		n.PostedAt = &d
	}
	return n
}

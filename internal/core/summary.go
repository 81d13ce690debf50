package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string `json:"name"`
	Amount Money  `json:"amount"`
}

// FinancialSummary totals the ledger over a date range. Reversals count
// against the bucket of the transaction they undo.
type FinancialSummary struct {
	Range            DateRange `json:"range"`
	Income           Money     `json:"income"`
	Expenses         Money     `json:"expenses"`
	Net              Money     `json:"net"`
	TransactionCount int       `json:"transaction_count"`
}

// AccountTypeBalance is the combined balance of active accounts of one type.
type AccountTypeBalance struct {
	Type     AccountType `json:"type"`
	Balance  Money       `json:"balance"`
	Accounts int         `json:"accounts"`
}

// AccountBalance is the answer to a balance query.
type AccountBalance struct {
	AccountID string `json:"account_id"`
	Current   Money  `json:"current"`
	Available Money  `json:"available"`
}

// EnvelopeProgress compares spending with what an envelope had available in
// the active period.
type EnvelopeProgress struct {
	EnvelopeID  string  `json:"envelope_id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Period      Period  `json:"period"`
	Allocated   Money   `json:"allocated"`
	Carried     Money   `json:"carried"`
	Spent       Money   `json:"spent"`
	Remaining   Money   `json:"remaining"`
	PercentUsed float64 `json:"percent_used"`
	Overspent   bool    `json:"overspent"`
}

// NewEnvelopeProgress derives progress figures from an envelope's log totals.
func NewEnvelopeProgress(e Envelope, p Period, t EnvelopeTotals) EnvelopeProgress {
	available := t.Allocated.Add(t.Carried)
	pct := Ratio(t.Spent(), available)
	if available.Cents <= 0 && t.Spent().IsPositive() {
		pct = 100
	}
	return EnvelopeProgress{
		EnvelopeID:  e.ID,
		Name:        e.Name,
		Category:    e.Category,
		Period:      p,
		Allocated:   t.Allocated,
		Carried:     t.Carried,
		Spent:       t.Spent(),
		Remaining:   t.Balance(),
		PercentUsed: pct,
		Overspent:   t.Balance().IsNegative(),
	}
}

// FinanceOverview bundles every read model computed from one snapshot.
type FinanceOverview struct {
	Summary       FinancialSummary     `json:"summary"`
	ByCategory    []CategoryAmount     `json:"by_category"`
	ByAccountType []AccountTypeBalance `json:"by_account_type"`
	Envelopes     []EnvelopeProgress   `json:"envelopes"`
	ActivePeriod  *Period              `json:"active_period,omitempty"`
}

// ImportResult reports the outcome of one imported record.
type ImportResult struct {
	Index         int    `json:"index"`
	TransactionID string `json:"transaction_id,omitempty"`
	Error         string `json:"error,omitempty"`
	Err           error  `json:"-"`
}

// ImportReport summarises an import batch.
type ImportReport struct {
	Posted  int            `json:"posted"`
	Failed  int            `json:"failed"`
	Results []ImportResult `json:"results"`
}

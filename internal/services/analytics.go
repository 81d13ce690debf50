package services

import (
	"context"
	"errors"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/storage"
)

// AnalyticsAggregator computes read models. Each call reads one snapshot of
// the database and never writes.
type AnalyticsAggregator struct {
	repo   *storage.SQLiteRepository
	logger *log.Logger
}

func NewAnalyticsAggregator(repo *storage.SQLiteRepository, rt Runtime) *AnalyticsAggregator {
	rt = rt.withDefaults()
	return &AnalyticsAggregator{repo: repo, logger: rt.Logger.WithComponent(log.ComponentAnalytics)}
}

func (a *AnalyticsAggregator) FinancialSummary(ctx context.Context, r core.DateRange) (core.FinancialSummary, error) {
	if err := r.Validate(); err != nil {
		return core.FinancialSummary{}, err
	}
	var out core.FinancialSummary
	err := a.repo.ReadTx(ctx, func(st storage.Stores) error {
		var err error
		out, err = st.Ledger.Summary(ctx, r)
		return err
	})
	return out, err
}

func (a *AnalyticsAggregator) SpendingByCategory(ctx context.Context, r core.DateRange) ([]core.CategoryAmount, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	var out []core.CategoryAmount
	err := a.repo.ReadTx(ctx, func(st storage.Stores) error {
		var err error
		out, err = st.Ledger.SpendingByCategory(ctx, r)
		return err
	})
	return out, err
}

func (a *AnalyticsAggregator) BalanceByAccountType(ctx context.Context) ([]core.AccountTypeBalance, error) {
	var out []core.AccountTypeBalance
	err := a.repo.ReadTx(ctx, func(st storage.Stores) error {
		var err error
		out, err = st.Ledger.BalanceByType(ctx)
		return err
	})
	return out, err
}

// EnvelopeProgress reports every active envelope in the active period.
// Before the first period it returns nothing.
func (a *AnalyticsAggregator) EnvelopeProgress(ctx context.Context) ([]core.EnvelopeProgress, error) {
	var out []core.EnvelopeProgress
	err := a.repo.ReadTx(ctx, func(st storage.Stores) error {
		var err error
		out, _, err = envelopeProgress(ctx, st)
		return err
	})
	return out, err
}

// Overview computes every read model for r from a single snapshot.
func (a *AnalyticsAggregator) Overview(ctx context.Context, r core.DateRange) (core.FinanceOverview, error) {
	if err := r.Validate(); err != nil {
		return core.FinanceOverview{}, err
	}

	var out core.FinanceOverview
	err := a.repo.ReadTx(ctx, func(st storage.Stores) error {
		var err error
		if out.Summary, err = st.Ledger.Summary(ctx, r); err != nil {
			return err
		}
		if out.ByCategory, err = st.Ledger.SpendingByCategory(ctx, r); err != nil {
			return err
		}
		if out.ByAccountType, err = st.Ledger.BalanceByType(ctx); err != nil {
			return err
		}
		out.Envelopes, out.ActivePeriod, err = envelopeProgress(ctx, st)
		return err
	})
	if err != nil {
		return core.FinanceOverview{}, err
	}

	a.logger.DebugContext(ctx, "Overview computed",
		"from", r.From,
		"to", r.To,
		"transactions", out.Summary.TransactionCount,
		"envelopes", len(out.Envelopes))
	return out, nil
}

func envelopeProgress(ctx context.Context, st storage.Stores) ([]core.EnvelopeProgress, *core.Period, error) {
	period, err := st.Envelopes.GetActivePeriod(ctx)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	envelopes, err := st.Envelopes.ListEnvelopes(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	totals, err := st.Envelopes.TotalsByEnvelope(ctx, period.ID)
	if err != nil {
		return nil, nil, err
	}

	p := period.Period()
	out := make([]core.EnvelopeProgress, 0, len(envelopes))
	for _, e := range envelopes {
		out = append(out, core.NewEnvelopeProgress(e, p, totals[e.ID]))
	}
	return out, &p, nil
}

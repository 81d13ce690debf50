package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledger/internal/core"
)

// EnvelopeStore persists envelopes, budget periods, allocations and the
// envelope transaction log.
type EnvelopeStore struct {
	db DBTX
}

const envelopeColumns = `id, name, category, monthly_limit, rollover_enabled, current_balance, spent, is_active, created_at, updated_at`

func scanEnvelope(row interface{ Scan(...any) error }) (core.Envelope, error) {
	var (
		e                     core.Envelope
		limit, balance, spent int64
		rollover, active      int64
		createdAt, updatedAt  int64
	)
	if err := row.Scan(&e.ID, &e.Name, &e.Category, &limit, &rollover, &balance, &spent,
		&active, &createdAt, &updatedAt); err != nil {
		return core.Envelope{}, err
	}
	e.MonthlyLimit = core.Cents(limit)
	e.RolloverEnabled = rollover == 1
	e.CurrentBalance = core.Cents(balance)
	e.Spent = core.Cents(spent)
	e.IsActive = active == 1
	e.CreatedAt = fromNanos(createdAt)
	e.UpdatedAt = fromNanos(updatedAt)
	return e, nil
}

func (s *EnvelopeStore) CreateEnvelope(ctx context.Context, e core.Envelope) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budget_envelopes (`+envelopeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Category, e.MonthlyLimit.Cents, boolToInt(e.RolloverEnabled),
		e.CurrentBalance.Cents, e.Spent.Cents, boolToInt(e.IsActive),
		toNanos(e.CreatedAt), toNanos(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert envelope: %w", err)
	}
	return nil
}

func (s *EnvelopeStore) GetEnvelope(ctx context.Context, id string) (core.Envelope, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+envelopeColumns+` FROM budget_envelopes WHERE id = ?`, id)
	e, err := scanEnvelope(row)
	if err != nil {
		return core.Envelope{}, notFound("envelope", id, err)
	}
	return e, nil
}

func (s *EnvelopeStore) ListEnvelopes(ctx context.Context, activeOnly bool) ([]core.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+envelopeColumns+` FROM budget_envelopes
		WHERE ? = 0 OR is_active = 1
		ORDER BY category, name, id`, boolToInt(activeOnly))
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	defer rows.Close()

	var out []core.Envelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateEnvelope stores the editable envelope fields. Derived totals are only
// written by SaveEnvelopeTotals.
func (s *EnvelopeStore) UpdateEnvelope(ctx context.Context, e core.Envelope) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE budget_envelopes
		SET name = ?, category = ?, monthly_limit = ?, rollover_enabled = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		e.Name, e.Category, e.MonthlyLimit.Cents, boolToInt(e.RolloverEnabled),
		boolToInt(e.IsActive), toNanos(e.UpdatedAt), e.ID)
	if err != nil {
		return fmt.Errorf("update envelope: %w", err)
	}
	return expectOne(res, "envelope", e.ID, core.ErrNotFound)
}

// SaveEnvelopeTotals writes the running totals derived from the envelope log.
func (s *EnvelopeStore) SaveEnvelopeTotals(ctx context.Context, id string, t core.EnvelopeTotals, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE budget_envelopes SET current_balance = ?, spent = ?, updated_at = ?
		WHERE id = ?`,
		t.Balance().Cents, t.Spent().Cents, toNanos(now), id)
	if err != nil {
		return fmt.Errorf("save envelope totals: %w", err)
	}
	return expectOne(res, "envelope", id, core.ErrNotFound)
}

const periodColumns = `id, year, month, is_active, created_at, closed_at`

func scanPeriod(row interface{ Scan(...any) error }) (core.BudgetPeriod, error) {
	var (
		p         core.BudgetPeriod
		active    int64
		createdAt int64
		closedAt  sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Year, &p.Month, &active, &createdAt, &closedAt); err != nil {
		return core.BudgetPeriod{}, err
	}
	p.IsActive = active == 1
	p.CreatedAt = fromNanos(createdAt)
	if closedAt.Valid {
		t := fromNanos(closedAt.Int64)
		p.ClosedAt = &t
	}
	return p, nil
}

// GetActivePeriod returns the single active period, or core.ErrNotFound
// before the first rollover.
func (s *EnvelopeStore) GetActivePeriod(ctx context.Context) (core.BudgetPeriod, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM budget_periods WHERE is_active = 1`)
	p, err := scanPeriod(row)
	if err != nil {
		return core.BudgetPeriod{}, notFound("period", "active", err)
	}
	return p, nil
}

func (s *EnvelopeStore) GetPeriod(ctx context.Context, id string) (core.BudgetPeriod, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM budget_periods WHERE id = ?`, id)
	p, err := scanPeriod(row)
	if err != nil {
		return core.BudgetPeriod{}, notFound("period", id, err)
	}
	return p, nil
}

// CreatePeriod inserts a period. New periods are normally inactive until
// ActivatePeriod switches to them.
func (s *EnvelopeStore) CreatePeriod(ctx context.Context, p core.BudgetPeriod) error {
	var closedAt sql.NullInt64
	if p.ClosedAt != nil {
		closedAt = sql.NullInt64{Int64: toNanos(*p.ClosedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budget_periods (`+periodColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Year, p.Month, boolToInt(p.IsActive), toNanos(p.CreatedAt), closedAt)
	if err != nil {
		return fmt.Errorf("insert period %04d-%02d: %w", p.Year, p.Month, err)
	}
	return nil
}

// ClosePeriod deactivates a period and stamps its close time.
func (s *EnvelopeStore) ClosePeriod(ctx context.Context, id string, closedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE budget_periods SET is_active = 0, closed_at = ?
		WHERE id = ? AND is_active = 1`, toNanos(closedAt), id)
	if err != nil {
		return fmt.Errorf("close period: %w", err)
	}
	return expectOne(res, "active period", id, core.ErrConcurrencyConflict)
}

// ActivatePeriod marks id active. It fails on the unique index if another
// period is still active.
func (s *EnvelopeStore) ActivatePeriod(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE budget_periods SET is_active = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("activate period: %w", err)
	}
	return expectOne(res, "period", id, core.ErrNotFound)
}

func (s *EnvelopeStore) CreateAllocation(ctx context.Context, a core.EnvelopeAllocation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO envelope_allocations (id, envelope_id, period_id, allocated_amount, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.EnvelopeID, a.PeriodID, a.AllocatedAmount.Cents, toNanos(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

func (s *EnvelopeStore) GetAllocation(ctx context.Context, envelopeID, periodID string) (core.EnvelopeAllocation, error) {
	var (
		a         core.EnvelopeAllocation
		amount    int64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, envelope_id, period_id, allocated_amount, created_at
		FROM envelope_allocations WHERE envelope_id = ? AND period_id = ?`,
		envelopeID, periodID).Scan(&a.ID, &a.EnvelopeID, &a.PeriodID, &amount, &createdAt)
	if err != nil {
		return core.EnvelopeAllocation{}, notFound("allocation", envelopeID+"/"+periodID, err)
	}
	a.AllocatedAmount = core.Cents(amount)
	a.CreatedAt = fromNanos(createdAt)
	return a, nil
}

const envelopeTxColumns = `id, envelope_id, period_id, amount, kind, transaction_id, created_at`

func scanEnvelopeTx(row interface{ Scan(...any) error }) (core.EnvelopeTransaction, error) {
	var (
		et        core.EnvelopeTransaction
		amount    int64
		kind      string
		txID      sql.NullString
		createdAt int64
	)
	if err := row.Scan(&et.ID, &et.EnvelopeID, &et.PeriodID, &amount, &kind, &txID, &createdAt); err != nil {
		return core.EnvelopeTransaction{}, err
	}
	et.Amount = core.Cents(amount)
	et.Kind = core.EnvelopeTxKind(kind)
	et.TransactionID = stringPtr(txID)
	et.CreatedAt = fromNanos(createdAt)
	return et, nil
}

func (s *EnvelopeStore) InsertEnvelopeTransaction(ctx context.Context, et core.EnvelopeTransaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO envelope_transactions (`+envelopeTxColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		et.ID, et.EnvelopeID, et.PeriodID, et.Amount.Cents, string(et.Kind),
		nullString(et.TransactionID), toNanos(et.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert envelope transaction: %w", err)
	}
	return nil
}

// ListEnvelopeTransactions returns the envelope's log for one period in insertion order.
func (s *EnvelopeStore) ListEnvelopeTransactions(ctx context.Context, envelopeID, periodID string) ([]core.EnvelopeTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+envelopeTxColumns+` FROM envelope_transactions
		WHERE envelope_id = ? AND period_id = ?
		ORDER BY created_at, rowid`, envelopeID, periodID)
	if err != nil {
		return nil, fmt.Errorf("list envelope transactions: %w", err)
	}
	defer rows.Close()

	var out []core.EnvelopeTransaction
	for rows.Next() {
		et, err := scanEnvelopeTx(rows)
		if err != nil {
			return nil, fmt.Errorf("scan envelope transaction: %w", err)
		}
		out = append(out, et)
	}
	return out, rows.Err()
}

// FindSpendByTransaction returns the spend entry linked to a ledger
// transaction, or nil if the transaction was not attributed to an envelope.
func (s *EnvelopeStore) FindSpendByTransaction(ctx context.Context, transactionID string) (*core.EnvelopeTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+envelopeTxColumns+` FROM envelope_transactions
		WHERE transaction_id = ? AND kind = ?`, transactionID, string(core.KindSpend))
	et, err := scanEnvelopeTx(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find spend for %s: %w", transactionID, err)
	}
	return &et, nil
}

const totalsSelect = `
	COALESCE(SUM(CASE WHEN kind = 'allocation' THEN amount ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN kind = 'rollover' THEN amount ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN kind IN ('spend', 'refund') THEN amount ELSE 0 END), 0)`

// Totals re-sums the envelope's log for one period.
func (s *EnvelopeStore) Totals(ctx context.Context, envelopeID, periodID string) (core.EnvelopeTotals, error) {
	var alloc, carried, activity int64
	err := s.db.QueryRowContext(ctx, `
		SELECT `+totalsSelect+`
		FROM envelope_transactions
		WHERE envelope_id = ? AND period_id = ?`, envelopeID, periodID).Scan(&alloc, &carried, &activity)
	if err != nil {
		return core.EnvelopeTotals{}, fmt.Errorf("sum envelope log: %w", err)
	}
	return core.EnvelopeTotals{
		Allocated: core.Cents(alloc),
		Carried:   core.Cents(carried),
		Activity:  core.Cents(activity),
	}, nil
}

// TotalsByEnvelope re-sums the log of every envelope with entries in the period.
func (s *EnvelopeStore) TotalsByEnvelope(ctx context.Context, periodID string) (map[string]core.EnvelopeTotals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT envelope_id, `+totalsSelect+`
		FROM envelope_transactions
		WHERE period_id = ?
		GROUP BY envelope_id`, periodID)
	if err != nil {
		return nil, fmt.Errorf("sum envelope logs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]core.EnvelopeTotals)
	for rows.Next() {
		var id string
		var alloc, carried, activity int64
		if err := rows.Scan(&id, &alloc, &carried, &activity); err != nil {
			return nil, fmt.Errorf("scan envelope totals: %w", err)
		}
		out[id] = core.EnvelopeTotals{
			Allocated: core.Cents(alloc),
			Carried:   core.Cents(carried),
			Activity:  core.Cents(activity),
		}
	}
	return out, rows.Err()
}

// UnlinkedSpends counts spend entries whose ledger transaction is missing or
// carries a different amount. A healthy store returns zero.
func (s *EnvelopeStore) UnlinkedSpends(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM envelope_transactions et
		LEFT JOIN transactions t ON t.id = et.transaction_id
		WHERE et.kind IN ('spend', 'refund')
		  AND (t.id IS NULL OR t.amount <> et.amount)`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unlinked spends: %w", err)
	}
	return n, nil
}

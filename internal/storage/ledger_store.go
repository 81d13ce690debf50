package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledger/internal/core"
)

// LedgerStore persists accounts and their transactions.
type LedgerStore struct {
	db DBTX
}

const accountColumns = `id, name, type, currency, current_balance, is_active, is_hidden, version, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (core.Account, error) {
	var (
		a                  core.Account
		typ                string
		balance            int64
		active, hidden     int64
		createdAt, updated int64
	)
	if err := row.Scan(&a.ID, &a.Name, &typ, &a.Currency, &balance, &active, &hidden, &a.Version, &createdAt, &updated); err != nil {
		return core.Account{}, err
	}
	a.Type = core.AccountType(typ)
	a.CurrentBalance = core.Cents(balance)
	a.AvailableBalance = a.CurrentBalance
	a.IsActive = active == 1
	a.IsHidden = hidden == 1
	a.CreatedAt = fromNanos(createdAt)
	a.UpdatedAt = fromNanos(updated)
	return a, nil
}

func (s *LedgerStore) CreateAccount(ctx context.Context, a core.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, string(a.Type), a.Currency, a.CurrentBalance.Cents,
		boolToInt(a.IsActive), boolToInt(a.IsHidden), a.Version,
		toNanos(a.CreatedAt), toNanos(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *LedgerStore) GetAccount(ctx context.Context, id string) (core.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		return core.Account{}, notFound("account", id, err)
	}
	return a, nil
}

// ListAccounts returns accounts ordered by name. Hidden accounts are skipped
// unless includeHidden is set.
func (s *LedgerStore) ListAccounts(ctx context.Context, includeHidden bool) ([]core.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE ? = 1 OR is_hidden = 0
		ORDER BY name, id`, boolToInt(includeHidden))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAccountFlags sets the active and hidden flags. Balance and version are untouched.
func (s *LedgerStore) UpdateAccountFlags(ctx context.Context, id string, active, hidden bool, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET is_active = ?, is_hidden = ?, updated_at = ?
		WHERE id = ?`,
		boolToInt(active), boolToInt(hidden), toNanos(now), id)
	if err != nil {
		return fmt.Errorf("update account flags: %w", err)
	}
	return expectOne(res, "account", id, core.ErrNotFound)
}

// ApplyBalanceDelta adds delta to the account balance if the row is still at
// expectedVersion, bumping the version. A stale version is a concurrency conflict.
func (s *LedgerStore) ApplyBalanceDelta(ctx context.Context, id string, expectedVersion int64, delta core.Money, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET current_balance = current_balance + ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		delta.Cents, toNanos(now), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("apply balance delta: %w", err)
	}
	return expectOne(res, "account", id, core.ErrConcurrencyConflict)
}

func expectOne(res sql.Result, what, id string, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, sentinel)
	}
	return nil
}

const transactionColumns = `id, account_id, amount, description, category, subcategory, merchant, posted_at, envelope_id, reversal_of, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t                       core.Transaction
		amount                  int64
		sub, merchant, env, rev sql.NullString
		postedAt, createdAt     int64
	)
	if err := row.Scan(&t.ID, &t.AccountID, &amount, &t.Description, &t.Category,
		&sub, &merchant, &postedAt, &env, &rev, &createdAt); err != nil {
		return core.Transaction{}, err
	}
	t.Amount = core.Cents(amount)
	t.Subcategory = stringPtr(sub)
	t.Merchant = stringPtr(merchant)
	t.EnvelopeID = stringPtr(env)
	t.ReversalOf = stringPtr(rev)
	t.PostedAt = fromNanos(postedAt)
	t.CreatedAt = fromNanos(createdAt)
	return t, nil
}

func (s *LedgerStore) InsertTransaction(ctx context.Context, t core.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.Amount.Cents, t.Description, t.Category,
		nullString(t.Subcategory), nullString(t.Merchant), toNanos(t.PostedAt),
		nullString(t.EnvelopeID), nullString(t.ReversalOf), toNanos(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *LedgerStore) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return core.Transaction{}, notFound("transaction", id, err)
	}
	return t, nil
}

// IsReversed reports whether a reversal of id has been posted.
func (s *LedgerStore) IsReversed(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM transactions WHERE reversal_of = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check reversal of %s: %w", id, err)
	}
	return true, nil
}

// ListTransactions returns the account's transactions posted within r, oldest first.
func (s *LedgerStore) ListTransactions(ctx context.Context, accountID string, r core.DateRange) ([]core.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = ? AND posted_at >= ? AND posted_at < ?
		ORDER BY posted_at, created_at, id`,
		accountID, toNanos(r.From), toNanos(r.To))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SumTransactions re-sums every transaction ever posted to the account.
func (s *LedgerStore) SumTransactions(ctx context.Context, accountID string) (core.Money, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE account_id = ?`, accountID).Scan(&sum)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum transactions for %s: %w", accountID, err)
	}
	return core.Cents(sum), nil
}

// A reversal belongs to the bucket of the transaction it undoes: a negative
// reversal cancels income, a positive one cancels an expense.
const (
	incomeCond  = `((reversal_of IS NULL AND amount > 0) OR (reversal_of IS NOT NULL AND amount < 0))`
	expenseCond = `((reversal_of IS NULL AND amount < 0) OR (reversal_of IS NOT NULL AND amount > 0))`
)

// Summary totals income and expenses of transactions posted within r.
// Expenses are reported as a positive amount.
func (s *LedgerStore) Summary(ctx context.Context, r core.DateRange) (core.FinancialSummary, error) {
	var income, expenses int64
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN `+incomeCond+` THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN `+expenseCond+` THEN amount ELSE 0 END), 0),
			COUNT(*)
		FROM transactions
		WHERE posted_at >= ? AND posted_at < ?`,
		toNanos(r.From), toNanos(r.To)).Scan(&income, &expenses, &count)
	if err != nil {
		return core.FinancialSummary{}, fmt.Errorf("financial summary: %w", err)
	}

	sum := core.FinancialSummary{
		Range:            r,
		Income:           core.Cents(income),
		Expenses:         core.Cents(-expenses),
		TransactionCount: count,
	}
	sum.Net = sum.Income.Sub(sum.Expenses)
	return sum, nil
}

// SpendingByCategory returns net expenses per category, largest first.
// Categories whose expenses were fully reversed are omitted.
func (s *LedgerStore) SpendingByCategory(ctx context.Context, r core.DateRange) ([]core.CategoryAmount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, -SUM(amount) AS spent
		FROM transactions
		WHERE posted_at >= ? AND posted_at < ? AND `+expenseCond+`
		GROUP BY category
		HAVING spent > 0
		ORDER BY spent DESC, category`,
		toNanos(r.From), toNanos(r.To))
	if err != nil {
		return nil, fmt.Errorf("spending by category: %w", err)
	}
	defer rows.Close()

	var out []core.CategoryAmount
	for rows.Next() {
		var c core.CategoryAmount
		var cents int64
		if err := rows.Scan(&c.Name, &cents); err != nil {
			return nil, fmt.Errorf("scan category amount: %w", err)
		}
		c.Amount = core.Cents(cents)
		out = append(out, c)
	}
	return out, rows.Err()
}

// BalanceByType sums the balances of active accounts per account type.
func (s *LedgerStore) BalanceByType(ctx context.Context) ([]core.AccountTypeBalance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, SUM(current_balance), COUNT(*)
		FROM accounts
		WHERE is_active = 1
		GROUP BY type
		ORDER BY type`)
	if err != nil {
		return nil, fmt.Errorf("balance by type: %w", err)
	}
	defer rows.Close()

	var out []core.AccountTypeBalance
	for rows.Next() {
		var b core.AccountTypeBalance
		var typ string
		var cents int64
		if err := rows.Scan(&typ, &cents, &b.Accounts); err != nil {
			return nil, fmt.Errorf("scan type balance: %w", err)
		}
		b.Type = core.AccountType(typ)
		b.Balance = core.Cents(cents)
		out = append(out, b)
	}
	return out, rows.Err()
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger/internal/core"
	"ledger/internal/lock"
	"ledger/internal/log"
	"ledger/internal/storage"

	"github.com/google/uuid"
)

// TransactionService is the only writer of transactions, account balances
// and envelope spend/refund entries.
type TransactionService struct {
	repo   *storage.SQLiteRepository
	rt     Runtime
	verify bool
	logger *log.Logger
}

// NewTransactionService builds the service. With verifyWrites set every
// posting re-sums the touched account and envelope before committing.
func NewTransactionService(repo *storage.SQLiteRepository, rt Runtime, verifyWrites bool) *TransactionService {
	rt = rt.withDefaults()
	return &TransactionService{
		repo:   repo,
		rt:     rt,
		verify: verifyWrites,
		logger: rt.Logger.WithComponent(log.ComponentLedger),
	}
}

func normalize(in core.NewTransaction) core.NewTransaction {
	in.AccountID = strings.TrimSpace(in.AccountID)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	if in.EnvelopeID != nil && strings.TrimSpace(*in.EnvelopeID) == "" {
		in.EnvelopeID = nil
	}
	return in
}

func checkPosting(in core.NewTransaction) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if in.EnvelopeID != nil && in.Amount.IsPositive() {
		return fmt.Errorf("%w: envelopes only track spending, income cannot be attributed to one", core.ErrInvalidOperation)
	}
	return nil
}

func postingKeys(in core.NewTransaction) []string {
	keys := []string{lock.AccountKey(in.AccountID)}
	if in.EnvelopeID != nil {
		keys = append(keys, lock.EnvelopeKey(*in.EnvelopeID))
	}
	return keys
}

// PostTransaction appends a transaction, moves the account balance and, for
// an expense attributed to an envelope, records the spend in the active period.
func (s *TransactionService) PostTransaction(ctx context.Context, in core.NewTransaction) (core.Transaction, error) {
	in = normalize(in)
	if err := checkPosting(in); err != nil {
		return core.Transaction{}, err
	}

	var posted core.Transaction
	err := s.rt.locked(ctx, "post_transaction", postingKeys(in), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(st storage.Stores) error {
			var err error
			posted, err = s.post(ctx, st, in, nil)
			return err
		})
	})
	if err != nil {
		return core.Transaction{}, err
	}

	s.logger.InfoContext(ctx, "Transaction posted", log.NewFields().WithTransaction(posted).ToSlice()...)
	s.publishPosted(ctx, core.EventTransactionPosted, posted)
	return posted, nil
}

// ReverseTransaction posts the negation of transaction id. The original row
// is kept; a linked envelope spend is refunded in the active period.
func (s *TransactionService) ReverseTransaction(ctx context.Context, id string) (core.Transaction, error) {
	orig, err := s.repo.Ledger().GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}

	var reversal core.Transaction
	err = s.rt.locked(ctx, "reverse_transaction", transactionKeys(orig), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(st storage.Stores) error {
			orig, err := st.Ledger.GetTransaction(ctx, id)
			if err != nil {
				return err
			}
			reversal, err = s.reverse(ctx, st, orig)
			return err
		})
	})
	if err != nil {
		return core.Transaction{}, err
	}

	s.logger.InfoContext(ctx, "Transaction reversed", log.NewFields().WithTransaction(reversal).ToSlice()...)
	s.publishPosted(ctx, core.EventTransactionReversed, reversal)
	return reversal, nil
}

// AmendTransaction replaces transaction id with corrected: the original is
// reversed and the corrected copy posted in the same database transaction.
// Empty fields of corrected fall back to the original's values. A nil
// EnvelopeID keeps the original's envelope while the amount stays an
// expense; an empty EnvelopeID detaches the transaction from it.
func (s *TransactionService) AmendTransaction(ctx context.Context, id string, corrected core.NewTransaction) (core.Transaction, error) {
	orig, err := s.repo.Ledger().GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}

	corrected = normalize(fillFrom(orig, corrected))
	if err := checkPosting(corrected); err != nil {
		return core.Transaction{}, err
	}

	keys := append(transactionKeys(orig), postingKeys(corrected)...)

	var reversal, replacement core.Transaction
	err = s.rt.locked(ctx, "amend_transaction", keys, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(st storage.Stores) error {
			orig, err := st.Ledger.GetTransaction(ctx, id)
			if err != nil {
				return err
			}
			if reversal, err = s.reverse(ctx, st, orig); err != nil {
				return err
			}
			replacement, err = s.post(ctx, st, corrected, nil)
			return err
		})
	})
	if err != nil {
		return core.Transaction{}, err
	}

	s.logger.InfoContext(ctx, "Transaction amended",
		log.FieldTransactionID, replacement.ID,
		"amends", id,
		"reversal_id", reversal.ID,
		log.FieldAmount, replacement.Amount.String())
	s.publishPosted(ctx, core.EventTransactionReversed, reversal)
	s.publishPosted(ctx, core.EventTransactionPosted, replacement)
	return replacement, nil
}

func fillFrom(orig core.Transaction, c core.NewTransaction) core.NewTransaction {
	if strings.TrimSpace(c.AccountID) == "" {
		c.AccountID = orig.AccountID
	}
	if c.Amount.IsZero() {
		c.Amount = orig.Amount
	}
	if strings.TrimSpace(c.Description) == "" {
		c.Description = orig.Description
	}
	if strings.TrimSpace(c.Category) == "" {
		c.Category = orig.Category
	}
	if c.Subcategory == nil {
		c.Subcategory = orig.Subcategory
	}
	if c.Merchant == nil {
		c.Merchant = orig.Merchant
	}
	if c.PostedAt == nil {
		p := orig.PostedAt
		c.PostedAt = &p
	}
	if c.EnvelopeID == nil && c.Amount.IsNegative() {
		c.EnvelopeID = orig.EnvelopeID
	}
	return c
}

func transactionKeys(t core.Transaction) []string {
	keys := []string{lock.AccountKey(t.AccountID)}
	if t.EnvelopeID != nil {
		keys = append(keys, lock.EnvelopeKey(*t.EnvelopeID))
	}
	return keys
}

// post performs every write of a posting inside st. reversalOf marks the
// new row as a reversal.
func (s *TransactionService) post(ctx context.Context, st storage.Stores, in core.NewTransaction, reversalOf *string) (core.Transaction, error) {
	acct, err := st.Ledger.GetAccount(ctx, in.AccountID)
	if err != nil {
		return core.Transaction{}, err
	}
	if !acct.IsActive {
		return core.Transaction{}, fmt.Errorf("%w: account %s is inactive", core.ErrInvalidOperation, acct.ID)
	}

	var (
		env    core.Envelope
		period core.BudgetPeriod
	)
	if in.EnvelopeID != nil && reversalOf == nil {
		env, err = st.Envelopes.GetEnvelope(ctx, *in.EnvelopeID)
		if errors.Is(err, core.ErrNotFound) {
			return core.Transaction{}, fmt.Errorf("%w: envelope %s does not exist", core.ErrInvalidReference, *in.EnvelopeID)
		}
		if err != nil {
			return core.Transaction{}, err
		}
		if !env.IsActive {
			return core.Transaction{}, fmt.Errorf("%w: envelope %s is inactive", core.ErrInvalidReference, env.ID)
		}
		if period, err = activePeriod(ctx, st); err != nil {
			return core.Transaction{}, err
		}
	}

	now := s.rt.now()
	tx := core.Transaction{
		ID:          uuid.NewString(),
		AccountID:   acct.ID,
		Amount:      in.Amount,
		Description: in.Description,
		Category:    in.Category,
		Subcategory: in.Subcategory,
		Merchant:    in.Merchant,
		PostedAt:    now,
		EnvelopeID:  in.EnvelopeID,
		ReversalOf:  reversalOf,
		CreatedAt:   now,
	}
	if in.PostedAt != nil {
		tx.PostedAt = in.PostedAt.UTC()
	}

	if err := st.Ledger.InsertTransaction(ctx, tx); err != nil {
		return core.Transaction{}, err
	}
	if _, ok := acct.CurrentBalance.AddChecked(tx.Amount); !ok {
		return core.Transaction{}, fmt.Errorf("%w: posting %s would overflow the balance of account %s",
			core.ErrInvalidOperation, tx.Amount, acct.ID)
	}
	if err := st.Ledger.ApplyBalanceDelta(ctx, acct.ID, acct.Version, tx.Amount, now); err != nil {
		return core.Transaction{}, err
	}

	if in.EnvelopeID != nil && reversalOf == nil {
		spend := core.EnvelopeTransaction{
			ID:            uuid.NewString(),
			EnvelopeID:    env.ID,
			PeriodID:      period.ID,
			Amount:        tx.Amount,
			Kind:          core.KindSpend,
			TransactionID: &tx.ID,
			CreatedAt:     now,
		}
		if err := st.Envelopes.InsertEnvelopeTransaction(ctx, spend); err != nil {
			return core.Transaction{}, err
		}
		if err := refreshEnvelope(ctx, st, env.ID, period.ID, now); err != nil {
			return core.Transaction{}, err
		}
		if err := s.verifyEnvelope(ctx, st, env.ID, period.ID); err != nil {
			return core.Transaction{}, err
		}
	}

	if err := s.verifyAccount(ctx, st, acct.ID); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

// reverse posts the negation of orig and refunds its envelope spend.
func (s *TransactionService) reverse(ctx context.Context, st storage.Stores, orig core.Transaction) (core.Transaction, error) {
	if orig.IsReversal() {
		return core.Transaction{}, fmt.Errorf("%w: transaction %s is itself a reversal", core.ErrInvalidOperation, orig.ID)
	}
	reversed, err := st.Ledger.IsReversed(ctx, orig.ID)
	if err != nil {
		return core.Transaction{}, err
	}
	if reversed {
		return core.Transaction{}, fmt.Errorf("%w: transaction %s was already reversed", core.ErrInvalidOperation, orig.ID)
	}

	postedAt := s.rt.now()
	rev, err := s.post(ctx, st, core.NewTransaction{
		AccountID:   orig.AccountID,
		Amount:      orig.Amount.Neg(),
		Description: orig.Description,
		Category:    orig.Category,
		Subcategory: orig.Subcategory,
		Merchant:    orig.Merchant,
		PostedAt:    &postedAt,
		EnvelopeID:  orig.EnvelopeID,
	}, &orig.ID)
	if err != nil {
		return core.Transaction{}, err
	}

	spend, err := st.Envelopes.FindSpendByTransaction(ctx, orig.ID)
	if err != nil {
		return core.Transaction{}, err
	}
	if spend == nil {
		return rev, nil
	}

	period, err := activePeriod(ctx, st)
	if err != nil {
		return core.Transaction{}, err
	}
	refund := core.EnvelopeTransaction{
		ID:            uuid.NewString(),
		EnvelopeID:    spend.EnvelopeID,
		PeriodID:      period.ID,
		Amount:        spend.Amount.Neg(),
		Kind:          core.KindRefund,
		TransactionID: &rev.ID,
		CreatedAt:     postedAt,
	}
	if err := st.Envelopes.InsertEnvelopeTransaction(ctx, refund); err != nil {
		return core.Transaction{}, err
	}
	if err := refreshEnvelope(ctx, st, spend.EnvelopeID, period.ID, postedAt); err != nil {
		return core.Transaction{}, err
	}
	if err := s.verifyEnvelope(ctx, st, spend.EnvelopeID, period.ID); err != nil {
		return core.Transaction{}, err
	}
	return rev, nil
}

func activePeriod(ctx context.Context, st storage.Stores) (core.BudgetPeriod, error) {
	p, err := st.Envelopes.GetActivePeriod(ctx)
	if errors.Is(err, core.ErrNotFound) {
		return core.BudgetPeriod{}, fmt.Errorf("%w: no active budget period, run a rollover first", core.ErrInvalidOperation)
	}
	return p, err
}

// refreshEnvelope recomputes the stored totals of an envelope from its log.
func refreshEnvelope(ctx context.Context, st storage.Stores, envelopeID, periodID string, now time.Time) error {
	totals, err := st.Envelopes.Totals(ctx, envelopeID, periodID)
	if err != nil {
		return err
	}
	return st.Envelopes.SaveEnvelopeTotals(ctx, envelopeID, totals, now)
}

func (s *TransactionService) verifyAccount(ctx context.Context, st storage.Stores, accountID string) error {
	if !s.verify {
		return nil
	}
	if err := checkAccount(ctx, st, accountID); err != nil {
		s.logger.ErrorContext(ctx, "Account balance diverged from ledger", log.FieldAccountID, accountID, log.FieldError, err)
		return err
	}
	return nil
}

func (s *TransactionService) verifyEnvelope(ctx context.Context, st storage.Stores, envelopeID, periodID string) error {
	if !s.verify {
		return nil
	}
	if err := checkEnvelope(ctx, st, envelopeID, periodID); err != nil {
		s.logger.ErrorContext(ctx, "Envelope totals diverged from log", log.FieldEnvelopeID, envelopeID, log.FieldError, err)
		return err
	}
	return nil
}

func (s *TransactionService) publishPosted(ctx context.Context, typ core.EventType, t core.Transaction) {
	e := core.LedgerEvent{
		Type:          typ,
		AccountID:     t.AccountID,
		TransactionID: t.ID,
		Amount:        moneyPtr(t.Amount),
	}
	if t.EnvelopeID != nil {
		e.EnvelopeID = *t.EnvelopeID
	}
	s.rt.publish(ctx, e)
}

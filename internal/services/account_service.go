package services

import (
	"context"
	"fmt"
	"strings"

	"ledger/internal/core"
	"ledger/internal/lock"
	"ledger/internal/log"
	"ledger/internal/storage"

	"github.com/google/uuid"
)

// AccountService opens accounts and manages their flags. Balances are only
// ever changed by TransactionService.
type AccountService struct {
	repo   *storage.SQLiteRepository
	rt     Runtime
	logger *log.Logger
}

func NewAccountService(repo *storage.SQLiteRepository, rt Runtime) *AccountService {
	rt = rt.withDefaults()
	return &AccountService{
		repo:   repo,
		rt:     rt,
		logger: rt.Logger.WithComponent(log.ComponentLedger),
	}
}

// CreateAccount opens an active, visible account with a zero balance.
func (s *AccountService) CreateAccount(ctx context.Context, in core.NewAccount) (core.Account, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if err := in.Validate(); err != nil {
		return core.Account{}, err
	}

	now := s.rt.now()
	acct := core.Account{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Type:      in.Type,
		Currency:  in.Currency,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := lock.Do(ctx, s.rt.Retry, "create_account", func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(st storage.Stores) error {
			return st.Ledger.CreateAccount(ctx, acct)
		})
	})
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}

	s.logger.InfoContext(ctx, "Account created",
		log.FieldAccountID, acct.ID,
		"name", acct.Name,
		"type", acct.Type)
	s.rt.publish(ctx, core.LedgerEvent{Type: core.EventAccountCreated, AccountID: acct.ID})

	return acct, nil
}

func (s *AccountService) GetAccount(ctx context.Context, id string) (core.Account, error) {
	return s.repo.Ledger().GetAccount(ctx, id)
}

func (s *AccountService) ListAccounts(ctx context.Context, includeHidden bool) ([]core.Account, error) {
	return s.repo.Ledger().ListAccounts(ctx, includeHidden)
}

// SetAccountActive opens or closes an account for posting.
func (s *AccountService) SetAccountActive(ctx context.Context, id string, active bool) (core.Account, error) {
	return s.updateFlags(ctx, id, func(a *core.Account) { a.IsActive = active })
}

// SetAccountHidden hides or shows an account in listings. Hidden accounts keep posting.
func (s *AccountService) SetAccountHidden(ctx context.Context, id string, hidden bool) (core.Account, error) {
	return s.updateFlags(ctx, id, func(a *core.Account) { a.IsHidden = hidden })
}

func (s *AccountService) updateFlags(ctx context.Context, id string, change func(*core.Account)) (core.Account, error) {
	var updated core.Account
	err := s.rt.locked(ctx, "update_account", []string{lock.AccountKey(id)}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(st storage.Stores) error {
			acct, err := st.Ledger.GetAccount(ctx, id)
			if err != nil {
				return err
			}
			change(&acct)
			acct.UpdatedAt = s.rt.now()
			if err := st.Ledger.UpdateAccountFlags(ctx, id, acct.IsActive, acct.IsHidden, acct.UpdatedAt); err != nil {
				return err
			}
			updated = acct
			return nil
		})
	})
	if err != nil {
		return core.Account{}, err
	}

	s.logger.InfoContext(ctx, "Account updated",
		log.FieldAccountID, id,
		"is_active", updated.IsActive,
		"is_hidden", updated.IsHidden)
	s.rt.publish(ctx, core.LedgerEvent{Type: core.EventAccountUpdated, AccountID: id})

	return updated, nil
}

// GetAccountBalance returns the current and available balance. The core has
// no holds or pending amounts, so the two are equal.
func (s *AccountService) GetAccountBalance(ctx context.Context, id string) (core.AccountBalance, error) {
	acct, err := s.repo.Ledger().GetAccount(ctx, id)
	if err != nil {
		return core.AccountBalance{}, err
	}
	return core.AccountBalance{
		AccountID: acct.ID,
		Current:   acct.CurrentBalance,
		Available: acct.AvailableBalance,
	}, nil
}

// ListTransactions returns the account's postings within r, oldest first.
func (s *AccountService) ListTransactions(ctx context.Context, accountID string, r core.DateRange) ([]core.Transaction, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	var out []core.Transaction
	err := s.repo.ReadTx(ctx, func(st storage.Stores) error {
		if _, err := st.Ledger.GetAccount(ctx, accountID); err != nil {
			return err
		}
		var err error
		out, err = st.Ledger.ListTransactions(ctx, accountID, r)
		return err
	})
	return out, err
}

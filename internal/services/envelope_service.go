package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ledger/internal/core"
	"ledger/internal/lock"
	"ledger/internal/log"
	"ledger/internal/storage"

	"github.com/google/uuid"
)

// EnvelopeService manages envelope definitions. Envelope balances are never
// set here; they follow from the envelope log.
type EnvelopeService struct {
	repo   *storage.SQLiteRepository
	rt     Runtime
	logger *log.Logger
}

func NewEnvelopeService(repo *storage.SQLiteRepository, rt Runtime) *EnvelopeService {
	rt = rt.withDefaults()
	return &EnvelopeService{
		repo:   repo,
		rt:     rt,
		logger: rt.Logger.WithComponent(log.ComponentEnvelope),
	}
}

// CreateEnvelope adds an envelope. When a period is already active the
// envelope is funded in it straight away.
func (s *EnvelopeService) CreateEnvelope(ctx context.Context, in core.NewEnvelope) (core.Envelope, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)
	if err := in.Validate(); err != nil {
		return core.Envelope{}, err
	}

	var created core.Envelope
	err := s.rt.locked(ctx, "create_envelope", nil, func(ctx context.Context) error {
		now := s.rt.now()
		env := core.Envelope{
			ID:              uuid.NewString(),
			Name:            in.Name,
			Category:        in.Category,
			MonthlyLimit:    in.MonthlyLimit,
			RolloverEnabled: in.RolloverEnabled,
			IsActive:        true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return s.repo.WithTx(ctx, func(st storage.Stores) error {
			if err := st.Envelopes.CreateEnvelope(ctx, env); err != nil {
				return err
			}

			period, err := st.Envelopes.GetActivePeriod(ctx)
			if isNotFound(err) {
				created = env
				return nil
			}
			if err != nil {
				return err
			}

			if err := allocate(ctx, st, env, period.ID, now); err != nil {
				return err
			}
			if err := refreshEnvelope(ctx, st, env.ID, period.ID, now); err != nil {
				return err
			}
			created, err = st.Envelopes.GetEnvelope(ctx, env.ID)
			return err
		})
	})
	if err != nil {
		return core.Envelope{}, err
	}

	s.logger.InfoContext(ctx, "Envelope created",
		log.NewFields().WithEnvelope(created).ToSlice()...)
	s.rt.publish(ctx, core.LedgerEvent{Type: core.EventEnvelopeCreated, EnvelopeID: created.ID})
	return created, nil
}

// allocate snapshots env's limit for the period and credits it to the log.
func allocate(ctx context.Context, st storage.Stores, env core.Envelope, periodID string, now time.Time) error {
	if err := st.Envelopes.CreateAllocation(ctx, core.EnvelopeAllocation{
		ID:              uuid.NewString(),
		EnvelopeID:      env.ID,
		PeriodID:        periodID,
		AllocatedAmount: env.MonthlyLimit,
		CreatedAt:       now,
	}); err != nil {
		return err
	}
	if env.MonthlyLimit.IsZero() {
		return nil
	}
	return st.Envelopes.InsertEnvelopeTransaction(ctx, core.EnvelopeTransaction{
		ID:         uuid.NewString(),
		EnvelopeID: env.ID,
		PeriodID:   periodID,
		Amount:     env.MonthlyLimit,
		Kind:       core.KindAllocation,
		CreatedAt:  now,
	})
}

// UpdateEnvelopeLimit changes the monthly limit from the next period on. The
// active period's allocation is left alone.
func (s *EnvelopeService) UpdateEnvelopeLimit(ctx context.Context, id string, limit core.Money) (core.Envelope, error) {
	if err := limit.ValidateNonNegative(); err != nil {
		return core.Envelope{}, err
	}
	return s.update(ctx, id, "limit", func(e *core.Envelope) error {
		e.MonthlyLimit = limit
		return nil
	})
}

func (s *EnvelopeService) SetEnvelopeRollover(ctx context.Context, id string, enabled bool) (core.Envelope, error) {
	return s.update(ctx, id, "rollover", func(e *core.Envelope) error {
		e.RolloverEnabled = enabled
		return nil
	})
}

// DeactivateEnvelope stops new spending against the envelope and excludes it
// from future rollovers. Its history is kept.
func (s *EnvelopeService) DeactivateEnvelope(ctx context.Context, id string) (core.Envelope, error) {
	return s.update(ctx, id, "deactivate", func(e *core.Envelope) error {
		if !e.IsActive {
			return fmt.Errorf("%w: envelope %s is already inactive", core.ErrInvalidOperation, e.ID)
		}
		e.IsActive = false
		return nil
	})
}

func (s *EnvelopeService) update(ctx context.Context, id, what string, change func(*core.Envelope) error) (core.Envelope, error) {
	var updated core.Envelope
	err := s.rt.locked(ctx, "update_envelope", []string{lock.EnvelopeKey(id)}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(st storage.Stores) error {
			env, err := st.Envelopes.GetEnvelope(ctx, id)
			if err != nil {
				return err
			}
			if err := change(&env); err != nil {
				return err
			}
			env.UpdatedAt = s.rt.now()
			if err := st.Envelopes.UpdateEnvelope(ctx, env); err != nil {
				return err
			}
			updated = env
			return nil
		})
	})
	if err != nil {
		return core.Envelope{}, err
	}

	s.logger.InfoContext(ctx, "Envelope updated",
		log.FieldEnvelopeID, id,
		"change", what,
		"monthly_limit", updated.MonthlyLimit.String(),
		"rollover_enabled", updated.RolloverEnabled,
		"is_active", updated.IsActive)
	s.rt.publish(ctx, core.LedgerEvent{Type: core.EventEnvelopeUpdated, EnvelopeID: id})
	return updated, nil
}

func (s *EnvelopeService) GetEnvelope(ctx context.Context, id string) (core.Envelope, error) {
	return s.repo.Envelopes().GetEnvelope(ctx, id)
}

func (s *EnvelopeService) ListEnvelopes(ctx context.Context, activeOnly bool) ([]core.Envelope, error) {
	return s.repo.Envelopes().ListEnvelopes(ctx, activeOnly)
}

// GetActivePeriod returns the active budget period or core.ErrNotFound.
func (s *EnvelopeService) GetActivePeriod(ctx context.Context) (core.BudgetPeriod, error) {
	return s.repo.Envelopes().GetActivePeriod(ctx)
}

// GetAllocation returns the envelope's limit snapshot for a period.
func (s *EnvelopeService) GetAllocation(ctx context.Context, envelopeID, periodID string) (core.EnvelopeAllocation, error) {
	return s.repo.Envelopes().GetAllocation(ctx, envelopeID, periodID)
}

// ListEnvelopeTransactions returns the envelope log for periodID, or for the
// active period when periodID is empty.
func (s *EnvelopeService) ListEnvelopeTransactions(ctx context.Context, envelopeID, periodID string) ([]core.EnvelopeTransaction, error) {
	var out []core.EnvelopeTransaction
	err := s.repo.ReadTx(ctx, func(st storage.Stores) error {
		if _, err := st.Envelopes.GetEnvelope(ctx, envelopeID); err != nil {
			return err
		}
		if periodID == "" {
			p, err := st.Envelopes.GetActivePeriod(ctx)
			if isNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			periodID = p.ID
		} else if _, err := st.Envelopes.GetPeriod(ctx, periodID); err != nil {
			return err
		}
		var err error
		out, err = st.Envelopes.ListEnvelopeTransactions(ctx, envelopeID, periodID)
		return err
	})
	return out, err
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger/internal/core"
	"ledger/internal/lock"
	"ledger/internal/log"
	"ledger/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// RolloverEngine moves the budget from the active period into a new month.
//
// A run holds the period lock exclusively and applies every write in one
// database transaction: the new period, each envelope's allocation, its
// allocation credit and carry-forward, and the switch of the active flag.
// A run whose target month is already active changes nothing, so a retry
// after a failed or interrupted run is always safe.
type RolloverEngine struct {
	repo   *storage.SQLiteRepository
	rt     Runtime
	policy core.CarryPolicy
	logger *log.Logger
	group  singleflight.Group

	// beforeSwitch runs after the envelopes are rolled and before the active
	// period changes. Tests use it to fail a run at that point.
	beforeSwitch func(ctx context.Context) error
}

func NewRolloverEngine(repo *storage.SQLiteRepository, rt Runtime, policy core.CarryPolicy) *RolloverEngine {
	rt = rt.withDefaults()
	if policy == "" {
		policy = core.CarryForfeit
	}
	return &RolloverEngine{
		repo:   repo,
		rt:     rt,
		policy: policy,
		logger: rt.Logger.WithComponent(log.ComponentRollover),
	}
}

// Policy returns the carry policy applied to envelopes with rollover enabled.
func (e *RolloverEngine) Policy() core.CarryPolicy {
	return e.policy
}

// RunRollover makes year/month the active period. Concurrent calls for the
// same month share one run.
func (e *RolloverEngine) RunRollover(ctx context.Context, year, month int) (core.RolloverResult, error) {
	target, err := core.NewPeriod(year, month)
	if err != nil {
		return core.RolloverResult{}, err
	}

	v, err, shared := e.group.Do(target.String(), func() (any, error) {
		return e.run(ctx, target)
	})
	if err != nil {
		return core.RolloverResult{}, err
	}
	if shared {
		e.logger.DebugContext(ctx, "Joined in-flight rollover", log.FieldPeriod, target.String())
	}
	return v.(core.RolloverResult), nil
}

func (e *RolloverEngine) run(ctx context.Context, target core.Period) (core.RolloverResult, error) {
	var res core.RolloverResult
	err := lock.Do(ctx, e.rt.Retry, "rollover", func(ctx context.Context) error {
		release, err := e.rt.Locks.Exclusive(ctx)
		if err != nil {
			return err
		}
		defer release()

		res = core.RolloverResult{To: target}
		return e.repo.WithTx(ctx, func(st storage.Stores) error {
			return e.apply(ctx, st, target, &res)
		})
	})
	if err != nil {
		if !core.IsUserError(err) {
			e.logger.ErrorContext(ctx, "Rollover failed, nothing applied",
				log.FieldPeriod, target.String(),
				log.FieldError, err)
		}
		return core.RolloverResult{}, fmt.Errorf("rollover to %s: %w", target, err)
	}

	if !res.Applied {
		e.logger.InfoContext(ctx, "Rollover skipped, period already active", log.FieldPeriod, target.String())
		return res, nil
	}

	from := "none"
	if res.From != nil {
		from = res.From.String()
	}
	fields := log.NewFields().WithOperation(log.OpRollover).WithPeriod(target)
	fields["from"] = from
	fields["period_id"] = res.PeriodID
	fields["envelopes"] = len(res.Envelopes)
	fields["policy"] = string(e.policy)
	e.logger.InfoContext(ctx, "Rollover completed", fields.ToSlice()...)
	e.rt.publish(ctx, core.LedgerEvent{
		Type:     core.EventRolloverCompleted,
		PeriodID: res.PeriodID,
		Period:   &res.To,
	})
	return res, nil
}

func (e *RolloverEngine) apply(ctx context.Context, st storage.Stores, target core.Period, res *core.RolloverResult) error {
	now := e.rt.now()

	active, err := st.Envelopes.GetActivePeriod(ctx)
	if errors.Is(err, core.ErrNotFound) {
		return e.open(ctx, st, target, now, res)
	}
	if err != nil {
		return err
	}

	current := active.Period()
	if current == target {
		res.PeriodID = active.ID
		return nil
	}
	if target.Before(current) {
		return fmt.Errorf("%w: cannot roll back from %s to %s", core.ErrInvalidOperation, current, target)
	}
	res.From = &current

	next := core.BudgetPeriod{
		ID:        uuid.NewString(),
		Year:      target.Year,
		Month:     target.Month,
		CreatedAt: now,
	}
	if err := st.Envelopes.CreatePeriod(ctx, next); err != nil {
		return err
	}

	envelopes, err := st.Envelopes.ListEnvelopes(ctx, false)
	if err != nil {
		return err
	}
	closing, err := st.Envelopes.TotalsByEnvelope(ctx, active.ID)
	if err != nil {
		return err
	}

	for _, env := range envelopes {
		if env.IsActive {
			remaining := closing[env.ID].Balance()
			carry := e.policy.CarryForward(remaining, env.RolloverEnabled)

			if err := allocate(ctx, st, env, next.ID, now); err != nil {
				return err
			}
			if !carry.IsZero() {
				if err := st.Envelopes.InsertEnvelopeTransaction(ctx, core.EnvelopeTransaction{
					ID:         uuid.NewString(),
					EnvelopeID: env.ID,
					PeriodID:   next.ID,
					Amount:     carry,
					Kind:       core.KindRollover,
					CreatedAt:  now,
				}); err != nil {
					return err
				}
			}

			res.Envelopes = append(res.Envelopes, core.EnvelopeRollover{
				EnvelopeID:     env.ID,
				Name:           env.Name,
				ClosingBalance: remaining,
				Carried:        carry,
				Allocated:      env.MonthlyLimit,
				OpeningBalance: env.MonthlyLimit.Add(carry),
			})
		}
		// Inactive envelopes have no entries in the new period and end up at zero.
		if err := refreshEnvelope(ctx, st, env.ID, next.ID, now); err != nil {
			return err
		}
	}

	if e.beforeSwitch != nil {
		if err := e.beforeSwitch(ctx); err != nil {
			return err
		}
	}

	if err := st.Envelopes.ClosePeriod(ctx, active.ID, now); err != nil {
		return err
	}
	if err := st.Envelopes.ActivatePeriod(ctx, next.ID); err != nil {
		return err
	}

	res.PeriodID = next.ID
	res.Applied = true
	return nil
}

// open creates the very first period and funds every active envelope in it.
func (e *RolloverEngine) open(ctx context.Context, st storage.Stores, target core.Period, now time.Time, res *core.RolloverResult) error {
	first := core.BudgetPeriod{
		ID:        uuid.NewString(),
		Year:      target.Year,
		Month:     target.Month,
		IsActive:  true,
		CreatedAt: now,
	}
	if err := st.Envelopes.CreatePeriod(ctx, first); err != nil {
		return err
	}

	envelopes, err := st.Envelopes.ListEnvelopes(ctx, true)
	if err != nil {
		return err
	}
	for _, env := range envelopes {
		if err := allocate(ctx, st, env, first.ID, now); err != nil {
			return err
		}
		if err := refreshEnvelope(ctx, st, env.ID, first.ID, now); err != nil {
			return err
		}
		res.Envelopes = append(res.Envelopes, core.EnvelopeRollover{
			EnvelopeID:     env.ID,
			Name:           env.Name,
			Allocated:      env.MonthlyLimit,
			OpeningBalance: env.MonthlyLimit,
		})
	}

	res.PeriodID = first.ID
	res.Applied = true
	return nil
}

// ActivePeriod returns the active budget period or core.ErrNotFound.
func (e *RolloverEngine) ActivePeriod(ctx context.Context) (core.BudgetPeriod, error) {
	return e.repo.Envelopes().GetActivePeriod(ctx)
}

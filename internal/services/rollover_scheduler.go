package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/storage"
)

// RolloverSchedulerConfig holds configuration for the rollover scheduler
type RolloverSchedulerConfig struct {
	// Interval is how often to check whether a rollover is due (default: 1h)
	Interval time.Duration

	// Day is the day of the month from which the rollover may run (default: 1)
	Day int
}

// DefaultRolloverSchedulerConfig returns sensible defaults
func DefaultRolloverSchedulerConfig() RolloverSchedulerConfig {
	return RolloverSchedulerConfig{
		Interval: time.Hour,
		Day:      1,
	}
}

// RolloverScheduler is the clock the engine does not have: it periodically
// checks whether the active period is behind the calendar and, if so, runs
// the rollover into the current month.
type RolloverScheduler struct {
	repo    *storage.SQLiteRepository
	engine  *RolloverEngine
	trigger RolloverTrigger
	config  RolloverSchedulerConfig
	now     func() time.Time
	logger  *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRolloverScheduler(repo *storage.SQLiteRepository, engine *RolloverEngine, config RolloverSchedulerConfig) *RolloverScheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultRolloverSchedulerConfig().Interval
	}
	return &RolloverScheduler{
		repo:    repo,
		engine:  engine,
		trigger: TriggerForDay(config.Day),
		config:  config,
		now:     engine.rt.Now,
		logger:  engine.rt.Logger.WithComponent(log.ComponentRollover),
	}
}

// Check runs the rollover into now's month when the trigger says it is due.
// It reports whether a rollover was attempted.
func (s *RolloverScheduler) Check(ctx context.Context, now time.Time) (core.RolloverResult, bool, error) {
	var active *core.Period
	p, err := s.repo.Envelopes().GetActivePeriod(ctx)
	switch {
	case err == nil:
		cur := p.Period()
		active = &cur
	case errors.Is(err, core.ErrNotFound):
	default:
		return core.RolloverResult{}, false, fmt.Errorf("read active period: %w", err)
	}

	now = now.UTC()
	if !s.trigger.IsDue(active, now) {
		return core.RolloverResult{}, false, nil
	}

	target := core.PeriodOf(now)
	s.logger.InfoContext(ctx, "Rollover due", log.FieldPeriod, target.String())

	res, err := s.engine.RunRollover(ctx, target.Year, target.Month)
	if err != nil {
		return core.RolloverResult{}, true, err
	}
	return res, true, nil
}

// Start begins the check loop. Returns an error if already running.
func (s *RolloverScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("rollover scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	s.logger.InfoContext(ctx, "Rollover scheduler started",
		"interval", s.config.Interval,
		"day", s.config.Day)
	return nil
}

// Stop signals the loop to finish and waits for it.
func (s *RolloverScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		s.logger.InfoContext(ctx, "Rollover scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Rollover scheduler stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *RolloverScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *RolloverScheduler) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *RolloverScheduler) tick(ctx context.Context) {
	res, ran, err := s.Check(ctx, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "Scheduled rollover failed", log.FieldError, err)
		return
	}
	if ran && res.Applied {
		s.logger.InfoContext(ctx, "Scheduled rollover applied",
			log.FieldPeriod, res.To.String(),
			"envelopes", len(res.Envelopes))
	}
}

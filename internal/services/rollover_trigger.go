package services

import (
	"time"

	"ledger/internal/core"
)

// RolloverTrigger decides whether the scheduler should roll the budget into
// now's month. active is nil before the first period exists.
type RolloverTrigger interface {
	IsDue(active *core.Period, now time.Time) bool
}

// MonthStartTrigger rolls over as soon as the calendar month changes.
type MonthStartTrigger struct{}

func (MonthStartTrigger) IsDue(active *core.Period, now time.Time) bool {
	return active == nil || active.Before(core.PeriodOf(now))
}

// DayOfMonthTrigger waits until a given day of the new month, so late
// postings can still land in the old period. Days past the end of a short
// month fall back to its last day.
type DayOfMonthTrigger struct {
	Day int
}

func (t DayOfMonthTrigger) IsDue(active *core.Period, now time.Time) bool {
	if active == nil {
		return true
	}
	if !active.Before(core.PeriodOf(now)) {
		return false
	}
	// A period more than one month behind is overdue regardless of the day.
	if active.MonthsUntil(core.PeriodOf(now)) > 1 {
		return true
	}

	target := t.Day
	lastDay := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if target > lastDay {
		target = lastDay
	}
	return now.Day() >= target
}

// TriggerForDay returns the trigger for a configured rollover day.
func TriggerForDay(day int) RolloverTrigger {
	if day <= 1 {
		return MonthStartTrigger{}
	}
	return DayOfMonthTrigger{Day: day}
}

package services

import (
	"testing"
	"time"

	"ledger/internal/core"
)

func period(y, m int) *core.Period {
	return &core.Period{Year: y, Month: m}
}

func TestMonthStartTrigger_IsDue(t *testing.T) {
	trigger := MonthStartTrigger{}
	now := time.Date(2024, 2, 1, 0, 5, 0, 0, time.UTC)

	tests := []struct {
		name   string
		active *core.Period
		want   bool
	}{
		{"no period yet - is due", nil, true},
		{"previous month active - is due", period(2024, 1), true},
		{"current month active - not due", period(2024, 2), false},
		{"future month active - not due", period(2024, 3), false},
		{"previous year active - is due", period(2023, 12), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trigger.IsDue(tt.active, now); got != tt.want {
				t.Errorf("MonthStartTrigger.IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDayOfMonthTrigger_IsDue(t *testing.T) {
	tests := []struct {
		name   string
		day    int
		active *core.Period
		now    time.Time
		want   bool
	}{
		{
			name:   "no period yet - is due",
			day:    5,
			active: nil,
			now:    time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
			want:   true,
		},
		{
			name:   "new month but before target day - not due",
			day:    5,
			active: period(2024, 1),
			now:    time.Date(2024, 2, 3, 12, 0, 0, 0, time.UTC),
			want:   false,
		},
		{
			name:   "new month on target day - is due",
			day:    5,
			active: period(2024, 1),
			now:    time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
			want:   true,
		},
		{
			name:   "target day 31 in February - adjusts to 29",
			day:    31,
			active: period(2024, 1),
			now:    time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC), // 2024 is a leap year
			want:   true,
		},
		{
			name:   "two months behind - due before target day",
			day:    20,
			active: period(2023, 12),
			now:    time.Date(2024, 2, 2, 12, 0, 0, 0, time.UTC),
			want:   true,
		},
		{
			name:   "current month active - not due",
			day:    5,
			active: period(2024, 2),
			now:    time.Date(2024, 2, 25, 12, 0, 0, 0, time.UTC),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := DayOfMonthTrigger{Day: tt.day}
			if got := trigger.IsDue(tt.active, tt.now); got != tt.want {
				t.Errorf("DayOfMonthTrigger.IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTriggerForDay(t *testing.T) {
	if _, ok := TriggerForDay(1).(MonthStartTrigger); !ok {
		t.Error("day 1 should use MonthStartTrigger")
	}
	if _, ok := TriggerForDay(0).(MonthStartTrigger); !ok {
		t.Error("day 0 should use MonthStartTrigger")
	}
	if tr, ok := TriggerForDay(10).(DayOfMonthTrigger); !ok || tr.Day != 10 {
		t.Errorf("day 10 should use DayOfMonthTrigger{10}, got %#v", TriggerForDay(10))
	}
}

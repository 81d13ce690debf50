package core

import (
	"fmt"
	"time"
)

// Period identifies a calendar month.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"` // 1-12
}

// PeriodOf returns the calendar month containing t (in t's location).
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// NewPeriod builds and validates a Period.
func NewPeriod(year, month int) (Period, error) {
	p := Period{Year: year, Month: month}
	return p, p.Validate()
}

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return PeriodOf(t), nil
}

func (p Period) Validate() error {
	if p.Year < 1970 || p.Year > 9999 {
		return ErrInvalidYear
	}
	if p.Month < 1 || p.Month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Next returns the following calendar month.
func (p Period) Next() Period {
	if p.Month == 12 {
		return Period{Year: p.Year + 1, Month: 1}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

func (p Period) index() int { return p.Year*12 + p.Month - 1 }

// Before reports whether p is strictly earlier than o.
func (p Period) Before(o Period) bool { return p.index() < o.index() }

// After reports whether p is strictly later than o.
func (p Period) After(o Period) bool { return p.index() > o.index() }

// MonthsUntil returns how many months separate p from o (negative if o is earlier).
func (p Period) MonthsUntil(o Period) int { return o.index() - p.index() }

// Start returns the first instant of the month in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant of the following month in UTC.
func (p Period) End() time.Time {
	return p.Next().Start()
}

// Range returns the half-open range covering the month.
func (p Period) Range() DateRange {
	return DateRange{From: p.Start(), To: p.End()}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// DateRange is a half-open interval [From, To).
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return ErrInvalidRange
	}
	return nil
}

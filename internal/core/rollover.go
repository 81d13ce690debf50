package core

import "fmt"

// CarryPolicy decides how an envelope's closing balance moves into the next period.
type CarryPolicy string

const (
	// CarryForfeit carries only unspent money; overspending is dropped.
	CarryForfeit CarryPolicy = "forfeit"
	// CarryDebt also carries overspending as a negative opening balance.
	CarryDebt CarryPolicy = "debt"
)

// ParseCarryPolicy maps a config value onto a policy.
func ParseCarryPolicy(s string) (CarryPolicy, error) {
	switch p := CarryPolicy(s); p {
	case CarryForfeit, CarryDebt:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown carry policy %q", ErrValidation, s)
	}
}

// CarryForward returns the amount an envelope brings into the next period.
// Envelopes without rollover always start fresh.
func (p CarryPolicy) CarryForward(remaining Money, rolloverEnabled bool) Money {
	if !rolloverEnabled {
		return Money{}
	}
	if p == CarryDebt {
		return remaining
	}
	return remaining.Max(Money{})
}

// EnvelopeRollover describes how one envelope entered the new period.
type EnvelopeRollover struct {
	EnvelopeID     string `json:"envelope_id"`
	Name           string `json:"name"`
	ClosingBalance Money  `json:"closing_balance"`
	Carried        Money  `json:"carried"`
	Allocated      Money  `json:"allocated"`
	OpeningBalance Money  `json:"opening_balance"`
}

// RolloverResult reports a rollover run. Applied is false when the target
// month was already active and nothing changed.
type RolloverResult struct {
	From      *Period            `json:"from,omitempty"`
	To        Period             `json:"to"`
	PeriodID  string             `json:"period_id"`
	Applied   bool               `json:"applied"`
	Envelopes []EnvelopeRollover `json:"envelopes,omitempty"`
}

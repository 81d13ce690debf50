package core

import "time"

// EventType names a committed ledger change.
type EventType string

const (
	EventAccountCreated      EventType = "account.created"
	EventAccountUpdated      EventType = "account.updated"
	EventTransactionPosted   EventType = "transaction.posted"
	EventTransactionReversed EventType = "transaction.reversed"
	EventEnvelopeCreated     EventType = "envelope.created"
	EventEnvelopeUpdated     EventType = "envelope.updated"
	EventRolloverCompleted   EventType = "rollover.completed"
)

// LedgerEvent is published after a mutating operation commits. Fields that do
// not apply to the event type are left empty.
type LedgerEvent struct {
	Type          EventType `json:"type"`
	AccountID     string    `json:"account_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	EnvelopeID    string    `json:"envelope_id,omitempty"`
	PeriodID      string    `json:"period_id,omitempty"`
	Period        *Period   `json:"period,omitempty"`
	Amount        *Money    `json:"amount,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

package amqp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ledger/internal/core"

	"github.com/google/uuid"
)

// LedgerEventMessage wraps a committed ledger event for downstream consumers.
type LedgerEventMessage struct {
	ID        string           `json:"id"`
	Event     core.LedgerEvent `json:"event"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewLedgerEventMessage stamps e with a message id and the publish time.
func NewLedgerEventMessage(e core.LedgerEvent) *LedgerEventMessage {
	return &LedgerEventMessage{
		ID:        uuid.NewString(),
		Event:     e,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ImportMessage is one statement line queued for posting. Date is either
// YYYY-MM-DD or RFC 3339; empty means "now".
type ImportMessage struct {
	AccountID   string     `json:"account_id"`
	Amount      core.Money `json:"amount"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Date        string     `json:"date,omitempty"`
	EnvelopeID  *string    `json:"envelope_id,omitempty"`
	Subcategory *string    `json:"subcategory,omitempty"`
	Merchant    *string    `json:"merchant,omitempty"`
}

func (m *ImportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ImportMessageFromJSON(data []byte) (*ImportMessage, error) {
	var msg ImportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ToRecord converts the message into an import record.
func (m *ImportMessage) ToRecord() (core.ImportRecord, error) {
	rec := core.ImportRecord{
		AccountID:   m.AccountID,
		Amount:      m.Amount,
		Description: m.Description,
		Category:    m.Category,
		EnvelopeID:  m.EnvelopeID,
		Subcategory: m.Subcategory,
		Merchant:    m.Merchant,
	}

	date := strings.TrimSpace(m.Date)
	if date == "" {
		return rec, nil
	}
	if t, err := time.Parse("2006-01-02", date); err == nil {
		rec.Date = t
		return rec, nil
	}
	t, err := time.Parse(time.RFC3339, date)
	if err != nil {
		return core.ImportRecord{}, fmt.Errorf("%w: invalid date %q", core.ErrValidation, m.Date)
	}
	rec.Date = t.UTC()
	return rec, nil
}

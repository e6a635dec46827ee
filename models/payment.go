package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

type Payment struct {
	ID                   string          `json:"id"`
	RegistrationID       string          `json:"registration_id"`
	Amount               decimal.Decimal `json:"amount"`
	TransactionID        string          `json:"transaction_id,omitempty"`
	Status               PaymentStatus   `json:"status"`
	Network              string          `json:"network"`
	AccountNumber        string          `json:"account_number"`
	Reference            string          `json:"reference"`        // short code shown to the payer
	ClientReference      string          `json:"client_reference"` // request id sent to the provider
	VerificationResponse json.RawMessage `json:"verification_response,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// Settlement is a terminal outcome to apply to a pending payment.
type Settlement struct {
	Status        PaymentStatus
	TransactionID string
	Response      json.RawMessage
	At            time.Time
}

// SettleResult describes what a settlement did. Applied is false when the
// payment was already terminal, in which case nothing was written.
type SettleResult struct {
	Applied      bool
	Payment      *Payment
	Registration *Registration
}

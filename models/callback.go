package models

import (
	"encoding/json"
	"time"
)

type CallbackSource string

const (
	SourceWebhook    CallbackSource = "webhook"
	SourcePubNub     CallbackSource = "pubnub"
	SourceSimulation CallbackSource = "simulation"
)

// CallbackRecord is the append-only audit entry written for every inbound
// provider notification.
type CallbackRecord struct {
	ID             string          `json:"id"`
	Payload        json.RawMessage `json:"payload"`
	Fingerprint    string          `json:"fingerprint"`
	Source         CallbackSource  `json:"source"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	RegistrationID string          `json:"registration_id,omitempty"`
	Status         string          `json:"status,omitempty"`
	Outcome        string          `json:"outcome,omitempty"`
	PaymentID      string          `json:"payment_id,omitempty"`
	Error          string          `json:"error,omitempty"`
	Processed      bool            `json:"processed"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CallbackResult is written once when handling of a callback finishes.
type CallbackResult struct {
	PaymentID string
	Error     string
}

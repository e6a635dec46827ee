package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RegistrationStatus string

const (
	RegistrationPending RegistrationStatus = "pending"
	RegistrationPartial RegistrationStatus = "partial"
	RegistrationPaid    RegistrationStatus = "paid"
)

type Registration struct {
	ID            string             `json:"id"`
	EventID       string             `json:"event_id"`
	Name          string             `json:"name"`
	Email         string             `json:"email"`
	Phone         string             `json:"phone"`
	Participants  int                `json:"participants"`
	TicketTierID  string             `json:"ticket_tier_id,omitempty"`
	TotalAmount   decimal.Decimal    `json:"total_amount"`
	AmountPaid    decimal.Decimal    `json:"amount_paid"`
	PaymentStatus RegistrationStatus `json:"payment_status"`
	CreatedAt     time.Time          `json:"created_at"`
}

// IsFree reports whether nothing is owed for the registration.
func (r *Registration) IsFree() bool {
	return !r.TotalAmount.IsPositive()
}

// Balance is the amount still owed, never negative.
func (r *Registration) Balance() decimal.Decimal {
	b := r.TotalAmount.Sub(r.AmountPaid)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// DeriveStatus computes payment_status from the paid and total amounts.
func (r *Registration) DeriveStatus() RegistrationStatus {
	switch {
	case r.IsFree(), r.AmountPaid.GreaterThanOrEqual(r.TotalAmount):
		return RegistrationPaid
	case r.AmountPaid.IsPositive():
		return RegistrationPartial
	default:
		return RegistrationPending
	}
}

// Credit adds a completed payment to the running total. Non-positive amounts
// are ignored so amount_paid never decreases.
func (r *Registration) Credit(amount decimal.Decimal) {
	if amount.IsPositive() {
		r.AmountPaid = r.AmountPaid.Add(amount)
	}
	r.PaymentStatus = r.DeriveStatus()
}

// Revert is applied when a payment fails. No money moved, so amount_paid is
// kept and the status falls back to whatever the paid amount supports.
func (r *Registration) Revert() {
	r.PaymentStatus = r.DeriveStatus()
}

package models

import (
	"github.com/shopspring/decimal"
)

// TicketTier prices a registration; it lives outside the payment flow and is
// only read to compute a registration's total.
type TicketTier struct {
	ID      string          `json:"id"`
	EventID string          `json:"event_id"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
}

// Total is the amount owed for the given number of participants.
func (t *TicketTier) Total(participants int) decimal.Decimal {
	if participants < 1 {
		participants = 1
	}
	return t.Price.Mul(decimal.NewFromInt(int64(participants)))
}

package services

import (
	"context"
	"time"

	"event-payments/internal/services/momo"
	"event-payments/models"

	"github.com/shopspring/decimal"
)

// Collector starts and inspects mobile-money charges.
type Collector interface {
	Collect(ctx context.Context, req *momo.CollectRequest) (*momo.CollectResult, error)
	CheckStatus(ctx context.Context, transactionReference string) (*momo.StatusResult, error)
}

// Locker serializes work on one key across processes. Acquire returns
// status.ErrPaymentBusy when the key is already held.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// StatusCache keeps the last reconciled snapshot of a registration. Get
// returns (nil, nil) on a miss.
type StatusCache interface {
	Put(ctx context.Context, snap *PaymentSnapshot) error
	Get(ctx context.Context, registrationID string) (*PaymentSnapshot, error)
}

// Publisher pushes status changes to open booking dialogs.
type Publisher interface {
	PublishStatus(ctx context.Context, snap *PaymentSnapshot) error
}

// Notifier is told about confirmed payments. Notify must not block.
type Notifier interface {
	Notify(c Confirmation)
}

// Confirmation is a payment that has just moved to completed.
type Confirmation struct {
	Payment      *models.Payment
	Registration *models.Registration
}

// PaymentSnapshot is the payment state of a registration as reported to
// clients.
type PaymentSnapshot struct {
	RegistrationID       string                    `json:"registration_id"`
	PaymentID            string                    `json:"payment_id,omitempty"`
	TransactionReference string                    `json:"transaction_reference,omitempty"`
	Status               models.PaymentStatus      `json:"status"`
	PaymentStatus        models.RegistrationStatus `json:"payment_status"`
	AmountPaid           decimal.Decimal           `json:"amount_paid"`
	TotalAmount          decimal.Decimal           `json:"total_amount"`
	UpdatedAt            time.Time                 `json:"updated_at"`
}

// NewSnapshot builds a snapshot from a registration and, when known, its
// latest payment.
func NewSnapshot(reg *models.Registration, p *models.Payment, at time.Time) *PaymentSnapshot {
	snap := &PaymentSnapshot{
		RegistrationID: reg.ID,
		PaymentStatus:  reg.PaymentStatus,
		AmountPaid:     reg.AmountPaid,
		TotalAmount:    reg.TotalAmount,
		UpdatedAt:      at,
	}
	switch {
	case p != nil:
		snap.PaymentID = p.ID
		snap.TransactionReference = p.TransactionID
		snap.Status = p.Status
	case reg.PaymentStatus == models.RegistrationPaid:
		snap.Status = models.PaymentCompleted
	default:
		snap.Status = models.PaymentPending
	}
	return snap
}

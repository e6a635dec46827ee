// Package store persists registrations, payments and the callback audit log.
package store

import (
	"context"
	"time"

	"event-payments/models"
)

// Collection names.
const (
	EventsCollection        = "events"
	TicketTiersCollection   = "ticket_tiers"
	RegistrationsCollection = "registrations"
	PaymentsCollection      = "payments"
	CallbacksCollection     = "payment_callbacks"
)

// Store is the transaction record store. Lookups that find nothing return
// status.ErrNotFound; other failures are *status.PersistenceError.
type Store interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetTicketTier(ctx context.Context, id string) (*models.TicketTier, error)

	// CreateRegistration assigns r.ID. A registration with nothing owed is
	// stored as paid.
	CreateRegistration(ctx context.Context, r *models.Registration) error
	GetRegistration(ctx context.Context, id string) (*models.Registration, error)

	// CreatePayment assigns p.ID and stores it as pending.
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	FindPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
	// FindLatestPayment returns the most recently created payment of a
	// registration.
	FindLatestPayment(ctx context.Context, registrationID string) (*models.Payment, error)
	// AttachTransactionID sets the provider transaction id on a payment that
	// has none yet. It reports whether the payment was changed.
	AttachTransactionID(ctx context.Context, paymentID, transactionID string) (bool, error)
	// SettlePayment moves a pending payment into s.Status and updates its
	// registration in the same transaction. A payment that is already
	// terminal is left untouched and the result has Applied == false.
	SettlePayment(ctx context.Context, paymentID string, s models.Settlement) (*models.SettleResult, error)
	// ListStalePayments returns payments still pending that were created
	// before the given time, oldest first.
	ListStalePayments(ctx context.Context, before time.Time, limit int) ([]*models.Payment, error)
	CountPendingPayments(ctx context.Context) (int, error)

	// AppendCallback assigns rec.ID.
	AppendCallback(ctx context.Context, rec *models.CallbackRecord) error
	// FinishCallback marks a callback processed.
	FinishCallback(ctx context.Context, id string, res models.CallbackResult) error
	// ListUnmatchedCallbacks returns processed callbacks that matched no
	// payment, newest first.
	ListUnmatchedCallbacks(ctx context.Context, limit int) ([]*models.CallbackRecord, error)
}

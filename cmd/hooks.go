package cmd

import (
	"event-payments/internal/store"
	"event-payments/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// setupRegistrationHooks keeps payment_status consistent for registrations
// created through the PocketBase records API.
func setupRegistrationHooks(app core.App) {
	app.OnRecordCreate(store.RegistrationsCollection).BindFunc(func(e *core.RecordEvent) error {
		applyInitialPaymentStatus(e.Record)
		return e.Next()
	})
}

// applyInitialPaymentStatus resets the payment fields of a new registration.
// Nothing has been paid at creation, so only free registrations start paid.
func applyInitialPaymentStatus(rec *core.Record) {
	rec.Set("amount_paid", 0)

	reg := models.Registration{
		TotalAmount: decimal.NewFromFloat(rec.GetFloat("total_amount")),
		AmountPaid:  decimal.Zero,
	}
	rec.Set("payment_status", string(reg.DeriveStatus()))
}

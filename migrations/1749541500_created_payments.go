package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		events, err := app.FindCollectionByNameOrId("events")
		if err != nil {
			return err
		}
		tiers, err := app.FindCollectionByNameOrId("ticket_tiers")
		if err != nil {
			return err
		}

		// no public rules: registrations are created by the payment API
		registrations := core.NewBaseCollection("registrations")
		registrations.Fields.Add(
			&core.RelationField{Name: "event", CollectionId: events.Id, MaxSelect: 1, Required: true},
			&core.TextField{Name: "name", Max: 200},
			&core.EmailField{Name: "email"},
			&core.TextField{Name: "phone", Max: 20},
			&core.NumberField{Name: "participants", Min: types.Pointer(1.0), OnlyInt: true},
			&core.RelationField{Name: "ticket_tier", CollectionId: tiers.Id, MaxSelect: 1},
			&core.NumberField{Name: "total_amount", Min: types.Pointer(0.0)},
			&core.NumberField{Name: "amount_paid", Min: types.Pointer(0.0)},
			&core.SelectField{Name: "payment_status", MaxSelect: 1, Values: []string{"pending", "partial", "paid"}},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		if err := app.Save(registrations); err != nil {
			return err
		}

		payments := core.NewBaseCollection("payments")
		payments.Fields.Add(
			&core.RelationField{Name: "registration", CollectionId: registrations.Id, MaxSelect: 1, Required: true},
			&core.NumberField{Name: "amount", Min: types.Pointer(0.0)},
			&core.TextField{Name: "transaction_id", Max: 100},
			&core.SelectField{Name: "status", MaxSelect: 1, Required: true, Values: []string{"pending", "completed", "failed"}},
			&core.TextField{Name: "network", Max: 10},
			&core.TextField{Name: "account_number", Max: 20},
			&core.TextField{Name: "reference", Max: 20},
			&core.TextField{Name: "client_reference", Max: 64},
			&core.JSONField{Name: "verification_response", MaxSize: 1 << 20},
			&core.DateField{Name: "completed_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		payments.AddIndex("idx_payments_transaction_id", false, "transaction_id", "transaction_id != ''")
		payments.AddIndex("idx_payments_registration", false, "registration, created", "")
		payments.AddIndex("idx_payments_status_created", false, "status, created", "")
		if err := app.Save(payments); err != nil {
			return err
		}

		callbacks := core.NewBaseCollection("payment_callbacks")
		callbacks.Fields.Add(
			&core.JSONField{Name: "payload", MaxSize: 1 << 20},
			&core.TextField{Name: "fingerprint", Max: 64},
			&core.SelectField{Name: "source", MaxSelect: 1, Values: []string{"webhook", "pubnub", "simulation"}},
			&core.TextField{Name: "transaction_id", Max: 100},
			&core.TextField{Name: "registration_id", Max: 100},
			&core.TextField{Name: "status", Max: 100},
			&core.TextField{Name: "outcome", Max: 20},
			&core.BoolField{Name: "processed"},
			&core.TextField{Name: "payment_id", Max: 100},
			&core.TextField{Name: "error"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		callbacks.AddIndex("idx_payment_callbacks_fingerprint", false, "fingerprint", "")
		callbacks.AddIndex("idx_payment_callbacks_unmatched", false, "processed, payment_id", "")
		return app.Save(callbacks)
	}, func(app core.App) error {
		return deleteCollections(app, "payment_callbacks", "payments", "registrations")
	})
}

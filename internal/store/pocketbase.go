package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"event-payments/internal/status"
	"event-payments/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
)

var _ Store = (*PocketBase)(nil)

// PocketBase is the Store backed by the application's PocketBase database.
type PocketBase struct {
	app core.App
}

func NewPocketBase(app core.App) *PocketBase {
	return &PocketBase{app: app}
}

func (s *PocketBase) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	rec, err := findRecord(ctx, s.app, EventsCollection, id)
	if err != nil {
		return nil, status.Persistence("get event", err)
	}
	return &models.Event{
		ID:        rec.Id,
		Name:      rec.GetString("name"),
		Venue:     rec.GetString("venue"),
		StartTime: rec.GetDateTime("start_date").Time(),
	}, nil
}

func (s *PocketBase) GetTicketTier(ctx context.Context, id string) (*models.TicketTier, error) {
	rec, err := findRecord(ctx, s.app, TicketTiersCollection, id)
	if err != nil {
		return nil, status.Persistence("get ticket tier", err)
	}
	return &models.TicketTier{
		ID:      rec.Id,
		EventID: rec.GetString("event"),
		Name:    rec.GetString("name"),
		Price:   decimal.NewFromFloat(rec.GetFloat("price")),
	}, nil
}

func (s *PocketBase) CreateRegistration(ctx context.Context, r *models.Registration) error {
	col, err := s.app.FindCachedCollectionByNameOrId(RegistrationsCollection)
	if err != nil {
		return status.Persistence("create registration", err)
	}

	r.PaymentStatus = r.DeriveStatus()

	rec := core.NewRecord(col)
	rec.Set("event", r.EventID)
	rec.Set("name", r.Name)
	rec.Set("email", r.Email)
	rec.Set("phone", r.Phone)
	rec.Set("participants", r.Participants)
	rec.Set("ticket_tier", r.TicketTierID)
	rec.Set("total_amount", r.TotalAmount.InexactFloat64())
	rec.Set("amount_paid", r.AmountPaid.InexactFloat64())
	rec.Set("payment_status", string(r.PaymentStatus))

	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return saveError("create registration", err)
	}

	r.ID = rec.Id
	r.CreatedAt = rec.GetDateTime("created").Time()
	return nil
}

func (s *PocketBase) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	rec, err := findRecord(ctx, s.app, RegistrationsCollection, id)
	if err != nil {
		return nil, status.Persistence("get registration", err)
	}
	return toRegistration(rec), nil
}

func (s *PocketBase) CreatePayment(ctx context.Context, p *models.Payment) error {
	col, err := s.app.FindCachedCollectionByNameOrId(PaymentsCollection)
	if err != nil {
		return status.Persistence("create payment", err)
	}

	p.Status = models.PaymentPending

	rec := core.NewRecord(col)
	rec.Set("registration", p.RegistrationID)
	rec.Set("amount", p.Amount.InexactFloat64())
	rec.Set("transaction_id", p.TransactionID)
	rec.Set("status", string(p.Status))
	rec.Set("network", p.Network)
	rec.Set("account_number", p.AccountNumber)
	rec.Set("reference", p.Reference)
	rec.Set("client_reference", p.ClientReference)

	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return saveError("create payment", err)
	}

	p.ID = rec.Id
	p.CreatedAt = rec.GetDateTime("created").Time()
	return nil
}

func (s *PocketBase) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	rec, err := findRecord(ctx, s.app, PaymentsCollection, id)
	if err != nil {
		return nil, status.Persistence("get payment", err)
	}
	return toPayment(rec), nil
}

func (s *PocketBase) FindPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	if transactionID == "" {
		return nil, status.ErrNotFound
	}

	rec := &core.Record{}
	err := s.app.RecordQuery(PaymentsCollection).
		AndWhere(dbx.HashExp{"transaction_id": transactionID}).
		OrderBy("created DESC").
		Limit(1).
		WithContext(ctx).
		One(rec)
	if err != nil {
		return nil, status.Persistence("find payment by transaction", notFound(err))
	}
	return toPayment(rec), nil
}

func (s *PocketBase) FindLatestPayment(ctx context.Context, registrationID string) (*models.Payment, error) {
	if registrationID == "" {
		return nil, status.ErrNotFound
	}

	rec := &core.Record{}
	err := s.app.RecordQuery(PaymentsCollection).
		AndWhere(dbx.HashExp{"registration": registrationID}).
		OrderBy("created DESC", "rowid DESC").
		Limit(1).
		WithContext(ctx).
		One(rec)
	if err != nil {
		return nil, status.Persistence("find latest payment", notFound(err))
	}
	return toPayment(rec), nil
}

func (s *PocketBase) AttachTransactionID(ctx context.Context, paymentID, transactionID string) (bool, error) {
	res, err := s.app.DB().Update(
		PaymentsCollection,
		dbx.Params{"transaction_id": transactionID, "updated": dateTime(time.Now())},
		dbx.HashExp{"id": paymentID, "transaction_id": ""},
	).WithContext(ctx).Execute()
	if err != nil {
		return false, status.Persistence("attach transaction id", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, status.Persistence("attach transaction id", err)
	}
	return n > 0, nil
}

// SettlePayment relies on the conditional UPDATE ... WHERE status = 'pending'
// as the compare-and-set guard; only the caller whose update changed the row
// goes on to touch the registration.
func (s *PocketBase) SettlePayment(ctx context.Context, paymentID string, st models.Settlement) (*models.SettleResult, error) {
	if !st.Status.IsTerminal() {
		return nil, fmt.Errorf("settle payment: %q is not a terminal status", st.Status)
	}
	if st.At.IsZero() {
		st.At = time.Now()
	}

	result := &models.SettleResult{}
	err := s.app.RunInTransaction(func(txApp core.App) error {
		at := dateTime(st.At)
		cols := dbx.Params{
			"status":       string(st.Status),
			"completed_at": at,
			"updated":      at,
		}
		if len(st.Response) > 0 {
			cols["verification_response"] = string(st.Response)
		}

		res, err := txApp.DB().Update(
			PaymentsCollection,
			cols,
			dbx.HashExp{"id": paymentID, "status": string(models.PaymentPending)},
		).WithContext(ctx).Execute()
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if affected > 0 && st.TransactionID != "" {
			if _, err := txApp.DB().Update(
				PaymentsCollection,
				dbx.Params{"transaction_id": st.TransactionID},
				dbx.HashExp{"id": paymentID, "transaction_id": ""},
			).WithContext(ctx).Execute(); err != nil {
				return err
			}
		}

		payRec, err := findRecord(ctx, txApp, PaymentsCollection, paymentID)
		if err != nil {
			return err
		}
		result.Payment = toPayment(payRec)

		regRec, err := findRecord(ctx, txApp, RegistrationsCollection, result.Payment.RegistrationID)
		if err != nil {
			return err
		}
		reg := toRegistration(regRec)
		result.Registration = reg

		if affected == 0 {
			return nil
		}
		result.Applied = true

		if st.Status == models.PaymentCompleted {
			reg.Credit(result.Payment.Amount)
		} else {
			reg.Revert()
		}
		regRec.Set("amount_paid", reg.AmountPaid.InexactFloat64())
		regRec.Set("payment_status", string(reg.PaymentStatus))

		return txApp.SaveWithContext(ctx, regRec)
	})
	if err != nil {
		return nil, status.Persistence("settle payment", notFound(err))
	}
	return result, nil
}

func (s *PocketBase) ListStalePayments(ctx context.Context, before time.Time, limit int) ([]*models.Payment, error) {
	records := []*core.Record{}
	err := s.app.RecordQuery(PaymentsCollection).
		AndWhere(dbx.HashExp{"status": string(models.PaymentPending)}).
		AndWhere(dbx.NewExp("[[created]] < {:before}", dbx.Params{"before": dateTime(before)})).
		OrderBy("created ASC").
		Limit(int64(limit)).
		WithContext(ctx).
		All(&records)
	if err != nil {
		return nil, status.Persistence("list stale payments", err)
	}

	payments := make([]*models.Payment, 0, len(records))
	for _, rec := range records {
		payments = append(payments, toPayment(rec))
	}
	return payments, nil
}

func (s *PocketBase) CountPendingPayments(ctx context.Context) (int, error) {
	n, err := s.app.CountRecords(PaymentsCollection, dbx.HashExp{"status": string(models.PaymentPending)})
	if err != nil {
		return 0, status.Persistence("count pending payments", err)
	}
	return int(n), nil
}

func (s *PocketBase) AppendCallback(ctx context.Context, cb *models.CallbackRecord) error {
	col, err := s.app.FindCachedCollectionByNameOrId(CallbacksCollection)
	if err != nil {
		return status.Persistence("append callback", err)
	}

	rec := core.NewRecord(col)
	rec.Set("payload", types.JSONRaw(cb.Payload))
	rec.Set("fingerprint", cb.Fingerprint)
	rec.Set("source", string(cb.Source))
	rec.Set("transaction_id", cb.TransactionID)
	rec.Set("registration_id", cb.RegistrationID)
	rec.Set("status", cb.Status)
	rec.Set("outcome", cb.Outcome)
	rec.Set("processed", false)

	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return status.Persistence("append callback", err)
	}

	cb.ID = rec.Id
	cb.CreatedAt = rec.GetDateTime("created").Time()
	return nil
}

func (s *PocketBase) FinishCallback(ctx context.Context, id string, res models.CallbackResult) error {
	_, err := s.app.DB().Update(
		CallbacksCollection,
		dbx.Params{
			"processed":  true,
			"payment_id": res.PaymentID,
			"error":      res.Error,
			"updated":    dateTime(time.Now()),
		},
		dbx.HashExp{"id": id, "processed": false},
	).WithContext(ctx).Execute()
	return status.Persistence("finish callback", err)
}

func (s *PocketBase) ListUnmatchedCallbacks(ctx context.Context, limit int) ([]*models.CallbackRecord, error) {
	records := []*core.Record{}
	err := s.app.RecordQuery(CallbacksCollection).
		AndWhere(dbx.HashExp{"processed": true, "payment_id": ""}).
		OrderBy("created DESC").
		Limit(int64(limit)).
		WithContext(ctx).
		All(&records)
	if err != nil {
		return nil, status.Persistence("list unmatched callbacks", err)
	}

	callbacks := make([]*models.CallbackRecord, 0, len(records))
	for _, rec := range records {
		callbacks = append(callbacks, toCallback(rec))
	}
	return callbacks, nil
}

func findRecord(ctx context.Context, app core.App, collection, id string) (*core.Record, error) {
	if id == "" {
		return nil, status.ErrNotFound
	}
	rec, err := app.FindRecordById(collection, id, func(q *dbx.SelectQuery) error {
		q.WithContext(ctx)
		return nil
	})
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return status.ErrNotFound
	}
	return err
}

// saveError reports record validation failures (e.g. an unknown relation id)
// as bad input rather than a storage fault.
func saveError(op string, err error) error {
	var verr validation.Errors
	if errors.As(err, &verr) {
		return status.NewValidationError(fmt.Errorf("%s: %w", op, err))
	}
	return status.Persistence(op, err)
}

func dateTime(t time.Time) string {
	dt, err := types.ParseDateTime(t)
	if err != nil {
		return types.NowDateTime().String()
	}
	return dt.String()
}

func toRegistration(rec *core.Record) *models.Registration {
	return &models.Registration{
		ID:            rec.Id,
		EventID:       rec.GetString("event"),
		Name:          rec.GetString("name"),
		Email:         rec.GetString("email"),
		Phone:         rec.GetString("phone"),
		Participants:  rec.GetInt("participants"),
		TicketTierID:  rec.GetString("ticket_tier"),
		TotalAmount:   decimal.NewFromFloat(rec.GetFloat("total_amount")),
		AmountPaid:    decimal.NewFromFloat(rec.GetFloat("amount_paid")),
		PaymentStatus: models.RegistrationStatus(rec.GetString("payment_status")),
		CreatedAt:     rec.GetDateTime("created").Time(),
	}
}

func toPayment(rec *core.Record) *models.Payment {
	p := &models.Payment{
		ID:              rec.Id,
		RegistrationID:  rec.GetString("registration"),
		Amount:          decimal.NewFromFloat(rec.GetFloat("amount")),
		TransactionID:   rec.GetString("transaction_id"),
		Status:          models.PaymentStatus(rec.GetString("status")),
		Network:         rec.GetString("network"),
		AccountNumber:   rec.GetString("account_number"),
		Reference:       rec.GetString("reference"),
		ClientReference: rec.GetString("client_reference"),
		CreatedAt:       rec.GetDateTime("created").Time(),
	}
	if raw := rawJSON(rec, "verification_response"); raw != nil {
		p.VerificationResponse = raw
	}
	if completed := rec.GetDateTime("completed_at"); !completed.IsZero() {
		t := completed.Time()
		p.CompletedAt = &t
	}
	return p
}

func toCallback(rec *core.Record) *models.CallbackRecord {
	return &models.CallbackRecord{
		ID:             rec.Id,
		Payload:        rawJSON(rec, "payload"),
		Fingerprint:    rec.GetString("fingerprint"),
		Source:         models.CallbackSource(rec.GetString("source")),
		TransactionID:  rec.GetString("transaction_id"),
		RegistrationID: rec.GetString("registration_id"),
		Status:         rec.GetString("status"),
		Outcome:        rec.GetString("outcome"),
		PaymentID:      rec.GetString("payment_id"),
		Error:          rec.GetString("error"),
		Processed:      rec.GetBool("processed"),
		CreatedAt:      rec.GetDateTime("created").Time(),
	}
}

func rawJSON(rec *core.Record, field string) json.RawMessage {
	raw := rec.GetString(field)
	if raw == "" || raw == "null" {
		return nil
	}
	return json.RawMessage(raw)
}

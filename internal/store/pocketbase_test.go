package store_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"event-payments/internal/status"
	"event-payments/internal/store"
	"event-payments/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "event-payments/migrations"
)

func newTestApp(t *testing.T) core.App {
	t.Helper()

	app := core.NewBaseApp(core.BaseAppConfig{DataDir: t.TempDir()})
	require.NoError(t, app.Bootstrap())
	require.NoError(t, app.RunAllMigrations())
	t.Cleanup(func() { _ = app.ResetBootstrapState() })

	return app
}

func seedRegistration(t *testing.T, app core.App, st *store.PocketBase, total int64) *models.Registration {
	t.Helper()

	events, err := app.FindCollectionByNameOrId(store.EventsCollection)
	require.NoError(t, err)
	event := core.NewRecord(events)
	event.Set("name", "Launch Night")
	event.Set("venue", "Accra Mall")
	require.NoError(t, app.Save(event))

	reg := &models.Registration{
		EventID:      event.Id,
		Name:         "Ama Mensah",
		Email:        "ama@example.com",
		Phone:        "233241234567",
		Participants: 1,
		TotalAmount:  decimal.NewFromInt(total),
		AmountPaid:   decimal.Zero,
	}
	require.NoError(t, st.CreateRegistration(context.Background(), reg))
	return reg
}

func seedPayment(t *testing.T, st *store.PocketBase, regID, txID string, amount int64) *models.Payment {
	t.Helper()

	p := &models.Payment{
		RegistrationID: regID,
		Amount:         decimal.NewFromInt(amount),
		TransactionID:  txID,
		Network:        "300591",
		AccountNumber:  "233241234567",
	}
	require.NoError(t, st.CreatePayment(context.Background(), p))
	return p
}

func completed(at time.Time) models.Settlement {
	return models.Settlement{
		Status:   models.PaymentCompleted,
		Response: json.RawMessage(`{"status":"success"}`),
		At:       at,
	}
}

func TestSettlePayment_ConcurrentSettleAppliesOnce(t *testing.T) {
	app := newTestApp(t)
	st := store.NewPocketBase(app)
	ctx := context.Background()

	reg := seedRegistration(t, app, st, 300)
	p := seedPayment(t, st, reg.ID, "TX123", 150)

	at := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
		errs    []error
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := st.SettlePayment(ctx, p.ID, completed(at))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Applied {
				applied++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, applied)

	got, err := st.GetRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.True(t, got.AmountPaid.Equal(decimal.NewFromInt(150)), got.AmountPaid.String())
	assert.Equal(t, models.RegistrationPartial, got.PaymentStatus)

	before, err := st.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, before.CompletedAt)

	replay, err := st.SettlePayment(ctx, p.ID, models.Settlement{Status: models.PaymentFailed, At: at.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, replay.Applied)
	assert.Equal(t, models.PaymentCompleted, replay.Payment.Status)
	require.NotNil(t, replay.Payment.CompletedAt)
	assert.True(t, before.CompletedAt.Equal(*replay.Payment.CompletedAt))

	got, err = st.GetRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.True(t, got.AmountPaid.Equal(decimal.NewFromInt(150)))
}

func TestSettlePayment_PartialPaymentsAccumulate(t *testing.T) {
	app := newTestApp(t)
	st := store.NewPocketBase(app)
	ctx := context.Background()

	reg := seedRegistration(t, app, st, 300)

	steps := []struct {
		amount     int64
		wantPaid   int64
		wantStatus models.RegistrationStatus
	}{
		{100, 100, models.RegistrationPartial},
		{150, 250, models.RegistrationPartial},
		{50, 300, models.RegistrationPaid},
	}

	for _, step := range steps {
		p := seedPayment(t, st, reg.ID, "", step.amount)

		res, err := st.SettlePayment(ctx, p.ID, completed(time.Now()))
		require.NoError(t, err)
		require.True(t, res.Applied)

		assert.True(t, res.Registration.AmountPaid.Equal(decimal.NewFromInt(step.wantPaid)), res.Registration.AmountPaid.String())
		assert.Equal(t, step.wantStatus, res.Registration.PaymentStatus)
	}

	got, err := st.GetRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationPaid, got.PaymentStatus)
}

func TestSettlePayment_FailureKeepsAmountPaid(t *testing.T) {
	app := newTestApp(t)
	st := store.NewPocketBase(app)
	ctx := context.Background()

	reg := seedRegistration(t, app, st, 300)
	first := seedPayment(t, st, reg.ID, "TX1", 100)
	_, err := st.SettlePayment(ctx, first.ID, completed(time.Now()))
	require.NoError(t, err)

	second := seedPayment(t, st, reg.ID, "TX2", 200)
	res, err := st.SettlePayment(ctx, second.ID, models.Settlement{Status: models.PaymentFailed, At: time.Now()})
	require.NoError(t, err)
	require.True(t, res.Applied)

	assert.Equal(t, models.PaymentFailed, res.Payment.Status)
	assert.NotNil(t, res.Payment.CompletedAt)
	assert.True(t, res.Registration.AmountPaid.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, models.RegistrationPartial, res.Registration.PaymentStatus)
}

func TestSettlePayment_RejectsNonTerminalStatus(t *testing.T) {
	app := newTestApp(t)
	st := store.NewPocketBase(app)

	reg := seedRegistration(t, app, st, 300)
	p := seedPayment(t, st, reg.ID, "TX1", 100)

	_, err := st.SettlePayment(context.Background(), p.ID, models.Settlement{Status: models.PaymentPending})
	assert.Error(t, err)
}

func TestSettlePayment_NotFound(t *testing.T) {
	st := store.NewPocketBase(newTestApp(t))

	_, err := st.SettlePayment(context.Background(), "missing", completed(time.Now()))
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestAttachTransactionID_OnlyWhenEmpty(t *testing.T) {
	app := newTestApp(t)
	st := store.NewPocketBase(app)
	ctx := context.Background()

	reg := seedRegistration(t, app, st, 300)
	p := seedPayment(t, st, reg.ID, "", 100)

	changed, err := st.AttachTransactionID(ctx, p.ID, "TX1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = st.AttachTransactionID(ctx, p.ID, "TX2")
	require.NoError(t, err)
	assert.False(t, changed)

	found, err := st.FindPaymentByTransactionID(ctx, "TX1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)

	_, err = st.FindPaymentByTransactionID(ctx, "TX2")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestFindLatestPayment(t *testing.T) {
	app := newTestApp(t)
	st := store.NewPocketBase(app)
	ctx := context.Background()

	reg := seedRegistration(t, app, st, 300)
	seedPayment(t, st, reg.ID, "TX1", 100)
	seedPayment(t, st, reg.ID, "TX2", 100)
	last := seedPayment(t, st, reg.ID, "TX3", 100)

	got, err := st.FindLatestPayment(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, last.ID, got.ID)

	_, err = st.FindLatestPayment(ctx, "missing")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestListStalePayments(t *testing.T) {
	app := newTestApp(t)
	st := store.NewPocketBase(app)
	ctx := context.Background()

	reg := seedRegistration(t, app, st, 300)
	pending := seedPayment(t, st, reg.ID, "TX1", 100)
	done := seedPayment(t, st, reg.ID, "TX2", 100)
	_, err := st.SettlePayment(ctx, done.ID, completed(time.Now()))
	require.NoError(t, err)

	stale, err := st.ListStalePayments(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, pending.ID, stale[0].ID)

	stale, err = st.ListStalePayments(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	n, err := st.CountPendingPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCallbacks_MarkedProcessed(t *testing.T) {
	app := newTestApp(t)
	st := store.NewPocketBase(app)
	ctx := context.Background()

	reg := seedRegistration(t, app, st, 300)
	p := seedPayment(t, st, reg.ID, "TX1", 100)

	matched := &models.CallbackRecord{
		Payload:       json.RawMessage(`{"transactionId":"TX1","status":"success"}`),
		Fingerprint:   "f1",
		Source:        models.SourceWebhook,
		TransactionID: "TX1",
		Status:        "success",
		Outcome:       "success",
	}
	unmatched := &models.CallbackRecord{
		Payload:       json.RawMessage(`"not json"`),
		Fingerprint:   "f2",
		Source:        models.SourceWebhook,
		TransactionID: "NOPE",
	}
	require.NoError(t, st.AppendCallback(ctx, matched))
	require.NoError(t, st.AppendCallback(ctx, unmatched))
	require.NotEmpty(t, matched.ID)

	list, err := st.ListUnmatchedCallbacks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list, "unprocessed callbacks are not listed")

	require.NoError(t, st.FinishCallback(ctx, matched.ID, models.CallbackResult{PaymentID: p.ID}))
	require.NoError(t, st.FinishCallback(ctx, unmatched.ID, models.CallbackResult{Error: "no matching payment"}))

	// a processed callback is never rewritten
	require.NoError(t, st.FinishCallback(ctx, unmatched.ID, models.CallbackResult{PaymentID: p.ID}))

	list, err = st.ListUnmatchedCallbacks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, unmatched.ID, list[0].ID)
	assert.True(t, list[0].Processed)
	assert.Equal(t, "no matching payment", list[0].Error)
	assert.JSONEq(t, `"not json"`, string(list[0].Payload))

	rec, err := app.FindRecordById(store.CallbacksCollection, matched.ID)
	require.NoError(t, err)
	assert.True(t, rec.GetBool("processed"))
	assert.Equal(t, p.ID, rec.GetString("payment_id"))
}

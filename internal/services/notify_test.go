package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"event-payments/internal/status"
	"event-payments/internal/store/storetest"
	"event-payments/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	mu     sync.Mutex
	sent   []*Email
	failTo string
	panics bool
	// panicTo panics only for this address.
	panicTo string
}

func (m *fakeMailer) Send(_ context.Context, email *Email) error {
	if m.panics || (m.panicTo != "" && email.To[0].Address == m.panicTo) {
		panic("smtp exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTo != "" && email.To[0].Address == m.failTo {
		return errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, email)
	return nil
}

func (m *fakeMailer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.sent {
		out = append(out, e.To[0].Address)
	}
	return out
}

func testConfirmation() Confirmation {
	return Confirmation{
		Payment: &models.Payment{
			ID:            "pay1",
			Amount:        decimal.NewFromInt(150),
			TransactionID: "TX123",
			Reference:     "EVT-ABC123",
			Network:       "300591",
		},
		Registration: &models.Registration{
			ID:            "reg1",
			EventID:       "evt1",
			Name:          "Ama Mensah",
			Email:         "ama@example.com",
			Participants:  2,
			TotalAmount:   decimal.NewFromInt(300),
			AmountPaid:    decimal.NewFromInt(150),
			PaymentStatus: models.RegistrationPartial,
		},
	}
}

func newTestDispatcher(m Mailer) *Dispatcher {
	events := storetest.NewMemory()
	events.AddEvent(models.Event{
		ID:        "evt1",
		Name:      "Launch Night",
		Venue:     "Accra Mall",
		StartTime: time.Date(2025, 4, 5, 19, 0, 0, 0, time.UTC),
	})
	return NewDispatcher(m, events, DispatcherConfig{
		From:       "tickets@example.com",
		FromName:   "Tickets",
		StaffEmail: "staff@example.com",
	}, testLogger())
}

func TestDispatch_SendsBoth(t *testing.T) {
	m := &fakeMailer{}
	report := newTestDispatcher(m).Dispatch(context.Background(), testConfirmation())

	require.False(t, report.Failed())
	assert.Equal(t, []string{"ama@example.com", "staff@example.com"}, m.recipients())

	customer := m.sent[0]
	assert.Equal(t, "tickets@example.com", customer.From.Address)
	assert.Equal(t, "Payment confirmed: Launch Night", customer.Subject)
	assert.Contains(t, customer.HTML, "GHS 150.00")
	assert.Contains(t, customer.HTML, "Accra Mall")
	assert.Contains(t, customer.HTML, "balance GHS 150.00")
	assert.Contains(t, customer.HTML, "EVT-ABC123")
	assert.Contains(t, customer.HTML, "data:image/png;base64,")

	staff := m.sent[1]
	assert.Equal(t, "New payment: Ama Mensah (Launch Night)", staff.Subject)
	assert.Contains(t, staff.HTML, "TX123")
	assert.Contains(t, staff.HTML, "partial")
}

func TestDispatch_IndependentSends(t *testing.T) {
	m := &fakeMailer{failTo: "ama@example.com"}
	report := newTestDispatcher(m).Dispatch(context.Background(), testConfirmation())

	require.Error(t, report.Customer)
	var derr *status.DispatchError
	assert.ErrorAs(t, report.Customer, &derr)
	assert.Equal(t, "ama@example.com", derr.Recipient)

	assert.NoError(t, report.Staff)
	assert.Equal(t, []string{"staff@example.com"}, m.recipients())
}

func TestDispatch_MissingAddresses(t *testing.T) {
	m := &fakeMailer{}
	d := NewDispatcher(m, nil, DispatcherConfig{From: "tickets@example.com"}, testLogger())

	c := testConfirmation()
	c.Registration.Email = ""
	report := d.Dispatch(context.Background(), c)

	assert.Error(t, report.Customer)
	assert.Error(t, report.Staff)
	assert.Empty(t, m.recipients())
}

func TestDispatch_RecoversPanic(t *testing.T) {
	m := &fakeMailer{panics: true}

	var report DispatchReport
	assert.NotPanics(t, func() {
		report = newTestDispatcher(m).Dispatch(context.Background(), testConfirmation())
	})
	require.Error(t, report.Customer)
	assert.True(t, strings.Contains(report.Customer.Error(), "smtp exploded"))
	assert.Error(t, report.Staff)
}

func TestDispatch_CustomerPanicStillSendsStaff(t *testing.T) {
	m := &fakeMailer{panicTo: "ama@example.com"}

	var report DispatchReport
	assert.NotPanics(t, func() {
		report = newTestDispatcher(m).Dispatch(context.Background(), testConfirmation())
	})

	require.Error(t, report.Customer)
	assert.Contains(t, report.Customer.Error(), "smtp exploded")
	assert.NoError(t, report.Staff)
	assert.Equal(t, []string{"staff@example.com"}, m.recipients())
}

func TestDispatch_UnknownEventStillSends(t *testing.T) {
	m := &fakeMailer{}
	c := testConfirmation()
	c.Registration.EventID = "evt404"

	report := newTestDispatcher(m).Dispatch(context.Background(), c)
	require.False(t, report.Failed())
	assert.Equal(t, "Payment confirmed: your event", m.sent[0].Subject)
}

func TestDispatch_RateLimited(t *testing.T) {
	m := &fakeMailer{}
	d := NewDispatcher(m, nil, DispatcherConfig{
		From:           "tickets@example.com",
		StaffEmail:     "staff@example.com",
		SendsPerSecond: 10,
	}, testLogger())

	start := time.Now()
	report := d.Dispatch(context.Background(), testConfirmation())
	require.False(t, report.Failed())
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestDispatch_ContextCancelled(t *testing.T) {
	m := &fakeMailer{}
	d := NewDispatcher(m, nil, DispatcherConfig{
		From:           "tickets@example.com",
		StaffEmail:     "staff@example.com",
		SendsPerSecond: 0.01,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report := d.Dispatch(ctx, testConfirmation())
	assert.NoError(t, report.Customer)
	assert.Error(t, report.Staff)
}

func TestNotify_FireAndForget(t *testing.T) {
	m := &fakeMailer{}
	d := newTestDispatcher(m)

	d.Notify(testConfirmation())
	d.Wait()

	assert.Len(t, m.recipients(), 2)
}

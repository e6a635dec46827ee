package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"event-payments/internal/services/momo"
	"event-payments/internal/status"
	"event-payments/internal/store/storetest"
	"event-payments/models"

	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// seedRegistration adds an event and a pending registration owing total.
func seedRegistration(m *storetest.Memory, id string, total int64) {
	m.AddEvent(models.Event{ID: "evt1", Name: "Launch Night", Venue: "Accra"})
	m.AddRegistration(models.Registration{
		ID:            id,
		EventID:       "evt1",
		Name:          "Ama Mensah",
		Email:         "ama@example.com",
		Phone:         "233241234567",
		Participants:  1,
		TotalAmount:   decimal.NewFromInt(total),
		AmountPaid:    decimal.Zero,
		PaymentStatus: models.RegistrationPending,
	})
}

func seedPayment(m *storetest.Memory, id, registrationID, txID string, amount int64, created time.Time) {
	m.AddPayment(models.Payment{
		ID:             id,
		RegistrationID: registrationID,
		Amount:         decimal.NewFromInt(amount),
		TransactionID:  txID,
		Status:         models.PaymentPending,
		Network:        string(momo.NetworkMTN),
		AccountNumber:  "233241234567",
		Reference:      "EVT-ABC123",
		CreatedAt:      created,
	})
}

type fakeCollector struct {
	mu        sync.Mutex
	collect   func(req *momo.CollectRequest) (*momo.CollectResult, error)
	check     func(ref string) (*momo.StatusResult, error)
	requests  []*momo.CollectRequest
	checkRefs []string
}

func (f *fakeCollector) Collect(_ context.Context, req *momo.CollectRequest) (*momo.CollectResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.collect == nil {
		return &momo.CollectResult{TransactionReference: "TX-" + req.RequestID[:8], Message: "Prompt sent"}, nil
	}
	return f.collect(req)
}

func (f *fakeCollector) CheckStatus(_ context.Context, ref string) (*momo.StatusResult, error) {
	f.mu.Lock()
	f.checkRefs = append(f.checkRefs, ref)
	f.mu.Unlock()
	if f.check == nil {
		return &momo.StatusResult{TransactionReference: ref, Status: "pending", Outcome: status.OutcomePending}, nil
	}
	return f.check(ref)
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, status.ErrPaymentBusy
	}
	l.held[key] = true
	l.acquired++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Confirmation
}

func (n *fakeNotifier) Notify(c Confirmation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, c)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakePublisher struct {
	mu    sync.Mutex
	snaps []*PaymentSnapshot
}

func (p *fakePublisher) PublishStatus(_ context.Context, snap *PaymentSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snap)
	return nil
}

type memoryCache struct {
	mu    sync.Mutex
	snaps map[string]*PaymentSnapshot
}

func newMemoryCache() *memoryCache {
	return &memoryCache{snaps: make(map[string]*PaymentSnapshot)}
}

func (c *memoryCache) Put(_ context.Context, snap *PaymentSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snap.RegistrationID] = snap
	return nil
}

func (c *memoryCache) Get(_ context.Context, id string) (*PaymentSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[id], nil
}

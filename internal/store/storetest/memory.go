// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"event-payments/internal/status"
	"event-payments/internal/store"
	"event-payments/models"
)

var _ store.Store = (*Memory)(nil)

type Memory struct {
	mu sync.Mutex

	seq           int
	events        map[string]models.Event
	tiers         map[string]models.TicketTier
	registrations map[string]models.Registration
	payments      map[string]models.Payment
	callbacks     []models.CallbackRecord
	failures      map[string]error
	settleCalls   int
}

func NewMemory() *Memory {
	return &Memory{
		events:        make(map[string]models.Event),
		tiers:         make(map[string]models.TicketTier),
		registrations: make(map[string]models.Registration),
		payments:      make(map[string]models.Payment),
		failures:      make(map[string]error),
	}
}

// FailOn makes every later call to the named method return err. A nil err
// clears it.
func (m *Memory) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *Memory) fail(method string) error {
	if err, ok := m.failures[method]; ok {
		return status.Persistence(method, err)
	}
	return nil
}

func (m *Memory) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s%06d", prefix, m.seq)
}

// AddEvent seeds an event.
func (m *Memory) AddEvent(e models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
}

// AddTicketTier seeds a ticket tier.
func (m *Memory) AddTicketTier(t models.TicketTier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[t.ID] = t
}

// AddRegistration seeds a registration as-is, keeping its status.
func (m *Memory) AddRegistration(r models.Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.registrations[r.ID] = r
}

// AddPayment seeds a payment as-is, keeping its status.
func (m *Memory) AddPayment(p models.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.payments[p.ID] = p
}

// Callbacks returns a copy of the audit log in insertion order.
func (m *Memory) Callbacks() []models.CallbackRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CallbackRecord, len(m.callbacks))
	copy(out, m.callbacks)
	return out
}

// Payments returns every payment of a registration, oldest first.
func (m *Memory) Payments(registrationID string) []models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.RegistrationID == registrationID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SettleCalls counts SettlePayment calls that changed a payment.
func (m *Memory) SettleCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settleCalls
}

func (m *Memory) GetEvent(_ context.Context, id string) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetEvent"); err != nil {
		return nil, err
	}
	e, ok := m.events[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	return &e, nil
}

func (m *Memory) GetTicketTier(_ context.Context, id string) (*models.TicketTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetTicketTier"); err != nil {
		return nil, err
	}
	t, ok := m.tiers[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	return &t, nil
}

func (m *Memory) CreateRegistration(_ context.Context, r *models.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateRegistration"); err != nil {
		return err
	}
	r.ID = m.nextID("reg")
	r.PaymentStatus = r.DeriveStatus()
	r.CreatedAt = time.Now()
	m.registrations[r.ID] = *r
	return nil
}

func (m *Memory) GetRegistration(_ context.Context, id string) (*models.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetRegistration"); err != nil {
		return nil, err
	}
	r, ok := m.registrations[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	return &r, nil
}

func (m *Memory) CreatePayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreatePayment"); err != nil {
		return err
	}
	if _, ok := m.registrations[p.RegistrationID]; !ok {
		return status.NewValidationError(fmt.Errorf("create payment: unknown registration %q", p.RegistrationID))
	}
	p.ID = m.nextID("pay")
	p.Status = models.PaymentPending
	// Strictly increasing so "latest" is well defined within one test.
	p.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Microsecond)
	m.payments[p.ID] = *p
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetPayment"); err != nil {
		return nil, err
	}
	p, ok := m.payments[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	return &p, nil
}

func (m *Memory) FindPaymentByTransactionID(_ context.Context, transactionID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FindPaymentByTransactionID"); err != nil {
		return nil, err
	}
	if transactionID == "" {
		return nil, status.ErrNotFound
	}
	var found *models.Payment
	for _, p := range m.payments {
		if p.TransactionID != transactionID {
			continue
		}
		if found == nil || p.CreatedAt.After(found.CreatedAt) {
			p := p
			found = &p
		}
	}
	if found == nil {
		return nil, status.ErrNotFound
	}
	return found, nil
}

func (m *Memory) FindLatestPayment(_ context.Context, registrationID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FindLatestPayment"); err != nil {
		return nil, err
	}
	var found *models.Payment
	for _, p := range m.payments {
		if p.RegistrationID != registrationID {
			continue
		}
		if found == nil || p.CreatedAt.After(found.CreatedAt) {
			p := p
			found = &p
		}
	}
	if found == nil {
		return nil, status.ErrNotFound
	}
	return found, nil
}

func (m *Memory) AttachTransactionID(_ context.Context, paymentID, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("AttachTransactionID"); err != nil {
		return false, err
	}
	p, ok := m.payments[paymentID]
	if !ok || p.TransactionID != "" {
		return false, nil
	}
	p.TransactionID = transactionID
	m.payments[paymentID] = p
	return true, nil
}

func (m *Memory) SettlePayment(_ context.Context, paymentID string, st models.Settlement) (*models.SettleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SettlePayment"); err != nil {
		return nil, err
	}
	if !st.Status.IsTerminal() {
		return nil, fmt.Errorf("settle payment: %q is not a terminal status", st.Status)
	}

	p, ok := m.payments[paymentID]
	if !ok {
		return nil, status.ErrNotFound
	}
	r, ok := m.registrations[p.RegistrationID]
	if !ok {
		return nil, status.ErrNotFound
	}

	if p.Status.IsTerminal() {
		return &models.SettleResult{Payment: &p, Registration: &r}, nil
	}

	if st.At.IsZero() {
		st.At = time.Now()
	}
	at := st.At
	p.Status = st.Status
	p.CompletedAt = &at
	if len(st.Response) > 0 {
		p.VerificationResponse = st.Response
	}
	if p.TransactionID == "" {
		p.TransactionID = st.TransactionID
	}

	if st.Status == models.PaymentCompleted {
		r.Credit(p.Amount)
	} else {
		r.Revert()
	}

	m.payments[p.ID] = p
	m.registrations[r.ID] = r
	m.settleCalls++

	return &models.SettleResult{Applied: true, Payment: &p, Registration: &r}, nil
}

func (m *Memory) ListStalePayments(_ context.Context, before time.Time, limit int) ([]*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListStalePayments"); err != nil {
		return nil, err
	}
	var out []*models.Payment
	for _, p := range m.payments {
		if p.Status == models.PaymentPending && p.CreatedAt.Before(before) {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountPendingPayments(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CountPendingPayments"); err != nil {
		return 0, err
	}
	n := 0
	for _, p := range m.payments {
		if p.Status == models.PaymentPending {
			n++
		}
	}
	return n, nil
}

func (m *Memory) AppendCallback(_ context.Context, cb *models.CallbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("AppendCallback"); err != nil {
		return err
	}
	cb.ID = m.nextID("cb")
	cb.CreatedAt = time.Now()
	cb.Processed = false
	m.callbacks = append(m.callbacks, *cb)
	return nil
}

func (m *Memory) FinishCallback(_ context.Context, id string, res models.CallbackResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FinishCallback"); err != nil {
		return err
	}
	for i := range m.callbacks {
		if m.callbacks[i].ID != id || m.callbacks[i].Processed {
			continue
		}
		m.callbacks[i].Processed = true
		m.callbacks[i].PaymentID = res.PaymentID
		m.callbacks[i].Error = res.Error
		return nil
	}
	return nil
}

func (m *Memory) ListUnmatchedCallbacks(_ context.Context, limit int) ([]*models.CallbackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListUnmatchedCallbacks"); err != nil {
		return nil, err
	}
	var out []*models.CallbackRecord
	for i := len(m.callbacks) - 1; i >= 0; i-- {
		cb := m.callbacks[i]
		if cb.Processed && cb.PaymentID == "" {
			out = append(out, &cb)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"event-payments/internal/payload"
	"event-payments/internal/status"
	"event-payments/internal/store"
	"event-payments/models"
	"event-payments/monitoring"

	"golang.org/x/crypto/blake2b"
)

// CallbackOutcome describes what handling one notification did.
type CallbackOutcome struct {
	CallbackID    string
	PaymentID     string
	Matched       bool
	Updated       bool
	Outcome       status.Outcome
	PaymentStatus models.PaymentStatus
	Message       string
}

// Reconciler applies provider notifications to payments at most once.
type Reconciler struct {
	store     store.Store
	locker    Locker
	cache     StatusCache
	publisher Publisher
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

type ReconcilerOption func(*Reconciler)

func WithLocker(l Locker) ReconcilerOption {
	return func(r *Reconciler) { r.locker = l }
}

func WithStatusCache(c StatusCache) ReconcilerOption {
	return func(r *Reconciler) { r.cache = c }
}

func WithPublisher(p Publisher) ReconcilerOption {
	return func(r *Reconciler) { r.publisher = p }
}

func WithNotifier(n Notifier) ReconcilerOption {
	return func(r *Reconciler) { r.notifier = n }
}

func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

func NewReconciler(st store.Store, logger *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleCallback records raw in the audit log, then matches and applies it.
// Bad input is reported as a *status.ValidationError after the audit record
// is written; store failures are returned as is so the caller can answer 5xx.
func (r *Reconciler) HandleCallback(ctx context.Context, raw []byte, source models.CallbackSource) (*CallbackOutcome, error) {
	start := time.Now()

	rec := &models.CallbackRecord{
		Payload:     auditPayload(raw),
		Fingerprint: Fingerprint(raw),
		Source:      source,
	}

	doc, parseErr := payload.Parse(raw)
	if parseErr == nil {
		rec.TransactionID = doc.String(payload.TransactionID)
		rec.RegistrationID = doc.String(payload.RegistrationID)
		rec.Status = doc.String(payload.Status)
		rec.Outcome = string(status.Classify(rec.Status, doc.String(payload.Description)))
	}

	if err := r.store.AppendCallback(ctx, rec); err != nil {
		r.logger.Error("Failed to record callback", "source", source, "fingerprint", rec.Fingerprint, "error", err)
		monitoring.TrackCallback(string(source), "error", time.Since(start))
		return nil, err
	}

	var (
		out *CallbackOutcome
		err error
	)
	switch {
	case parseErr != nil:
		err = status.NewValidationError(fmt.Errorf("%w: %v", status.ErrMalformedPayload, parseErr))
	case rec.TransactionID == "" && rec.RegistrationID == "":
		err = status.NewValidationError(status.ErrMissingCorrelationKey)
	default:
		out, err = r.apply(ctx, rec)
	}
	if out == nil {
		out = &CallbackOutcome{Outcome: status.Outcome(rec.Outcome)}
	}
	out.CallbackID = rec.ID

	result := models.CallbackResult{PaymentID: out.PaymentID}
	if err != nil {
		result.Error = err.Error()
	}
	if ferr := r.store.FinishCallback(context.WithoutCancel(ctx), rec.ID, result); ferr != nil {
		r.logger.Error("Failed to mark callback processed", "callback_id", rec.ID, "error", ferr)
	}

	monitoring.TrackCallback(string(source), callbackResult(out, err), time.Since(start))

	if err != nil {
		level := slog.LevelError
		if status.IsValidation(err) || errors.Is(err, status.ErrPaymentBusy) {
			level = slog.LevelWarn
		}
		r.logger.Log(ctx, level, "Callback not applied",
			"callback_id", rec.ID,
			"transaction_id", rec.TransactionID,
			"registration_id", rec.RegistrationID,
			"error", err,
		)
		return out, err
	}

	r.logger.Info("Callback handled",
		"callback_id", rec.ID,
		"payment_id", out.PaymentID,
		"transaction_id", rec.TransactionID,
		"outcome", out.Outcome,
		"updated", out.Updated,
	)
	return out, nil
}

func (r *Reconciler) apply(ctx context.Context, rec *models.CallbackRecord) (*CallbackOutcome, error) {
	out := &CallbackOutcome{Outcome: status.Outcome(rec.Outcome)}

	payment, err := r.match(ctx, rec.TransactionID, rec.RegistrationID)
	if errors.Is(err, status.ErrNotFound) {
		out.Message = "No matching payment"
		return out, nil
	}
	if err != nil {
		return out, err
	}

	out.Matched = true
	out.PaymentID = payment.ID
	out.PaymentStatus = payment.Status

	settled, err := r.Settle(ctx, payment, out.Outcome, rec.TransactionID, rec.Payload)
	if err != nil {
		return out, err
	}

	out.PaymentStatus = settled.Payment.Status
	switch {
	case settled.Applied:
		out.Updated = true
		out.Message = fmt.Sprintf("Payment %s", settled.Payment.Status)
	case out.Outcome == status.OutcomePending:
		out.Message = "Payment still pending"
	default:
		out.Message = fmt.Sprintf("Payment already %s", settled.Payment.Status)
	}
	return out, nil
}

// match finds the payment a notification refers to: by transaction id
// first, then the most recent payment of the registration.
func (r *Reconciler) match(ctx context.Context, transactionID, registrationID string) (*models.Payment, error) {
	if transactionID != "" {
		p, err := r.store.FindPaymentByTransactionID(ctx, transactionID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, status.ErrNotFound) {
			return nil, err
		}
	}

	if registrationID == "" {
		return nil, status.ErrNotFound
	}

	// Ambiguous when a registration has several pending payments; the
	// latest one wins.
	p, err := r.store.FindLatestPayment(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if transactionID != "" && p.TransactionID != "" && p.TransactionID != transactionID {
		r.logger.Warn("Callback transaction does not match latest payment",
			"registration_id", registrationID,
			"payment_id", p.ID,
			"payment_transaction_id", p.TransactionID,
			"callback_transaction_id", transactionID,
		)
		return nil, status.ErrNotFound
	}
	r.logger.Info("Callback matched by registration",
		"registration_id", registrationID,
		"payment_id", p.ID,
	)
	return p, nil
}

// SettleOutcome is the result of Settle.
type SettleOutcome struct {
	Applied      bool
	Payment      *models.Payment
	Registration *models.Registration
}

// Settle applies outcome to payment under the payment lock. Pending
// outcomes only record the transaction id. Terminal outcomes go through the
// store's compare-and-set, so a payment that is already terminal is left
// as is and Applied is false.
func (r *Reconciler) Settle(ctx context.Context, payment *models.Payment, outcome status.Outcome, transactionID string, raw json.RawMessage) (*SettleOutcome, error) {
	if r.locker != nil {
		release, err := r.locker.Acquire(ctx, "payment:"+payment.ID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	if !outcome.IsTerminal() {
		if transactionID != "" && payment.TransactionID == "" {
			if _, err := r.store.AttachTransactionID(ctx, payment.ID, transactionID); err != nil {
				return nil, err
			}
			payment.TransactionID = transactionID
		}
		return &SettleOutcome{Payment: payment}, nil
	}

	next := models.PaymentFailed
	if outcome == status.OutcomeSuccess {
		next = models.PaymentCompleted
	}

	res, err := r.store.SettlePayment(ctx, payment.ID, models.Settlement{
		Status:        next,
		TransactionID: transactionID,
		Response:      raw,
		At:            r.now(),
	})
	if err != nil {
		return nil, err
	}

	if res.Applied {
		monitoring.TrackTransition(string(res.Payment.Status))
		r.afterSettle(ctx, res)
	}
	return &SettleOutcome{Applied: res.Applied, Payment: res.Payment, Registration: res.Registration}, nil
}

// afterSettle runs the best-effort side effects of a committed transition.
func (r *Reconciler) afterSettle(ctx context.Context, res *models.SettleResult) {
	snap := NewSnapshot(res.Registration, res.Payment, r.now())
	ctx = context.WithoutCancel(ctx)

	if r.cache != nil {
		if err := r.cache.Put(ctx, snap); err != nil {
			r.logger.Warn("Failed to cache payment status", "registration_id", snap.RegistrationID, "error", err)
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishStatus(ctx, snap); err != nil {
			r.logger.Warn("Failed to publish payment status", "registration_id", snap.RegistrationID, "error", err)
		}
	}
	if r.notifier != nil && res.Payment.Status == models.PaymentCompleted {
		r.notifier.Notify(Confirmation{Payment: res.Payment, Registration: res.Registration})
	}
}

// Fingerprint is the hex BLAKE2b-256 of a raw notification body.
func Fingerprint(raw []byte) string {
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// maxAuditText bounds a malformed body kept in the audit log. Quoting can
// grow a byte up to six times, which must stay under the payload column size.
const maxAuditText = 64 << 10

// auditPayload keeps valid JSON as is and stores anything else as a JSON
// string so it still fits the payload column.
func auditPayload(raw []byte) json.RawMessage {
	if json.Valid(raw) {
		return raw
	}
	if len(raw) > maxAuditText {
		raw = raw[:maxAuditText]
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}

func callbackResult(out *CallbackOutcome, err error) string {
	switch {
	case status.IsValidation(err):
		return "invalid"
	case errors.Is(err, status.ErrPaymentBusy):
		return "busy"
	case err != nil:
		return "error"
	case out.Updated:
		return "updated"
	case !out.Matched:
		return "unmatched"
	default:
		return "noop"
	}
}

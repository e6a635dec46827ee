package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"event-payments/internal/status"
	"event-payments/internal/store"
	"event-payments/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type VerifyRequest struct {
	RegistrationID       string `json:"registration_id"`
	TransactionReference string `json:"transaction_reference"`
}

func (r *VerifyRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RegistrationID, validation.When(r.TransactionReference == "", validation.Required.Error("registration_id or transaction_reference is required"))),
	)
}

// StatusService answers status checks. While a payment is still pending it
// asks the provider and settles terminal answers through the Reconciler.
type StatusService struct {
	store      store.Store
	provider   Collector
	reconciler *Reconciler
	cache      StatusCache
	logger     *slog.Logger
}

func NewStatusService(st store.Store, provider Collector, reconciler *Reconciler, cache StatusCache, logger *slog.Logger) *StatusService {
	return &StatusService{
		store:      st,
		provider:   provider,
		reconciler: reconciler,
		cache:      cache,
		logger:     logger,
	}
}

func (s *StatusService) Verify(ctx context.Context, req *VerifyRequest) (*PaymentSnapshot, error) {
	if err := req.Validate(); err != nil {
		return nil, status.NewValidationError(err)
	}

	// paid is final, so a cached paid snapshot never goes stale
	if s.cache != nil && req.RegistrationID != "" && req.TransactionReference == "" {
		snap, err := s.cache.Get(ctx, req.RegistrationID)
		if err != nil {
			s.logger.Warn("Failed to read cached status", "registration_id", req.RegistrationID, "error", err)
		} else if snap != nil && snap.PaymentStatus == models.RegistrationPaid {
			return snap, nil
		}
	}

	payment, err := s.findPayment(ctx, req)
	if err != nil && !errors.Is(err, status.ErrNotFound) {
		return nil, err
	}

	registrationID := req.RegistrationID
	if payment != nil {
		registrationID = payment.RegistrationID
	}
	if registrationID == "" {
		return nil, status.ErrNotFound
	}

	reg, err := s.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}

	if payment != nil && payment.Status == models.PaymentPending {
		if settled := s.checkProvider(ctx, payment); settled != nil {
			payment = settled.Payment
			if settled.Registration != nil {
				reg = settled.Registration
			}
		}
	}

	return NewSnapshot(reg, payment, time.Now()), nil
}

func (s *StatusService) findPayment(ctx context.Context, req *VerifyRequest) (*models.Payment, error) {
	if req.TransactionReference != "" {
		p, err := s.store.FindPaymentByTransactionID(ctx, req.TransactionReference)
		switch {
		case err == nil:
			if req.RegistrationID != "" && p.RegistrationID != req.RegistrationID {
				return nil, status.NewValidationError(fmt.Errorf("transaction %s does not belong to registration %s", req.TransactionReference, req.RegistrationID))
			}
			return p, nil
		case !errors.Is(err, status.ErrNotFound):
			return nil, err
		}
	}
	if req.RegistrationID == "" {
		return nil, status.ErrNotFound
	}
	return s.store.FindLatestPayment(ctx, req.RegistrationID)
}

// checkProvider asks the provider about a pending payment. Any failure is
// logged and the caller keeps reporting pending.
func (s *StatusService) checkProvider(ctx context.Context, payment *models.Payment) *SettleOutcome {
	if s.provider == nil || s.reconciler == nil || payment.TransactionID == "" {
		return nil
	}

	res, err := s.provider.CheckStatus(ctx, payment.TransactionID)
	if err != nil {
		s.logger.Warn("Provider status check failed", "payment_id", payment.ID, "error", err)
		return nil
	}
	if !res.Outcome.IsTerminal() {
		return nil
	}

	settled, err := s.reconciler.Settle(ctx, payment, res.Outcome, payment.TransactionID, res.Raw)
	if err != nil {
		s.logger.Warn("Failed to settle payment from status check", "payment_id", payment.ID, "error", err)
		return nil
	}
	return settled
}

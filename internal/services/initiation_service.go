package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"event-payments/internal/services/momo"
	"event-payments/internal/status"
	"event-payments/internal/store"
	"event-payments/models"
	"event-payments/monitoring"
	"event-payments/utils"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InitiateRequest struct {
	EventID        string          `json:"event_id"`
	RegistrationID string          `json:"registration_id"`
	AccountNumber  string          `json:"account_number"`
	AccountName    string          `json:"account_name"`
	Amount         decimal.Decimal `json:"amount"`
	Network        string          `json:"network"`
	Narration      string          `json:"narration"`

	// Used only when the registration does not exist yet.
	Email        string           `json:"email"`
	Phone        string           `json:"phone"`
	Participants int              `json:"participants"`
	TicketTierID string           `json:"ticket_tier"`
	TotalAmount  *decimal.Decimal `json:"total_amount"`
}

func (r *InitiateRequest) Validate() error {
	creating := r.RegistrationID == ""

	return validation.ValidateStruct(r,
		validation.Field(&r.EventID, validation.When(creating, validation.Required)),
		validation.Field(&r.AccountNumber, validation.Required),
		validation.Field(&r.AccountName, validation.When(creating, validation.Required), validation.Length(0, 120)),
		validation.Field(&r.Amount, validation.By(positiveAmount)),
		validation.Field(&r.Network, validation.Required, validation.In(momo.NetworkCodes()...)),
		validation.Field(&r.Narration, validation.Length(0, 140)),
		validation.Field(&r.Email, is.EmailFormat),
		validation.Field(&r.Participants, validation.Min(0)),
		validation.Field(&r.TotalAmount, validation.By(nonNegativeAmount)),
	)
}

func positiveAmount(value any) error {
	d, _ := value.(decimal.Decimal)
	if !d.IsPositive() {
		return errors.New("must be greater than zero")
	}
	return nil
}

func nonNegativeAmount(value any) error {
	d, ok := value.(*decimal.Decimal)
	if ok && d != nil && d.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}

type InitiateResult struct {
	RegistrationID       string `json:"registration_id"`
	PaymentID            string `json:"payment_id"`
	Reference            string `json:"reference"`
	TransactionReference string `json:"transaction_reference"`
	Message              string `json:"message,omitempty"`
}

// InitiationService starts mobile-money charges for registrations.
type InitiationService struct {
	store    store.Store
	provider Collector
	logger   *slog.Logger
}

func NewInitiationService(st store.Store, provider Collector, logger *slog.Logger) *InitiationService {
	return &InitiationService{store: st, provider: provider, logger: logger}
}

// Initiate creates the registration when needed and a pending payment, then
// asks the provider to prompt the payer. Provider failures are returned as
// *status.ProviderError.
func (s *InitiationService) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, status.NewValidationError(err)
	}

	network, err := momo.ParseNetwork(req.Network)
	if err != nil {
		return nil, status.NewValidationError(err)
	}
	account, err := momo.NormalizeAccountNumber(req.AccountNumber)
	if err != nil {
		return nil, err
	}

	reg, err := s.resolveRegistration(ctx, req, account)
	if err != nil {
		return nil, err
	}
	if reg.PaymentStatus == models.RegistrationPaid {
		return nil, status.NewValidationError(fmt.Errorf("registration %s is already paid", reg.ID))
	}
	if req.Amount.GreaterThan(reg.Balance()) {
		return nil, status.NewValidationError(fmt.Errorf("amount %s exceeds outstanding balance %s", req.Amount, reg.Balance()))
	}

	ref, err := utils.PaymentReference()
	if err != nil {
		return nil, fmt.Errorf("generate payment reference: %w", err)
	}

	payment := &models.Payment{
		RegistrationID:  reg.ID,
		Amount:          req.Amount,
		Network:         string(network),
		AccountNumber:   account,
		Reference:       ref,
		ClientReference: uuid.NewString(),
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		monitoring.TrackInitiation(string(network), "error")
		return nil, err
	}

	narration := req.Narration
	if narration == "" {
		narration = fmt.Sprintf("Payment %s", ref)
	}

	res, err := s.provider.Collect(ctx, &momo.CollectRequest{
		AccountNumber:     account,
		AccountName:       req.AccountName,
		Amount:            req.Amount,
		Network:           network,
		Narration:         narration,
		ExternalReference: reg.ID,
		RequestID:         payment.ClientReference,
	})
	if err != nil {
		monitoring.TrackInitiation(string(network), "rejected")
		s.logger.Warn("Payment initiation failed",
			"registration_id", reg.ID,
			"payment_id", payment.ID,
			"network", network.Name(),
			"error", err,
		)
		s.closeRejected(ctx, payment, err)
		return nil, err
	}

	if _, err := s.store.AttachTransactionID(ctx, payment.ID, res.TransactionReference); err != nil {
		// callbacks still match through the registration id
		s.logger.Error("Failed to record transaction reference",
			"payment_id", payment.ID,
			"transaction_reference", res.TransactionReference,
			"error", err,
		)
	}

	monitoring.TrackInitiation(string(network), "accepted")
	s.logger.Info("Payment initiated",
		"registration_id", reg.ID,
		"payment_id", payment.ID,
		"transaction_reference", res.TransactionReference,
		"amount", req.Amount.String(),
		"network", network.Name(),
	)

	return &InitiateResult{
		RegistrationID:       reg.ID,
		PaymentID:            payment.ID,
		Reference:            ref,
		TransactionReference: res.TransactionReference,
		Message:              res.Message,
	}, nil
}

func (s *InitiationService) resolveRegistration(ctx context.Context, req *InitiateRequest, account string) (*models.Registration, error) {
	if req.RegistrationID != "" {
		reg, err := s.store.GetRegistration(ctx, req.RegistrationID)
		if errors.Is(err, status.ErrNotFound) {
			return nil, status.NewValidationError(fmt.Errorf("registration %q not found", req.RegistrationID))
		}
		return reg, err
	}

	if _, err := s.store.GetEvent(ctx, req.EventID); err != nil {
		if errors.Is(err, status.ErrNotFound) {
			return nil, status.NewValidationError(fmt.Errorf("event %q not found", req.EventID))
		}
		return nil, err
	}

	participants := req.Participants
	if participants < 1 {
		participants = 1
	}

	total := req.Amount
	switch {
	case req.TicketTierID != "":
		tier, err := s.store.GetTicketTier(ctx, req.TicketTierID)
		if errors.Is(err, status.ErrNotFound) || (err == nil && tier.EventID != req.EventID) {
			return nil, status.NewValidationError(fmt.Errorf("ticket tier %q not found for event", req.TicketTierID))
		}
		if err != nil {
			return nil, err
		}
		total = tier.Total(participants)
	case req.TotalAmount != nil:
		total = *req.TotalAmount
	}

	phone := req.Phone
	if phone == "" {
		phone = account
	}

	reg := &models.Registration{
		EventID:      req.EventID,
		Name:         req.AccountName,
		Email:        req.Email,
		Phone:        phone,
		Participants: participants,
		TicketTierID: req.TicketTierID,
		TotalAmount:  total,
		AmountPaid:   decimal.Zero,
	}
	if err := s.store.CreateRegistration(ctx, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// closeRejected fails a payment the provider answered with a definite
// rejection. Transport errors and 5xx answers leave it pending because the
// charge may still have been created.
func (s *InitiationService) closeRejected(ctx context.Context, payment *models.Payment, cause error) {
	var perr *status.ProviderError
	if !errors.As(cause, &perr) || perr.StatusCode == 0 || perr.StatusCode >= http.StatusInternalServerError {
		return
	}

	response, _ := json.Marshal(map[string]any{
		"error":       cause.Error(),
		"message":     perr.Message,
		"status_code": perr.StatusCode,
	})
	_, err := s.store.SettlePayment(context.WithoutCancel(ctx), payment.ID, models.Settlement{
		Status:   models.PaymentFailed,
		Response: response,
	})
	if err != nil {
		s.logger.Error("Failed to close rejected payment", "payment_id", payment.ID, "error", err)
		return
	}
	monitoring.TrackTransition(string(models.PaymentFailed))
}

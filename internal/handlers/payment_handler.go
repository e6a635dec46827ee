package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"event-payments/internal/services"
	"event-payments/internal/status"
	"event-payments/models"
	"event-payments/utils"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

const (
	maxCallbackBytes = 1 << 20
	callbackTimeout  = 30 * time.Second
)

type Initiator interface {
	Initiate(ctx context.Context, req *services.InitiateRequest) (*services.InitiateResult, error)
}

type Verifier interface {
	Verify(ctx context.Context, req *services.VerifyRequest) (*services.PaymentSnapshot, error)
}

// PaymentReader is the read side of the record store used by the handlers.
type PaymentReader interface {
	GetRegistration(ctx context.Context, id string) (*models.Registration, error)
	FindLatestPayment(ctx context.Context, registrationID string) (*models.Payment, error)
}

type PaymentHandler struct {
	initiator Initiator
	callbacks services.CallbackHandler
	verifier  Verifier
	payments  PaymentReader
	logger    *slog.Logger
}

func NewPaymentHandler(initiator Initiator, callbacks services.CallbackHandler, verifier Verifier, payments PaymentReader, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		initiator: initiator,
		callbacks: callbacks,
		verifier:  verifier,
		payments:  payments,
		logger:    logger,
	}
}

// Initiate - start a mobile-money charge
func (h *PaymentHandler) Initiate(e *core.RequestEvent) error {
	var req services.InitiateRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}

	res, err := h.initiator.Initiate(e.Request.Context(), &req)
	if err != nil {
		return h.apiError("initiate", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success":               true,
		"transaction_reference": res.TransactionReference,
		"transactionId":         res.TransactionReference,
		"registration_id":       res.RegistrationID,
		"payment_id":            res.PaymentID,
		"reference":             res.Reference,
		"message":               res.Message,
	})
}

// Callback - provider webhook. Always answers JSON; 200 whether or not the
// notification matched a payment.
func (h *PaymentHandler) Callback(e *core.RequestEvent) error {
	raw, err := io.ReadAll(io.LimitReader(e.Request.Body, maxCallbackBytes))
	if err != nil {
		return e.JSON(http.StatusBadRequest, map[string]any{"error": "Unable to read request body"})
	}

	// finish the update even if the provider hangs up
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.Request.Context()), callbackTimeout)
	defer cancel()

	return h.handleCallback(ctx, e, raw, models.SourceWebhook)
}

// SimulateCallback - development helper posting a callback for a payment
func (h *PaymentHandler) SimulateCallback(e *core.RequestEvent) error {
	var req struct {
		TransactionID  string `json:"transaction_id"`
		RegistrationID string `json:"registration_id"`
		Status         string `json:"status"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if req.Status == "" {
		req.Status = "success"
	}

	raw, err := json.Marshal(map[string]any{
		"transactionId":   req.TransactionID,
		"registration_id": req.RegistrationID,
		"status":          req.Status,
		"simulated":       true,
	})
	if err != nil {
		return apis.NewInternalServerError("internal error", err)
	}

	return h.handleCallback(e.Request.Context(), e, raw, models.SourceSimulation)
}

func (h *PaymentHandler) handleCallback(ctx context.Context, e *core.RequestEvent, raw []byte, source models.CallbackSource) error {
	out, err := h.callbacks.HandleCallback(ctx, raw, source)
	switch {
	case status.IsValidation(err):
		return e.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, status.ErrPaymentBusy):
		e.Response.Header().Set("Retry-After", "5")
		return e.JSON(http.StatusServiceUnavailable, map[string]any{"error": "Payment is being processed, retry later"})
	case err != nil:
		return e.JSON(http.StatusInternalServerError, map[string]any{"error": "Failed to process callback"})
	}

	paymentStatus := string(out.PaymentStatus)
	if paymentStatus == "" {
		paymentStatus = string(out.Outcome)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success":         true,
		"message":         out.Message,
		"payment_updated": out.Updated,
		"status":          paymentStatus,
	})
}

// Verify - status check used by the booking dialog poller
func (h *PaymentHandler) Verify(e *core.RequestEvent) error {
	var req services.VerifyRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}

	snap, err := h.verifier.Verify(e.Request.Context(), &req)
	if err != nil {
		return h.apiError("verify", err)
	}
	return e.JSON(http.StatusOK, snap)
}

// GetRegistrationPayment - stored payment state of a registration, without
// asking the provider
func (h *PaymentHandler) GetRegistrationPayment(e *core.RequestEvent) error {
	ctx := e.Request.Context()
	id := e.Request.PathValue("id")

	reg, err := h.payments.GetRegistration(ctx, id)
	if err != nil {
		return h.apiError("registration payment", err)
	}

	payment, err := h.payments.FindLatestPayment(ctx, id)
	if err != nil && !errors.Is(err, status.ErrNotFound) {
		return h.apiError("registration payment", err)
	}

	return e.JSON(http.StatusOK, services.NewSnapshot(reg, payment, time.Now()))
}

// apiError maps service errors onto PocketBase API errors.
func (h *PaymentHandler) apiError(op string, err error) error {
	var perr *status.ProviderError
	switch {
	case status.IsValidation(err):
		return apis.NewBadRequestError(err.Error(), nil)
	case errors.Is(err, status.ErrNotFound):
		return apis.NewNotFoundError("Payment not found", nil)
	case errors.Is(err, utils.ErrCircuitOpen), errors.Is(err, utils.ErrTooManyRequests):
		return apis.NewApiError(http.StatusServiceUnavailable, "Payment provider is unavailable, try again shortly", nil)
	case errors.As(err, &perr):
		msg := perr.Message
		if msg == "" {
			msg = "Payment provider request failed"
		}
		h.logger.Warn("Provider request failed", "op", op, "error", err)
		return apis.NewApiError(http.StatusBadGateway, msg, nil)
	default:
		h.logger.Error("Payment request failed", "op", op, "error", err)
		return apis.NewInternalServerError("internal error", nil)
	}
}

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"event-payments/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// PaymentAuditor lists payments and callbacks that need an operator.
type PaymentAuditor interface {
	ListStalePayments(ctx context.Context, before time.Time, limit int) ([]*models.Payment, error)
	ListUnmatchedCallbacks(ctx context.Context, limit int) ([]*models.CallbackRecord, error)
}

type AdminHandler struct {
	audit      PaymentAuditor
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewAdminHandler(audit PaymentAuditor, staleAfter time.Duration, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		audit:      audit,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// GetStalePayments - pending payments older than ?older_than (default
// STALE_AFTER)
func (h *AdminHandler) GetStalePayments(e *core.RequestEvent) error {
	q := e.Request.URL.Query()

	olderThan := h.staleAfter
	if raw := q.Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return apis.NewBadRequestError("older_than must be a positive duration such as 30m", nil)
		}
		olderThan = d
	}

	limit, err := listLimit(q.Get("limit"))
	if err != nil {
		return err
	}

	before := h.now().Add(-olderThan)
	payments, err := h.audit.ListStalePayments(e.Request.Context(), before, limit)
	if err != nil {
		h.logger.Error("Failed to list stale payments", "error", err)
		return apis.NewInternalServerError("internal error", nil)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"before":   before.UTC().Format(time.RFC3339),
		"count":    len(payments),
		"payments": payments,
	})
}

// GetUnmatchedCallbacks - processed callbacks that matched no payment
func (h *AdminHandler) GetUnmatchedCallbacks(e *core.RequestEvent) error {
	limit, err := listLimit(e.Request.URL.Query().Get("limit"))
	if err != nil {
		return err
	}

	callbacks, err := h.audit.ListUnmatchedCallbacks(e.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list unmatched callbacks", "error", err)
		return apis.NewInternalServerError("internal error", nil)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"count":     len(callbacks),
		"callbacks": callbacks,
	})
}

func listLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apis.NewBadRequestError("limit must be a positive integer", nil)
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

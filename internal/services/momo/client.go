// Package momo is the HTTP client of the mobile-money collection provider.
package momo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"event-payments/internal/payload"
	"event-payments/internal/status"
	"event-payments/utils"

	"github.com/shopspring/decimal"
)

const (
	collectPath = "/api/v1/collections"
	statusPath  = "/api/v1/collections/status"

	maxResponseBytes = 1 << 20
)

type ClientConfig struct {
	BaseURL     string
	APIKey      string
	HMACKey     string
	CallbackURL string
	Timeout     time.Duration
}

type Client struct {
	// baseURL is the provider API root, without trailing slash.
	baseURL string

	// apiKey is sent as a bearer token.
	apiKey string

	// hmacKey signs every request body.
	hmacKey string

	// callbackURL is where the provider posts the outcome.
	callbackURL string

	breaker *utils.CircuitBreaker

	hc *http.Client
}

// CollectRequest asks the provider to prompt the payer for a charge.
type CollectRequest struct {
	AccountNumber string
	AccountName   string
	Amount        decimal.Decimal
	Network       Network
	Narration     string
	// ExternalReference is echoed back in callbacks; the registration id.
	ExternalReference string
	// RequestID identifies this attempt at the provider.
	RequestID string
}

type CollectResult struct {
	TransactionReference string
	Message              string
	Raw                  json.RawMessage
}

// StatusResult is the provider's view of one transaction.
type StatusResult struct {
	TransactionReference string
	Status               string
	Description          string
	Outcome              status.Outcome
	Raw                  json.RawMessage
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		hmacKey:     cfg.HMACKey,
		callbackURL: cfg.CallbackURL,
		breaker: utils.NewCircuitBreakerWithSettings("momo", utils.CircuitBreakerSettings{
			MinRequests:  20,
			FailureRatio: 0.5,
			Timeout:      30 * time.Second,
			IsFailure:    isOutage,
		}),
		// set http client with timeout.
		hc: &http.Client{Timeout: timeout},
	}
}

// Collect starts a charge. A rejection is a *status.ProviderError wrapping
// status.ErrPaymentInitiationFailed; an accepted request without a usable
// reference wraps status.ErrMissingTransactionReference.
func (c *Client) Collect(ctx context.Context, req *CollectRequest) (*CollectResult, error) {
	body, err := json.Marshal(map[string]any{
		"account_number":     req.AccountNumber,
		"account_name":       req.AccountName,
		"amount":             req.Amount.StringFixed(2),
		"currency":           "GHS",
		"network":            string(req.Network),
		"narration":          req.Narration,
		"external_reference": req.ExternalReference,
		"callback_url":       c.callbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("momo.Collect: json.Marshal: %w", err)
	}

	code, raw, err := c.post(ctx, collectPath, req.RequestID, body)
	if err != nil {
		return nil, &status.ProviderError{Op: "collect", Err: fmt.Errorf("%w: %w", status.ErrPaymentInitiationFailed, err)}
	}

	doc, perr := payload.Parse(raw)
	if perr != nil {
		return nil, &status.ProviderError{
			Op:         "collect",
			StatusCode: code,
			Message:    http.StatusText(code),
			Err:        status.ErrPaymentInitiationFailed,
		}
	}

	message := doc.String(payload.Message)
	if rejected(code, doc) {
		if message == "" {
			message = http.StatusText(code)
		}
		return nil, &status.ProviderError{
			Op:         "collect",
			StatusCode: code,
			Message:    message,
			Err:        status.ErrPaymentInitiationFailed,
		}
	}

	ref := doc.String(payload.TransactionReference)
	if ref == "" {
		return nil, &status.ProviderError{
			Op:         "collect",
			StatusCode: code,
			Message:    message,
			Err:        status.ErrMissingTransactionReference,
		}
	}

	return &CollectResult{
		TransactionReference: ref,
		Message:              message,
		Raw:                  raw,
	}, nil
}

// CheckStatus asks the provider for the current state of a transaction.
func (c *Client) CheckStatus(ctx context.Context, transactionReference string) (*StatusResult, error) {
	body, err := json.Marshal(map[string]string{"transaction_reference": transactionReference})
	if err != nil {
		return nil, fmt.Errorf("momo.CheckStatus: json.Marshal: %w", err)
	}

	code, raw, err := c.post(ctx, statusPath, "", body)
	if err != nil {
		return nil, &status.ProviderError{Op: "status", Err: err}
	}

	doc, perr := payload.Parse(raw)
	if perr != nil || code >= http.StatusBadRequest {
		message := http.StatusText(code)
		if doc != nil {
			if m := doc.String(payload.Message); m != "" {
				message = m
			}
		}
		return nil, &status.ProviderError{
			Op:         "status",
			StatusCode: code,
			Message:    message,
			Err:        fmt.Errorf("unexpected response (HTTP %d)", code),
		}
	}

	result := &StatusResult{
		TransactionReference: doc.String(payload.TransactionReference),
		Status:               doc.String(payload.Status),
		Description:          doc.String(payload.Description),
		Raw:                  raw,
	}
	if result.TransactionReference == "" {
		result.TransactionReference = transactionReference
	}
	result.Outcome = status.Classify(result.Status, result.Description)
	return result, nil
}

// post sends a signed JSON request through the circuit breaker and returns
// the status code and body. Only transport failures and 5xx answers are
// returned as errors.
func (c *Client) post(ctx context.Context, path, requestID string, body []byte) (int, []byte, error) {
	var (
		code int
		raw  []byte
	)

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("http.NewRequest: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("X-Signature", Sign(body, []byte(c.hmacKey)))
		if requestID != "" {
			req.Header.Set("X-Request-Id", requestID)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("http.Do: %w", err)
		}
		defer resp.Body.Close()

		code = resp.StatusCode
		raw, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if code >= http.StatusInternalServerError {
			return &outageError{code: code}
		}
		return nil
	})
	return code, raw, err
}

// rejected reports whether the provider turned a collect request down.
func rejected(code int, doc payload.Document) bool {
	if code < 200 || code > 299 {
		return true
	}
	if ok, found := doc.Bool(payload.Success); found && !ok {
		return true
	}
	return status.Classify(doc.String(payload.Status), doc.String(payload.Description)) == status.OutcomeFailed
}

type outageError struct {
	code int
}

func (e *outageError) Error() string {
	return fmt.Sprintf("provider unavailable (HTTP %d)", e.code)
}

func isOutage(err error) bool {
	if err == nil {
		return false
	}
	var oe *outageError
	if errors.As(err, &oe) {
		return true
	}
	// transport failures
	return !errors.Is(err, context.Canceled)
}

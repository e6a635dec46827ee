package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"event-payments/internal/payload"
	"event-payments/internal/status"
)

// HTTPStatusChecker calls the verification endpoint over HTTP.
type HTTPStatusChecker struct {
	url string
	hc  *http.Client
}

func NewHTTPStatusChecker(url string, timeout time.Duration) *HTTPStatusChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStatusChecker{url: url, hc: &http.Client{Timeout: timeout}}
}

// CheckStatus returns the decoded answer. 4xx answers carrying a JSON error
// are *CheckRejectedError; 5xx answers and unreadable bodies are transient.
func (c *HTTPStatusChecker) CheckStatus(ctx context.Context, registrationID, transactionReference string) (payload.Document, error) {
	body, err := json.Marshal(VerifyRequest{
		RegistrationID:       registrationID,
		TransactionReference: transactionReference,
	})
	if err != nil {
		return nil, fmt.Errorf("checkStatus: json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("checkStatus: http.NewRequest: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checkStatus: http.Do: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("checkStatus: read body: %w", err)
	}

	doc, perr := payload.Parse(raw)
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("checkStatus: HTTP %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		if perr != nil {
			return nil, fmt.Errorf("checkStatus: HTTP %d: %w", resp.StatusCode, perr)
		}
		msg := doc.String(payload.Message)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &CheckRejectedError{StatusCode: resp.StatusCode, Message: msg}
	case perr != nil:
		return nil, fmt.Errorf("checkStatus: %w", perr)
	}
	return doc, nil
}

// LocalStatusChecker runs status checks in process against a StatusService.
type LocalStatusChecker struct {
	Service *StatusService
}

func (c *LocalStatusChecker) CheckStatus(ctx context.Context, registrationID, transactionReference string) (payload.Document, error) {
	snap, err := c.Service.Verify(ctx, &VerifyRequest{
		RegistrationID:       registrationID,
		TransactionReference: transactionReference,
	})
	switch {
	case errors.Is(err, status.ErrNotFound):
		return nil, &CheckRejectedError{StatusCode: http.StatusNotFound, Message: "Payment not found"}
	case status.IsValidation(err):
		return nil, &CheckRejectedError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	case err != nil:
		return nil, err
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	return payload.Parse(raw)
}

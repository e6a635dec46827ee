package status

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                    = errors.New("record: not found")
	ErrPaymentInitiationFailed     = errors.New("payment: initiation failed")
	ErrMissingTransactionReference = errors.New("payment: provider response has no transaction reference")
	ErrMissingCorrelationKey       = errors.New("callback: no transaction or registration id")
	ErrMalformedPayload            = errors.New("callback: malformed JSON payload")
	ErrPaymentBusy                 = errors.New("payment: another notification is being applied")
	ErrTimeoutExceeded             = errors.New("poll: payment not confirmed, it may have expired")
)

// ValidationError is bad input at an ingestion boundary. It is never retried
// by this system.
type ValidationError struct {
	Err error
}

func NewValidationError(err error) *ValidationError {
	return &ValidationError{Err: err}
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// ProviderError is a rejection or an unusable answer from the payment
// provider. Message is the provider's own text and is shown to the payer.
type ProviderError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider %s: %v: %s", e.Op, e.Err, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed read or write against the record store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err unless it is nil or a not-found condition.
func Persistence(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// DispatchError is a failed notification send. It is logged, never returned
// to a caller outside the dispatcher.
type DispatchError struct {
	Recipient string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s: %v", e.Recipient, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// IsValidation reports whether err is caused by bad input.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ProviderMessage returns the provider's message carried by err, if any.
func ProviderMessage(err error) (string, bool) {
	var p *ProviderError
	if errors.As(err, &p) {
		return p.Message, true
	}
	return "", false
}

package status

import "strings"

// Outcome is the normalized result of a provider status report.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

const descriptionFailed = "could_not_perform_transaction"

var successValues = map[string]struct{}{
	"success":    {},
	"successful": {},
	"confirmed":  {},
	"paid":       {},
	"completed":  {},
	"200":        {},
	"000":        {},
}

var failedValues = map[string]struct{}{
	"failed":          {},
	"declined":        {},
	"cancelled":       {},
	"canceled":        {},
	"error":           {},
	"rejected":        {},
	"-200":            {},
	descriptionFailed: {},
}

// Classify maps a raw status and description onto exactly one outcome.
// Success wins over failure; anything unrecognized stays pending.
func Classify(status, description string) Outcome {
	s := strings.ToLower(strings.TrimSpace(status))
	d := strings.ToLower(strings.TrimSpace(description))

	if _, ok := successValues[s]; ok || d == "success" {
		return OutcomeSuccess
	}
	if _, ok := failedValues[s]; ok || strings.HasPrefix(s, "-") || d == descriptionFailed {
		return OutcomeFailed
	}
	return OutcomePending
}

// IsTerminal reports whether the outcome ends a payment.
func (o Outcome) IsTerminal() bool {
	return o == OutcomeSuccess || o == OutcomeFailed
}

package momo

import (
	"fmt"
	"regexp"
	"strings"

	"event-payments/internal/status"
)

const countryCode = "233"

var accountNumberPattern = regexp.MustCompile(`^233\d{9}$`)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizeAccountNumber rewrites a Ghanaian mobile number into the digits
// only international form the provider expects, e.g. 0599975352 becomes
// 233599975352.
func NormalizeAccountNumber(raw string) (string, error) {
	s := phoneSeparators.Replace(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "+")

	switch {
	case s == "":
		return "", status.NewValidationError(fmt.Errorf("account number is required"))
	case strings.HasPrefix(s, countryCode):
	case strings.HasPrefix(s, "0"):
		s = countryCode + s[1:]
	case len(s) == 9:
		s = countryCode + s
	}

	if !accountNumberPattern.MatchString(s) {
		return "", status.NewValidationError(fmt.Errorf("account number %q is not a valid mobile number", raw))
	}
	return s, nil
}

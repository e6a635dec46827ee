package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateCode returns n random bytes as upper-case hex.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// PaymentReference is the short code printed on receipts and emails,
// e.g. "EVT-3FA91C".
func PaymentReference() (string, error) {
	code, err := GenerateCode(3)
	if err != nil {
		return "", err
	}
	return "EVT-" + code, nil
}

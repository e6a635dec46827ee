package momo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 of body, sent as X-Signature.
func Sign(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// VerifySignature reports whether signature was produced by Sign for body.
func VerifySignature(body, key []byte, signature string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(body, key)))
}

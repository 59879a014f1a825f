package helpers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

func GenerateSignature(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func ValidateSignature(secret, data, signature string) bool {
	expected := GenerateSignature(secret, data)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SecureCompare reports whether a and b are equal without leaking where they
// differ. Empty values never match.
func SecureCompare(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

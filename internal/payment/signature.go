package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign returns the lowercase hex HMAC-SHA256 of "orderID|paymentID" keyed by secret.
// This is the value the checkout widget hands back as the payment signature.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature authenticates the order/payment pair.
// The comparison runs in constant time.
func VerifySignature(secret, orderID, paymentID, signature string) bool {
	if secret == "" || strings.TrimSpace(orderID) == "" || strings.TrimSpace(paymentID) == "" {
		return false
	}
	provided := strings.TrimSpace(signature)
	if provided == "" {
		return false
	}
	expected := Sign(secret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(provided))
}

package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 the gateway attaches to a completed
// checkout: the intent id and payment id joined by "|".
func Sign(secret, intentID, paymentID string) string {
	return hexMAC(secret, []byte(intentID+"|"+paymentID))
}

// Verify checks a checkout signature in constant time.
func Verify(secret, intentID, paymentID, signature string) bool {
	return equalHex(Sign(secret, intentID, paymentID), signature)
}

// SignWebhook returns the hex HMAC-SHA256 of a raw webhook body.
func SignWebhook(secret string, body []byte) string {
	return hexMAC(secret, body)
}

// VerifyWebhook checks a webhook body signature in constant time. An empty
// secret never verifies.
func VerifyWebhook(secret string, body []byte, signature string) bool {
	if secret == "" {
		return false
	}
	return equalHex(SignWebhook(secret, body), signature)
}

func hexMAC(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func equalHex(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}

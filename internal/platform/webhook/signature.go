package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries "sha256=<hex hmac of the raw body>".
const SignatureHeader = "X-Webhook-Signature"

// SignPayload computes the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether header matches payload under secret. The
// "sha256=" prefix is optional.
func VerifySignature(payload []byte, secret, header string) bool {
	sig := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if sig == "" {
		return false
	}
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sig)))
}

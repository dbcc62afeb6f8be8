package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignCallback computes the hex HMAC-SHA256 over timestamp + "." + body.
// Both the runner callback client and the dispatcher's verification
// middleware use this scheme.
func SignCallback(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback checks a signature in constant time
func VerifyCallback(secret []byte, timestamp string, body []byte, signature string) bool {
	expected := SignCallback(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

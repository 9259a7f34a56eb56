package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrInvalidSignature is returned when a webhook body does not carry a valid
// signature for the configured secret.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks that signature is the hex HMAC-SHA256 of body under secret.
func Verify(body []byte, signature string, secret []byte) error {
	if signature == "" || len(secret) == 0 {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if subtle.ConstantTimeCompare(mac.Sum(nil), got) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// Package signature authenticates inbound webhooks signed with the Standard
// Webhooks scheme: an HMAC-SHA256 over "<id>.<timestamp>.<body>" carried in
// svix-* headers (identity provider) or webhook-* headers (billing provider).
package signature

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	svix "github.com/svix/svix-webhooks/go"
)

// ErrInvalidSignature is returned when a delivery fails verification.
var ErrInvalidSignature = errors.New("signature: invalid webhook signature")

// ErrNoSecret is returned when a verifier is built without a secret.
var ErrNoSecret = errors.New("signature: webhook secret not configured")

// Verifier checks a raw request body against its signature headers.
type Verifier interface {
	Verify(payload []byte, headers http.Header) error
}

type svixVerifier struct {
	wh *svix.Webhook
}

// NewSvix builds a verifier for a "whsec_"-prefixed, base64 secret.
func NewSvix(secret string) (Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNoSecret
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("signature: parse secret: %w", err)
	}
	return &svixVerifier{wh: wh}, nil
}

// NewRaw builds a verifier for a plain-text secret. The billing provider signs
// with the secret's UTF-8 bytes, so it is base64-encoded before use.
func NewRaw(secret string) (Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNoSecret
	}
	return NewSvix(base64.StdEncoding.EncodeToString([]byte(secret)))
}

// Verify checks the signature and the timestamp tolerance.
func (v *svixVerifier) Verify(payload []byte, headers http.Header) error {
	if err := v.wh.Verify(payload, headers); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// TokenMatches compares a callback query token in constant time. An empty
// expected token matches nothing.
func TokenMatches(expected, got string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// Package webhook authenticates and decodes GitHub webhook deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Headers set by GitHub on every delivery.
const (
	SignatureHeader = "X-Hub-Signature-256"
	EventHeader     = "X-GitHub-Event"
	DeliveryHeader  = "X-GitHub-Delivery"
)

const signaturePrefix = "sha256="

// Verification errors.
var (
	ErrMissingSignature = errors.New("webhook: missing signature")
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	ErrNoSecret         = errors.New("webhook: no secret configured")
)

// Verifier authenticates a raw payload against its signature header.
type Verifier interface {
	Verify(payload []byte, signature string) error
}

// HMACVerifier checks GitHub's HMAC-SHA256 signatures.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier keyed by the shared webhook secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Verify returns nil only when signature is a valid "sha256=<hex>" HMAC of payload.
func (v *HMACVerifier) Verify(payload []byte, signature string) error {
	if len(v.secret) == 0 {
		return ErrNoSecret
	}
	if signature == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, Sign(v.secret, payload)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the raw HMAC-SHA256 of payload.
func Sign(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignatureHeaderValue renders the header GitHub would send for payload.
func SignatureHeaderValue(secret, payload []byte) string {
	return signaturePrefix + hex.EncodeToString(Sign(secret, payload))
}

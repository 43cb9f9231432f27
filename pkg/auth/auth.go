// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package auth provides the HMAC-SHA256 request signing and verification
// used by the callback dispatcher to authenticate outbound job-transition
// webhooks and let receivers authenticate them.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader is the HTTP header carrying the outbound signature.
const SignatureHeader = "x-hub-signature-256"

// ErrMissingSignature is returned by Verify when a signature was expected
// but the header was absent.
var ErrMissingSignature = errors.New("missing x-hub-signature-256 signature")

// ErrSignatureMismatch is returned by Verify when the signature does not
// match the computed HMAC.
var ErrSignatureMismatch = errors.New("signature mismatch")

// Signer produces a signature header value for a callback body.
type Signer interface {
	// Sign returns the header value to attach, and whether a signature
	// should be attached at all (false for NoSigner).
	Sign(body []byte) (header string, ok bool)
}

// HMACSigner signs bodies with a shared secret using HMAC-SHA256.
type HMACSigner struct {
	secret string
}

// NewHMACSigner creates a signer bound to the given shared secret.
func NewHMACSigner(secret string) *HMACSigner {
	return &HMACSigner{secret: secret}
}

// Sign computes `sha256=<hex hmac>` over the exact body bytes.
func (h *HMACSigner) Sign(body []byte) (string, bool) {
	if h.secret == "" {
		return "", false
	}
	return "sha256=" + hexHMAC(h.secret, body), true
}

// NoSigner never attaches a signature, used when a job has no cb_secret.
type NoSigner struct{}

// Sign always declines to sign.
func (NoSigner) Sign(body []byte) (string, bool) { return "", false }

func hexHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an inbound signature header against the expected HMAC of
// body, computed with secret. Comparison is constant-time. An empty
// secret means signing is not required and Verify always succeeds.
func Verify(secret string, body []byte, header string) error {
	if secret == "" {
		return nil
	}
	if header == "" {
		return ErrMissingSignature
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return ErrSignatureMismatch
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return ErrSignatureMismatch
	}
	want, err := hex.DecodeString(hexHMAC(secret, body))
	if err != nil {
		return ErrSignatureMismatch
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

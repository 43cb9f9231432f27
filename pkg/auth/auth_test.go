// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACSignerMatchesSpecVector(t *testing.T) {
	body := []byte(`{"jobid":"1","jobndx":1,"state":"queued","info":"42"}`)
	signer := NewHMACSigner("Y")
	header, ok := signer.Sign(body)
	require.True(t, ok)
	assert.True(t, len(header) > len("sha256="))

	mac := hmac.New(sha256.New, []byte("Y"))
	mac.Write(body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), header)

	assert.NoError(t, Verify("Y", body, header))
}

func TestNoSignerDeclinesToSign(t *testing.T) {
	signer := NoSigner{}
	_, ok := signer.Sign([]byte("body"))
	assert.False(t, ok)
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	err := Verify("secret", []byte("body"), "")
	assert.ErrorIs(t, err, ErrMissingSignature)
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	signer := NewHMACSigner("secret")
	header, _ := signer.Sign([]byte("original"))
	err := Verify("secret", []byte("tampered"), header)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyNoSecretAlwaysSucceeds(t *testing.T) {
	assert.NoError(t, Verify("", []byte("body"), ""))
}

func TestVerifyRejectsMalformedHeader(t *testing.T) {
	err := Verify("secret", []byte("body"), "not-a-valid-header")
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

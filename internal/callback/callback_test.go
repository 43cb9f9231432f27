// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jontk/jobctl/pkg/auth"
	"github.com/jontk/jobctl/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDeliversSignedPayload(t *testing.T) {
	var gotSignature string
	var gotPayload Payload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(auth.SignatureHeader)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(nil)
	delivered, err := d.Send(context.Background(), Payload{JobID: "100.0", Jobndx: 1, State: "queued", Info: "42"}, srv.URL, "Y")
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.NotEmpty(t, gotSignature)
	assert.Equal(t, "100.0", gotPayload.JobID)
}

func TestSendReportsNonOKAsNotDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher(nil)
	d.policy = retry.NewFixedDelay(1, 0)

	delivered, err := d.Send(context.Background(), Payload{JobID: "1"}, srv.URL, "")
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestSendWithoutSecretOmitsSignature(t *testing.T) {
	var gotSignature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(auth.SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(nil)
	_, err := d.Send(context.Background(), Payload{JobID: "1"}, srv.URL, "")
	require.NoError(t, err)
	assert.Empty(t, gotSignature)
}

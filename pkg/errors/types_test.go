// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidJobCategoryAndMessage(t *testing.T) {
	cause := errors.New("bad json")
	err := InvalidJob("malformed spec.json", cause)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidJob, err.Code)
	assert.Equal(t, CategoryValidation, err.Category)
	assert.False(t, err.IsRetryable())
	assert.Contains(t, err.Error(), "malformed spec.json")
	assert.Contains(t, err.Error(), "bad json")
	assert.Equal(t, cause, err.Unwrap())
}

func TestCallbackErrorIsRetryable(t *testing.T) {
	err := CallbackError("POST failed", errors.New("dial tcp: timeout"))
	assert.True(t, err.IsRetryable())
	assert.Equal(t, CategoryCallback, err.Category)
}

func TestContentionNoDetails(t *testing.T) {
	err := Contention("status.csv locked")
	assert.Equal(t, "[CONTENTION] status.csv locked", err.Error())
}

func TestIsMatchesByCode(t *testing.T) {
	a := SubmitError("no native id", nil)
	b := SubmitError("different message", nil)
	assert.True(t, a.Is(b))
	assert.False(t, a.Is(InvalidJob("x", nil)))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, ExitCode(InvalidJob("x", nil)))
	assert.Equal(t, 7, ExitCode(BackendError("x", nil)))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))
}

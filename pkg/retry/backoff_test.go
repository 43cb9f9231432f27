// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffStopsAtMaxAttempts(t *testing.T) {
	b := NewExponentialBackoff()
	b.MaxAttempts = 2
	b.Jitter = 0
	_, ok := b.NextDelay(0)
	assert.True(t, ok)
	_, ok = b.NextDelay(2)
	assert.False(t, ok)
}

func TestConstantBackoffAlwaysSameDelay(t *testing.T) {
	b := NewConstantBackoff(50*time.Millisecond, 3)
	d, ok := b.NextDelay(0)
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, d)
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), NewConstantBackoff(time.Millisecond, 5), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), NewConstantBackoff(time.Millisecond, 2), func() error {
		attempts++
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithResult(t *testing.T) {
	result, err := RetryWithResult(context.Background(), NewConstantBackoff(time.Millisecond, 2), func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPExponentialBackoffShouldRetry(t *testing.T) {
	p := NewHTTPExponentialBackoff().WithMaxRetries(2)
	ctx := context.Background()

	assert.True(t, p.ShouldRetry(ctx, nil, assertError{}, 0))
	assert.True(t, p.ShouldRetry(ctx, &http.Response{StatusCode: 503}, nil, 0))
	assert.False(t, p.ShouldRetry(ctx, &http.Response{StatusCode: 200}, nil, 0))
	assert.False(t, p.ShouldRetry(ctx, nil, nil, 2))
}

func TestHTTPExponentialBackoffWaitTimeGrows(t *testing.T) {
	p := NewHTTPExponentialBackoff().WithJitter(false).WithMinWaitTime(time.Second).WithBackoffFactor(2)
	assert.Equal(t, time.Second, p.WaitTime(0))
	assert.Equal(t, 2*time.Second, p.WaitTime(1))
	assert.Equal(t, 4*time.Second, p.WaitTime(2))
}

func TestNoRetryNeverRetries(t *testing.T) {
	p := NewNoRetry()
	assert.False(t, p.ShouldRetry(context.Background(), nil, assertError{}, 0))
	assert.Equal(t, time.Duration(0), p.WaitTime(0))
	assert.Equal(t, 0, p.MaxRetries())
}

func TestFixedDelayRetriesUpToMax(t *testing.T) {
	p := NewFixedDelay(3, 10*time.Millisecond)
	assert.True(t, p.ShouldRetry(context.Background(), nil, assertError{}, 2))
	assert.False(t, p.ShouldRetry(context.Background(), nil, assertError{}, 3))
	assert.Equal(t, 10*time.Millisecond, p.WaitTime(0))
}

func TestContextCancelledStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewHTTPExponentialBackoff()
	assert.False(t, p.ShouldRetry(ctx, nil, assertError{}, 0))
}

type assertError struct{}

func (assertError) Error() string { return "network unreachable" }

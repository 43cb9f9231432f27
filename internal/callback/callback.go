// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package callback implements the outbound, signed HTTP notification
// sent to a job's configured callback URL on every recorded transition.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jontk/jobctl/pkg/auth"
	"github.com/jontk/jobctl/pkg/logging"
	"github.com/jontk/jobctl/pkg/metrics"
	"github.com/jontk/jobctl/pkg/middleware"
	"github.com/jontk/jobctl/pkg/pool"
	"github.com/jontk/jobctl/pkg/retry"
)

// Payload is the JSON body sent on every callback delivery.
type Payload struct {
	JobID  string `json:"jobid"`
	Jobndx int    `json:"jobndx"`
	State  string `json:"state"`
	Info   string `json:"info"`
}

// Dispatcher sends signed callback notifications with retry, pooled
// connections, and metrics, matching the ambient HTTP stack used
// elsewhere in the engine.
type Dispatcher struct {
	pool      *pool.HTTPClientPool
	policy    retry.Policy
	collector metrics.Collector
	logger    logging.Logger
	// breaker persists across Send calls so that a callback URL which
	// keeps failing (a job's listener crashed, DNS is gone) eventually
	// gets skipped instead of retried forever across every transition.
	breaker middleware.Middleware
}

// NewDispatcher creates a Dispatcher using the default retry policy and
// connection pool.
func NewDispatcher(logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Dispatcher{
		pool:      pool.DefaultPool(),
		policy:    retry.NewHTTPExponentialBackoff(),
		collector: metrics.GetDefaultCollector(),
		logger:    logger,
		breaker:   middleware.WithCircuitBreaker(5, 30*time.Second),
	}
}

// Send posts payload to url, signing the body with secret if set.
// It returns true only for an HTTP 200 response; any other status
// returns false with a nil error, and a transport failure returns false
// with that error.
func (d *Dispatcher) Send(ctx context.Context, payload Payload, url, secret string) (bool, error) {
	start := time.Now()
	delivered, err := d.send(ctx, payload, url, secret)
	d.collector.RecordCallback(delivered, time.Since(start))
	return delivered, err
}

func (d *Dispatcher) send(ctx context.Context, payload Payload, url, secret string) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("callback: marshaling payload: %w", err)
	}

	var signer auth.Signer = auth.NoSigner{}
	if secret != "" {
		signer = auth.NewHMACSigner(secret)
	}

	client := &http.Client{
		Transport: middleware.Chain(
			middleware.WithRequestID(func() string { return uuid.NewString() }),
			middleware.WithLogging(d.logger),
			middleware.WithUserAgent("jobctl-callback/1"),
			d.breaker,
			middleware.WithTimeout(15*time.Second),
			middleware.WithRetry(d.policy.MaxRetries(), middleware.DefaultShouldRetry),
		)(d.pool.GetClient(url).Transport),
	}

	attempt := func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if header, ok := signer.Sign(body); ok {
			req.Header.Set(auth.SignatureHeader, header)
		}

		resp, err := client.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()

		return resp.StatusCode == http.StatusOK, nil
	}

	delivered, err := attempt()
	if err != nil {
		return false, fmt.Errorf("callback: delivering to %s: %w", url, err)
	}
	return delivered, nil
}

// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"testing"
	"time"

	"github.com/jontk/jobctl/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetClientReusesForSameEndpoint(t *testing.T) {
	p := NewHTTPClientPool(nil, logging.NoOpLogger{})
	a := p.GetClient("https://example.test/callback")
	b := p.GetClient("https://example.test/callback")
	assert.Same(t, a, b)
}

func TestGetClientDistinctForDifferentEndpoints(t *testing.T) {
	p := NewHTTPClientPool(nil, logging.NoOpLogger{})
	a := p.GetClient("https://a.test")
	b := p.GetClient("https://b.test")
	assert.NotSame(t, a, b)
}

func TestStatsReflectsUsage(t *testing.T) {
	p := NewHTTPClientPool(nil, logging.NoOpLogger{})
	p.GetClient("https://a.test")
	p.GetClient("https://a.test")

	stats := p.Stats()
	require.Contains(t, stats.ClientStats, "https://a.test")
	assert.Equal(t, int64(2), stats.ClientStats["https://a.test"].UseCount)
}

func TestCloseRemovesAllClients(t *testing.T) {
	p := NewHTTPClientPool(nil, logging.NoOpLogger{})
	p.GetClient("https://a.test")
	require.NoError(t, p.Close())
	assert.Equal(t, 0, p.Stats().TotalClients)
}

func TestDefaultPoolIsSharedAcrossCallers(t *testing.T) {
	assert.Same(t, DefaultPool(), DefaultPool())
}

func TestConnectionManagerStartStopCleansUpIdleClients(t *testing.T) {
	p := NewHTTPClientPool(nil, logging.NoOpLogger{})
	p.GetClient("https://a.test")

	cm := NewConnectionManager(p, nil, logging.NoOpLogger{})
	cm.cleanupInterval = time.Millisecond
	cm.maxIdleTime = 0
	cm.Start()
	time.Sleep(20 * time.Millisecond)
	cm.Stop()

	assert.Equal(t, 0, p.Stats().TotalClients)
}

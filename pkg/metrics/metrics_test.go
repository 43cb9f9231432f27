// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordSubmitTracksFailures(t *testing.T) {
	c := NewInMemoryCollector()
	c.RecordSubmit("local", 5*time.Millisecond, nil)
	c.RecordSubmit("local", 10*time.Millisecond, errors.New("no native id"))

	stats := c.GetStats()
	assert.Equal(t, int64(2), stats.SubmitsByBackend["local"])
	assert.Equal(t, int64(1), stats.SubmitFailures["local"])
	assert.Equal(t, int64(2), stats.SubmitDuration["local"].Count)
}

func TestRecordCallback(t *testing.T) {
	c := NewInMemoryCollector()
	c.RecordCallback(true, time.Millisecond)
	c.RecordCallback(false, 2*time.Millisecond)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.CallbacksDelivered)
	assert.Equal(t, int64(1), stats.CallbacksFailed)
}

func TestResetClearsCounters(t *testing.T) {
	c := NewInMemoryCollector()
	c.RecordCancel("slurm", nil)
	c.Reset()
	stats := c.GetStats()
	assert.Empty(t, stats.CancelsByBackend)
}

func TestNoOpCollectorSafe(t *testing.T) {
	var c Collector = NoOpCollector{}
	c.RecordSubmit("x", 0, nil)
	c.RecordCancel("x", nil)
	c.RecordPoll("x", 0, nil)
	c.RecordCallback(true, 0)
	assert.NotNil(t, c.GetStats())
}

func TestDefaultCollectorRoundTrip(t *testing.T) {
	SetDefaultCollector(NewInMemoryCollector())
	GetDefaultCollector().RecordCancel("local", nil)
	assert.Equal(t, int64(1), GetDefaultCollector().GetStats().CancelsByBackend["local"])
	SetDefaultCollector(nil)
	assert.IsType(t, NoOpCollector{}, GetDefaultCollector())
}

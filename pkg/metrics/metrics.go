// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides in-process counters for job lifecycle events
// (submissions, cancellations and polls broken down by backend, plus
// callback deliveries) and duration aggregates (count, total, min, max,
// average) for submissions and callback deliveries.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the interface for job-engine metrics collection.
type Collector interface {
	// RecordSubmit records a submit attempt for a backend, with outcome.
	RecordSubmit(backend string, duration time.Duration, err error)

	// RecordCancel records a cancel attempt for a backend.
	RecordCancel(backend string, err error)

	// RecordPoll records a poll attempt for a backend.
	RecordPoll(backend string, duration time.Duration, err error)

	// RecordCallback records an outbound callback delivery attempt.
	RecordCallback(delivered bool, duration time.Duration)

	// GetStats returns current metrics statistics.
	GetStats() *Stats

	// Reset resets all metrics.
	Reset()
}

// Stats contains aggregated metrics statistics.
type Stats struct {
	SubmitsByBackend     map[string]int64
	SubmitFailures       map[string]int64
	SubmitDuration       map[string]DurationStats
	CancelsByBackend     map[string]int64
	CancelFailures       map[string]int64
	PollsByBackend       map[string]int64
	PollFailures         map[string]int64
	CallbacksDelivered   int64
	CallbacksFailed      int64
	CallbackDuration     DurationStats
	StartTime            time.Time
	Duration             time.Duration
}

// DurationStats contains statistics for duration measurements.
type DurationStats struct {
	Count   int64
	Total   time.Duration
	Min     time.Duration
	Max     time.Duration
	Average time.Duration
}

// InMemoryCollector is an in-memory implementation of Collector.
type InMemoryCollector struct {
	mu sync.RWMutex

	submitsByBackend map[string]*int64
	submitFailures   map[string]*int64
	submitDuration   map[string]*durationAggregator

	cancelsByBackend map[string]*int64
	cancelFailures   map[string]*int64

	pollsByBackend map[string]*int64
	pollFailures   map[string]*int64

	callbacksDelivered int64
	callbacksFailed    int64
	callbackDuration   *durationAggregator

	startTime time.Time
}

// NewInMemoryCollector creates a new in-memory metrics collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		submitsByBackend: make(map[string]*int64),
		submitFailures:   make(map[string]*int64),
		submitDuration:   make(map[string]*durationAggregator),
		cancelsByBackend: make(map[string]*int64),
		cancelFailures:   make(map[string]*int64),
		pollsByBackend:   make(map[string]*int64),
		pollFailures:     make(map[string]*int64),
		callbackDuration: newDurationAggregator(),
		startTime:        time.Now(),
	}
}

func (c *InMemoryCollector) RecordSubmit(backend string, duration time.Duration, err error) {
	incrementMapCounter(&c.mu, c.submitsByBackend, backend)
	if err != nil {
		incrementMapCounter(&c.mu, c.submitFailures, backend)
	}
	c.mu.Lock()
	agg, ok := c.submitDuration[backend]
	if !ok {
		agg = newDurationAggregator()
		c.submitDuration[backend] = agg
	}
	c.mu.Unlock()
	agg.add(duration)
}

func (c *InMemoryCollector) RecordCancel(backend string, err error) {
	incrementMapCounter(&c.mu, c.cancelsByBackend, backend)
	if err != nil {
		incrementMapCounter(&c.mu, c.cancelFailures, backend)
	}
}

func (c *InMemoryCollector) RecordPoll(backend string, duration time.Duration, err error) {
	incrementMapCounter(&c.mu, c.pollsByBackend, backend)
	if err != nil {
		incrementMapCounter(&c.mu, c.pollFailures, backend)
	}
	_ = duration
}

func (c *InMemoryCollector) RecordCallback(delivered bool, duration time.Duration) {
	if delivered {
		atomic.AddInt64(&c.callbacksDelivered, 1)
	} else {
		atomic.AddInt64(&c.callbacksFailed, 1)
	}
	c.callbackDuration.add(duration)
}

func (c *InMemoryCollector) GetStats() *Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Stats{
		SubmitsByBackend:   copyCounters(c.submitsByBackend),
		SubmitFailures:     copyCounters(c.submitFailures),
		SubmitDuration:     copyDurationStats(c.submitDuration),
		CancelsByBackend:   copyCounters(c.cancelsByBackend),
		CancelFailures:     copyCounters(c.cancelFailures),
		PollsByBackend:     copyCounters(c.pollsByBackend),
		PollFailures:       copyCounters(c.pollFailures),
		CallbacksDelivered: atomic.LoadInt64(&c.callbacksDelivered),
		CallbacksFailed:    atomic.LoadInt64(&c.callbacksFailed),
		CallbackDuration:   c.callbackDuration.stats(),
		StartTime:          c.startTime,
		Duration:           time.Since(c.startTime),
	}
}

func (c *InMemoryCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.submitsByBackend = make(map[string]*int64)
	c.submitFailures = make(map[string]*int64)
	c.submitDuration = make(map[string]*durationAggregator)
	c.cancelsByBackend = make(map[string]*int64)
	c.cancelFailures = make(map[string]*int64)
	c.pollsByBackend = make(map[string]*int64)
	c.pollFailures = make(map[string]*int64)
	atomic.StoreInt64(&c.callbacksDelivered, 0)
	atomic.StoreInt64(&c.callbacksFailed, 0)
	c.callbackDuration = newDurationAggregator()
	c.startTime = time.Now()
}

func incrementMapCounter(mu *sync.RWMutex, m map[string]*int64, key string) {
	mu.Lock()
	counter, exists := m[key]
	if !exists {
		var v int64
		counter = &v
		m[key] = counter
	}
	mu.Unlock()
	atomic.AddInt64(counter, 1)
}

func copyCounters(m map[string]*int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = atomic.LoadInt64(v)
	}
	return result
}

func copyDurationStats(m map[string]*durationAggregator) map[string]DurationStats {
	result := make(map[string]DurationStats, len(m))
	for k, v := range m {
		result[k] = v.stats()
	}
	return result
}

type durationAggregator struct {
	mu    sync.Mutex
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

func newDurationAggregator() *durationAggregator {
	return &durationAggregator{min: time.Duration(1<<63 - 1)}
}

func (d *durationAggregator) add(duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.count++
	d.total += duration
	if duration < d.min {
		d.min = duration
	}
	if duration > d.max {
		d.max = duration
	}
}

func (d *durationAggregator) stats() DurationStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := DurationStats{Count: d.count, Total: d.total, Min: d.min, Max: d.max}
	if d.count > 0 {
		stats.Average = time.Duration(int64(d.total) / d.count)
	} else {
		stats.Min = 0
	}
	return stats
}

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

func (NoOpCollector) RecordSubmit(backend string, duration time.Duration, err error)  {}
func (NoOpCollector) RecordCancel(backend string, err error)                          {}
func (NoOpCollector) RecordPoll(backend string, duration time.Duration, err error)     {}
func (NoOpCollector) RecordCallback(delivered bool, duration time.Duration)            {}
func (NoOpCollector) GetStats() *Stats                                                 { return &Stats{} }
func (NoOpCollector) Reset()                                                           {}

var defaultCollector Collector = NoOpCollector{}

// SetDefaultCollector sets the default metrics collector.
func SetDefaultCollector(collector Collector) {
	if collector == nil {
		collector = NoOpCollector{}
	}
	defaultCollector = collector
}

// GetDefaultCollector returns the default metrics collector.
func GetDefaultCollector() Collector {
	return defaultCollector
}

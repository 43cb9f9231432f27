// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package watch provides polling-based job-state watching: it repeatedly
// re-reads a job's summarized state and emits events on change, used by
// the HTTP streaming server (§4.P).
package watch

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval is the default polling interval for watch operations.
const DefaultPollInterval = 2 * time.Second

// Snapshot is one poll's view of a job: the run indices currently in each
// state, keyed by state name. Produced by calling Summarize on the job's
// current history.
type Snapshot map[string][]int

// SnapshotFunc fetches the current snapshot for a job; returns an error if
// the job cannot be read this poll (transient errors are tolerated, not
// surfaced as events).
type SnapshotFunc func(ctx context.Context) (Snapshot, error)

// Event describes a change to a single (jobndx, state) membership between
// two consecutive polls.
type Event struct {
	EventType string // "entered" or "left"
	Jobndx    int
	State     string
	EventTime time.Time
}

// JobPoller watches one job's Summarize snapshot for changes via polling.
type JobPoller struct {
	fetch        SnapshotFunc
	pollInterval time.Duration
	bufferSize   int

	mu   sync.Mutex
	last Snapshot
}

// NewJobPoller creates a new job poller bound to fetch.
func NewJobPoller(fetch SnapshotFunc) *JobPoller {
	return &JobPoller{
		fetch:        fetch,
		pollInterval: DefaultPollInterval,
		bufferSize:   64,
	}
}

// WithPollInterval sets a custom poll interval.
func (p *JobPoller) WithPollInterval(interval time.Duration) *JobPoller {
	p.pollInterval = interval
	return p
}

// WithBufferSize sets a custom buffer size for the event channel.
func (p *JobPoller) WithBufferSize(size int) *JobPoller {
	p.bufferSize = size
	return p
}

// Watch starts polling and returns a channel of Events; it closes the
// channel when ctx is done.
func (p *JobPoller) Watch(ctx context.Context) <-chan Event {
	eventChan := make(chan Event, p.bufferSize)
	go p.pollLoop(ctx, eventChan)
	return eventChan
}

func (p *JobPoller) pollLoop(ctx context.Context, eventChan chan<- Event) {
	defer close(eventChan)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.performPoll(ctx, eventChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.performPoll(ctx, eventChan)
		}
	}
}

func (p *JobPoller) performPoll(ctx context.Context, eventChan chan<- Event) {
	snapshot, err := p.fetch(ctx)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last == nil {
		p.last = snapshot
		return
	}

	now := time.Now()
	for state, indices := range snapshot {
		for _, ndx := range indices {
			if !containsInt(p.last[state], ndx) {
				eventChan <- Event{EventType: "entered", Jobndx: ndx, State: state, EventTime: now}
			}
		}
	}
	for state, indices := range p.last {
		for _, ndx := range indices {
			if !containsInt(snapshot[state], ndx) {
				eventChan <- Event{EventType: "left", Jobndx: ndx, State: state, EventTime: now}
			}
		}
	}

	p.last = snapshot
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

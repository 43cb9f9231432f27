// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package engine

import "github.com/jontk/jobctl/internal/statelog"

// Summary is the result of Summarize: the next free jobndx and the set
// of run indices currently outstanding per state.
type Summary struct {
	NextJobndx int
	ByState    map[State][]int
}

// Summarize buckets history rows by state, then applies the "done
// mask": queued/active entries whose index has already reached a final
// state are removed, leaving only genuinely outstanding runs.
func Summarize(history []statelog.Row) Summary {
	buckets := make(map[State]map[int]struct{})
	maxNdx := 0

	add := func(state State, ndx int) {
		if buckets[state] == nil {
			buckets[state] = make(map[int]struct{})
		}
		buckets[state][ndx] = struct{}{}
	}

	for _, row := range history {
		state := State(row.State)
		if !state.Valid() {
			continue
		}
		add(state, row.Jobndx)
		if row.Jobndx > maxNdx {
			maxNdx = row.Jobndx
		}
	}

	done := make(map[int]struct{})
	for _, final := range []State{StateCompleted, StateFailed, StateCanceled} {
		for ndx := range buckets[final] {
			done[ndx] = struct{}{}
		}
	}

	for ndx := range done {
		delete(buckets[StateQueued], ndx)
	}
	for ndx := range buckets[StateActive] {
		if _, isDone := done[ndx]; isDone {
			delete(buckets[StateActive], ndx)
		}
	}
	for ndx := range buckets[StateActive] {
		delete(buckets[StateQueued], ndx)
	}

	result := Summary{NextJobndx: maxNdx + 1, ByState: make(map[State][]int)}
	for state, set := range buckets {
		indices := make([]int, 0, len(set))
		for ndx := range set {
			indices = append(indices, ndx)
		}
		result.ByState[state] = indices
	}
	return result
}

// Done reports whether at least one run (jobndx ≥ 1) has been recorded
// and nothing is currently queued or active. Used by backends that
// mirror a working directory back only once a job is no longer live.
func (s Summary) Done() bool {
	return s.NextJobndx > 1 && len(s.ByState[StateQueued]) == 0 && len(s.ByState[StateActive]) == 0
}

// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"

	"github.com/jontk/jobctl/internal/statelog"
	"github.com/stretchr/testify/assert"
)

func TestSummarizeComputesNextJobndx(t *testing.T) {
	history := []statelog.Row{
		{Jobndx: 0, State: "new"},
		{Jobndx: 1, State: "queued"},
		{Jobndx: 2, State: "queued"},
	}
	s := Summarize(history)
	assert.Equal(t, 3, s.NextJobndx)
}

func TestSummarizeAppliesDoneMask(t *testing.T) {
	history := []statelog.Row{
		{Jobndx: 0, State: "new"},
		{Jobndx: 1, State: "queued"},
		{Jobndx: 1, State: "active"},
		{Jobndx: 1, State: "completed"},
		{Jobndx: 2, State: "queued"},
	}
	s := Summarize(history)
	assert.ElementsMatch(t, []int{2}, s.ByState[StateQueued])
	assert.Empty(t, s.ByState[StateActive])
	assert.ElementsMatch(t, []int{1}, s.ByState[StateCompleted])
}

func TestSummarizeRemovesActiveIndicesFromQueued(t *testing.T) {
	history := []statelog.Row{
		{Jobndx: 0, State: "new"},
		{Jobndx: 1, State: "queued"},
		{Jobndx: 1, State: "active"},
	}
	s := Summarize(history)
	assert.Empty(t, s.ByState[StateQueued])
	assert.ElementsMatch(t, []int{1}, s.ByState[StateActive])
}

func TestSummarizeIgnoresDuplicateReplayRows(t *testing.T) {
	history := []statelog.Row{
		{Jobndx: 0, State: "new"},
		{Jobndx: 1, State: "queued"},
		{Jobndx: 1, State: "queued"},
	}
	s := Summarize(history)
	assert.ElementsMatch(t, []int{1}, s.ByState[StateQueued])
}

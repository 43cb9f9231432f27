// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jontk/jobctl/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	runs     []string
	stdins   []string
	response func(command string) (string, error)
}

func (c *fakeClient) Run(ctx context.Context, command string, stdin string) (string, error) {
	c.runs = append(c.runs, command)
	c.stdins = append(c.stdins, stdin)
	if c.response != nil {
		return c.response(command)
	}
	return "", nil
}

func newTestDriver(fc *fakeClient) *Driver {
	cfg := engine.BackendConfig{Attributes: map[string]string{"host": "compute1", "remote_prefix": "jobctl-jobs"}}
	d := New("compute1", cfg, nil)
	d.WithClient(fc)
	return d
}

func testRemoteJob(t *testing.T) *engine.Job {
	return &engine.Job{
		Base:  t.TempDir(),
		Stamp: "300.0",
		Spec:  engine.JobSpec{Script: "echo hi", Backend: "remote"},
		Valid: true,
	}
}

func TestSubmitShipsArchiveAndReturnsNativeID(t *testing.T) {
	fc := &fakeClient{response: func(command string) (string, error) {
		return "remote-job-9\n", nil
	}}
	d := newTestDriver(fc)

	job := testRemoteJob(t)
	nativeID, err := d.Submit(context.Background(), job, 1)
	require.NoError(t, err)
	assert.Equal(t, "remote-job-9", nativeID)
	require.Len(t, fc.runs, 1)
	assert.Contains(t, fc.runs[0], "remote-bootstrap jobctl-jobs/300.0 1")
	assert.NotEmpty(t, fc.stdins[0])
}

func TestSubmitFailsWhenBootstrapReturnsNoID(t *testing.T) {
	fc := &fakeClient{response: func(command string) (string, error) { return "", nil }}
	d := newTestDriver(fc)

	_, err := d.Submit(context.Background(), testRemoteJob(t), 1)
	assert.Error(t, err)
}

func TestCancelInvokesRemoteCancelEntrypointPerID(t *testing.T) {
	fc := &fakeClient{}
	d := newTestDriver(fc)

	err := d.Cancel(context.Background(), []string{"jobA", "jobB"})
	require.NoError(t, err)
	require.Len(t, fc.runs, 2)
	assert.Contains(t, fc.runs[0], "remote-cancel jobA")
	assert.Contains(t, fc.runs[1], "remote-cancel jobB")
}

func TestPollRecordsOnlyUnseenTransitionsWithBackdate(t *testing.T) {
	job := testRemoteJob(t)
	_, err := job.Reached(context.Background(), 1, engine.StateQueued, "remote-job-9", nil)
	require.NoError(t, err)

	remoteTime := float64(time.Now().Unix())
	statusJSON := fmt.Sprintf(`{"rows":[
		{"Time":1.0,"Jobndx":1,"State":"queued","Info":"remote-job-9"},
		{"Time":%f,"Jobndx":1,"State":"completed","Info":"0"}
	],"log":[],"work":[]}`, remoteTime)

	fc := &fakeClient{response: func(command string) (string, error) {
		if strings.Contains(command, "remote-status") {
			return statusJSON, nil
		}
		return "", nil
	}}
	d := newTestDriver(fc)

	err = d.Poll(context.Background(), job)
	require.NoError(t, err)

	found := false
	for _, row := range job.History {
		if row.Jobndx == 1 && row.State == "completed" {
			found = true
		}
	}
	assert.True(t, found, "expected mirrored completed transition in local history")

	queuedCount := 0
	for _, row := range job.History {
		if row.Jobndx == 1 && row.State == "queued" {
			queuedCount++
		}
	}
	assert.Equal(t, 1, queuedCount, "already-seen queued row must not be duplicated")
}

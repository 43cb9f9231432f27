// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jontk/jobctl/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriverWithStubs(cfg engine.BackendConfig) (*Driver, *[]string, *[]string) {
	d := New(cfg, nil)

	var submitArgs []string
	var cancelArgs []string

	d.runSubmit = func(ctx context.Context, bin string, args ...string) (string, error) {
		submitArgs = append(submitArgs, args...)
		return "Submitted batch job 4242\n", nil
	}
	d.runCancel = func(ctx context.Context, bin string, args ...string) error {
		cancelArgs = append(cancelArgs, args...)
		return nil
	}
	return d, &submitArgs, &cancelArgs
}

func testJob(t *testing.T) *engine.Job {
	return &engine.Job{
		Base:  t.TempDir(),
		Stamp: "200.0",
		Spec: engine.JobSpec{
			Script: "echo hi",
			Name:   "demo",
			Backend: "slurm",
			Resources: engine.ResourceSpec{
				DurationMinutes:  90,
				NodeCount:        2,
				ProcessesPerNode: 4,
				CPUsPerProcess:   2,
				ExclusiveNode:    true,
			},
			Attributes: map[string]string{"constraint": "gpu"},
		},
	}
}

func TestSubmitParsesNativeIDFromSubmitterOutput(t *testing.T) {
	d, submitArgs, _ := newTestDriverWithStubs(engine.BackendConfig{QueueName: "gpu-part", ProjectName: "proj1"})

	nativeID, err := d.Submit(context.Background(), testJob(t), 1)
	require.NoError(t, err)
	assert.Equal(t, "4242", nativeID)
	require.Len(t, *submitArgs, 1)
}

func TestRenderScriptIncludesResourceDirectives(t *testing.T) {
	d, _, _ := newTestDriverWithStubs(engine.BackendConfig{QueueName: "gpu-part", ProjectName: "proj1"})

	script, err := d.renderScript(testJob(t), 3)
	require.NoError(t, err)

	assert.Contains(t, script, "#SBATCH --job-name=demo")
	assert.Contains(t, script, "#SBATCH --partition=gpu-part")
	assert.Contains(t, script, "#SBATCH --account=proj1")
	assert.Contains(t, script, "#SBATCH --time=01:30:00")
	assert.Contains(t, script, "#SBATCH --nodes=2")
	assert.Contains(t, script, "#SBATCH --ntasks-per-node=4")
	assert.Contains(t, script, "#SBATCH --cpus-per-task=2")
	assert.Contains(t, script, "#SBATCH --exclusive")
	assert.Contains(t, script, "#SBATCH --constraint=gpu")
	assert.True(t, strings.Contains(script, "hot-start 200.0 3"))
}

func TestCancelInvokesCancelBinaryWithAllIDs(t *testing.T) {
	d, _, cancelArgs := newTestDriverWithStubs(engine.BackendConfig{})

	err := d.Cancel(context.Background(), []string{"100", "101"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"100", "101"}, *cancelArgs)
}

func TestCancelWithNoIDsIsNoop(t *testing.T) {
	d, _, cancelArgs := newTestDriverWithStubs(engine.BackendConfig{})

	err := d.Cancel(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, *cancelArgs)
}

func TestSubmitRetriesOnTransientSubmitterFailure(t *testing.T) {
	d, _, _ := newTestDriverWithStubs(engine.BackendConfig{})

	attempts := 0
	d.runSubmit = func(ctx context.Context, bin string, args ...string) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("sbatch: controller unavailable")
		}
		return "Submitted batch job 55\n", nil
	}

	nativeID, err := d.Submit(context.Background(), testJob(t), 1)
	require.NoError(t, err)
	assert.Equal(t, "55", nativeID)
	assert.Equal(t, 2, attempts)
}

func TestParseNativeIDFallsBackToLastField(t *testing.T) {
	assert.Equal(t, "987", parseNativeID("987\n"))
	assert.Equal(t, "4242", parseNativeID("Submitted batch job 4242"))
	assert.Equal(t, "", parseNativeID(""))
}

func TestWalltimeStringFormatsHoursAndMinutes(t *testing.T) {
	assert.Equal(t, "01:30:00", walltimeString(90))
	assert.Equal(t, "", walltimeString(0))
	assert.Equal(t, "02:00:00", walltimeString(120))
}

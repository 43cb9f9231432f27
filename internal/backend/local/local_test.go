// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package local

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/jontk/jobctl/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T, selfExe string) *Driver {
	d := New(nil)
	d.selfExe = func() (string, error) { return selfExe, nil }
	return d
}

func writeShellScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestSubmitReturnsSupervisedPIDSynchronously(t *testing.T) {
	script := writeShellScript(t, "sleep 0.2\n")
	driver := newTestDriver(t, script)

	base := t.TempDir()
	job := &engine.Job{Base: base, Stamp: "100.0", Spec: engine.JobSpec{Script: "true", Backend: "local"}}

	nativeID, err := driver.Submit(context.Background(), job, 1)
	require.NoError(t, err)

	pid, err := strconv.Atoi(nativeID)
	require.NoError(t, err)
	assert.Greater(t, pid, 0)

	time.Sleep(300 * time.Millisecond)
}

func TestSubmitWritesLogFiles(t *testing.T) {
	script := writeShellScript(t, "echo out-line; echo err-line 1>&2\n")
	driver := newTestDriver(t, script)

	base := t.TempDir()
	job := &engine.Job{Base: base, Stamp: "100.0", Spec: engine.JobSpec{Script: "true", Backend: "local"}}

	_, err := driver.Submit(context.Background(), job, 2)
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	stdout, err := os.ReadFile(filepath.Join(base, "log", "stdout.2"))
	require.NoError(t, err)
	assert.Contains(t, string(stdout), "out-line")
}

func TestCancelSwallowsUnknownPID(t *testing.T) {
	driver := New(nil)
	err := driver.Cancel(context.Background(), []string{"999999999"})
	assert.NoError(t, err)
}

func TestCancelSkipsNonNumericID(t *testing.T) {
	driver := New(nil)
	err := driver.Cancel(context.Background(), []string{"not-a-pid"})
	assert.NoError(t, err)
}

func TestCancelTerminatesRunningProcessGroup(t *testing.T) {
	script := writeShellScript(t, "sleep 5\n")
	driver := newTestDriver(t, script)

	base := t.TempDir()
	job := &engine.Job{Base: base, Stamp: "100.0", Spec: engine.JobSpec{Script: "true", Backend: "local"}}

	nativeID, err := driver.Submit(context.Background(), job, 1)
	require.NoError(t, err)
	pid, err := strconv.Atoi(nativeID)
	require.NoError(t, err)

	require.NoError(t, driver.Cancel(context.Background(), []string{nativeID}))

	time.Sleep(100 * time.Millisecond)
	err = syscall.Kill(pid, 0)
	assert.Error(t, err)
}

func TestRunSupervisedReturnsFnResult(t *testing.T) {
	code, err := RunSupervised(context.Background(), func(ctx context.Context) (int, error) {
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

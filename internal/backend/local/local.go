// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package local implements the double-fork-equivalent supervisor: it
// starts the job detached in its own process group and returns the
// group leader's PID synchronously, reaping the child asynchronously.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jontk/jobctl/internal/engine"
	"github.com/jontk/jobctl/pkg/logging"
)

func init() {
	engine.Register("local", func(cfg engine.BackendConfig) (engine.Driver, error) {
		return New(logging.NoOpLogger{}), nil
	})
}

// Driver is the local process-group supervisor backend.
type Driver struct {
	logger logging.Logger
	// selfExe names the engine binary to re-exec in hot-start mode;
	// overridable in tests.
	selfExe func() (string, error)
}

// New creates a local backend driver.
func New(logger logging.Logger) *Driver {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Driver{logger: logger, selfExe: os.Executable}
}

// Submit re-execs the engine binary in hot-start mode, detached into
// its own session and process group, and returns its PID synchronously
// without waiting for completion.
func (d *Driver) Submit(ctx context.Context, job *engine.Job, jobndx int) (string, error) {
	exe, err := d.selfExe()
	if err != nil {
		return "", fmt.Errorf("local: resolving self executable: %w", err)
	}

	raw, err := jobSpecJSON(job)
	if err != nil {
		return "", err
	}

	cmd := exec.Command(exe, "hot-start", job.Stamp, strconv.Itoa(jobndx), raw)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setpgid: true}
	cmd.Dir = job.Base

	stdout, err := openRunLog(job.Base, "stdout", jobndx)
	if err != nil {
		return "", err
	}
	stderr, err := openRunLog(job.Base, "stderr", jobndx)
	if err != nil {
		stdout.Close()
		return "", err
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return "", fmt.Errorf("local: starting supervised process: %w", err)
	}

	pid := cmd.Process.Pid
	go func() {
		defer stdout.Close()
		defer stderr.Close()
		if err := cmd.Wait(); err != nil {
			d.logger.Debug("supervised process exited", "pid", pid, "error", err)
		}
	}()

	return strconv.Itoa(pid), nil
}

// Cancel sends SIGTERM to each native id's process group, waits up to
// 5 seconds, then escalates to SIGKILL. Unknown or already-dead ids
// are logged at debug level, not treated as errors.
func (d *Driver) Cancel(ctx context.Context, nativeIDs []string) error {
	for _, id := range nativeIDs {
		pid, err := strconv.Atoi(id)
		if err != nil {
			d.logger.Debug("skipping non-numeric native id", "id", id)
			continue
		}
		d.terminateProcessGroup(pid)
	}
	return nil
}

func (d *Driver) terminateProcessGroup(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		d.logger.Debug("SIGTERM delivery failed", "pid", pid, "error", err)
		return
	}

	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
				d.logger.Debug("SIGKILL delivery failed", "pid", pid, "error", err)
			}
			return
		case <-ticker.C:
			if err := syscall.Kill(-pid, 0); err != nil {
				return
			}
		}
	}
}

// Poll is a no-op for the local backend: transitions are recorded
// directly by the supervised process via Job.Execute.
func (d *Driver) Poll(ctx context.Context, job *engine.Job) error {
	return nil
}

// RunSupervised installs SIGTERM/SIGINT forwarding to the current
// process group and runs fn; a received signal is forwarded to the group
// and cancels fn's context. RunSupervised sends no SIGKILL itself: under
// Job.Execute the canceled context gives the script SIGTERM and kills it
// 5 seconds later if it is still running. Invoked by the hot-start
// entrypoint inside the spawned process.
func RunSupervised(ctx context.Context, fn func(ctx context.Context) (int, error)) (int, error) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case sig := <-sigs:
			pgid := syscall.Getpgrp()
			syscall.Kill(-pgid, sig.(syscall.Signal))
			cancel()
		case <-runCtx.Done():
		}
	}()

	return fn(runCtx)
}

func openRunLog(base, stream string, jobndx int) (*os.File, error) {
	path := fmt.Sprintf("%s/log/%s.%d", base, stream, jobndx)
	if err := os.MkdirAll(fmt.Sprintf("%s/log", base), 0755); err != nil {
		return nil, fmt.Errorf("local: creating log directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
}

func jobSpecJSON(job *engine.Job) (string, error) {
	raw, err := json.Marshal(job.Spec)
	if err != nil {
		return "", fmt.Errorf("local: marshaling job spec for hot-start: %w", err)
	}
	return string(raw), nil
}

// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	engerrors "github.com/jontk/jobctl/pkg/errors"
	"github.com/jontk/jobctl/pkg/logging"
	"github.com/jontk/jobctl/pkg/metrics"
	"github.com/jontk/jobctl/internal/callback"
	"github.com/jontk/jobctl/internal/statelog"
)

const statusFileName = "status.csv"
const specFileName = "spec.json"

// Job is a handle onto an on-disk job record: its immutable spec and
// its append-only transition history.
type Job struct {
	Base    string
	Stamp   string
	Spec    JobSpec
	Backend BackendConfig
	History []statelog.Row

	// Valid distinguishes "only safe to append a transition" (the
	// directory and status log exist, but spec.json failed to parse
	// or hasn't been read) from "fully hydrated".
	Valid bool

	logger    logging.Logger
	notifier  *callback.Dispatcher
}

// statusPath returns the status log path for base.
func statusPath(base string) string {
	return filepath.Join(base, statusFileName)
}

// specPath returns the spec.json path for base.
func specPath(base string) string {
	return filepath.Join(base, specFileName)
}

// Load constructs a Job from an on-disk directory, reading spec.json
// and the full status log. Malformed status rows are logged and
// skipped; a malformed or missing spec.json yields a Job with
// Valid=false carrying whatever history did load.
func Load(base string, logger logging.Logger) (*Job, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	stamp := filepath.Base(base)

	j := &Job{Base: base, Stamp: stamp, logger: logger}
	if err := j.ReadInfo(); err != nil {
		return j, err
	}
	return j, nil
}

// ReadInfo (re)reads spec.json and the status log, refreshing History
// and Valid. It is idempotent and safe to call repeatedly.
func (j *Job) ReadInfo() error {
	rows, err := statelog.Read(statusPath(j.Base), func(line string, err error) {
		j.logger.Warn("skipping malformed status row", "line", line, "error", err)
	})
	if err != nil {
		return engerrors.InvalidJob(fmt.Sprintf("reading status log for %s", j.Stamp), err)
	}
	j.History = rows

	raw, err := os.ReadFile(specPath(j.Base))
	if err != nil {
		j.Valid = false
		return engerrors.InvalidJob(fmt.Sprintf("reading spec.json for %s", j.Stamp), err)
	}
	var spec JobSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		j.Valid = false
		return engerrors.InvalidJob(fmt.Sprintf("parsing spec.json for %s", j.Stamp), err)
	}
	j.Spec = spec

	if len(rows) > 0 {
		if cfg, err := decodeBackendConfig(rows[0].Info); err == nil {
			j.Backend = cfg
		}
	}

	j.Valid = true
	return nil
}

func decodeBackendConfig(encoded string) (BackendConfig, error) {
	var cfg BackendConfig
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func encodeBackendConfig(cfg BackendConfig) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Summarize returns the current Summary over j.History.
func (j *Job) Summarize() Summary {
	return Summarize(j.History)
}

// Reached records a transition. If backdate is non-nil this is a
// replay from an authoritative poll source: the row is written with
// that timestamp and no callback fires. Otherwise the current time is
// used and the user callback (if configured) is fired; its delivery
// result is returned as the bool.
func (j *Job) Reached(ctx context.Context, jobndx int, state State, info string, backdate *time.Time) (bool, error) {
	t := time.Now()
	if backdate != nil {
		t = *backdate
	}

	if err := statelog.AppendContended(ctx, statusPath(j.Base), float64(t.UnixNano())/1e9, jobndx, string(state), info); err != nil {
		return false, engerrors.Wrap(engerrors.CodeContention, "appending transition", err)
	}
	j.History = append(j.History, statelog.Row{Time: float64(t.UnixNano()) / 1e9, Jobndx: jobndx, State: string(state), Info: info})

	if backdate != nil {
		return true, nil
	}
	if j.Spec.Callback == "" {
		return true, nil
	}

	delivered, err := j.dispatcher().Send(ctx, callback.Payload{
		JobID:  j.Stamp,
		Jobndx: jobndx,
		State:  string(state),
		Info:   info,
	}, j.Spec.Callback, j.Spec.CallbackSecret)
	if err != nil {
		logging.LogJobEvent(j.logger, j.Stamp, jobndx, string(state)).Warn("callback delivery failed", "error", err)
	}
	return delivered, nil
}

func (j *Job) dispatcher() *callback.Dispatcher {
	if j.notifier == nil {
		j.notifier = callback.NewDispatcher(j.logger)
	}
	return j.notifier
}

// Submit computes the next run index, takes the status log's exclusive
// lock, and invokes driver.Submit while still holding it — the
// lock-held external call is what yields the at-most-one-submission
// guarantee described in the data model.
func (j *Job) Submit(ctx context.Context, driver Driver) (int, string, error) {
	if !j.Valid {
		return 0, "", engerrors.InvalidJob(fmt.Sprintf("job %s is not valid", j.Stamp), nil)
	}

	nextNdx := j.Summarize().NextJobndx
	submitStart := time.Now()
	defer logging.LogDuration(j.logger, submitStart, "submit")

	f, err := statelog.Open(statusPath(j.Base))
	if err != nil {
		return 0, "", engerrors.Wrap(engerrors.CodeContention, "opening status log", err)
	}
	defer f.Close()

	if err := statelog.Lock(f); err != nil {
		return 0, "", engerrors.Wrap(engerrors.CodeContention, "locking status log", err)
	}
	defer statelog.Unlock(f)

	nativeID, err := driver.Submit(ctx, j, nextNdx)
	metrics.GetDefaultCollector().RecordSubmit(j.Spec.Backend, time.Since(submitStart), err)
	if err != nil || nativeID == "" {
		return 0, "", engerrors.SubmitError(fmt.Sprintf("backend refused submission for job %s", j.Stamp), err)
	}

	now := time.Now()
	if err := statelog.AppendLocked(f, float64(now.UnixNano())/1e9, nextNdx, string(StateQueued), nativeID); err != nil {
		return 0, "", engerrors.Wrap(engerrors.CodeContention, "recording queued transition", err)
	}
	j.History = append(j.History, statelog.Row{Time: float64(now.UnixNano()) / 1e9, Jobndx: nextNdx, State: string(StateQueued), Info: nativeID})

	// The queued transition is on disk; release the lock before the
	// best-effort callback so a slow endpoint does not block other writers.
	statelog.Unlock(f)

	if j.Spec.Callback != "" {
		if _, err := j.dispatcher().Send(ctx, callback.Payload{
			JobID: j.Stamp, Jobndx: nextNdx, State: string(StateQueued), Info: nativeID,
		}, j.Spec.Callback, j.Spec.CallbackSecret); err != nil {
			logging.LogJobEvent(j.logger, j.Stamp, nextNdx, string(StateQueued)).Warn("queued callback delivery failed", "error", err)
		}
	}

	return nextNdx, nativeID, nil
}

// Cancel records a sentinel canceled transition at jobndx 0 first (to
// close the race against a run starting between read and kill), then
// asks driver to kill every still-outstanding native id.
func (j *Job) Cancel(ctx context.Context, driver Driver) error {
	if _, err := j.Reached(ctx, 0, StateCanceled, "", nil); err != nil {
		return err
	}
	if err := j.ReadInfo(); err != nil {
		return err
	}

	outstanding := outstandingNativeIDs(j.History)
	if len(outstanding) == 0 {
		return nil
	}
	err := driver.Cancel(ctx, outstanding)
	metrics.GetDefaultCollector().RecordCancel(j.Spec.Backend, err)
	if err != nil {
		return engerrors.BackendError(fmt.Sprintf("cancel failed for job %s", j.Stamp), err)
	}
	return nil
}

// outstandingNativeIDs replays history in order, remembering the
// native id recorded at each queued transition and forgetting it once
// that index reaches a final state.
func outstandingNativeIDs(history []statelog.Row) []string {
	ids := make(map[int]string)
	for _, row := range history {
		switch State(row.State) {
		case StateQueued:
			ids[row.Jobndx] = row.Info
		case StateCompleted, StateFailed:
			delete(ids, row.Jobndx)
		}
	}
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			result = append(result, id)
		}
	}
	return result
}

// Execute runs the job's script inside the allocated execution
// environment: it records active on entry, redirects stdout/stderr to
// the per-run log files, enforces the requested walltime, and records
// completed/failed on exit.
func (j *Job) Execute(ctx context.Context, jobndx int, envOverrides map[string]string) (int, error) {
	executeStart := time.Now()
	defer logging.LogDuration(j.logger, executeStart, "execute")

	if _, err := j.Reached(ctx, jobndx, StateActive, "", nil); err != nil {
		logging.LogJobEvent(j.logger, j.Stamp, jobndx, string(StateActive)).Error("failed to record active transition", "error", err)
	}

	dir := j.Spec.Directory
	if dir == "" {
		dir = filepath.Join(j.Base, "work")
	}

	stdout, err := j.openLogFile(jobndx, "stdout")
	if err != nil {
		j.recordExecuteFailure(ctx, jobndx, err)
		return 7, err
	}
	defer stdout.Close()

	stderr, err := j.openLogFile(jobndx, "stderr")
	if err != nil {
		j.recordExecuteFailure(ctx, jobndx, err)
		return 7, err
	}
	defer stderr.Close()

	// A non-positive walltime is the minimum possible budget, not "no
	// limit": the job is expected to be terminated almost immediately.
	walltime := time.Duration(j.Spec.Resources.DurationMinutes) * time.Minute
	if walltime <= 0 {
		walltime = time.Nanosecond
	}
	runCtx, cancel := context.WithTimeout(ctx, walltime)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", j.Spec.Script)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = buildEnvironment(j.Spec, j.Base, jobndx, envOverrides)
	// When runCtx ends the command gets SIGTERM first and is killed 5
	// seconds later if it has not exited by then.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 5 * time.Second

	runErr := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if runErr == nil && exitCode == 0 {
		if _, err := j.Reached(ctx, jobndx, StateCompleted, "", nil); err != nil {
			logging.LogJobEvent(j.logger, j.Stamp, jobndx, string(StateCompleted)).Error("failed to record completed transition", "error", err)
		}
		return 0, nil
	}

	timedOut := runCtx.Err() == context.DeadlineExceeded

	info := fmt.Sprintf("%d", exitCode)
	switch {
	case timedOut:
		info = "walltime exceeded"
	case exitCode < 0:
		info = runErr.Error()
	}
	if _, err := j.Reached(ctx, jobndx, StateFailed, info, nil); err != nil {
		logging.LogJobEvent(j.logger, j.Stamp, jobndx, string(StateFailed)).Error("failed to record failed transition", "error", err)
	}

	if timedOut {
		return 9, fmt.Errorf("job %s jobndx %d exceeded its walltime", j.Stamp, jobndx)
	}
	if exitCode < 0 {
		return 7, runErr
	}
	return exitCode, nil
}

func (j *Job) recordExecuteFailure(ctx context.Context, jobndx int, err error) {
	if _, rerr := j.Reached(ctx, jobndx, StateFailed, err.Error(), nil); rerr != nil {
		logging.LogJobEvent(j.logger, j.Stamp, jobndx, string(StateFailed)).Error("failed to record failed transition after internal error", "error", rerr)
	}
}

func (j *Job) openLogFile(jobndx int, stream string) (*os.File, error) {
	path := filepath.Join(j.Base, "log", fmt.Sprintf("%s.%d", stream, jobndx))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
}

func buildEnvironment(spec JobSpec, base string, jobndx int, overrides map[string]string) []string {
	merged := make(map[string]string)
	if spec.InheritEnvironment {
		for _, kv := range os.Environ() {
			for i := 0; i < len(kv); i++ {
				if kv[i] == '=' {
					merged[kv[:i]] = kv[i+1:]
					break
				}
			}
		}
	}
	for k, v := range spec.Environment {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	merged["jobndx"] = fmt.Sprintf("%d", jobndx)
	merged["base"] = base

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

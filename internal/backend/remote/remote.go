// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package remote implements the remote-execution backend: it reuses
// the engine on the far side of an ExecClient transport, shipping the
// job directory as an archive and mirroring status and log/ back on
// every poll (work/ once the job is done).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jontk/jobctl/internal/archive"
	"github.com/jontk/jobctl/internal/engine"
	"github.com/jontk/jobctl/internal/statelog"
	opctx "github.com/jontk/jobctl/pkg/context"
	"github.com/jontk/jobctl/pkg/logging"
	"github.com/jontk/jobctl/pkg/retry"
)

func init() {
	engine.Register("remote", func(cfg engine.BackendConfig) (engine.Driver, error) {
		host := cfg.Attributes["host"]
		if host == "" {
			return nil, fmt.Errorf("remote: backend config is missing attributes.host")
		}
		return New(host, cfg, logging.NoOpLogger{}), nil
	})
}

// ExecClient abstracts running a command on a remote host and
// exchanging stdin/stdout, so the concrete transport (ssh binary,
// a mocked shell, an in-process fake) is swappable for tests.
type ExecClient interface {
	// Run executes command on the remote host, feeding stdin (if
	// non-empty) and returning captured stdout.
	Run(ctx context.Context, command string, stdin string) (stdout string, err error)
}

// SSHExecClient shells out to the ssh binary.
type SSHExecClient struct {
	Host       string
	Binary     string
	ExtraArgs  []string
}

// NewSSHExecClient creates a client that dials host via the external
// ssh binary.
func NewSSHExecClient(host string) *SSHExecClient {
	return &SSHExecClient{Host: host, Binary: "ssh"}
}

// Run implements ExecClient.
func (c *SSHExecClient) Run(ctx context.Context, command string, stdin string) (string, error) {
	args := append(append([]string{}, c.ExtraArgs...), c.Host, command)
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("remote: running %s %s: %w", c.Binary, command, err)
	}
	return out.String(), nil
}

const defaultRemotePrefix = "jobctl-jobs"

// Driver is the remote execution backend: it reuses the engine binary
// on the far side of client.
type Driver struct {
	client       ExecClient
	engineBinary string
	remotePrefix string
	logger       logging.Logger
}

// New creates a remote backend driver targeting host, using the
// engine binary and remote job prefix named in cfg.Attributes (falling
// back to "jobctl" and "$HOME/jobctl-jobs").
func New(host string, cfg engine.BackendConfig, logger logging.Logger) *Driver {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	engineBin := cfg.Attributes["engine_binary"]
	if engineBin == "" {
		engineBin = "jobctl"
	}
	prefix := cfg.Attributes["remote_prefix"]
	if prefix == "" {
		prefix = defaultRemotePrefix
	}
	return &Driver{
		client:       NewSSHExecClient(host),
		engineBinary: engineBin,
		remotePrefix: prefix,
		logger:       logger,
	}
}

// WithClient overrides the transport; used by tests to inject a fake.
func (d *Driver) WithClient(c ExecClient) *Driver {
	d.client = c
	return d
}

// Submit packs the job directory (job.Base), ships it to the remote
// bootstrap entrypoint, and returns the remote-reported native id.
func (d *Driver) Submit(ctx context.Context, job *engine.Job, jobndx int) (string, error) {
	// Shipping an archive and waiting on a remote bootstrap can run long
	// for a large working directory; make sure a caller who passed an
	// unbounded context doesn't let this hang forever.
	ctx, cancel := opctx.EnsureTimeout(ctx, opctx.DefaultLongTimeout)
	defer cancel()

	packed, err := archive.Pack(job.Base)
	if err != nil {
		return "", fmt.Errorf("remote: packing job directory for %s: %w", job.Stamp, err)
	}

	remoteBase := fmt.Sprintf("%s/%s", d.remotePrefix, job.Stamp)
	bootstrap := fmt.Sprintf("%s remote-bootstrap %s %d", d.engineBinary, remoteBase, jobndx)

	stdout, err := d.client.Run(ctx, bootstrap, packed)
	if err != nil {
		return "", opctx.WrapContextError(err, fmt.Sprintf("remote submit for %s", job.Stamp), opctx.DefaultLongTimeout)
	}

	nativeID := strings.TrimSpace(stdout)
	if nativeID == "" {
		return "", fmt.Errorf("remote: bootstrap for %s returned no native id", job.Stamp)
	}
	return nativeID, nil
}

// Cancel invokes the remote cancel entrypoint once per outstanding
// native id (the PID the bootstrap entrypoint returned on submit).
// Unlike Submit, signaling an already-dead process is harmless, so a
// dropped SSH connection is worth a few retries before giving up.
func (d *Driver) Cancel(ctx context.Context, nativeIDs []string) error {
	for _, id := range nativeIDs {
		cmd := fmt.Sprintf("%s remote-cancel %s", d.engineBinary, id)
		err := retry.Retry(ctx, retry.NewLinearBackoff(), func() error {
			_, runErr := d.client.Run(ctx, cmd, "")
			return runErr
		})
		if err != nil {
			d.logger.Warn("remote cancel failed", "native_id", id, "error", err)
		}
	}
	return nil
}

// remoteStatus is the bootstrap entrypoint's reported snapshot of the
// remote job directory: its status log plus log/work file listings.
type remoteStatus struct {
	Rows  []statelog.Row `json:"rows"`
	Log   []remoteFile   `json:"log"`
	Work  []remoteFile   `json:"work"`
}

type remoteFile struct {
	RelPath string    `json:"rel_path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Poll reads the remote job's status log and file listings, records
// any not-yet-seen (jobndx, state) transitions locally with
// backdate=row.time, and mirrors log/ (every poll) and work/ (only on
// a final overall state) from the remote side.
func (d *Driver) Poll(ctx context.Context, job *engine.Job) error {
	ctx, cancel := opctx.EnsureTimeout(ctx, opctx.DefaultTimeout)
	defer cancel()

	remoteBase := fmt.Sprintf("%s/%s", d.remotePrefix, job.Stamp)
	cmd := fmt.Sprintf("%s remote-status %s", d.engineBinary, remoteBase)

	// A status poll is read-only and repeatable every cycle anyway, so a
	// transient SSH hiccup is worth a couple of retries rather than
	// surfacing a spurious poll error.
	stdout, err := retry.RetryWithResult(ctx, retry.NewLinearBackoff(), func() (string, error) {
		return d.client.Run(ctx, cmd, "")
	})
	if err != nil {
		return opctx.WrapContextError(
			fmt.Errorf("remote: polling status for %s: %w", job.Stamp, err),
			fmt.Sprintf("remote poll for %s", job.Stamp), opctx.DefaultTimeout)
	}

	var status remoteStatus
	if err := json.Unmarshal([]byte(stdout), &status); err != nil {
		return fmt.Errorf("remote: parsing status for %s: %w", job.Stamp, err)
	}

	seen := make(map[[2]any]bool, len(job.History))
	for _, row := range job.History {
		seen[[2]any{row.Jobndx, row.State}] = true
	}

	for _, row := range status.Rows {
		key := [2]any{row.Jobndx, row.State}
		if seen[key] {
			continue
		}
		t := time.Unix(0, int64(row.Time*1e9))
		if _, err := job.Reached(ctx, row.Jobndx, engine.State(row.State), row.Info, &t); err != nil {
			return fmt.Errorf("remote: recording mirrored transition for %s: %w", job.Stamp, err)
		}
	}

	if err := d.mirrorFiles(ctx, remoteBase, job.Base, "log", status.Log); err != nil {
		d.logger.Warn("mirroring remote log directory failed", "jobid", job.Stamp, "error", err)
	}

	if job.Summarize().Done() {
		if err := d.mirrorFiles(ctx, remoteBase, job.Base, "work", status.Work); err != nil {
			d.logger.Warn("mirroring remote work directory failed", "jobid", job.Stamp, "error", err)
		}
	}

	return nil
}

// mirrorFiles copies remote files listed under subdir into the local
// job directory, skipping any file whose local copy is already at
// least as new and the same size as the remote copy.
func (d *Driver) mirrorFiles(ctx context.Context, remoteBase, localBase, subdir string, files []remoteFile) error {
	for _, rf := range files {
		localPath := filepath.Join(localBase, subdir, filepath.FromSlash(rf.RelPath))

		if info, err := os.Stat(localPath); err == nil {
			if info.Size() == rf.Size && !info.ModTime().Before(rf.ModTime) {
				continue
			}
		}

		remotePath := fmt.Sprintf("%s/%s/%s", remoteBase, subdir, rf.RelPath)
		cmd := fmt.Sprintf("%s remote-cat %s", d.engineBinary, remotePath)
		contents, err := d.client.Run(ctx, cmd, "")
		if err != nil {
			return fmt.Errorf("remote: fetching %s: %w", remotePath, err)
		}

		if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
			return fmt.Errorf("remote: creating parent of %s: %w", localPath, err)
		}
		if err := os.WriteFile(localPath, []byte(contents), 0644); err != nil {
			return fmt.Errorf("remote: writing %s: %w", localPath, err)
		}
	}
	return nil
}

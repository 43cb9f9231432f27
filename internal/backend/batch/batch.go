// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package batch implements a SLURM-style batch scheduler backend: it
// renders a submission script, hands it to an external submitter
// binary, and parses the scheduler-assigned native id from its output.
package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/template"

	"github.com/jontk/jobctl/internal/engine"
	"github.com/jontk/jobctl/pkg/logging"
	"github.com/jontk/jobctl/pkg/retry"
)

func init() {
	engine.Register("slurm", func(cfg engine.BackendConfig) (engine.Driver, error) {
		return New(cfg, logging.NoOpLogger{}), nil
	})
}

const scriptTemplate = `#!/bin/bash
#SBATCH --job-name={{.Name}}
{{- if .Partition}}
#SBATCH --partition={{.Partition}}
{{- end}}
{{- if .Account}}
#SBATCH --account={{.Account}}
{{- end}}
{{- if .Walltime}}
#SBATCH --time={{.Walltime}}
{{- end}}
{{- if .Nodes}}
#SBATCH --nodes={{.Nodes}}
{{- end}}
{{- if .Ntasks}}
#SBATCH --ntasks={{.Ntasks}}
{{- end}}
{{- if .NtasksPerNode}}
#SBATCH --ntasks-per-node={{.NtasksPerNode}}
{{- end}}
{{- if .CPUsPerTask}}
#SBATCH --cpus-per-task={{.CPUsPerTask}}
{{- end}}
{{- if .GPUsPerTask}}
#SBATCH --gpus-per-task={{.GPUsPerTask}}
{{- end}}
{{- if .Exclusive}}
#SBATCH --exclusive
{{- end}}
#SBATCH --export={{.ExportPolicy}}
{{- range $key, $value := .Attributes}}
#SBATCH --{{$key}}={{$value}}
{{- end}}

exec {{.EngineBinary}} hot-start {{.Stamp}} {{.Jobndx}} '{{.SpecJSON}}'
`

var tmpl = template.Must(template.New("sbatch").Parse(scriptTemplate))

type scriptVars struct {
	Name          string
	Partition     string
	Account       string
	Walltime      string
	Nodes         int
	Ntasks        int
	NtasksPerNode int
	CPUsPerTask   int
	GPUsPerTask   int
	Exclusive     bool
	ExportPolicy  string
	Attributes    map[string]string
	EngineBinary  string
	Stamp         string
	Jobndx        int
	SpecJSON      string
}

// Driver submits jobs to an external batch scheduler via its CLI.
type Driver struct {
	cfg            engine.BackendConfig
	logger         logging.Logger
	submitBinary   string
	cancelBinary   string
	engineBinary   string
	runSubmit      func(ctx context.Context, bin string, args ...string) (string, error)
	runCancel      func(ctx context.Context, bin string, args ...string) error
}

// New creates a batch backend driver bound to cfg.
func New(cfg engine.BackendConfig, logger logging.Logger) *Driver {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	submit := cfg.Attributes["submit_binary"]
	if submit == "" {
		submit = "sbatch"
	}
	cancel := cfg.Attributes["cancel_binary"]
	if cancel == "" {
		cancel = "scancel"
	}
	engineBin := cfg.Attributes["engine_binary"]
	if engineBin == "" {
		engineBin = "jobctl"
	}

	return &Driver{
		cfg:          cfg,
		logger:       logger,
		submitBinary: submit,
		cancelBinary: cancel,
		engineBinary: engineBin,
		runSubmit:    runCommandCapturingStdout,
		runCancel:    runCommand,
	}
}

// Submit renders the submission script and invokes the external
// submitter, returning its reported native id.
func (d *Driver) Submit(ctx context.Context, job *engine.Job, jobndx int) (string, error) {
	script, err := d.renderScript(job, jobndx)
	if err != nil {
		return "", err
	}

	scriptPath := fmt.Sprintf("%s/.jobctl-submit-%d.sh", job.Base, jobndx)
	if err := writeScript(scriptPath, script); err != nil {
		return "", err
	}

	// The scheduler controller can reject a submission transiently (a
	// restart, a momentary queue-manager hiccup); retry with backoff
	// before giving up rather than failing the whole submit on the
	// first blip.
	stdout, err := retry.RetryWithResult(ctx, retry.NewExponentialBackoff(), func() (string, error) {
		return d.runSubmit(ctx, d.submitBinary, scriptPath)
	})
	if err != nil {
		d.logger.Warn("batch submitter failed", "backend", d.submitBinary, "error", err)
		return "", nil
	}

	id := parseNativeID(stdout)
	if id == "" {
		d.logger.Warn("could not parse native id from submitter output", "output", stdout)
	}
	return id, nil
}

// Cancel invokes the external canceller with the full list of ids.
func (d *Driver) Cancel(ctx context.Context, nativeIDs []string) error {
	if len(nativeIDs) == 0 {
		return nil
	}
	return retry.Retry(ctx, retry.NewExponentialBackoff(), func() error {
		return d.runCancel(ctx, d.cancelBinary, nativeIDs...)
	})
}

// Poll is a no-op: the scheduler is authoritative and transitions are
// recorded by the job itself via Reached when it runs.
func (d *Driver) Poll(ctx context.Context, job *engine.Job) error {
	return nil
}

func (d *Driver) renderScript(job *engine.Job, jobndx int) (string, error) {
	specJSON, err := marshalSpec(job.Spec)
	if err != nil {
		return "", err
	}

	vars := scriptVars{
		Name:          job.Spec.Name,
		Partition:     d.cfg.QueueName,
		Account:       d.cfg.ProjectName,
		Walltime:      walltimeString(job.Spec.Resources.DurationMinutes),
		Nodes:         job.Spec.Resources.NodeCount,
		Ntasks:        job.Spec.Resources.ProcessCount,
		NtasksPerNode: job.Spec.Resources.ProcessesPerNode,
		CPUsPerTask:   job.Spec.Resources.CPUsPerProcess,
		GPUsPerTask:   job.Spec.Resources.GPUsPerProcess,
		Exclusive:     job.Spec.Resources.ExclusiveNode,
		ExportPolicy:  exportPolicy(job.Spec.InheritEnvironment),
		Attributes:    job.Spec.Attributes,
		EngineBinary:  d.engineBinary,
		Stamp:         job.Stamp,
		Jobndx:        jobndx,
		SpecJSON:      specJSON,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("batch: rendering submission script: %w", err)
	}
	return buf.String(), nil
}

func exportPolicy(inheritEnvironment bool) string {
	if inheritEnvironment {
		return "ALL"
	}
	return "NONE"
}

func walltimeString(minutes int) string {
	if minutes <= 0 {
		return ""
	}
	hours := minutes / 60
	mins := minutes % 60
	return fmt.Sprintf("%02d:%02d:00", hours, mins)
}

func parseNativeID(stdout string) string {
	fields := strings.Fields(stdout)
	for i, f := range fields {
		if f == "job" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	if len(fields) > 0 {
		return fields[len(fields)-1]
	}
	return ""
}

func runCommandCapturingStdout(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("batch: running %s: %w", bin, err)
	}
	return string(out), nil
}

func runCommand(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("batch: running %s: %w", bin, err)
	}
	return nil
}

func marshalSpec(spec engine.JobSpec) (string, error) {
	raw, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("batch: marshaling job spec: %w", err)
	}
	return string(raw), nil
}

func writeScript(path, contents string) error {
	if err := os.WriteFile(path, []byte(contents), 0755); err != nil {
		return fmt.Errorf("batch: writing submission script %s: %w", path, err)
	}
	return nil
}

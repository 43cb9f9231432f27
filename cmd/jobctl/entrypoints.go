// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jontk/jobctl/internal/archive"
	"github.com/jontk/jobctl/internal/backend/local"
	"github.com/jontk/jobctl/internal/engine"
	"github.com/jontk/jobctl/pkg/config"
	"github.com/jontk/jobctl/pkg/logging"
)

// reachedCmd is invoked by generated scripts (§6) to append a single
// transition and fire its callback; it exits nonzero if the callback
// was not delivered.
var reachedCmd = &cobra.Command{
	Use:    "reached BASE JOBNDX STATE [INFO]",
	Short:  "Record that a job has entered the given state",
	Args:   cobra.RangeArgs(3, 4),
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		base := args[0]
		jobndx, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("parsing jobndx %q: %w", args[1], err)
		}
		state := engine.State(args[2])
		if !state.Valid() {
			return fmt.Errorf("unrecognized state %q", args[2])
		}
		info := ""
		if len(args) == 4 {
			info = args[3]
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		job, err := engine.Load(base, logger)
		if err != nil {
			return err
		}

		ok, err := job.Reached(context.Background(), jobndx, state, info, nil)
		if err != nil {
			return err
		}
		if !ok {
			os.Exit(1)
		}
		return nil
	},
}

// hotStartCmd is invoked from inside an already-allocated execution
// context (a batch job script, a remote bootstrap) to run a job
// synchronously, creating the job record on the fly if absent.
var hotStartCmd = &cobra.Command{
	Use:    "hot-start STAMP JOBNDX JOBSPEC_JSON [ARCHIVE_B64]",
	Short:  "Run a job's script synchronously, creating its record if absent",
	Args:   cobra.RangeArgs(3, 4),
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		stamp := args[0]
		jobndx, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("parsing jobndx %q: %w", args[1], err)
		}
		var spec engine.JobSpec
		if err := json.Unmarshal([]byte(args[2]), &spec); err != nil {
			return fmt.Errorf("parsing jobspec argument: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		ctx := context.Background()

		base := filepath.Join(cfg.Prefix, stamp)
		job, err := hotStartJob(ctx, cfg, logger, base, spec)
		if err != nil {
			return err
		}

		if len(args) == 4 && args[3] != "" {
			if err := archive.Unpack(args[3], job.Spec.Directory); err != nil {
				return fmt.Errorf("unpacking archive into %s: %w", job.Spec.Directory, err)
			}
		}

		code, err := local.RunSupervised(ctx, func(runCtx context.Context) (int, error) {
			return job.Execute(runCtx, jobndx, nil)
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(code)
		return nil
	},
}

// hotStartJob loads the job record at base if it already exists
// (spec.json present), or creates it on the fly from spec — the
// directory-repair path needed so a crashed-and-restarted remote or
// batch job can re-attach to its own job record.
func hotStartJob(ctx context.Context, cfg *config.Config, logger logging.Logger, base string, spec engine.JobSpec) (*engine.Job, error) {
	if _, err := os.Stat(filepath.Join(base, "spec.json")); err == nil {
		return engine.Load(base, logger)
	}

	mgr, err := buildManager(cfg, logger)
	if err != nil {
		return nil, err
	}
	return mgr.Create(ctx, spec, base)
}

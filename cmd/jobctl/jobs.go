// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jontk/jobctl/internal/engine"
	opctx "github.com/jontk/jobctl/pkg/context"
	"github.com/jontk/jobctl/pkg/metrics"
)

var (
	runNoSubmit bool
	runHere     bool
)

var runCmd = &cobra.Command{
	Use:   "run JOBSPEC_FILE",
	Short: "Create a job directory from a jobspec file, submitting it by default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		mgr, err := buildManager(cfg, logger)
		if err != nil {
			return err
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading jobspec %s: %w", args[0], err)
		}
		var spec engine.JobSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return fmt.Errorf("parsing jobspec %s: %w", args[0], err)
		}
		if backendFlag != "" && spec.Backend == "" {
			spec.Backend = backendFlag
		}
		if runHere {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving current directory: %w", err)
			}
			spec.Directory = cwd
		}

		ctx := context.Background()
		job, err := mgr.Create(ctx, spec, "")
		if err != nil {
			return err
		}

		if runNoSubmit {
			fmt.Printf("Created %s\n", job.Stamp)
			return nil
		}

		driver, err := mgr.Backend(job)
		if err != nil {
			return err
		}
		submitCtx, cancel := opctx.WithTimeout(ctx, opctx.OpWrite, nil)
		defer cancel()
		if _, _, err := job.Submit(submitCtx, driver); err != nil {
			fmt.Printf("Created %s\n", job.Stamp)
			return err
		}
		fmt.Printf("Queued %s\n", job.Stamp)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNoSubmit, "no-submit", false, "Create the job directory without submitting it")
	runCmd.Flags().BoolVar(&runHere, "here", false, "Set spec.directory to the current working directory")
}

var startCmd = &cobra.Command{
	Use:   "start STAMP...",
	Short: "(Re)submit an existing job",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		mgr, err := buildManager(cfg, logger)
		if err != nil {
			return err
		}
		ctx := context.Background()

		for _, stamp := range args {
			job, err := engine.Load(filepath.Join(cfg.Prefix, stamp), logger)
			if err != nil {
				return err
			}
			driver, err := mgr.Backend(job)
			if err != nil {
				return err
			}
			submitCtx, cancel := opctx.WithTimeout(ctx, opctx.OpWrite, nil)
			if _, _, err := job.Submit(submitCtx, driver); err != nil {
				cancel()
				return err
			}
			cancel()
			fmt.Printf("Started %s\n", job.Stamp)
		}
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [STAMP...]",
	Short: "List jobs, or show detailed status for the given stamps",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return printStatus(args)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		mgr, err := buildManager(cfg, logger)
		if err != nil {
			return err
		}

		ctx, cancel := opctx.WithTimeout(context.Background(), opctx.OpList, nil)
		defer cancel()

		jobs, err := mgr.List(ctx)
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(jobs)
		}

		fmt.Printf("%-15s %10s %6s %4s %s\n", "jobid", "state", "jobndx", "info", "name")
		for _, job := range jobs {
			if len(job.History) == 0 {
				continue
			}
			last := job.History[len(job.History)-1]
			fmt.Printf("%-15s %10s %6d %4s %s\n", job.Stamp, last.State, last.Jobndx, last.Info, job.Spec.Name)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status STAMP...",
	Short: "Read a job's status information and history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printStatus(args)
	},
}

func printStatus(stamps []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	for _, stamp := range stamps {
		job, err := engine.Load(filepath.Join(cfg.Prefix, stamp), logger)
		if err != nil {
			return err
		}

		if jsonOutput {
			out := struct {
				Job     *engine.Job   `json:"job"`
				Metrics *metrics.Stats `json:"metrics"`
			}{Job: job, Metrics: metrics.GetDefaultCollector().GetStats()}
			if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
				return err
			}
			continue
		}

		fmt.Println(job.Spec.Name)
		fmt.Printf("    base: %s\n", job.Base)
		fmt.Printf("    work: %s\n", job.Spec.Directory)
		fmt.Println()
		fmt.Println("    time ndx state info")
		for _, row := range job.History {
			fmt.Printf("    %.3f %3d %10s %8s\n", row.Time, row.Jobndx, row.State, row.Info)
		}
	}
	return nil
}

var cancelCmd = &cobra.Command{
	Use:   "cancel STAMP...",
	Short: "Cancel a job",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		mgr, err := buildManager(cfg, logger)
		if err != nil {
			return err
		}
		ctx := context.Background()

		for _, stamp := range args {
			job, err := engine.Load(filepath.Join(cfg.Prefix, stamp), logger)
			if err != nil {
				return err
			}
			driver, err := mgr.Backend(job)
			if err != nil {
				return err
			}
			cancelCtx, cancel := opctx.WithTimeout(ctx, opctx.OpWrite, nil)
			err = job.Cancel(cancelCtx, driver)
			cancel()
			if err != nil {
				return err
			}
			fmt.Printf("Canceled %s\n", job.Stamp)
		}
		return nil
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll STAMP...",
	Short: "Poll a job's backend for state updates",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		mgr, err := buildManager(cfg, logger)
		if err != nil {
			return err
		}
		ctx := context.Background()

		for _, stamp := range args {
			job, err := engine.Load(filepath.Join(cfg.Prefix, stamp), logger)
			if err != nil {
				return err
			}
			driver, err := mgr.Backend(job)
			if err != nil {
				return err
			}
			pollCtx, cancel := opctx.WithTimeout(ctx, opctx.OpRead, nil)
			start := time.Now()
			pollErr := driver.Poll(pollCtx, job)
			cancel()
			metrics.GetDefaultCollector().RecordPoll(job.Spec.Backend, time.Since(start), pollErr)
			if pollErr != nil {
				return pollErr
			}
		}
		return printStatus(args)
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm STAMP...",
	Short: "Remove job tracking directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		failures := 0
		for _, stamp := range args {
			dir := filepath.Join(cfg.Prefix, stamp)
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() {
				fmt.Fprintf(os.Stderr, "%s not found\n", dir)
				failures++
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", dir, err)
				failures++
				continue
			}
			fmt.Printf("Deleted %s\n", stamp)
		}

		if failures > 0 {
			return fmt.Errorf("%d job(s) could not be removed", failures)
		}
		return nil
	},
}

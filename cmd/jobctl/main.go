// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command jobctl manages job directories backed by a pluggable
// execution engine: create, submit, poll, and cancel jobs across
// local, batch-scheduler, and remote backends.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/jontk/jobctl/internal/backend/batch"
	_ "github.com/jontk/jobctl/internal/backend/remote"

	// internal/backend/local is imported directly (not just for its
	// init side effect) by entrypoints.go and remote_entrypoints.go,
	// which call its Submit/Cancel/RunSupervised directly.
	"github.com/jontk/jobctl/internal/engine"
	"github.com/jontk/jobctl/pkg/config"
	"github.com/jontk/jobctl/pkg/logging"
)

var (
	// Version information (set at build time).
	Version   = "dev"
	BuildTime = ""
	Commit    = ""

	// Global flags.
	configPath string
	prefixFlag string
	backendFlag string
	jsonOutput bool
	debug      bool

	rootCmd = &cobra.Command{
		Use:     "jobctl",
		Short:   "Create, submit, and monitor jobs across pluggable execution backends",
		Long:    `jobctl manages job directories backed by a pluggable execution engine: create, submit, poll, and cancel jobs across local, batch-scheduler, and remote backends.`,
		Version: Version,
	}
)

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (env: JOBCTL_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&prefixFlag, "prefix", "", "Job directory prefix (overrides config)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Default backend name for new jobs")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of table output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(hotStartCmd)
	rootCmd.AddCommand(reachedCmd)
	rootCmd.AddCommand(remoteBootstrapCmd)
	rootCmd.AddCommand(remoteCancelCmd)
	rootCmd.AddCommand(remoteStatusCmd)
	rootCmd.AddCommand(remoteCatCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("jobctl version %s\n", Version)
		if BuildTime != "" {
			fmt.Printf("Build Time: %s\n", BuildTime)
		}
		if Commit != "" {
			fmt.Printf("Commit:     %s\n", Commit)
		}
	},
}

// loadConfig loads the effective configuration from --config (or
// JOBCTL_CONFIG), applying the --prefix override.
func loadConfig() (*config.Config, error) {
	cfg := config.NewDefault()

	path := configPath
	if path == "" {
		path = os.Getenv("JOBCTL_CONFIG")
	}
	if err := cfg.Load(path); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if prefixFlag != "" {
		cfg.Prefix = prefixFlag
	}
	cfg.Debug = cfg.Debug || debug

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process-wide logger from the loaded config.
func newLogger(cfg *config.Config) logging.Logger {
	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	logger := logging.NewLogger(&logging.Config{
		Level:   parseLevel(level),
		Format:  logging.Format(cfg.LogFormat),
		Output:  os.Stdout,
		Version: Version,
	})
	logging.SetDefaultLogger(logger)
	return logger
}

// buildManager constructs an engine.Manager from the loaded config.
func buildManager(cfg *config.Config, logger logging.Logger) (*engine.Manager, error) {
	backends := make(map[string]engine.BackendConfig, len(cfg.Backends))
	for name, b := range cfg.Backends {
		backends[name] = engine.BackendConfig{
			Type:          b.Type,
			QueueName:     b.QueueName,
			ProjectName:   b.ProjectName,
			ReservationID: b.ReservationID,
			Attributes:    b.Attributes,
		}
	}
	return engine.NewManager(engine.ManagerConfig{Prefix: cfg.Prefix, Backends: backends}, logger)
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			logging.LogOperation(logging.DefaultLogger, "main").Error("panic recovered", "panic", r)
			os.Exit(7)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeForError(err))
	}
}

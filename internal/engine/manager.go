// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	engerrors "github.com/jontk/jobctl/pkg/errors"
	"github.com/jontk/jobctl/pkg/logging"
)

// ManagerConfig is the subset of configuration the Manager needs: a
// writable prefix directory and the table of configured backends.
type ManagerConfig struct {
	Prefix   string
	Backends map[string]BackendConfig
}

// Manager allocates job directories, creates job records, and lists
// existing ones under a single filesystem prefix.
type Manager struct {
	cfg    ManagerConfig
	logger logging.Logger
}

// NewManager constructs a Manager, verifying every distinct driver type
// referenced by cfg.Backends is registered.
func NewManager(cfg ManagerConfig, logger logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if cfg.Prefix == "" {
		return nil, engerrors.New(engerrors.CodeConfigError, "manager: prefix is required")
	}

	seen := make(map[string]struct{})
	for name, backend := range cfg.Backends {
		if _, ok := seen[backend.Type]; ok {
			continue
		}
		if _, err := Check(backend.Type, backend); err != nil {
			return nil, engerrors.Wrap(engerrors.CodeConfigError, fmt.Sprintf("backend %q references unregistered driver %q", name, backend.Type), err)
		}
		seen[backend.Type] = struct{}{}
	}

	return &Manager{cfg: cfg, logger: logger}, nil
}

// Allocate proposes a millisecond-precision timestamp directory name,
// creating it exclusively and retrying on collision.
func (m *Manager) Allocate() (string, error) {
	for {
		stamp := fmt.Sprintf("%.3f", float64(time.Now().UnixNano())/1e9)
		base := filepath.Join(m.cfg.Prefix, stamp)
		err := os.Mkdir(base, 0755)
		if err == nil {
			return base, nil
		}
		if os.IsExist(err) {
			time.Sleep(time.Millisecond)
			continue
		}
		return "", engerrors.Wrap(engerrors.CodeConfigError, fmt.Sprintf("allocating job directory under %s", m.cfg.Prefix), err)
	}
}

// Create allocates (or reuses base, for hot-start repair) a job
// directory, resolves spec.Backend to a BackendConfig, merges
// attributes, writes spec.json, and records the initial new
// transition carrying the BackendConfig as row 0's info.
func (m *Manager) Create(ctx context.Context, spec JobSpec, base string) (*Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, engerrors.InvalidJob("validating job spec", err)
	}

	backend, ok := m.cfg.Backends[spec.Backend]
	if !ok {
		return nil, engerrors.InvalidJob(fmt.Sprintf("unknown backend %q", spec.Backend), nil)
	}

	merged := make(map[string]string, len(backend.Attributes)+len(spec.Attributes))
	for k, v := range backend.Attributes {
		merged[k] = v
	}
	for k, v := range spec.Attributes {
		merged[k] = v
	}
	spec.Attributes = merged

	if base == "" {
		var err error
		base, err = m.Allocate()
		if err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(base, 0755); err != nil {
		return nil, engerrors.Wrap(engerrors.CodeConfigError, fmt.Sprintf("repairing job directory %s", base), err)
	}

	if spec.Directory == "" {
		spec.Directory = filepath.Join(base, "work")
		if err := os.MkdirAll(spec.Directory, 0755); err != nil {
			return nil, engerrors.Wrap(engerrors.CodeConfigError, "creating default work directory", err)
		}
	}

	raw, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return nil, engerrors.InvalidJob("marshaling job spec", err)
	}
	if err := os.WriteFile(specPath(base), raw, 0644); err != nil {
		return nil, engerrors.Wrap(engerrors.CodeConfigError, "writing spec.json", err)
	}

	encoded, err := encodeBackendConfig(backend)
	if err != nil {
		return nil, engerrors.InvalidJob("encoding backend config for row 0", err)
	}

	job := &Job{Base: base, Stamp: filepath.Base(base), Spec: spec, Backend: backend, logger: m.logger}
	if _, err := job.Reached(ctx, 0, StateNew, encoded, nil); err != nil {
		return nil, err
	}
	job.Valid = true

	return job, nil
}

// List enumerates job directories under the prefix sorted by stamp.
// Any directory lacking a valid spec.json is silently skipped with a
// debug log.
func (m *Manager) List(ctx context.Context) ([]*Job, error) {
	entries, err := os.ReadDir(m.cfg.Prefix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, engerrors.Wrap(engerrors.CodeConfigError, fmt.Sprintf("listing prefix %s", m.cfg.Prefix), err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	jobs := make([]*Job, 0, len(names))
	for _, name := range names {
		base := filepath.Join(m.cfg.Prefix, name)
		job, err := Load(base, m.logger)
		if err != nil || !job.Valid {
			m.logger.Debug("skipping invalid job directory", "base", base, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Backend resolves the backend name used to create a job to its
// registered Driver, using row 0's persisted BackendConfig rather than
// the manager's live configuration.
func (m *Manager) Backend(job *Job) (Driver, error) {
	return Check(job.Backend.Type, job.Backend)
}

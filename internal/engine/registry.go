// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	engerrors "github.com/jontk/jobctl/pkg/errors"
)

// Driver is the contract every backend implements: submit a run,
// cancel outstanding native ids, and poll for out-of-band transitions.
type Driver interface {
	Submit(ctx context.Context, job *Job, jobndx int) (nativeID string, err error)
	Cancel(ctx context.Context, nativeIDs []string) error
	Poll(ctx context.Context, job *Job) error
}

// DriverFactory constructs a Driver from a BackendConfig.
type DriverFactory func(cfg BackendConfig) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]DriverFactory)
)

// Register installs a driver constructor under name. Called from
// backend package init()s; panics on duplicate registration since that
// indicates a build-time wiring mistake, not a runtime condition.
func Register(name string, factory DriverFactory) {
	if factory == nil {
		panic(fmt.Sprintf("engine: nil factory registered for backend %q", name))
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("engine: backend %q already registered", name))
	}
	registry[name] = factory
}

// Check resolves name to a Driver built from cfg, failing with a
// structured error naming the missing driver if name is unregistered.
func Check(name string, cfg BackendConfig) (Driver, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, engerrors.BackendError(fmt.Sprintf("no backend driver registered under %q", name), nil)
	}
	driver, err := factory(cfg)
	if err != nil {
		return nil, engerrors.BackendError(fmt.Sprintf("backend %q factory failed", name), err)
	}
	if driver == nil {
		return nil, engerrors.BackendError(fmt.Sprintf("backend %q factory returned a nil driver", name), nil)
	}
	return driver, nil
}

// List enumerates all registered driver names, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

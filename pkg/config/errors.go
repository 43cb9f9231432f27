package config

import "errors"

var (
	// ErrMissingPrefix is returned when the job directory prefix is not set.
	ErrMissingPrefix = errors.New("job directory prefix is required")

	// ErrNoBackends is returned when no backend is configured.
	ErrNoBackends = errors.New("at least one backend must be configured")

	// ErrBackendMissingType is returned when a configured backend has no driver type.
	ErrBackendMissingType = errors.New("backend config missing type")

	// ErrInvalidMaxRetries is returned when max retries is invalid.
	ErrInvalidMaxRetries = errors.New("callback max retries must be greater than or equal to 0")
)

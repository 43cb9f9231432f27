// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates engine configuration: the job
// directory prefix, the named backend table, and ambient tuning knobs
// (callback retry, logging).
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendConfig describes one configured execution backend.
type BackendConfig struct {
	Type          string            `yaml:"type" json:"type"`
	QueueName     string            `yaml:"queue_name,omitempty" json:"queue_name,omitempty"`
	ProjectName   string            `yaml:"project_name,omitempty" json:"project_name,omitempty"`
	ReservationID string            `yaml:"reservation_id,omitempty" json:"reservation_id,omitempty"`
	Attributes    map[string]string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// Config holds configuration for the job engine.
type Config struct {
	// Prefix is the writable directory under which job directories are allocated.
	Prefix string `yaml:"prefix"`

	// Backends maps a backend name to its configuration.
	Backends map[string]BackendConfig `yaml:"backends"`

	// CallbackTimeout is loaded and carried here only; the callback
	// dispatcher does not read it and uses a fixed 15-second
	// per-request timeout.
	CallbackTimeout time.Duration `yaml:"callback_timeout"`

	// CallbackMaxRetries is loaded and validated here only; the callback
	// dispatcher does not read it and takes its retry count from
	// retry.NewHTTPExponentialBackoff (3).
	CallbackMaxRetries int `yaml:"callback_max_retries"`

	// LogLevel is the minimum engine log level ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format"`

	// Debug enables verbose engine logging.
	Debug bool `yaml:"debug"`
}

// NewDefault creates a new configuration with default values.
func NewDefault() *Config {
	return &Config{
		Prefix:             getEnvOrDefault("JOBCTL_PREFIX", defaultPrefix()),
		Backends:           map[string]BackendConfig{"local": {Type: "local"}},
		CallbackTimeout:    30 * time.Second,
		CallbackMaxRetries: 3,
		LogLevel:           "info",
		LogFormat:          "text",
		Debug:              getEnvBoolOrDefault("JOBCTL_DEBUG", false),
	}
}

func defaultPrefix() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./jobctl-jobs"
	}
	return home + "/jobctl-jobs"
}

// Load reads YAML configuration from path, merging it over the receiver's
// current values, then applies environment variable overrides.
func (c *Config) Load(path string) error {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return err
		}
	}

	if prefix := os.Getenv("JOBCTL_PREFIX"); prefix != "" {
		c.Prefix = prefix
	}
	if timeout := os.Getenv("JOBCTL_CALLBACK_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.CallbackTimeout = d
		}
	}
	if maxRetries := os.Getenv("JOBCTL_CALLBACK_MAX_RETRIES"); maxRetries != "" {
		if i, err := strconv.Atoi(maxRetries); err == nil {
			c.CallbackMaxRetries = i
		}
	}
	c.Debug = getEnvBoolOrDefault("JOBCTL_DEBUG", c.Debug)

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Prefix == "" {
		return ErrMissingPrefix
	}
	if len(c.Backends) == 0 {
		return ErrNoBackends
	}
	if c.CallbackMaxRetries < 0 {
		return ErrInvalidMaxRetries
	}
	for name, b := range c.Backends {
		if b.Type == "" {
			return ErrBackendMissingType
		}
		_ = name
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogJobEventSanitizesFields(t *testing.T) {
	logger := LogJobEvent(NoOpLogger{}, "1700000000.000\ninjected", 1, "queued", "info", "ok")
	require.NotNil(t, logger)
}

func TestSanitizeLogValueStripsControlChars(t *testing.T) {
	got := sanitizeLogValue("line1\nline2\rline3\ttab")
	assert.Equal(t, "line1 line2 line3 tab", got)
}

func TestSanitizeLogValueDropsNonSpaceControl(t *testing.T) {
	got := sanitizeLogValue("abc\x07def")
	assert.Equal(t, "abcdef", got)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, FormatText, cfg.Format)
	assert.Equal(t, slog.LevelInfo, cfg.Level)
}

func TestNewLoggerJSON(t *testing.T) {
	cfg := &Config{Level: slog.LevelInfo, Format: FormatJSON, Output: os.Stdout, Version: "test"}
	logger := NewLogger(cfg)
	require.NotNil(t, logger)
	logger.Info("hello", "jobid", "1700000000.000")
}

func TestNoOpLoggerDoesNotPanic(t *testing.T) {
	l := NoOpLogger{}
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
	assert.NotNil(t, l.With("k", "v"))
}

func TestLogErrorNilIsNoop(t *testing.T) {
	LogError(NoOpLogger{}, nil, "op")
}

func TestGetErrorType(t *testing.T) {
	_, err := os.Open("/does/not/exist/at/all")
	require.Error(t, err)
	assert.Equal(t, "PathError", getErrorType(err))
}

func TestLogAPICall(t *testing.T) {
	logger := LogAPICall(NoOpLogger{}, "POST", "/callback", "host", "example.com")
	require.NotNil(t, logger)
}

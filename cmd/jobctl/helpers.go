// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"

	engerrors "github.com/jontk/jobctl/pkg/errors"
)

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// exitCodeForError maps any error surfaced to cobra's top-level
// Execute() to a process exit code via the shared error taxonomy.
func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	return engerrors.ExitCode(err)
}

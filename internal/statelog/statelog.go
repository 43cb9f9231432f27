// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package statelog implements the append-only CSV transition log that
// backs every job record: one row per state transition, guarded by
// advisory file locks so concurrent writers (and readers) never observe
// a torn row.
package statelog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jontk/jobctl/pkg/retry"
)

// ErrContended is returned by TryLock/TryRLock when the lock is already
// held by another holder and the non-blocking attempt failed.
var ErrContended = errors.New("statelog: lock contended")

// Row is a single parsed transition: time, jobndx, state, info.
type Row struct {
	Time   float64
	Jobndx int
	State  string
	Info   string
}

// Open opens (creating if necessary, mode 0644) the status log at path
// for append, returning the raw *os.File so callers can hold the lock
// across an external call (see AppendLocked).
func Open(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("statelog: open %s: %w", path, err)
	}
	return f, nil
}

// Lock acquires a blocking exclusive advisory lock on f.
func Lock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

// RLock acquires a blocking shared advisory lock on f.
func RLock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_SH)
}

// TryLock attempts a non-blocking exclusive lock, returning ErrContended
// if another holder has it.
func TryLock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrContended
		}
		return err
	}
	return nil
}

// TryRLock attempts a non-blocking shared lock, returning ErrContended
// if another holder has it.
func TryRLock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrContended
		}
		return err
	}
	return nil
}

// Unlock releases whatever advisory lock f currently holds.
func Unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// FormatRow renders a single CSV row terminated by \n. info must not
// contain a comma or newline; callers are responsible for encoding
// values that might (row 0's BackendConfig JSON is base64-encoded for
// exactly this reason).
func FormatRow(t float64, jobndx int, state, info string) (string, error) {
	if strings.ContainsAny(info, ",\n") {
		return "", fmt.Errorf("statelog: info must not contain comma or newline: %q", info)
	}
	return fmt.Sprintf("%.6f,%d,%s,%s\n", t, jobndx, state, info), nil
}

// Append opens path, takes the exclusive lock, writes one row, and
// releases the lock and file.
func Append(path string, t float64, jobndx int, state, info string) error {
	f, err := Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := Lock(f); err != nil {
		return fmt.Errorf("statelog: lock %s: %w", path, err)
	}
	defer Unlock(f)

	return AppendLocked(f, t, jobndx, state, info)
}

// AppendLocked writes one row to f, which the caller must already hold
// the exclusive lock on. Used when a transition must be recorded
// atomically alongside an external call (e.g. a backend Submit).
func AppendLocked(f *os.File, t float64, jobndx int, state, info string) error {
	row, err := FormatRow(t, jobndx, state, info)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("statelog: seek: %w", err)
	}
	if _, err := f.WriteString(row); err != nil {
		return fmt.Errorf("statelog: write: %w", err)
	}
	return f.Sync()
}

// AppendContended writes one row like Append, but acquires the lock
// through bounded non-blocking attempts (TryLock on a constant backoff)
// instead of blocking indefinitely. A supervised job child, a remote
// poll mirroring transitions, and a scheduler callback can all end up
// appending to the same job's log from independent processes; failing
// fast past a few contended attempts beats stalling a poller behind
// whichever one is holding the lock.
func AppendContended(ctx context.Context, path string, t float64, jobndx int, state, info string) error {
	f, err := Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := retry.Retry(ctx, retry.NewConstantBackoff(10*time.Millisecond, 20), func() error {
		return TryLock(f)
	}); err != nil {
		return fmt.Errorf("statelog: lock %s: %w", path, err)
	}
	defer Unlock(f)

	return AppendLocked(f, t, jobndx, state, info)
}

// Read opens path, takes a shared lock, and parses every row. Rows that
// fail to parse are skipped and reported via onBadRow (may be nil); the
// rest of the history is still returned.
func Read(path string, onBadRow func(line string, err error)) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("statelog: open %s: %w", path, err)
	}
	defer f.Close()

	if err := RLock(f); err != nil {
		return nil, fmt.Errorf("statelog: rlock %s: %w", path, err)
	}
	defer Unlock(f)

	var rows []Row
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		row, err := parseRow(line)
		if err != nil {
			if onBadRow != nil {
				onBadRow(line, err)
			}
			continue
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return rows, fmt.Errorf("statelog: scan %s: %w", path, err)
	}
	return rows, nil
}

func parseRow(line string) (Row, error) {
	parts := strings.SplitN(line, ",", 4)
	if len(parts) != 4 {
		return Row{}, fmt.Errorf("statelog: expected 4 fields, got %d", len(parts))
	}
	t, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Row{}, fmt.Errorf("statelog: bad time field %q: %w", parts[0], err)
	}
	jobndx, err := strconv.Atoi(parts[1])
	if err != nil {
		return Row{}, fmt.Errorf("statelog: bad jobndx field %q: %w", parts[1], err)
	}
	if jobndx < 0 {
		return Row{}, fmt.Errorf("statelog: negative jobndx %d", jobndx)
	}
	return Row{Time: t, Jobndx: jobndx, State: parts[2], Info: parts[3]}, nil
}

// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jontk/jobctl/internal/archive"
	"github.com/jontk/jobctl/internal/backend/local"
	"github.com/jontk/jobctl/internal/engine"
	"github.com/jontk/jobctl/internal/statelog"
)

// remoteFileEntry is the wire shape for one mirrored file, matching
// the remote backend driver's own listing struct. Kept as a local type
// so the CLI does not need to reach into that package's unexported
// fields; only the JSON shape needs to line up.
type remoteFileEntry struct {
	RelPath string    `json:"rel_path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// remoteBootstrapCmd is the far-side half of the remote backend
// (§4.H): it materializes a job directory from an archive piped on
// stdin and submits it via the local backend, printing the resulting
// native id (a PID) to stdout for the caller to capture.
var remoteBootstrapCmd = &cobra.Command{
	Use:    "remote-bootstrap BASE JOBNDX",
	Short:  "Materialize a job directory from a piped archive and submit it locally",
	Args:   cobra.ExactArgs(2),
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		base := args[0]
		jobndx, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("parsing jobndx %q: %w", args[1], err)
		}

		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading piped archive: %w", err)
		}
		encoded := strings.TrimSpace(string(raw))
		if encoded == "" {
			return fmt.Errorf("remote-bootstrap: no archive was piped on stdin")
		}
		if err := archive.Unpack(encoded, base); err != nil {
			return fmt.Errorf("unpacking archive into %s: %w", base, err)
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

		nativeID, err := local.New(logger).Submit(context.Background(), job, jobndx)
		if err != nil {
			return err
		}
		fmt.Println(nativeID)
		return nil
	},
}

// remoteCancelCmd terminates a supervised process group on the remote
// host, identified by the native id (PID) the bootstrap entrypoint
// returned.
var remoteCancelCmd = &cobra.Command{
	Use:    "remote-cancel NATIVE_ID",
	Short:  "Terminate a supervised process group by its native id",
	Args:   cobra.ExactArgs(1),
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		return local.New(logger).Cancel(context.Background(), []string{args[0]})
	},
}

// remoteStatusCmd reports a remote job directory's status log plus
// log/ and work/ file listings, the snapshot the remote backend driver
// polls and diffs against local history.
var remoteStatusCmd = &cobra.Command{
	Use:    "remote-status BASE",
	Short:  "Report a remote job directory's status log and mirrored file listings",
	Args:   cobra.ExactArgs(1),
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		base := args[0]
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		job, err := engine.Load(base, logger)
		if err != nil {
			return err
		}

		logFiles, err := listRemoteFiles(filepath.Join(base, "log"))
		if err != nil {
			return err
		}
		workFiles, err := listRemoteFiles(filepath.Join(base, "work"))
		if err != nil {
			return err
		}

		payload := struct {
			Rows []statelog.Row    `json:"rows"`
			Log  []remoteFileEntry `json:"log"`
			Work []remoteFileEntry `json:"work"`
		}{Rows: job.History, Log: logFiles, Work: workFiles}

		return json.NewEncoder(os.Stdout).Encode(payload)
	},
}

// remoteCatCmd streams a single remote file's contents to stdout, used
// by the remote backend driver to mirror individual log/work files.
var remoteCatCmd = &cobra.Command{
	Use:    "remote-cat PATH",
	Short:  "Print a file's contents to stdout",
	Args:   cobra.ExactArgs(1),
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

// listRemoteFiles walks dir (if present) and returns the relative
// path, size, and modification time of every regular file, the
// listing shape the remote backend driver uses to decide what to
// re-fetch.
func listRemoteFiles(dir string) ([]remoteFileEntry, error) {
	entries := []remoteFileEntry{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entries = append(entries, remoteFileEntry{
			RelPath: filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	return entries, nil
}

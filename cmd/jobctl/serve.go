// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/jontk/jobctl/internal/engine"
	"github.com/jontk/jobctl/pkg/config"
	"github.com/jontk/jobctl/pkg/logging"
	"github.com/jontk/jobctl/pkg/pool"
	"github.com/jontk/jobctl/pkg/streaming"
	"github.com/jontk/jobctl/pkg/watch"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve read-only job-event and log-tailing endpoints over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		// The serve command is the long-running process in this binary,
		// so it's the one worth actually trimming idle callback/remote
		// HTTP connections from the shared pool on a schedule.
		connMgr := pool.NewConnectionManager(pool.DefaultPool(), nil, logger)
		connMgr.Start()
		defer connMgr.Stop()

		sseServer := streaming.NewSSEServer(jobSnapshotFetcher(cfg, logger))
		wsServer := streaming.NewWebSocketServer(jobLogTailer(cfg, logger))

		router := mux.NewRouter()
		router.HandleFunc("/jobs/{stamp}/events", func(w http.ResponseWriter, r *http.Request) {
			sseServer.HandleSSE(w, r, mux.Vars(r)["stamp"])
		})
		router.HandleFunc("/jobs/{stamp}/logs/{stream}", func(w http.ResponseWriter, r *http.Request) {
			vars := mux.Vars(r)
			wsServer.HandleWebSocket(w, r, vars["stamp"], vars["stream"])
		})

		logger.Info("serving job streams", "addr", serveAddr)
		return http.ListenAndServe(serveAddr, router)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Address to listen on")
}

// jobSnapshotFetcher adapts a job's Summarize output to the
// watch.SnapshotFunc shape the SSE server polls.
func jobSnapshotFetcher(cfg *config.Config, logger logging.Logger) streaming.JobFetcher {
	return func(stamp string) (watch.SnapshotFunc, error) {
		base := filepath.Join(cfg.Prefix, stamp)
		if _, err := os.Stat(base); err != nil {
			return nil, fmt.Errorf("unknown job %s", stamp)
		}

		return func(ctx context.Context) (watch.Snapshot, error) {
			job, err := engine.Load(base, logger)
			if err != nil {
				return nil, err
			}
			summary := job.Summarize()
			snapshot := make(watch.Snapshot, len(summary.ByState))
			for state, indices := range summary.ByState {
				snapshot[string(state)] = indices
			}
			return snapshot, nil
		}, nil
	}
}

// jobLogTailer adapts a job's stdout/stderr log file to the
// streaming.TailFunc shape the websocket server polls, reading any
// bytes appended since the previous call.
func jobLogTailer(cfg *config.Config, logger logging.Logger) streaming.LogFetcher {
	return func(stamp, stream string) (streaming.TailFunc, error) {
		if stream != "stdout" && stream != "stderr" {
			return nil, fmt.Errorf("unknown log stream %q", stream)
		}
		base := filepath.Join(cfg.Prefix, stamp)
		if _, err := os.Stat(base); err != nil {
			return nil, fmt.Errorf("unknown job %s", stamp)
		}

		var offset int64
		return func(ctx context.Context) ([]byte, error) {
			job, err := engine.Load(base, logger)
			if err != nil {
				return nil, nil
			}
			summary := job.Summarize()
			activeNdx := latestRunIndex(summary)
			if activeNdx < 0 {
				return nil, nil
			}

			path := filepath.Join(base, "log", fmt.Sprintf("%s.%d", stream, activeNdx))
			f, err := os.Open(path)
			if err != nil {
				return nil, nil
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, nil
			}
			if info.Size() <= offset {
				return nil, nil
			}

			if _, err := f.Seek(offset, 0); err != nil {
				return nil, err
			}
			buf := make([]byte, info.Size()-offset)
			n, err := f.Read(buf)
			if err != nil && n == 0 {
				return nil, err
			}
			offset += int64(n)
			return buf[:n], nil
		}, nil
	}
}

// latestRunIndex picks the run index most likely to still be
// producing output: the active run if any, else the most recently
// queued one.
func latestRunIndex(summary engine.Summary) int {
	if active := summary.ByState[engine.StateActive]; len(active) > 0 {
		return maxInt(active)
	}
	if queued := summary.ByState[engine.StateQueued]; len(queued) > 0 {
		return maxInt(queued)
	}
	return -1
}

func maxInt(values []int) int {
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package streaming exposes live job-transition updates over HTTP: an SSE
// endpoint for state-change events and a websocket endpoint for tailing a
// job's stdout/stderr.
package streaming

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jontk/jobctl/pkg/watch"
)

// SSEServer serves job-transition events as Server-Sent Events. JobFetcher
// resolves a stamp to a watch.SnapshotFunc bound to that job's history.
type SSEServer struct {
	fetcher JobFetcher
}

// JobFetcher resolves a job stamp to a poller snapshot function, or an
// error if no such job exists.
type JobFetcher func(stamp string) (watch.SnapshotFunc, error)

// NewSSEServer creates a new Server-Sent Events server.
func NewSSEServer(fetcher JobFetcher) *SSEServer {
	return &SSEServer{fetcher: fetcher}
}

// SSEEvent represents a single Server-Sent Event.
type SSEEvent struct {
	ID    string      `json:"id,omitempty"`
	Event string      `json:"event,omitempty"`
	Data  interface{} `json:"data"`
	Retry int         `json:"retry,omitempty"`
}

// HandleSSE handles GET /jobs/{stamp}/events, streaming state-transition
// events for the named job until the client disconnects.
func (sse *SSEServer) HandleSSE(w http.ResponseWriter, r *http.Request, stamp string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()

	snapshot, err := sse.fetcher(stamp)
	if err != nil {
		sse.writeSSEEvent(w, flusher, SSEEvent{
			Event: "error",
			Data:  map[string]string{"error": err.Error()},
		})
		return
	}

	poller := watch.NewJobPoller(snapshot)
	events := poller.Watch(ctx)

	sse.writeSSEEvent(w, flusher, SSEEvent{
		Event: "connected",
		Data:  map[string]string{"stamp": stamp, "status": "connected"},
	})

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				sse.writeSSEEvent(w, flusher, SSEEvent{
					Event: "stream_closed",
					Data:  map[string]string{"stamp": stamp, "status": "closed"},
				})
				return
			}
			seq++
			sse.writeSSEEvent(w, flusher, SSEEvent{
				ID:    fmt.Sprintf("%s-%d", stamp, seq),
				Event: "job_transition",
				Data:  ev,
			})
		}
	}
}

// writeSSEEvent writes one SSE event frame and flushes it to the client.
func (sse *SSEServer) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event SSEEvent) {
	if event.ID != "" {
		fmt.Fprintf(w, "id: %s\n", event.ID)
	}
	if event.Event != "" {
		fmt.Fprintf(w, "event: %s\n", event.Event)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		fmt.Fprintf(w, "data: {\"error\": \"failed to marshal data\"}\n")
	} else {
		fmt.Fprintf(w, "data: %s\n", string(data))
	}

	if event.Retry > 0 {
		fmt.Fprintf(w, "retry: %d\n", event.Retry)
	}

	fmt.Fprintf(w, "\n")
	flusher.Flush()
}

// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package streaming

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketServer tails a job's stdout/stderr log files over a websocket
// connection, polling for newly-appended bytes the way the remote backend
// mirrors logs during a poll.
type WebSocketServer struct {
	tailer   LogFetcher
	upgrader websocket.Upgrader
	interval time.Duration
}

// LogFetcher resolves (stamp, stream) to a TailFunc, or an error if the
// job or the named stream does not exist. stream is "stdout" or "stderr".
type LogFetcher func(stamp, stream string) (TailFunc, error)

// TailFunc returns any log bytes appended since the previous call. It
// returns a nil/empty slice, not an error, when nothing new is available.
type TailFunc func(ctx context.Context) ([]byte, error)

// NewWebSocketServer creates a new log-tailing WebSocket server.
func NewWebSocketServer(tailer LogFetcher) *WebSocketServer {
	return &WebSocketServer{
		tailer: tailer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		interval: time.Second,
	}
}

// WithPollInterval sets a custom tail-polling interval.
func (ws *WebSocketServer) WithPollInterval(interval time.Duration) *WebSocketServer {
	ws.interval = interval
	return ws
}

// StreamMessage is a single frame sent to the client over the websocket.
type StreamMessage struct {
	Type      string    `json:"type"`
	Stream    string    `json:"stream"`
	Data      string    `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// HandleWebSocket handles GET /jobs/{stamp}/logs/{stream}, tailing the
// requested log stream to the client until it disconnects.
func (ws *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request, stamp, stream string) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Printf("websocket close error: %v", cerr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	tail, err := ws.tailer(stamp, stream)
	if err != nil {
		ws.sendMessage(conn, StreamMessage{Type: "error", Stream: stream, Error: err.Error(), Timestamp: time.Now()})
		return
	}

	go ws.discardIncoming(conn, cancel)
	ws.tailLoop(ctx, conn, stream, tail)
}

// discardIncoming drains client-sent frames (this endpoint is read-only
// from the client's perspective) and cancels the stream on disconnect.
func (ws *WebSocketServer) discardIncoming(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (ws *WebSocketServer) tailLoop(ctx context.Context, conn *websocket.Conn, stream string, tail TailFunc) {
	ticker := time.NewTicker(ws.interval)
	defer ticker.Stop()

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
			chunk, err := tail(ctx)
			if err != nil {
				ws.sendMessage(conn, StreamMessage{Type: "error", Stream: stream, Error: err.Error(), Timestamp: time.Now()})
				return
			}
			if len(chunk) == 0 {
				continue
			}
			ws.sendMessage(conn, StreamMessage{
				Type:      "log",
				Stream:    stream,
				Data:      string(chunk),
				Timestamp: time.Now(),
			})
		}
	}
}

func (ws *WebSocketServer) sendMessage(conn *websocket.Conn, msg StreamMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}

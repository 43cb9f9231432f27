// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package streaming

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestHandleWebSocketTailsLogChunks(t *testing.T) {
	var calls int
	tailer := func(stamp, stream string) (TailFunc, error) {
		return func(ctx context.Context) ([]byte, error) {
			calls++
			if calls == 1 {
				return []byte("hello\n"), nil
			}
			return nil, nil
		}, nil
	}

	srv := NewWebSocketServer(tailer).WithPollInterval(5 * time.Millisecond)

	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/123/logs/stdout", func(w http.ResponseWriter, r *http.Request) {
		srv.HandleWebSocket(w, r, "123", "stdout")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/jobs/123/logs/stdout"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "log", msg.Type)
	require.Equal(t, "hello\n", msg.Data)
}

func TestHandleWebSocketReportsTailerError(t *testing.T) {
	tailer := func(stamp, stream string) (TailFunc, error) {
		return nil, assertErr("no such stream")
	}
	srv := NewWebSocketServer(tailer)

	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/1/logs/stderr", func(w http.ResponseWriter, r *http.Request) {
		srv.HandleWebSocket(w, r, "1", "stderr")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/jobs/1/logs/stderr"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "error", msg.Type)
	require.Equal(t, "no such stream", msg.Error)
}

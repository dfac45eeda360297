package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/d2ha/d2ha/lib/fleet"
	"github.com/d2ha/d2ha/lib/logger"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const logWriteTimeout = 10 * time.Second

// LogError is sent on the websocket when the stream cannot start
type LogError struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// ContainerLogs returns the trailing log lines as text, or follows the log
// over a websocket when the request is an upgrade. Each websocket text
// message is one log line.
func (s *ApiService) ContainerLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tail := queryInt(r, "tail", 200)

	if !websocket.IsWebSocketUpgrade(r) {
		out, err := s.FleetManager.Logs(r.Context(), id, tail)
		if err != nil {
			fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(out))
		return
	}

	ctx := r.Context()
	log := logger.FromContext(ctx)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(ctx, "websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	// The request context outlives the hijacked connection, so the stream is
	// bound to the reader noticing the client going away.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lines, err := s.FleetManager.StreamLogs(ctx, id, fleet.LogOptions{Tail: tail, Follow: true, Timeout: -1})
	if err != nil {
		msg, _ := json.Marshal(LogError{Type: "error", Message: err.Error()})
		_ = ws.WriteMessage(websocket.TextMessage, msg)
		return
	}

	log.InfoContext(ctx, "log stream started", "id", id, "tail", tail)
	for line := range lines {
		_ = ws.SetWriteDeadline(time.Now().Add(logWriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			log.DebugContext(ctx, "log stream closed by client", "id", id, "error", err)
			cancel()
			for range lines {
			}
			return
		}
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "end of log"),
		time.Now().Add(time.Second))
	log.InfoContext(ctx, "log stream ended", "id", id)
}

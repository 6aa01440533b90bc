package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/af-corp/chatrelay/internal/httputil"
)

// heartbeatInterval keeps idle SSE connections alive through proxies and
// lets dead clients surface as write errors.
const heartbeatInterval = 25 * time.Second

// Events handles GET /bus/v1/events: a long-lived SSE stream of worker
// broadcasts. Each broadcast becomes one event whose name is the message
// type and whose data is the payload. Slow clients lose broadcasts rather
// than blocking the worker.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return
	}

	events, cancel := h.bus.Subscribe(16)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	slog.Info("broadcast stream opened", "request_id", reqID, "remote", r.RemoteAddr)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("broadcast stream closed", "request_id", reqID)
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case env, open := <-events:
			if !open {
				return
			}
			payload := env.Payload
			if len(payload) == 0 {
				payload = []byte("null")
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, payload); err != nil {
				slog.Warn("broadcast stream write failed", "request_id", reqID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// Package server exposes the internal bus over loopback HTTP. The isolated
// contexts POST one-shot request/reply envelopes to the message endpoint and
// hold a long-lived SSE connection for worker broadcasts.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/af-corp/chatrelay/internal/bus"
	"github.com/af-corp/chatrelay/internal/httputil"
	"github.com/af-corp/chatrelay/internal/ratelimit"
)

// Handler serves the bus endpoints.
type Handler struct {
	bus     *bus.LocalBus
	version string
}

func NewHandler(b *bus.LocalBus, version string) *Handler {
	return &Handler{bus: b, version: version}
}

// Options configures the assembled router.
type Options struct {
	Limiter *ratelimit.Limiter
	BusRPM  int
	Metrics bool
}

// Routes assembles the chi router for the worker daemon.
func (h *Handler) Routes(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/chatrelay/v1/health", h.Health)
	if opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(ratelimit.Middleware(opts.Limiter, opts.BusRPM))
		}
		r.Post("/bus/v1/message", h.Message)
		r.Get("/bus/v1/events", h.Events)
	})
	return r
}

// Message handles POST /bus/v1/message: one envelope in, exactly one
// response out. 503 means no worker is attached; senders treat it as the
// retryable disconnect condition.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var env bus.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	if env.Type == "" {
		httputil.WriteBadRequestError(w, reqID, "type is required")
		return
	}

	resp, err := h.bus.Send(r.Context(), env)
	if err != nil {
		if bus.IsDisconnect(err) {
			httputil.WriteNoReceiverError(w, reqID)
			return
		}
		httputil.WriteInternalError(w, reqID, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	// A nil response is the worker-died-mid-handling condition; it encodes
	// as JSON null and the client treats it like a disconnect.
	json.NewEncoder(w).Encode(resp)
}

// Health handles GET /chatrelay/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "healthy",
		"version":        h.version,
		"workerAttached": h.bus.Attached(),
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contextKey string

const requestIDKey contextKey = "request_id"

func generateRequestID() string {
	now := time.Now()
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", now.UnixMilli(), hex.EncodeToString(b))
}

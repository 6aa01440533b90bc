package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware_PassesAndSetsHeaders(t *testing.T) {
	mw := Middleware(NewLimiter(nil), 60)
	var called bool
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/bus/v1/message", nil)
	r.Header.Set("X-Chatrelay-Context", "page")
	h.ServeHTTP(w, r)

	if !called {
		t.Fatal("next handler not reached")
	}
	if got := w.Header().Get("X-RateLimit-Limit-Requests"); got != "60" {
		t.Errorf("limit header = %q", got)
	}
	if w.Header().Get("X-RateLimit-Remaining-Requests") == "" {
		t.Error("remaining header missing")
	}
}

func TestMiddleware_ZeroRPMDisablesLimit(t *testing.T) {
	mw := Middleware(NewLimiter(nil), 0)
	var called bool
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/bus/v1/message", nil))
	if !called {
		t.Fatal("next handler not reached")
	}
	if w.Header().Get("X-RateLimit-Limit-Requests") != "" {
		t.Error("disabled limiter should not write limit headers")
	}
}

func TestQuota_NilRedis_FailOpen(t *testing.T) {
	q := NewQuotaTracker(nil)
	result, err := q.CheckDailyOps(context.Background(), "uid-1", 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Error("expected allowed when Redis is nil")
	}
	if err := q.RecordOp(context.Background(), "uid-1"); err != nil {
		t.Errorf("RecordOp: %v", err)
	}
}

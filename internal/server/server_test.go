package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/af-corp/chatrelay/internal/bus"
	"github.com/af-corp/chatrelay/internal/httputil"
)

type echoReceiver struct{}

func (echoReceiver) Receive(ctx context.Context, env bus.Envelope) *bus.Response {
	return bus.Succeed(map[string]string{"echoed": string(env.Type)})
}

type deadReceiver struct{}

func (deadReceiver) Receive(ctx context.Context, env bus.Envelope) *bus.Response { return nil }

func newTestServer(t *testing.T, b *bus.LocalBus) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(b, "test").Routes(Options{}))
	t.Cleanup(srv.Close)
	return srv
}

func postMessage(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/bus/v1/message", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	return resp
}

func TestMessage_RoundTrip(t *testing.T) {
	b := bus.NewLocalBus()
	b.Attach(echoReceiver{})
	srv := newTestServer(t, b)

	resp := postMessage(t, srv.URL, `{"type":"getAuthState"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out bus.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("response = %+v", out)
	}
	var data map[string]string
	if err := json.Unmarshal(out.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["echoed"] != "getAuthState" {
		t.Errorf("data = %v", data)
	}
}

func TestMessage_NoReceiverIs503(t *testing.T) {
	srv := newTestServer(t, bus.NewLocalBus())

	resp := postMessage(t, srv.URL, `{"type":"getAuthState"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var body httputil.APIError
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != "no_receiver" {
		t.Errorf("code = %q", body.Error.Code)
	}
}

func TestMessage_DeadReceiverEncodesNull(t *testing.T) {
	b := bus.NewLocalBus()
	b.Attach(deadReceiver{})
	srv := newTestServer(t, b)

	resp := postMessage(t, srv.URL, `{"type":"getAuthState"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(raw)) != "null" {
		t.Errorf("body = %s, want null", raw)
	}
}

func TestMessage_BadRequests(t *testing.T) {
	b := bus.NewLocalBus()
	b.Attach(echoReceiver{})
	srv := newTestServer(t, b)

	for _, body := range []string{`{nope`, `{"payload":{}}`} {
		resp := postMessage(t, srv.URL, body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestHealth_ReportsWorkerAttachment(t *testing.T) {
	b := bus.NewLocalBus()
	srv := newTestServer(t, b)

	var health struct {
		Status         string `json:"status"`
		WorkerAttached bool   `json:"workerAttached"`
	}
	get := func() {
		resp, err := http.Get(srv.URL + "/chatrelay/v1/health")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatal(err)
		}
	}

	get()
	if health.Status != "healthy" || health.WorkerAttached {
		t.Errorf("health = %+v, want healthy and detached", health)
	}

	b.Attach(echoReceiver{})
	get()
	if !health.WorkerAttached {
		t.Error("expected workerAttached after Attach")
	}
}

func TestEvents_DeliversBroadcasts(t *testing.T) {
	b := bus.NewLocalBus()
	srv := newTestServer(t, b)

	req, _ := http.NewRequest("GET", srv.URL+"/bus/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// Let the subscription register before broadcasting.
	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	env, _ := bus.NewEnvelope(bus.MsgType("authStateUpdated"), map[string]bool{"isLoggedIn": true})
	deadline := time.After(2 * time.Second)
	for sent := false; ; {
		if !sent {
			b.Broadcast(env)
			sent = true
		}
		select {
		case line, open := <-lines:
			if !open {
				t.Fatal("stream closed before event arrived")
			}
			if line == "event: authStateUpdated" {
				select {
				case data := <-lines:
					if data != `data: {"isLoggedIn":true}` {
						t.Errorf("data line = %q", data)
					}
					return
				case <-deadline:
					t.Fatal("data line never arrived")
				}
			}
		case <-deadline:
			t.Fatal("event never arrived")
		case <-time.After(50 * time.Millisecond):
			// The subscription may not have registered yet; send again.
			b.Broadcast(env)
		}
	}
}

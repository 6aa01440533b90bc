// Package intercept observes the host page's own network traffic from inside
// its realm. The wrapper is passive: it forwards every exchange untouched and
// re-announces interesting headers and response bodies on the shared event
// target.
package intercept

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/af-corp/chatrelay/internal/events"
)

// Header names observed on outgoing requests. Values are merged into the
// accumulated captured set; unrelated headers are never touched.
var capturedHeaderNames = []string{
	"Authorization",
	"Oai-Device-Id",
	"Oai-Language",
}

// responseRule maps a URL path substring to the event emitted when the
// response body carries the expected field. A response may match any number
// of rules; each match is independent.
type responseRule struct {
	pathSubstring string
	field         string
	topic         events.Topic
}

var responseRules = []responseRule{
	{"/api/auth/session", "accessToken", events.TopicAuthSession},
	{"/accounts/check", "accounts", events.TopicAccountCheck},
	{"/conversation_limit", "message_cap", events.TopicConversationLimit},
	{"/models", "models", events.TopicModels},
}

// Interceptor wraps the page's transport exactly once. It is the sole path
// page fetches flow through after installation.
type Interceptor struct {
	next   http.RoundTripper
	target *events.Target

	mu       sync.Mutex
	captured map[string]string
}

// Wrap installs the interceptor over next. Wrapping an already-wrapped
// transport returns it unchanged, so installation is idempotent.
func Wrap(next http.RoundTripper, target *events.Target) *Interceptor {
	if i, ok := next.(*Interceptor); ok {
		return i
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return &Interceptor{
		next:     next,
		target:   target,
		captured: make(map[string]string),
	}
}

// Captured returns a copy of the accumulated header set.
func (i *Interceptor) Captured() map[string]string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[string]string, len(i.captured))
	for k, v := range i.captured {
		out[k] = v
	}
	return out
}

// RoundTrip forwards req to the wrapped transport and returns its result or
// error unchanged. Observation failures never reach the caller.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	i.observeRequest(req)

	resp, err := i.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	i.observeResponse(resp)
	return resp, nil
}

func (i *Interceptor) observeRequest(req *http.Request) {
	defer func() { recover() }()

	found := false
	i.mu.Lock()
	for _, name := range capturedHeaderNames {
		if v := req.Header.Get(name); v != "" {
			i.captured[name] = v
			found = true
		}
	}
	var snapshot map[string]string
	if found {
		snapshot = make(map[string]string, len(i.captured))
		for k, v := range i.captured {
			snapshot[k] = v
		}
	}
	i.mu.Unlock()

	if !found {
		return
	}
	detail, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	i.target.Dispatch(events.Event{Topic: events.TopicHeaders, Detail: detail})
}

// observeResponse checks the resolved URL against the rule set and, for each
// match, parses a clone of the body. The real body is restored for the page
// whether or not parsing succeeds.
func (i *Interceptor) observeResponse(resp *http.Response) {
	defer func() { recover() }()

	if resp.Request == nil || resp.Request.URL == nil || resp.Body == nil {
		return
	}
	path := resp.Request.URL.Path

	var matched []responseRule
	for _, rule := range responseRules {
		if strings.Contains(path, rule.pathSubstring) {
			matched = append(matched, rule)
		}
	}
	if len(matched) == 0 {
		return
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if readErr != nil {
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		// Parse failure on the clone is ignored; the page still gets the
		// original bytes.
		return
	}

	for _, rule := range matched {
		raw, ok := fields[rule.field]
		if !ok {
			continue
		}
		detail, err := json.Marshal(map[string]json.RawMessage{rule.field: raw})
		if err != nil {
			continue
		}
		i.target.Dispatch(events.Event{Topic: rule.topic, Detail: detail})
	}
}

// Package upstream is the single authoritative path for calls to the chat
// service's HTTP API. Every call re-reads the persisted credential store
// first, so the freshest captured headers are always attached, and every
// call goes through one shared pipeline for preconditions, error
// classification, and body handling.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"

	"github.com/af-corp/chatrelay/internal/creds"
	"github.com/af-corp/chatrelay/internal/telemetry"
)

// maxErrorBodyBytes bounds the diagnostic excerpt carried by StatusError.
const maxErrorBodyBytes = 512

// ErrMissingCredentials reports that no usable captured headers exist;
// the call is rejected before any network round trip.
var ErrMissingCredentials = errors.New("required auth headers not captured yet: open the chat site so authorization or device id can be observed")

// StatusError is a non-2xx upstream reply, carrying a truncated body excerpt.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// ParseError is a declared-JSON response whose body did not parse.
type ParseError struct {
	cause error
}

func (e *ParseError) Error() string { return "could not parse upstream response: " + e.cause.Error() }
func (e *ParseError) Unwrap() error { return e.cause }

// Client attaches captured credentials to every upstream call. One instance
// lives per worker lifetime; handlers receive it by injection.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      creds.Store
	metrics    *telemetry.Metrics

	mu      sync.Mutex
	headers map[string]string
}

// NewClient builds the client. If httpClient is nil a cookie-keeping default
// is used; session cookies ride along with every call.
func NewClient(baseURL string, httpClient *http.Client, store creds.Store) *Client {
	if httpClient == nil {
		jar, _ := cookiejar.New(nil)
		httpClient = &http.Client{Jar: jar}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		store:      store,
		headers:    make(map[string]string),
	}
}

// WithMetrics attaches a metrics sink; every call that reaches the network is
// counted by operation and status class.
func (c *Client) WithMetrics(m *telemetry.Metrics) *Client {
	c.metrics = m
	return c
}

// refresh merges newly persisted credential values into the in-memory set.
// Persisted storage is additive truth: values found there overwrite, values
// absent there are kept.
func (c *Client) refresh(ctx context.Context) error {
	stored, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("refresh credentials: %w", err)
	}
	c.mu.Lock()
	for k, v := range stored {
		if v != "" {
			c.headers[k] = v
		}
	}
	c.mu.Unlock()
	return nil
}

// headerSnapshot returns a copy of the current header set.
func (c *Client) headerSnapshot() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		out[k] = v
	}
	return out
}

func (c *Client) record(op, status string) {
	if c.metrics != nil {
		c.metrics.RecordUpstream(op, status)
	}
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func (c *Client) call(ctx context.Context, op, method, path string, body any, binary bool) ([]byte, error) {
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	headers := c.headerSnapshot()
	if headers[creds.HeaderAuthorization] == "" && headers[creds.HeaderDeviceID] == "" {
		return nil, ErrMissingCredentials
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if !binary {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(op, "network_error")
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()
	c.record(op, statusClass(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(excerpt)}
	}

	if resp.StatusCode == http.StatusNoContent || resp.ContentLength == 0 {
		if binary {
			return nil, nil
		}
		return []byte("{}"), nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if binary {
		return data, nil
	}
	if !json.Valid(data) {
		return nil, &ParseError{cause: errors.New("invalid JSON body")}
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body any) (json.RawMessage, error) {
	data, err := c.call(ctx, op, method, path, body, false)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (c *Client) doBinary(ctx context.Context, op, method, path string) ([]byte, error) {
	return c.call(ctx, op, method, path, nil, true)
}

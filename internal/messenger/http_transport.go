package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/af-corp/chatrelay/internal/bus"
)

// HTTPTransport sends envelopes to the worker's local bus endpoint. The
// worker is not guaranteed to be resident: connection refused and 503 map to
// the disconnect class so the client's retry loop can cover restarts.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	// caller names the sending context for the endpoint's per-context rate
	// limiting; empty means the server buckets by remote address.
	caller string
}

func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{baseURL: baseURL, client: client}
}

// WithCaller sets the context name sent with every envelope.
func (t *HTTPTransport) WithCaller(name string) *HTTPTransport {
	t.caller = name
	return t
}

func (t *HTTPTransport) Send(ctx context.Context, env bus.Envelope) (*bus.Response, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/bus/v1/message", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create bus request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.caller != "" {
		req.Header.Set("X-Chatrelay-Context", t.caller)
	}

	httpResp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusServiceUnavailable {
		return nil, bus.ErrNoReceiver
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bus endpoint returned status %d", httpResp.StatusCode)
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read bus reply: %w", err)
	}

	var resp *bus.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode bus reply: %w", err)
	}
	// JSON null decodes to a nil response: the worker died mid-handling.
	return resp, nil
}

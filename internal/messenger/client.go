// Package messenger turns the one-shot, reply-less bus primitive into an
// awaitable typed call with a uniform error contract. Channel-level failures
// are retried a bounded number of times and then surfaced as stable,
// user-facing errors; an operation's own failure is never retried.
package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/af-corp/chatrelay/internal/bus"
	"github.com/af-corp/chatrelay/internal/retry"
	"github.com/af-corp/chatrelay/internal/telemetry"
)

// ErrWorkerUnavailable replaces raw transport errors once retries are
// exhausted. Callers render it directly.
var ErrWorkerUnavailable = errors.New("background service unavailable, try reloading the extension")

// ErrWorkerCrashed reports that the worker terminated mid-handling and the
// reply was lost; the operation may or may not have happened.
var ErrWorkerCrashed = errors.New("background service restarted mid-request, try again")

// errNilReply marks an empty reply inside the retry loop; it is treated the
// same as a disconnect until retries run out.
var errNilReply = errors.New("messenger: empty reply")

// Client sends typed requests and awaits correlated replies.
type Client struct {
	transport bus.Transport
	policy    retry.Policy
	metrics   *telemetry.Metrics
}

// NewPageClient builds the client used by UI surfaces embedded in the host
// page. The page survives worker restarts often, so it retries a little
// longer.
func NewPageClient(t bus.Transport) *Client {
	return newClient(t, 4, 500*time.Millisecond)
}

// NewExtensionClient builds the client used by the standalone extension
// pages.
func NewExtensionClient(t bus.Transport) *Client {
	return newClient(t, 3, 250*time.Millisecond)
}

func newClient(t bus.Transport, attempts int, delay time.Duration) *Client {
	c := &Client{
		transport: t,
		policy: retry.Policy{
			Attempts: attempts,
			Delay:    delay,
			Retryable: func(err error) bool {
				return errors.Is(err, errNilReply) || bus.IsDisconnect(err)
			},
		},
	}
	c.policy.OnRetry = func(int) {
		if c.metrics != nil {
			c.metrics.RecordRetry("messenger")
		}
	}
	return c
}

// WithMetrics attaches a metrics sink; disconnect-triggered retries are
// counted against it.
func (c *Client) WithMetrics(m *telemetry.Metrics) *Client {
	c.metrics = m
	return c
}

// Send submits one operation and returns its result data. payload may be nil.
// Success with absent data resolves to JSON null.
func (c *Client) Send(ctx context.Context, msgType bus.MsgType, payload any) (json.RawMessage, error) {
	env, err := bus.NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}

	var resp *bus.Response
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		r, sendErr := c.transport.Send(ctx, env)
		if sendErr != nil {
			return sendErr
		}
		if r == nil {
			return errNilReply
		}
		resp = r
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, errNilReply):
			return nil, ErrWorkerCrashed
		case bus.IsDisconnect(err):
			return nil, ErrWorkerUnavailable
		default:
			return nil, err
		}
	}

	if !resp.Success {
		if resp.Error == nil {
			return nil, &bus.OpError{Message: string(msgType) + " failed"}
		}
		return nil, resp.Error.Err()
	}
	if len(resp.Data) == 0 {
		return json.RawMessage("null"), nil
	}
	return resp.Data, nil
}

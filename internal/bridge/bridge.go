// Package bridge relays interceptor observations from the page realm into
// the internal bus. Delivery is best effort: the privileged side may be
// asleep or mid-restart, so sends retry briefly on disconnect and are
// otherwise abandoned. No caller waits on these sends.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/af-corp/chatrelay/internal/bus"
	"github.com/af-corp/chatrelay/internal/events"
	"github.com/af-corp/chatrelay/internal/retry"
	"github.com/af-corp/chatrelay/internal/telemetry"
)

const (
	defaultAttempts = 3
	defaultDelay    = 250 * time.Millisecond
)

var topicMessages = map[events.Topic]bus.MsgType{
	events.TopicHeaders:           bus.TypeHeadersReceived,
	events.TopicAuthSession:       bus.TypeAuthReceived,
	events.TopicAccountCheck:      bus.TypeAccountReceived,
	events.TopicConversationLimit: bus.TypeConversationLimitReceived,
	events.TopicModels:            bus.TypeModelsReceived,
}

// Bridge forwards page events into the bus.
type Bridge struct {
	target    *events.Target
	transport bus.Transport
	policy    retry.Policy
	metrics   *telemetry.Metrics

	started  atomic.Bool
	inflight sync.WaitGroup
}

func New(target *events.Target, transport bus.Transport) *Bridge {
	b := &Bridge{
		target:    target,
		transport: transport,
		policy: retry.Policy{
			Attempts:  defaultAttempts,
			Delay:     defaultDelay,
			Retryable: bus.IsDisconnect,
		},
	}
	b.policy.OnRetry = func(int) {
		if b.metrics != nil {
			b.metrics.RecordRetry("bridge")
		}
	}
	return b
}

// WithMetrics attaches a metrics sink; disconnect-triggered relay retries are
// counted against it.
func (b *Bridge) WithMetrics(m *telemetry.Metrics) *Bridge {
	b.metrics = m
	return b
}

// Start registers one listener per interceptor event type. Calling Start
// again is a no-op, mirroring the injected-script presence check.
func (b *Bridge) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	for topic, msgType := range topicMessages {
		mt := msgType
		b.target.Listen(topic, func(ev events.Event) {
			b.inflight.Add(1)
			go b.relay(mt, ev)
		})
	}
}

// Wait blocks until all in-flight relays have finished. Used on shutdown and
// in tests; steady-state callers never wait on relay outcomes.
func (b *Bridge) Wait() {
	b.inflight.Wait()
}

func (b *Bridge) relay(msgType bus.MsgType, ev events.Event) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("relay panicked", "type", msgType, "panic", r)
		}
	}()

	env := bus.Envelope{Type: msgType, Payload: ev.Detail}
	err := b.policy.Do(context.Background(), func(ctx context.Context) error {
		_, sendErr := b.transport.Send(ctx, env)
		return sendErr
	})
	if err == nil {
		return
	}
	if bus.IsDisconnect(err) {
		slog.Warn("worker unavailable, dropping relayed event", "type", msgType)
		return
	}
	slog.Warn("relay send failed", "type", msgType, "error", err)
}

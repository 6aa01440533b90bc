package bus

import (
	"context"
	"sync"
)

// Receiver is the worker-facing end of the bus. Receive must return exactly
// one Response per envelope; a nil return models the worker being torn down
// mid-handling.
type Receiver interface {
	Receive(ctx context.Context, env Envelope) *Response
}

// LocalBus connects in-process contexts to a worker. It models the host's
// lifecycle faithfully: with no receiver attached, sends fail with
// ErrNoReceiver; broadcasts are fire-and-forget and never block the sender.
type LocalBus struct {
	mu       sync.RWMutex
	receiver Receiver
	nextSub  int
	subs     map[int]chan Envelope
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]chan Envelope)}
}

// Attach installs the worker end. Attaching replaces any previous receiver,
// mirroring a worker restart.
func (b *LocalBus) Attach(r Receiver) {
	b.mu.Lock()
	b.receiver = r
	b.mu.Unlock()
}

// Detach removes the worker end; subsequent sends fail with ErrNoReceiver.
func (b *LocalBus) Detach() {
	b.mu.Lock()
	b.receiver = nil
	b.mu.Unlock()
}

// Attached reports whether a worker end is currently installed.
func (b *LocalBus) Attached() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.receiver != nil
}

// Send implements Transport.
func (b *LocalBus) Send(ctx context.Context, env Envelope) (*Response, error) {
	b.mu.RLock()
	r := b.receiver
	b.mu.RUnlock()
	if r == nil {
		return nil, ErrNoReceiver
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Receive(ctx, env), nil
}

// Subscribe registers a broadcast listener. The returned cancel function is
// idempotent. Listeners that fall behind lose broadcasts; delivery is
// at-most-once with no backpressure.
func (b *LocalBus) Subscribe(buffer int) (<-chan Envelope, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Envelope, buffer)
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Broadcast delivers env to every current subscriber without blocking. A
// subscriber whose buffer is full is skipped.
func (b *LocalBus) Broadcast(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
		}
	}
}

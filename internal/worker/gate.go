package worker

import (
	"context"
	"sync"

	"github.com/af-corp/chatrelay/internal/identity"
)

// ReadyGate is a single-resolution future for the identity provider's first
// state notification. Handlers that must not race initial hydration wait on
// it. Resolve is safe to call defensively from multiple paths; only the
// first call counts.
type ReadyGate struct {
	once sync.Once
	done chan struct{}
	user *identity.User
}

func NewReadyGate() *ReadyGate {
	return &ReadyGate{done: make(chan struct{})}
}

// Resolve records the first observed user-or-nil. Later calls are no-ops.
func (g *ReadyGate) Resolve(u *identity.User) {
	g.once.Do(func() {
		g.user = u
		close(g.done)
	})
}

// Wait blocks until the gate resolves and returns the first observed value.
func (g *ReadyGate) Wait(ctx context.Context) (*identity.User, error) {
	select {
	case <-g.done:
		return g.user, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolved reports whether the first notification has arrived.
func (g *ReadyGate) Resolved() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

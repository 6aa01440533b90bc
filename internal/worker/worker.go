// Package worker is the privileged dispatcher: it owns the identity
// lifecycle, the credential store, and the one upstream client per worker
// lifetime, and it routes every bus message to exactly one handler. Every
// message gets exactly one reply, whatever the handler does.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/af-corp/chatrelay/internal/billing"
	"github.com/af-corp/chatrelay/internal/bus"
	"github.com/af-corp/chatrelay/internal/creds"
	"github.com/af-corp/chatrelay/internal/identity"
	"github.com/af-corp/chatrelay/internal/policy"
	"github.com/af-corp/chatrelay/internal/ratelimit"
	"github.com/af-corp/chatrelay/internal/telemetry"
	"github.com/af-corp/chatrelay/internal/upstream"
)

// Broadcaster fans an envelope out to every listening context. Delivery is
// at-most-once; a context that is gone simply misses the broadcast.
type Broadcaster interface {
	Broadcast(env bus.Envelope)
}

// Deps are the worker's collaborators. API is the single client instance for
// this worker's lifetime.
type Deps struct {
	Provider    identity.Provider
	Creds       creds.Store
	API         *upstream.Client
	Checkout    *billing.Watcher
	Subs        billing.StatusReader
	Gate        *policy.Gate
	Metrics     *telemetry.Metrics
	Broadcaster Broadcaster

	// Quota meters expensive operations for accounts without an active
	// subscription. DailyOpLimit <= 0 disables metering.
	Quota        *ratelimit.QuotaTracker
	DailyOpLimit int
}

type handlerFunc func(ctx context.Context, env bus.Envelope) (any, error)

// Worker implements bus.Receiver.
type Worker struct {
	deps     Deps
	handlers map[bus.MsgType]handlerFunc

	ready       *ReadyGate
	attachOnce  sync.Once
	cancelState func()

	mu        sync.Mutex
	user      *identity.User
	authState identity.AuthState

	// subsSeen holds the last subscription standing observed per uid, so the
	// broadcast fires on change rather than on every read.
	subsSeen map[string]billing.SubscriptionStatus

	// pageState holds the latest captured account/limit/model snapshots
	// relayed from the page; UI surfaces read them through broadcasts and
	// storage, not through dedicated operations.
	pageState map[bus.MsgType][]byte
}

func New(deps Deps) *Worker {
	w := &Worker{
		deps:      deps,
		ready:     NewReadyGate(),
		pageState: make(map[bus.MsgType][]byte),
		subsSeen:  make(map[string]billing.SubscriptionStatus),
	}
	w.handlers = w.buildHandlers()
	return w
}

// Start attaches the identity state listener (exactly once, however often
// Start runs) and arms a fresh ready gate for this worker lifetime.
func (w *Worker) Start(ctx context.Context) {
	w.attachOnce.Do(func() {
		w.cancelState = w.deps.Provider.OnStateChange(w.onAuthNotification)
		// Rehydrate persisted credentials so the first upstream call after a
		// restart does not depend on the page being open.
		if w.deps.Creds != nil {
			if headers, err := w.deps.Creds.Load(ctx); err == nil {
				slog.Info("worker started", "captured_headers", len(headers))
				return
			}
		}
		slog.Info("worker started")
	})
}

// Stop detaches the identity listener.
func (w *Worker) Stop() {
	if w.cancelState != nil {
		w.cancelState()
	}
}

// Ready exposes the gate for callers that must not race initial hydration.
func (w *Worker) Ready() *ReadyGate { return w.ready }

// onAuthNotification is the only mutation path for auth state. It covers
// program-initiated login/logout and externally ended sessions alike.
func (w *Worker) onAuthNotification(u *identity.User) {
	w.mu.Lock()
	wasLoggedIn := w.authState.IsLoggedIn
	w.user = u
	w.authState = identity.StateFor(u)
	state := w.authState
	changed := wasLoggedIn != state.IsLoggedIn
	w.mu.Unlock()

	// First notification resolves the gate whether it is logged in or out.
	w.ready.Resolve(u)

	// Broadcast happens after the in-memory state is already updated, so a
	// handler running after the broadcast observes the new state. Redundant
	// notifications stay silent.
	if changed {
		w.broadcast(bus.TypeAuthStateUpdated, state)
	}
}

func (w *Worker) currentUser() *identity.User {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.user
}

func (w *Worker) currentAuthState() identity.AuthState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.authState
}

// readSubscription returns uid's current standing and broadcasts it when it
// differs from the last observed value. Purchases complete asynchronously, so
// the change is detected on read, the same transition rule auth state uses.
func (w *Worker) readSubscription(ctx context.Context, uid string) (billing.SubscriptionStatus, error) {
	status, err := w.deps.Subs.SubscriptionStatus(ctx, uid)
	if err != nil {
		return status, err
	}

	w.mu.Lock()
	changed := w.subsSeen[uid] != status
	w.subsSeen[uid] = status
	w.mu.Unlock()

	if changed {
		w.broadcast(bus.TypeSubscriptionUpdated, status)
	}
	return status, nil
}

func (w *Worker) broadcast(t bus.MsgType, payload any) {
	if w.deps.Broadcaster == nil {
		return
	}
	env, err := bus.NewEnvelope(t, payload)
	if err != nil {
		slog.Error("encode broadcast", "type", t, "error", err)
		return
	}
	w.deps.Broadcaster.Broadcast(env)
	if w.deps.Metrics != nil {
		w.deps.Metrics.RecordBroadcast(string(t))
	}
}

// Receive dispatches one message and always returns exactly one response:
// handler success, handler failure, policy denial, panic, or unknown
// operation all produce a well-formed reply.
func (w *Worker) Receive(ctx context.Context, env bus.Envelope) (resp *bus.Response) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panicked", "type", env.Type, "panic", r)
			resp = bus.Fail(&bus.OpError{
				Name:    "InternalError",
				Message: fmt.Sprintf("internal error handling %s", env.Type),
				Stack:   string(debug.Stack()),
			})
			outcome = "panic"
		}
		if w.deps.Metrics != nil {
			w.deps.Metrics.RecordDispatch(string(env.Type), outcome, float64(time.Since(start).Milliseconds()))
		}
	}()

	h, ok := w.handlers[env.Type]
	if !ok {
		outcome = "unknown"
		return bus.Fail(&bus.OpError{
			Name:    "UnknownOperation",
			Message: fmt.Sprintf("unrecognized operation %q", env.Type),
		})
	}

	if w.deps.Gate != nil {
		state := w.currentAuthState()
		input := policy.Input{Operation: string(env.Type), User: policy.InputUser{LoggedIn: state.IsLoggedIn}}
		if state.UID != nil {
			input.User.UID = *state.UID
		}
		if allowed, reason := w.deps.Gate.Allow(ctx, input); !allowed {
			outcome = "denied"
			if reason == "" {
				reason = "operation not permitted"
			}
			return bus.Fail(&bus.OpError{Name: "NotAuthorized", Message: reason})
		}
	}

	data, err := h(ctx, env)
	if err != nil {
		outcome = "error"
		return bus.Fail(err)
	}
	return bus.Succeed(data)
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/af-corp/chatrelay/internal/identity"
)

var (
	// ErrNotLoggedIn rejects checkout for anonymous callers before any
	// record is created.
	ErrNotLoggedIn = errors.New("must be logged in to purchase a subscription")

	// ErrCheckoutTimeout is distinct from transport and application errors:
	// the purchase may still have completed server-side.
	ErrCheckoutTimeout = errors.New("timed out waiting for checkout; the purchase may still complete, check your subscription status")
)

// Watcher creates pending checkout sessions and awaits their terminal state.
type Watcher struct {
	store      SessionStore
	prices     map[string]string
	successURL string
	cancelURL  string
	timeout    time.Duration
}

func NewWatcher(store SessionStore, prices map[string]string, successURL, cancelURL string, timeout time.Duration) *Watcher {
	return &Watcher{
		store:      store,
		prices:     prices,
		successURL: successURL,
		cancelURL:  cancelURL,
		timeout:    timeout,
	}
}

type settled struct {
	url string
	err error
}

// CreateCheckoutSession creates one pending record for user and waits until
// the biller writes a URL (resolve) or an error (reject), or the timeout
// elapses. Exactly one terminal outcome wins; later events are ignored and
// the subscription plus timer are torn down together exactly once.
func (w *Watcher) CreateCheckoutSession(ctx context.Context, user *identity.User, plan string) (string, error) {
	if user == nil {
		return "", ErrNotLoggedIn
	}
	priceID, ok := w.prices[plan]
	if !ok {
		return "", fmt.Errorf("unknown subscription plan %q", plan)
	}

	session := &Session{
		ID:         uuid.NewString(),
		UID:        user.UID,
		PriceID:    priceID,
		SuccessURL: w.successURL,
		CancelURL:  w.cancelURL,
	}
	if err := w.store.Create(ctx, session); err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	outcome := make(chan settled, 1)
	var once sync.Once
	settle := func(url string, err error) {
		once.Do(func() { outcome <- settled{url: url, err: err} })
	}

	cancelWatch, err := w.store.Watch(ctx, session.ID, func(s Session) {
		switch {
		case s.Error != "":
			settle("", errors.New(s.Error))
		case s.URL != "":
			settle(s.URL, nil)
		}
		// Intermediate changes keep the subscription active.
	})
	if err != nil {
		return "", fmt.Errorf("watch checkout session: %w", err)
	}

	timer := time.NewTimer(w.timeout)

	var result settled
	select {
	case result = <-outcome:
	case <-timer.C:
		settle("", ErrCheckoutTimeout)
		result = <-outcome
	case <-ctx.Done():
		settle("", ctx.Err())
		result = <-outcome
	}

	// Teardown: timer and subscription go together, exactly once, whichever
	// terminal event won.
	timer.Stop()
	cancelWatch()

	return result.url, result.err
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("receiving end does not exist")

func TestDo_SucceedsFirstTry(t *testing.T) {
	var calls int
	p := Policy{Attempts: 3, Delay: time.Millisecond, Retryable: func(error) bool { return true }}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetryBound(t *testing.T) {
	// Fails K times then succeeds: succeeds iff K < attempts, and never makes
	// more than attempts tries.
	for _, k := range []int{0, 1, 2, 3, 4} {
		var calls int
		fails := k
		p := Policy{Attempts: 3, Delay: time.Millisecond, Retryable: func(error) bool { return true }}
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			if fails > 0 {
				fails--
				return errTransient
			}
			return nil
		})
		if k < 3 {
			if err != nil {
				t.Errorf("k=%d: err = %v, want nil", k, err)
			}
			if calls != k+1 {
				t.Errorf("k=%d: calls = %d, want %d", k, calls, k+1)
			}
		} else {
			if !errors.Is(err, errTransient) {
				t.Errorf("k=%d: err = %v, want errTransient", k, err)
			}
			if calls != 3 {
				t.Errorf("k=%d: calls = %d, want 3", k, calls)
			}
		}
	}
}

func TestDo_NonRetryableAbortsImmediately(t *testing.T) {
	permanent := errors.New("conversation missing")
	var calls int
	p := Policy{Attempts: 5, Delay: time.Millisecond, Retryable: func(err error) bool {
		return errors.Is(err, errTransient)
	}}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ContextCancelBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	p := Policy{Attempts: 10, Delay: 50 * time.Millisecond, Retryable: func(error) bool { return true }}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_OnRetryObservesReattemptsOnly(t *testing.T) {
	var observed []int
	p := Policy{
		Attempts:  3,
		Delay:     time.Millisecond,
		Retryable: func(error) bool { return true },
		OnRetry:   func(attempt int) { observed = append(observed, attempt) },
	}
	err := p.Do(context.Background(), func(context.Context) error {
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("err = %v", err)
	}
	if len(observed) != 2 || observed[0] != 2 || observed[1] != 3 {
		t.Errorf("observed = %v, want [2 3]", observed)
	}

	observed = nil
	if err := p.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("err = %v", err)
	}
	if len(observed) != 0 {
		t.Errorf("observed = %v, want none on first-try success", observed)
	}
}

func TestDo_ZeroAttemptsStillRunsOnce(t *testing.T) {
	var calls int
	err := Policy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	if err == nil || calls != 1 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}

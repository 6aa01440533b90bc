package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyChannel is raised by a row trigger whenever a checkout_sessions row
// changes; the payload is the session id.
const notifyChannel = "checkout_sessions_changed"

// PostgresStore persists checkout sessions and subscribes to row changes via
// LISTEN/NOTIFY. The external biller updates rows out of band.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO checkout_sessions (id, uid, price_id, success_url, cancel_url)
		VALUES ($1, $2, $3, $4, $5)
	`, s.ID, s.UID, s.PriceID, s.SuccessURL, s.CancelURL)
	if err != nil {
		return fmt.Errorf("insert checkout session: %w", err)
	}
	return nil
}

func (p *PostgresStore) get(ctx context.Context, id string) (Session, error) {
	var s Session
	err := p.db.QueryRow(ctx, `
		SELECT id, uid, price_id, success_url, cancel_url,
		       COALESCE(url, ''), COALESCE(error, '')
		FROM checkout_sessions
		WHERE id = $1
	`, id).Scan(&s.ID, &s.UID, &s.PriceID, &s.SuccessURL, &s.CancelURL, &s.URL, &s.Error)
	if err != nil {
		return Session{}, fmt.Errorf("query checkout session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) SubscriptionStatus(ctx context.Context, uid string) (SubscriptionStatus, error) {
	var plan string
	err := p.db.QueryRow(ctx, `
		SELECT plan FROM subscriptions WHERE uid = $1 AND active
	`, uid).Scan(&plan)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return SubscriptionStatus{}, nil
		}
		return SubscriptionStatus{}, fmt.Errorf("query subscription: %w", err)
	}
	return SubscriptionStatus{Active: true, Plan: plan}, nil
}

// Watch LISTENs for change notifications on the session's row and delivers
// the freshly read row on each. The initial row state is delivered once so a
// change that raced the subscription is not missed.
func (p *PostgresStore) Watch(ctx context.Context, id string, fn func(Session)) (func(), error) {
	conn, err := p.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	watchCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer conn.Release()

		if s, err := p.get(watchCtx, id); err == nil {
			fn(s)
		}

		for {
			n, err := conn.Conn().WaitForNotification(watchCtx)
			if err != nil {
				if watchCtx.Err() == nil {
					slog.Warn("checkout session listener stopped", "session", id, "error", err)
				}
				return
			}
			if n.Payload != id {
				continue
			}
			s, err := p.get(watchCtx, id)
			if err != nil {
				slog.Warn("read checkout session after notify", "session", id, "error", err)
				continue
			}
			fn(s)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
		})
	}, nil
}

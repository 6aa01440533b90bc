// Package billing bridges the asynchronous checkout flow into a single
// awaited call: a pending session record is created, an external biller
// writes a URL or an error onto it, and a watcher with a hard timeout
// resolves whichever terminal event arrives first.
package billing

import (
	"context"
	"sync"
)

// Session is one pending-purchase record. After creation this system never
// mutates it; the external biller writes URL or Error.
type Session struct {
	ID         string `json:"id"`
	UID        string `json:"uid"`
	PriceID    string `json:"priceId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SessionStore creates records and subscribes to changes on one record.
// Watch delivers every change until cancelled; cancel must be idempotent.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Watch(ctx context.Context, id string, fn func(Session)) (cancel func(), err error)
}

// MemoryStore backs tests and redis-less local runs. Biller writes are
// simulated through Fulfill and Reject.
type MemoryStore struct {
	mu            sync.Mutex
	sessions      map[string]Session
	subscriptions map[string]string
	nextSub       int
	watchers      map[string]map[int]func(Session)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		watchers: make(map[string]map[int]func(Session)),
	}
}

func (m *MemoryStore) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	m.sessions[s.ID] = *s
	m.mu.Unlock()
	return nil
}

// Watch delivers the record's current state once on subscribe, then every
// later change, matching the durable store's behavior.
func (m *MemoryStore) Watch(ctx context.Context, id string, fn func(Session)) (func(), error) {
	m.mu.Lock()
	sub := m.nextSub
	m.nextSub++
	if m.watchers[id] == nil {
		m.watchers[id] = make(map[int]func(Session))
	}
	m.watchers[id][sub] = fn
	current, ok := m.sessions[id]
	m.mu.Unlock()

	if ok {
		fn(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers[id], sub)
			m.mu.Unlock()
		})
	}, nil
}

// Count returns the number of stored session records.
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Fulfill simulates the biller writing the checkout URL.
func (m *MemoryStore) Fulfill(id, url string) {
	m.update(id, func(s *Session) { s.URL = url })
}

// Reject simulates the biller writing an error.
func (m *MemoryStore) Reject(id, msg string) {
	m.update(id, func(s *Session) { s.Error = msg })
}

// Touch emits a change with neither terminal field set.
func (m *MemoryStore) Touch(id string) {
	m.update(id, func(*Session) {})
}

func (m *MemoryStore) update(id string, mutate func(*Session)) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	mutate(&s)
	m.sessions[id] = s
	fns := make([]func(Session), 0, len(m.watchers[id]))
	for _, fn := range m.watchers[id] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

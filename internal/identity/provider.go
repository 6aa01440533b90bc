// Package identity is the boundary to the account provider: email+password
// registration, login, logout, and a state-change subscription covering both
// program-initiated transitions and external ones such as token expiry.
package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// User is an authenticated account.
type User struct {
	UID   string
	Email string
}

// AuthState is the broadcast view of the session. UID and Email are null
// when logged out.
type AuthState struct {
	IsLoggedIn bool    `json:"isLoggedIn"`
	UID        *string `json:"uid"`
	Email      *string `json:"email"`
}

// StateFor converts the provider's user-or-nil notification value into the
// wire state.
func StateFor(u *User) AuthState {
	if u == nil {
		return AuthState{}
	}
	uid, email := u.UID, u.Email
	return AuthState{IsLoggedIn: true, UID: &uid, Email: &email}
}

// StateFunc receives every state notification. u is nil when logged out.
type StateFunc func(u *User)

// Provider is the identity service. OnStateChange delivers the current state
// once on subscription (initial hydration) and again on every change.
type Provider interface {
	Register(ctx context.Context, email, password string) (*User, error)
	Login(ctx context.Context, email, password string) (*User, error)
	Logout(ctx context.Context) error
	OnStateChange(fn StateFunc) (cancel func())
}

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("an account with this email already exists")
)

// Memory is an in-process provider used for local development and tests.
type Memory struct {
	mu        sync.Mutex
	passwords map[string]string
	uids      map[string]string
	current   *User
	nextSub   int
	listeners map[int]StateFunc
}

func NewMemory() *Memory {
	return &Memory{
		passwords: make(map[string]string),
		uids:      make(map[string]string),
		listeners: make(map[int]StateFunc),
	}
}

func (m *Memory) Register(ctx context.Context, email, password string) (*User, error) {
	m.mu.Lock()
	if _, ok := m.passwords[email]; ok {
		m.mu.Unlock()
		return nil, ErrEmailTaken
	}
	m.passwords[email] = password
	m.uids[email] = uuid.NewString()
	u := &User{UID: m.uids[email], Email: email}
	m.current = u
	fns := m.snapshot()
	m.mu.Unlock()

	notify(fns, u)
	return u, nil
}

func (m *Memory) Login(ctx context.Context, email, password string) (*User, error) {
	m.mu.Lock()
	stored, ok := m.passwords[email]
	if !ok || stored != password {
		m.mu.Unlock()
		return nil, ErrInvalidCredentials
	}
	u := &User{UID: m.uids[email], Email: email}
	m.current = u
	fns := m.snapshot()
	m.mu.Unlock()

	notify(fns, u)
	return u, nil
}

func (m *Memory) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.current = nil
	fns := m.snapshot()
	m.mu.Unlock()

	notify(fns, nil)
	return nil
}

// ExpireSession simulates an externally ended session (e.g. token expiry).
func (m *Memory) ExpireSession() {
	m.mu.Lock()
	m.current = nil
	fns := m.snapshot()
	m.mu.Unlock()

	notify(fns, nil)
}

// OnStateChange registers fn and immediately delivers the current state,
// which is the provider's initial hydration notification.
func (m *Memory) OnStateChange(fn StateFunc) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.listeners[id] = fn
	current := m.current
	m.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

func (m *Memory) snapshot() []StateFunc {
	fns := make([]StateFunc, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []StateFunc, u *User) {
	for _, fn := range fns {
		fn(u)
	}
}

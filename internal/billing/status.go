package billing

import "context"

// SubscriptionStatus is the account's current plan standing.
type SubscriptionStatus struct {
	Active bool   `json:"active"`
	Plan   string `json:"plan,omitempty"`
}

// StatusReader reports subscription standing for a user.
type StatusReader interface {
	SubscriptionStatus(ctx context.Context, uid string) (SubscriptionStatus, error)
}

// SetSubscription records an active plan for uid (biller webhook analog).
func (m *MemoryStore) SetSubscription(uid, plan string) {
	m.mu.Lock()
	if m.subscriptions == nil {
		m.subscriptions = make(map[string]string)
	}
	m.subscriptions[uid] = plan
	m.mu.Unlock()
}

func (m *MemoryStore) SubscriptionStatus(ctx context.Context, uid string) (SubscriptionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.subscriptions[uid]
	if !ok {
		return SubscriptionStatus{}, nil
	}
	return SubscriptionStatus{Active: true, Plan: plan}, nil
}

package policy

import (
	"context"
	"testing"
)

const testPolicy = `
package chatrelay.operations

default allow := false
default reason := ""

requires_login := {
	"createCheckoutSession",
	"getSubscriptionStatus",
}

allow if {
	not requires_login[input.operation]
}

allow if {
	requires_login[input.operation]
	input.user.loggedIn
}

reason := "must be logged in" if {
	requires_login[input.operation]
	not input.user.loggedIn
}
`

func loadedGate(t *testing.T) *Gate {
	t.Helper()
	g := NewGate()
	if err := g.LoadFromModules(map[string]string{"operations.rego": testPolicy}); err != nil {
		t.Fatalf("LoadFromModules: %v", err)
	}
	return g
}

func TestGate_NoModulesAllowsEverything(t *testing.T) {
	g := NewGate()
	allowed, _ := g.Allow(context.Background(), Input{Operation: "createCheckoutSession"})
	if !allowed {
		t.Error("empty gate must not restrict")
	}
}

func TestGate_OpenOperationAllowedAnonymously(t *testing.T) {
	g := loadedGate(t)
	allowed, reason := g.Allow(context.Background(), Input{Operation: "fetchConversations"})
	if !allowed {
		t.Errorf("fetchConversations denied: %s", reason)
	}
}

func TestGate_BillingRequiresLogin(t *testing.T) {
	g := loadedGate(t)

	allowed, reason := g.Allow(context.Background(), Input{Operation: "createCheckoutSession"})
	if allowed {
		t.Error("anonymous createCheckoutSession must be denied")
	}
	if reason != "must be logged in" {
		t.Errorf("reason = %q", reason)
	}

	allowed, _ = g.Allow(context.Background(), Input{
		Operation: "createCheckoutSession",
		User:      InputUser{LoggedIn: true, UID: "u1"},
	})
	if !allowed {
		t.Error("logged-in createCheckoutSession must be allowed")
	}
}

// Package policy gates bus operations with Rego rules: which operations an
// anonymous context may invoke, and which require a logged-in user. Rules
// live outside the binary so the gate can be tightened without a release.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
)

const evalTimeout = 100 * time.Millisecond

// Input is the data handed to the policy for one dispatch decision.
type Input struct {
	Operation string    `json:"operation"`
	User      InputUser `json:"user"`
}

type InputUser struct {
	LoggedIn bool   `json:"loggedIn"`
	UID      string `json:"uid"`
}

// Gate evaluates the operation policy. With no modules loaded every
// operation is allowed; the gate only restricts once rules exist.
type Gate struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
}

func NewGate() *Gate {
	return &Gate{}
}

// Load compiles Rego modules from dir.
func (g *Gate) Load(dir string) error {
	modules, err := LoadRegoFiles(dir)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		slog.Warn("no rego files found, operation gate disabled", "path", dir)
		return nil
	}
	return g.LoadFromModules(modules)
}

// LoadFromModules compiles policies from provided sources (useful for testing).
func (g *Gate) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){
		rego.Query("[data.chatrelay.operations.allow, data.chatrelay.operations.reason]"),
	}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}
	r := rego.New(opts...)

	prepared, err := r.PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	g.mu.Lock()
	g.prepared = &prepared
	g.mu.Unlock()

	slog.Info("operation policies loaded", "modules", len(modules))
	return nil
}

// Allow decides whether the operation may proceed for the given user state.
// Policy evaluation errors fail closed with the error as the reason.
func (g *Gate) Allow(ctx context.Context, input Input) (bool, string) {
	g.mu.RLock()
	prepared := g.prepared
	g.mu.RUnlock()

	if prepared == nil {
		return true, ""
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Sprintf("policy evaluation error: %v", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result"
	}

	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format"
	}
	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return allowed, reason
}

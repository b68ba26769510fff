package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Role selects the capability an agent call is routed to.
type Role string

const (
	RolePlanner   Role = "planner"
	RoleBuilder   Role = "builder"
	RoleAsset     Role = "asset"
	RoleQA        Role = "qa"
	RolePublisher Role = "publisher"
)

// Roles returns every known role.
func Roles() []Role {
	return []Role{RolePlanner, RoleBuilder, RoleAsset, RoleQA, RolePublisher}
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles() {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("agent: unknown role %q", s)
}

// Payload is the opaque structured input or output of an agent call.
type Payload = map[string]any

// MetaKey is the reserved output key holding usage metrics.
const MetaKey = "_meta"

// Executor performs one agent call. Implementations must honor ctx
// cancellation and be safe to retry.
type Executor interface {
	CallAgent(ctx context.Context, role Role, taskKey string, input Payload) (Payload, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, role Role, taskKey string, input Payload) (Payload, error)

// CallAgent calls f.
func (f ExecutorFunc) CallAgent(ctx context.Context, role Role, taskKey string, input Payload) (Payload, error) {
	return f(ctx, role, taskKey, input)
}

// Usage is the optional accounting an agent reports under "_meta".
type Usage struct {
	TokensIn  *int64
	TokensOut *int64
	CostUSD   *float64
	LatencyMs *int64
}

// UsageOf reads the "_meta" block of an agent output. Missing or malformed
// values are left nil.
func UsageOf(p Payload) Usage {
	var u Usage
	meta, ok := p[MetaKey].(map[string]any)
	if !ok {
		return u
	}
	u.TokensIn = intField(meta, "tokens_in", "tokensIn")
	u.TokensOut = intField(meta, "tokens_out", "tokensOut")
	u.LatencyMs = intField(meta, "latency_ms", "latencyMs")
	if f, ok := number(firstOf(meta, "cost_usd", "costUsd")); ok {
		u.CostUSD = &f
	}
	return u
}

// StripInternal returns a copy of p without keys starting with "_".
func StripInternal(p Payload) Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func intField(m map[string]any, keys ...string) *int64 {
	f, ok := number(firstOf(m, keys...))
	if !ok {
		return nil
	}
	n := int64(f)
	return &n
}

// number accepts the numeric shapes a JSON round trip or a Go caller may produce.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Number is the exported form of number, for callers reading agent outputs.
func Number(v any) (float64, bool) {
	return number(v)
}

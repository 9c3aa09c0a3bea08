// Package fallback implements the ordered strategy chain that turns an
// unreliable dependency into a guaranteed answer. A chain tries strategies
// from most faithful to least (live call, mirror, cache, static baseline)
// under one shared time budget, consults the circuit breakers guarding live
// calls, and annotates whatever it returns with how degraded it is and why.
package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Kind classifies a strategy by cost and fidelity.
type Kind int

const (
	Live      Kind = iota // network call to the real dependency
	Cached                // lookup in the cache collaborator
	Synthetic             // pure computation, cannot fail
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case Live:
		return "live"
	case Cached:
		return "cached"
	case Synthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// Request is the validated input one chain invocation carries. Path is
// relative to the chain mount (prefix already stripped); CorrelationID
// travels to live backends as the X-Request-ID header.
type Request struct {
	Method        string
	Path          string
	Query         url.Values
	Body          []byte
	CorrelationID string
}

// Payload is a strategy's successful output. StoredAt is zero unless the
// payload was served from a cache, in which case it is the entry's write
// time and feeds the result's freshness label.
type Payload struct {
	Data     []byte
	StoredAt time.Time
}

// Strategy is one named attempt in a chain. Implementations are stateless
// across invocations; anything they cache lives in the cache collaborator.
type Strategy interface {
	// Name labels the strategy in reasons ("used_<name>"), telemetry, and
	// metrics.
	Name() string

	// Kind drives the chain's gating: Live strategies answer to breakers,
	// budgets, throttles, and bulkheads; Cached and Synthetic ones run
	// whenever reached.
	Kind() Kind

	// Timeout bounds one attempt; 0 means the budget alone bounds it.
	Timeout() time.Duration

	// Execute performs the attempt. ctx carries the per-attempt deadline.
	Execute(ctx context.Context, req Request) (Payload, error)
}

// NewFunc adapts a plain function into a Strategy, keeping chains
// declarative and trivially mockable.
func NewFunc(name string, kind Kind, timeout time.Duration, fn func(context.Context, Request) (Payload, error)) Strategy {
	return &funcStrategy{name: name, kind: kind, timeout: timeout, fn: fn}
}

type funcStrategy struct {
	name    string
	kind    Kind
	timeout time.Duration
	fn      func(context.Context, Request) (Payload, error)
}

func (s *funcStrategy) Name() string           { return s.name }
func (s *funcStrategy) Kind() Kind             { return s.kind }
func (s *funcStrategy) Timeout() time.Duration { return s.timeout }
func (s *funcStrategy) Execute(ctx context.Context, req Request) (Payload, error) {
	return s.fn(ctx, req)
}

// ValidationError marks a payload that failed the chain's sanity check.
// The raw payload behind it never reaches the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid payload: " + e.Reason
}

// Validator checks a payload before the chain accepts it as a success.
type Validator func(payload []byte) error

// JSONObjectValidator accepts payloads that parse as a JSON object and
// contain every required field.
func JSONObjectValidator(required ...string) Validator {
	return func(payload []byte) error {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(payload, &obj); err != nil {
			return &ValidationError{Reason: "not a JSON object"}
		}
		for _, field := range required {
			if _, ok := obj[field]; !ok {
				return &ValidationError{Reason: fmt.Sprintf("missing field %q", field)}
			}
		}
		return nil
	}
}

package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dskow/toolgate/internal/budget"
	"github.com/dskow/toolgate/internal/cache"
	"github.com/dskow/toolgate/internal/circuitbreaker"
	"github.com/dskow/toolgate/internal/metrics"
	"github.com/dskow/toolgate/internal/telemetry"
)

// ThrottleGate rations outbound calls per dependency. Allow reports whether
// one more call may go out now; it must not block.
type ThrottleGate interface {
	Allow(dependency string) bool
}

// Entry is one slot in a chain: a strategy plus, for live strategies, the
// dependency key whose breaker, throttle, and bulkhead guard it.
type Entry struct {
	Strategy   Strategy
	Dependency string
}

// Options carries a chain's collaborators. Breakers is required when any
// entry is live; everything else is optional.
type Options struct {
	Breakers  *circuitbreaker.Registry
	Bulkheads map[string]*circuitbreaker.Bulkhead
	Throttle  ThrottleGate
	Validate  Validator
	Logger    *slog.Logger
	Sink      telemetry.Sink

	// Store, CacheKey, and CacheWrite configure write-through: validated
	// live payloads are written to Store under CacheKey(req) so a later
	// outage has something to serve.
	Store      cache.Store
	CacheKey   func(Request) string
	CacheWrite bool
}

// Chain walks an ordered strategy list until one serves, then returns the
// payload annotated with everything that went wrong on the way. The walk is
// a single bounded pass: no retries, no recursion, at most one attempt per
// strategy.
type Chain struct {
	name       string
	entries    []Entry
	breakers   *circuitbreaker.Registry
	bulkheads  map[string]*circuitbreaker.Bulkhead
	throttle   ThrottleGate
	validate   Validator
	store      cache.Store
	cacheKey   func(Request) string
	cacheWrite bool
	logger     *slog.Logger
	sink       telemetry.Sink
}

// New builds a chain. The terminal entry must be synthetic so the chain can
// always answer; live entries must name a dependency. Configuration defects
// surface here, at boot, not per request.
func New(name string, entries []Entry, opts Options) (*Chain, error) {
	if name == "" {
		return nil, errors.New("chain name required")
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("chain %s: at least one strategy required", name)
	}
	for i, e := range entries {
		if e.Strategy == nil {
			return nil, fmt.Errorf("chain %s: strategy at position %d is nil", name, i)
		}
		if e.Strategy.Kind() == Live {
			if e.Dependency == "" {
				return nil, fmt.Errorf("chain %s: live strategy %s needs a dependency key", name, e.Strategy.Name())
			}
			if opts.Breakers == nil {
				return nil, fmt.Errorf("chain %s: live strategy %s needs a breaker registry", name, e.Strategy.Name())
			}
		}
	}
	if last := entries[len(entries)-1].Strategy; last.Kind() != Synthetic {
		return nil, fmt.Errorf("chain %s: terminal strategy %s must be synthetic", name, last.Name())
	}
	if opts.CacheWrite && (opts.Store == nil || opts.CacheKey == nil) {
		return nil, fmt.Errorf("chain %s: cache write-through needs a store and a key func", name)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &Chain{
		name:       name,
		entries:    entries,
		breakers:   opts.Breakers,
		bulkheads:  opts.Bulkheads,
		throttle:   opts.Throttle,
		validate:   opts.Validate,
		store:      opts.Store,
		cacheKey:   opts.CacheKey,
		cacheWrite: opts.CacheWrite,
		logger:     logger,
		sink:       sink,
	}, nil
}

// Name returns the chain's configured name.
func (c *Chain) Name() string { return c.name }

// StrategyNames lists the chain's strategies in walk order.
func (c *Chain) StrategyNames() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.Strategy.Name()
	}
	return names
}

// walk accumulates the per-invocation trail: degradation reasons in
// occurrence order and a step log for telemetry.
type walk struct {
	reasons       []string
	path          []string
	deadlineNoted bool
}

// Execute runs the chain once under the given budget. It returns an error
// only when the terminal strategy itself fails, which is a configuration
// defect; every degradation short of that is absorbed into the Result.
func (c *Chain) Execute(bud *budget.Budget, req Request) (Result, error) {
	start := time.Now()
	w := &walk{
		reasons: make([]string, 0, 4),
		path:    make([]string, 0, len(c.entries)),
	}

	for i, e := range c.entries {
		strat := e.Strategy

		if strat.Kind() == Live {
			// A spent budget means no more network; cheaper strategies
			// further down still get their chance.
			if bud.Cancelled() {
				if !w.deadlineNoted {
					w.reasons = append(w.reasons, "deadline_exceeded")
					w.deadlineNoted = true
				}
				c.skip(bud, strat, w, "deadline_exceeded")
				continue
			}
			br := c.breakers.Get(e.Dependency)
			state := br.State()
			if state == circuitbreaker.StateProbe || (state == circuitbreaker.StateOpen && !br.CanProbe()) {
				c.openSkip(bud, e, w)
				continue
			}
			if c.throttle != nil && !c.throttle.Allow(e.Dependency) {
				reason := e.Dependency + "_throttled"
				w.reasons = append(w.reasons, reason)
				metrics.ThrottleRejections.WithLabelValues(e.Dependency).Inc()
				c.skip(bud, strat, w, reason)
				continue
			}
			bh := c.bulkheads[e.Dependency]
			if !bh.TryAcquire() {
				reason := e.Dependency + "_saturated"
				w.reasons = append(w.reasons, reason)
				c.skip(bud, strat, w, reason)
				continue
			}
			// Probe admission is the last gate so a throttle or bulkhead
			// rejection can never strand the breaker in the probe state.
			probing := false
			if state == circuitbreaker.StateOpen {
				if !br.EnterProbe() {
					bh.Release()
					c.openSkip(bud, e, w)
					continue
				}
				probing = true
			}
			payload, dur, err := c.attempt(bud, strat, req)
			bh.Release()
			if err == nil {
				err = c.checkPayload(payload.Data)
			}
			if err != nil {
				br.RecordFailure(dur)
				reason := classifyFailure(err)
				if reason == "" {
					reason = "transport_error"
				}
				w.reasons = append(w.reasons, reason)
				c.fail(bud, strat, w, dur, reason, probing)
				continue
			}
			br.RecordSuccess(dur)
			return c.serve(bud, req, strat, i, payload, dur, start, w), nil
		}

		// Cached and synthetic strategies run whenever the walk reaches
		// them, spent budget or not; a local cache hit or a baseline costs
		// nothing the caller has not already paid.
		last := i == len(c.entries)-1
		payload, dur, err := c.attempt(bud, strat, req)
		if err == nil && !last {
			err = c.checkPayload(payload.Data)
		}
		if err != nil {
			if last {
				metrics.AttemptsTotal.WithLabelValues(c.name, strat.Name(), "failure").Inc()
				c.logger.Error("terminal strategy failed",
					"chain", c.name,
					"strategy", strat.Name(),
					"correlation_id", bud.CorrelationID(),
					"error", err,
				)
				return Result{}, fmt.Errorf("chain %s: terminal strategy %s: %w", c.name, strat.Name(), err)
			}
			if reason := classifyFailure(err); reason != "" {
				w.reasons = append(w.reasons, reason)
				c.fail(bud, strat, w, dur, reason, false)
			} else {
				// Cache misses degrade nothing on their own; the serving
				// strategy's used_<name> tells the story.
				c.miss(bud, strat, w, dur)
			}
			continue
		}
		return c.serve(bud, req, strat, i, payload, dur, start, w), nil
	}

	return Result{}, fmt.Errorf("chain %s: no strategy served", c.name)
}

// attempt runs one strategy under its per-attempt context and reports how
// long it took, timeout waits included.
func (c *Chain) attempt(bud *budget.Budget, strat Strategy, req Request) (Payload, time.Duration, error) {
	ctx, cancel := bud.AttemptContext(strat.Timeout())
	start := time.Now()
	payload, err := strat.Execute(ctx, req)
	cancel()
	return payload, time.Since(start), err
}

// checkPayload applies the chain's validator, normalizing arbitrary
// validator errors into ValidationError so classification stays stable.
func (c *Chain) checkPayload(data []byte) error {
	if c.validate == nil {
		return nil
	}
	err := c.validate(data)
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		err = &ValidationError{Reason: err.Error()}
	}
	return err
}

func (c *Chain) openSkip(bud *budget.Budget, e Entry, w *walk) {
	reason := e.Dependency + "_open"
	w.reasons = append(w.reasons, reason)
	metrics.BreakerOpenSkips.WithLabelValues(e.Dependency).Inc()
	c.skip(bud, e.Strategy, w, reason)
}

func (c *Chain) skip(bud *budget.Budget, strat Strategy, w *walk, reason string) {
	w.path = append(w.path, strat.Name()+":skipped")
	metrics.AttemptsTotal.WithLabelValues(c.name, strat.Name(), "skipped").Inc()
	c.sink.Emit(telemetry.EventAttemptOutcome, map[string]any{
		"chain":          c.name,
		"strategy":       strat.Name(),
		"kind":           strat.Kind().String(),
		"outcome":        "skipped",
		"reason":         reason,
		"correlation_id": bud.CorrelationID(),
	})
}

func (c *Chain) fail(bud *budget.Budget, strat Strategy, w *walk, dur time.Duration, reason string, probing bool) {
	w.path = append(w.path, strat.Name()+":failure")
	metrics.AttemptsTotal.WithLabelValues(c.name, strat.Name(), "failure").Inc()
	fields := map[string]any{
		"chain":          c.name,
		"strategy":       strat.Name(),
		"kind":           strat.Kind().String(),
		"outcome":        "failure",
		"reason":         reason,
		"duration_ms":    dur.Milliseconds(),
		"correlation_id": bud.CorrelationID(),
	}
	if probing {
		fields["probe"] = true
	}
	c.sink.Emit(telemetry.EventAttemptOutcome, fields)
}

func (c *Chain) miss(bud *budget.Budget, strat Strategy, w *walk, dur time.Duration) {
	w.path = append(w.path, strat.Name()+":miss")
	metrics.AttemptsTotal.WithLabelValues(c.name, strat.Name(), "miss").Inc()
	c.sink.Emit(telemetry.EventAttemptOutcome, map[string]any{
		"chain":          c.name,
		"strategy":       strat.Name(),
		"kind":           strat.Kind().String(),
		"outcome":        "miss",
		"duration_ms":    dur.Milliseconds(),
		"correlation_id": bud.CorrelationID(),
	})
}

// serve finalizes a successful attempt into the chain's Result and emits
// the walk's closing telemetry.
func (c *Chain) serve(bud *budget.Budget, req Request, strat Strategy, idx int, payload Payload, dur time.Duration, start time.Time, w *walk) Result {
	w.path = append(w.path, strat.Name()+":success")
	metrics.AttemptsTotal.WithLabelValues(c.name, strat.Name(), "success").Inc()
	c.sink.Emit(telemetry.EventAttemptOutcome, map[string]any{
		"chain":          c.name,
		"strategy":       strat.Name(),
		"kind":           strat.Kind().String(),
		"outcome":        "success",
		"duration_ms":    dur.Milliseconds(),
		"correlation_id": bud.CorrelationID(),
	})

	if idx > 0 {
		w.reasons = append(w.reasons, "used_"+strat.Name())
	}
	res := Result{
		Value:    payload.Data,
		Degraded: len(w.reasons) > 0,
		Reasons:  w.reasons,
		Strategy: strat.Name(),
	}
	if !payload.StoredAt.IsZero() {
		res.Freshness = freshnessLabel(time.Since(payload.StoredAt))
	}
	if strat.Kind() == Live && c.cacheWrite {
		c.writeThrough(req, payload.Data)
	}

	metrics.FallbackDepth.WithLabelValues(c.name).Observe(float64(idx + 1))
	if res.Degraded {
		metrics.DegradedResults.WithLabelValues(c.name).Inc()
	}
	c.sink.Emit(telemetry.EventFallbackPath, map[string]any{
		"chain":          c.name,
		"correlation_id": bud.CorrelationID(),
		"path":           strings.Join(w.path, ","),
		"depth":          idx + 1,
	})
	c.sink.Emit(telemetry.EventResultEmitted, map[string]any{
		"chain":          c.name,
		"correlation_id": bud.CorrelationID(),
		"strategy":       strat.Name(),
		"degraded":       res.Degraded,
		"reasons":        strings.Join(res.Reasons, ","),
		"freshness":      res.Freshness,
		"duration_ms":    time.Since(start).Milliseconds(),
	})
	return res
}

// writeThrough stores a validated live payload on a detached context so the
// write survives the request and never eats its budget.
func (c *Chain) writeThrough(req Request, data []byte) {
	key := c.cacheKey(req)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.store.Set(ctx, key, data); err != nil {
			c.logger.Warn("cache write-through failed",
				"chain", c.name,
				"key", key,
				"error", err,
			)
		}
	}()
}

// classifyFailure maps an attempt error onto its reason token. Cache misses
// map to the empty string and add no reason of their own.
func classifyFailure(err error) string {
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrCacheMiss):
		return ""
	case errors.As(err, &ve):
		return "invalid_response"
	case errors.Is(err, ErrThrottled):
		return "throttled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport_error"
	}
}

// Package circuitbreaker implements the per-dependency circuit breakers that
// guard live fallback strategies, plus the registry and bulkhead that scope
// them. One breaker watches one dependency key; a tripped breaker never
// affects calls to other dependencies.
package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dskow/toolgate/internal/metrics"
	"github.com/dskow/toolgate/internal/telemetry"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota // Normal operation; live calls flow.
	StateOpen                // Tripped; live calls are skipped until cooldown.
	StateProbe               // One trial call in flight to test recovery.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateProbe:
		return "probe"
	default:
		return "unknown"
	}
}

// Settings configure one breaker. Thresholds are per-dependency because
// "healthy" means different numbers for different tools.
type Settings struct {
	// WindowSize bounds the outcome window (sample count cap).
	WindowSize int
	// SampleMaxAge drops samples older than this from statistics; 0 disables.
	SampleMaxAge time.Duration
	// MinSamples gates tripping: with fewer samples the breaker stays closed
	// no matter what the statistics say.
	MinSamples int
	// FailureRateThreshold trips the breaker when the window failure rate
	// reaches it (0..1).
	FailureRateThreshold float64
	// P95LatencyThreshold trips the breaker when the window p95 duration
	// reaches it; 0 disables the latency condition.
	P95LatencyThreshold time.Duration
	// Cooldown is how long an open breaker waits before admitting a probe.
	Cooldown time.Duration

	// SlowCallThreshold counts a success at or above this duration as a
	// failure sample; 0 disables.
	SlowCallThreshold time.Duration

	// Adaptive tightens the effective failure-rate threshold while the EWMA
	// latency sits above P95LatencyThreshold, so a slow dependency trips on
	// fewer errors. Disabled by default.
	Adaptive bool
	// EWMAAlpha is the smoothing factor for latency tracking (0 < alpha <= 1).
	EWMAAlpha float64
	// MinFailureRateThreshold is the tightest threshold adaptive mode may
	// reach.
	MinFailureRateThreshold float64
}

// Breaker is a Closed/Open/Probe state machine over a rolling outcome
// window. All methods are safe for concurrent use; recording an outcome and
// re-evaluating state form a single critical section, so concurrent callers
// always observe a consistent machine.
type Breaker struct {
	key    string
	logger *slog.Logger
	sink   telemetry.Sink

	window *Window

	minSamples        int
	failureThreshold  float64
	p95Threshold      time.Duration
	cooldown          time.Duration
	slowCallThreshold time.Duration

	adaptive     bool
	ewmaAlpha    float64
	minThreshold float64

	mu       sync.Mutex
	state    State
	openedAt time.Time
	ewma     float64 // EWMA of attempt latency in nanoseconds
}

// New creates a breaker for the given dependency key. A nil sink discards
// telemetry.
func New(key string, s Settings, logger *slog.Logger, sink telemetry.Sink) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = telemetry.Nop{}
	}
	alpha := s.EWMAAlpha
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &Breaker{
		key:               key,
		logger:            logger,
		sink:              sink,
		window:            NewWindow(s.WindowSize, s.SampleMaxAge),
		minSamples:        s.MinSamples,
		failureThreshold:  s.FailureRateThreshold,
		p95Threshold:      s.P95LatencyThreshold,
		cooldown:          s.Cooldown,
		slowCallThreshold: s.SlowCallThreshold,
		adaptive:          s.Adaptive,
		ewmaAlpha:         alpha,
		minThreshold:      s.MinFailureRateThreshold,
		state:             StateClosed,
	}
}

// Key returns the dependency key this breaker guards.
func (b *Breaker) Key() string { return b.key }

// State returns the current state. Read-only; never transitions.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CanProbe reports whether an open breaker has cooled down enough to admit
// a probe. Side-effect free; the transition happens in EnterProbe.
func (b *Breaker) CanProbe() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen && time.Since(b.openedAt) >= b.cooldown
}

// EnterProbe transitions Open→Probe and reports whether the caller won the
// probe slot. Exactly one caller wins per cooldown expiry; everyone else
// (including callers arriving while the probe is in flight) gets false and
// should fall back. No-op when not open or not yet cooled down.
func (b *Breaker) EnterProbe() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen || time.Since(b.openedAt) < b.cooldown {
		return false
	}
	b.transitionTo(StateProbe)
	return true
}

// RecordSuccess records a successful attempt. In Probe it closes the
// breaker; in Closed it feeds the window and re-evaluates. A success slower
// than SlowCallThreshold is recorded as a failure.
func (b *Breaker) RecordSuccess(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.slowCallThreshold > 0 && d >= b.slowCallThreshold {
		b.recordFailure(d)
		return
	}

	b.window.Record(false, d)
	b.observeLatency(d)

	if b.state == StateProbe {
		b.transitionTo(StateClosed)
		return
	}
	b.evaluate()
}

// RecordFailure records a failed attempt. In Probe it reopens the breaker
// and restarts the cooldown; in Closed it feeds the window and re-evaluates.
func (b *Breaker) RecordFailure(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordFailure(d)
}

// Reset forces the breaker back to closed and clears its window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
	b.window.Reset()
	b.ewma = 0
}

// Stats is a point-in-time snapshot for admin and health surfaces.
type Stats struct {
	Key         string        `json:"key"`
	State       string        `json:"state"`
	Samples     int           `json:"samples"`
	FailureRate float64       `json:"failure_rate"`
	P95         time.Duration `json:"-"`
	P95Ms       int64         `json:"p95_ms"`
	EWMAMs      int64         `json:"ewma_latency_ms"`
	OpenedAt    *time.Time    `json:"opened_at,omitempty"`
}

// Stats returns a snapshot of the breaker's state and window statistics.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	state := b.state
	openedAt := b.openedAt
	ewma := time.Duration(b.ewma)
	b.mu.Unlock()

	p95 := b.window.P95Duration()
	st := Stats{
		Key:         b.key,
		State:       state.String(),
		Samples:     b.window.Len(),
		FailureRate: b.window.FailureRate(),
		P95:         p95,
		P95Ms:       p95.Milliseconds(),
		EWMAMs:      ewma.Milliseconds(),
	}
	if state != StateClosed && !openedAt.IsZero() {
		t := openedAt
		st.OpenedAt = &t
	}
	return st
}

// recordFailure appends a failed sample and advances the machine.
// Must be called with b.mu held.
func (b *Breaker) recordFailure(d time.Duration) {
	b.window.Record(true, d)
	b.observeLatency(d)

	if b.state == StateProbe {
		// Failed probe: back to open with the cooldown restarted.
		b.transitionTo(StateOpen)
		return
	}
	b.evaluate()
}

// evaluate trips Closed→Open when the window is both deep enough and bad
// enough. Either condition alone suffices: a dependency can fail by being
// wrong as easily as by being slow. Must be called with b.mu held.
func (b *Breaker) evaluate() {
	if b.state != StateClosed {
		return
	}
	if b.window.Len() < b.minSamples {
		return
	}
	if b.window.FailureRate() >= b.effectiveThreshold() {
		b.transitionTo(StateOpen)
		return
	}
	if b.p95Threshold > 0 && b.window.P95Duration() >= b.p95Threshold {
		b.transitionTo(StateOpen)
	}
}

// observeLatency folds one attempt duration into the EWMA.
// Must be called with b.mu held.
func (b *Breaker) observeLatency(d time.Duration) {
	ns := float64(d.Nanoseconds())
	if b.ewma == 0 {
		b.ewma = ns
		return
	}
	b.ewma = b.ewmaAlpha*ns + (1-b.ewmaAlpha)*b.ewma
}

// effectiveThreshold returns the failure-rate threshold currently in force.
// In adaptive mode the threshold interpolates from the configured value down
// to the minimum as EWMA latency climbs from the p95 ceiling to twice the
// ceiling. Must be called with b.mu held.
func (b *Breaker) effectiveThreshold() float64 {
	if !b.adaptive || b.p95Threshold <= 0 {
		return b.failureThreshold
	}
	ceiling := float64(b.p95Threshold.Nanoseconds())
	if b.ewma <= ceiling {
		return b.failureThreshold
	}
	ratio := (b.ewma - ceiling) / ceiling
	if ratio > 1 {
		ratio = 1
	}
	return b.failureThreshold - ratio*(b.failureThreshold-b.minThreshold)
}

// transitionTo changes state, emitting metrics, a log line, and a telemetry
// event. No-op when the state is unchanged, so recording a success on an
// already-closed breaker never produces a spurious event.
// Must be called with b.mu held.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState

	metrics.BreakerTransitions.WithLabelValues(b.key, from.String(), newState.String()).Inc()
	metrics.BreakerState.WithLabelValues(b.key).Set(float64(newState))

	b.logger.Info("circuit breaker state change",
		"key", b.key,
		"from", from.String(),
		"to", newState.String(),
	)
	b.sink.Emit(telemetry.EventBreakerStateChange, map[string]any{
		"key":  b.key,
		"from": from.String(),
		"to":   newState.String(),
		"at":   time.Now().UTC(),
	})

	switch newState {
	case StateClosed:
		// Stale samples from the outage must not re-trip a recovered
		// dependency.
		b.window.Reset()
		b.openedAt = time.Time{}
	case StateOpen:
		b.openedAt = time.Now()
	case StateProbe:
		// openedAt keeps its value; a failed probe restarts the cooldown
		// via the StateOpen arm.
	}
}

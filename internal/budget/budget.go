// Package budget carries a single caller-supplied time budget and
// correlation id through every attempt of a fallback chain, so no
// combination of fallbacks can run past the caller's SLA. It is a thin
// shell over context.Context: cancellation is one-way and shared by every
// attempt context derived from the budget.
package budget

import (
	"context"
	"math"
	"time"
)

// noDeadline is what Remaining reports for a budget without a deadline; any
// per-attempt timeout is smaller, so min(per, Remaining()) picks the attempt
// timeout.
const noDeadline = time.Duration(math.MaxInt64)

// Budget is one request's time budget. Create it once at the entry point
// and pass it through the whole chain. Safe for concurrent use.
type Budget struct {
	ctx           context.Context
	cancel        context.CancelFunc
	correlationID string
}

// New derives a budget from parent with the given overall timeout. A
// non-positive timeout means the parent's own deadline (if any) is the only
// bound. The correlation id travels with the budget for telemetry.
func New(parent context.Context, timeout time.Duration, correlationID string) *Budget {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	return &Budget{ctx: ctx, cancel: cancel, correlationID: correlationID}
}

// CorrelationID returns the id set at creation.
func (b *Budget) CorrelationID() string { return b.correlationID }

// Remaining returns the time left before the overall deadline, floored at 0.
func (b *Budget) Remaining() time.Duration {
	deadline, ok := b.ctx.Deadline()
	if !ok {
		return noDeadline
	}
	r := time.Until(deadline)
	if r < 0 {
		return 0
	}
	return r
}

// Cancelled reports whether the budget is spent or was explicitly
// cancelled.
func (b *Budget) Cancelled() bool {
	if b.ctx.Err() != nil {
		return true
	}
	deadline, ok := b.ctx.Deadline()
	return ok && !time.Now().Before(deadline)
}

// Cancel spends the budget immediately. One-way and idempotent; every
// attempt context derived from this budget is cancelled with it.
func (b *Budget) Cancel() { b.cancel() }

// AttemptTimeout bounds one strategy attempt: the smaller of the strategy's
// own timeout and whatever remains on the budget. A non-positive per means
// the budget alone bounds the attempt.
func (b *Budget) AttemptTimeout(per time.Duration) time.Duration {
	remaining := b.Remaining()
	if per <= 0 || per > remaining {
		return remaining
	}
	return per
}

// AttemptContext returns a context for one attempt, bounded by
// AttemptTimeout(per). The caller must call the returned cancel func when
// the attempt completes. With the budget already spent the context arrives
// expired, so the attempt fails immediately instead of running unbounded.
func (b *Budget) AttemptContext(per time.Duration) (context.Context, context.CancelFunc) {
	t := b.AttemptTimeout(per)
	if t == noDeadline {
		return context.WithCancel(b.ctx)
	}
	return context.WithTimeout(b.ctx, t)
}

// Context exposes the underlying context for callers that need to pass it
// on unchanged.
func (b *Budget) Context() context.Context { return b.ctx }

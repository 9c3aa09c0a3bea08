package fallback

import (
	"encoding/json"
	"fmt"
	"time"
)

// Result is the single artifact a chain invocation produces. Degraded is
// true exactly when Reasons is non-empty; callers and tests may rely on
// that equivalence.
type Result struct {
	// Value is the served payload, valid JSON for every built-in strategy.
	// RawMessage keeps it inline when the result is re-encoded.
	Value json.RawMessage `json:"value"`

	// Degraded reports whether anything short of a clean first-strategy
	// success happened on the way to Value.
	Degraded bool `json:"degraded"`

	// Reasons lists, in occurrence order, every degradation event of the
	// walk: "<dep>_open", "<dep>_throttled", "<dep>_saturated", "timeout",
	// "throttled", "invalid_response", "transport_error",
	// "deadline_exceeded" (at most once), and "used_<name>" when a
	// non-first strategy served.
	Reasons []string `json:"reasons,omitempty"`

	// Freshness is a human-readable age ("12h0m old") when Value came from
	// a cache, empty otherwise.
	Freshness string `json:"freshness,omitempty"`

	// Strategy names the strategy that produced Value.
	Strategy string `json:"strategy"`
}

// freshnessLabel renders an entry age for operators: "17m old" under an
// hour, "12h0m old" above.
func freshnessLabel(age time.Duration) string {
	if age < 0 {
		age = 0
	}
	hours := int(age.Hours())
	minutes := int(age.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh%dm old", hours, minutes)
	}
	return fmt.Sprintf("%dm old", minutes)
}

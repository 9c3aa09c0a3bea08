// Package health provides liveness and readiness probe HTTP handlers.
// Readiness is derived from circuit breaker state rather than dialling
// backends, so probes can never sidestep breaker discipline or add load to
// a struggling tool.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dskow/toolgate/internal/circuitbreaker"
	"github.com/dskow/toolgate/internal/config"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

const readinessCacheTTL = 5 * time.Second

// Per-chain readiness statuses.
const (
	// chainOK means every live dependency breaker is closed or probing.
	chainOK = "ok"
	// chainDegraded means some live dependencies are open; fallbacks cover them.
	chainDegraded = "degraded"
	// chainOffline means every live dependency is open; only cached or
	// synthetic results are being served.
	chainOffline = "offline"
	// chainStatic marks chains with no live strategies at all.
	chainStatic = "static"
)

// Handler provides /health and /ready endpoints.
type Handler struct {
	chains   []config.ChainConfig
	breakers *circuitbreaker.Registry
	logger   *slog.Logger

	// Cached readiness result so aggressive probe intervals don't recompute
	// chain summaries on every poll. Protected by cacheMu.
	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a health Handler over the configured chains and the breaker
// registry backing their live strategies.
func New(chains []config.ChainConfig, breakers *circuitbreaker.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{chains: chains, breakers: breakers, logger: logger}
}

// RegisterRoutes adds the probe routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	// Serve from cache if fresh.
	h.cacheMu.RLock()
	if h.cachedResult != nil && time.Since(h.cachedAt) < readinessCacheTTL {
		body := h.cachedResult
		status := h.cachedStatus
		h.cacheMu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
		return
	}
	h.cacheMu.RUnlock()

	statuses := make(map[string]string, len(h.chains))
	liveChains := 0
	offlineChains := 0

	for _, chain := range h.chains {
		status := h.chainStatus(chain)
		statuses[chain.Name] = status
		if status != chainStatic {
			liveChains++
		}
		if status == chainOffline {
			offlineChains++
		}
	}

	// Not ready only when no chain can reach a live tool at all. Individual
	// open breakers degrade answers but the relay is still doing its job.
	httpStatus := http.StatusOK
	statusStr := "ready"
	if liveChains > 0 && offlineChains == liveChains {
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
		h.logger.Warn("all live dependencies open", "chains", liveChains)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"status": statusStr,
		"chains": statuses,
	})
	body = append(body, '\n')

	// Cache the result.
	h.cacheMu.Lock()
	h.cachedResult = body
	h.cachedStatus = httpStatus
	h.cachedAt = time.Now()
	h.cacheMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	w.Write(body)
}

// chainStatus summarizes one chain from its live dependencies' breakers.
// A dependency whose breaker has not been created yet has seen no traffic
// and is presumed healthy.
func (h *Handler) chainStatus(chain config.ChainConfig) string {
	liveDeps := 0
	openDeps := 0
	for _, s := range chain.Strategies {
		if s.Kind != "live" {
			continue
		}
		liveDeps++
		if h.breakers == nil {
			continue
		}
		if b, ok := h.breakers.Lookup(s.Dependency); ok && b.State() == circuitbreaker.StateOpen {
			openDeps++
		}
	}

	switch {
	case liveDeps == 0:
		return chainStatic
	case openDeps == 0:
		return chainOK
	case openDeps == liveDeps:
		return chainOffline
	default:
		return chainDegraded
	}
}

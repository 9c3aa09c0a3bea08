// Package admin provides read-only admin API endpoints for runtime
// inspection of relay state. All endpoints are protected by IP allowlist.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/dskow/toolgate/internal/circuitbreaker"
	"github.com/dskow/toolgate/internal/config"
	"github.com/dskow/toolgate/internal/ratelimit"
)

// ConfigProvider abstracts config access so the handler serves the active
// configuration even after hot reloads.
type ConfigProvider interface {
	Current() *config.Config
}

// Handler provides admin API endpoints.
type Handler struct {
	provider    ConfigProvider
	breakers    *circuitbreaker.Registry
	throttle    *ratelimit.Limiter
	chains      []config.ChainConfig
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates a new admin Handler. chains is the boot-time chain set the
// relay actually mounted; the provider's chain section may be newer when the
// file changed on disk, since chain changes require a restart. The allowlist
// CIDRs must be pre-validated (config validation ensures this).
func New(
	provider ConfigProvider,
	breakers *circuitbreaker.Registry,
	throttle *ratelimit.Limiter,
	chains []config.ChainConfig,
	allowlist []string,
	logger *slog.Logger,
) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		provider:    provider,
		breakers:    breakers,
		throttle:    throttle,
		chains:      chains,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/chains", h.guard(h.chainsHandler))
	mux.HandleFunc("/admin/breakers", h.guard(h.breakersHandler))
	mux.HandleFunc("/admin/config", h.guard(h.configHandler))
	mux.HandleFunc("/admin/throttle", h.guard(h.throttleHandler))
}

// guard wraps a handler with IP allowlist checking.
func (h *Handler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method Not Allowed",
			})
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Forbidden",
			})
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// strategySlot is one chain position in the /admin/chains response.
type strategySlot struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Dependency string `json:"dependency,omitempty"`
	TimeoutMs  int    `json:"timeout_ms"`
	// BreakerState is set for live strategies only; "unknown" means the
	// dependency has seen no traffic yet.
	BreakerState string `json:"breaker_state,omitempty"`
}

// chainStatus is the response type for /admin/chains.
type chainStatus struct {
	Name         string         `json:"name"`
	PathPrefix   string         `json:"path_prefix"`
	Methods      []string       `json:"methods,omitempty"`
	AuthRequired bool           `json:"auth_required"`
	CacheWrite   bool           `json:"cache_write"`
	Strategies   []strategySlot `json:"strategies"`
}

func (h *Handler) chainsHandler(w http.ResponseWriter, r *http.Request) {
	statuses := make([]chainStatus, len(h.chains))
	for i, ch := range h.chains {
		slots := make([]strategySlot, len(ch.Strategies))
		for j, s := range ch.Strategies {
			slot := strategySlot{
				Name:       s.Name,
				Kind:       s.Kind,
				Dependency: s.Dependency,
				TimeoutMs:  s.TimeoutMs,
			}
			if s.Kind == "live" {
				slot.BreakerState = "unknown"
				if b, ok := h.breakers.Lookup(s.Dependency); ok {
					slot.BreakerState = b.State().String()
				}
			}
			slots[j] = slot
		}
		statuses[i] = chainStatus{
			Name:         ch.Name,
			PathPrefix:   ch.PathPrefix,
			Methods:      ch.Methods,
			AuthRequired: ch.AuthRequired,
			CacheWrite:   ch.CacheWrite,
			Strategies:   slots,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": statuses})
}

func (h *Handler) breakersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"breakers": h.breakers.Snapshot()})
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.provider.Current()

	// Copy and redact sensitive fields. The redis password never serializes
	// (json:"-"); the JWT secret needs masking by hand.
	redacted := *cfg
	if redacted.Auth.JWTSecret != "" {
		redacted.Auth.JWTSecret = "***"
	}

	writeJSON(w, http.StatusOK, redacted)
}

func (h *Handler) throttleHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": h.provider.Current().Throttle.Enabled,
		"buckets": h.throttle.Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

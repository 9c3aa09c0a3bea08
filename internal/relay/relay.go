// Package relay mounts fallback chains at path prefixes and turns incoming
// HTTP requests into chain executions. A matched request always leaves with
// a result envelope when its chain can serve anything at all; plain error
// responses are reserved for requests that never reach a chain.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dskow/toolgate/internal/apierror"
	"github.com/dskow/toolgate/internal/budget"
	"github.com/dskow/toolgate/internal/config"
	"github.com/dskow/toolgate/internal/fallback"
	"github.com/dskow/toolgate/internal/metrics"
	"github.com/dskow/toolgate/internal/middleware"
	"github.com/dskow/toolgate/internal/routing"
)

// DeadlineHeader lets callers tighten the per-request time budget below the
// configured maximum. Values are milliseconds.
const DeadlineHeader = "X-Deadline-Ms"

type mount struct {
	prefix string
	cfg    config.ChainConfig
	chain  *fallback.Chain
}

// Router matches incoming requests to mounted chains and executes them
// under a per-request budget.
type Router struct {
	mounts          []mount
	defaultDeadline time.Duration
	maxDeadline     time.Duration
	logger          *slog.Logger
}

// New creates a Router from the loaded config and the chains built from it.
// Mounts are sorted by path prefix length (longest first) for correct
// matching. Every configured chain must have a built counterpart.
func New(cfg *config.Config, chains map[string]*fallback.Chain, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mounts := make([]mount, 0, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		ch, ok := chains[cc.Name]
		if !ok {
			return nil, fmt.Errorf("no built chain for %q", cc.Name)
		}
		mounts = append(mounts, mount{prefix: cc.PathPrefix, cfg: cc, chain: ch})
	}
	sort.Slice(mounts, func(i, j int) bool {
		return len(mounts[i].prefix) > len(mounts[j].prefix)
	})

	return &Router{
		mounts:          mounts,
		defaultDeadline: cfg.Server.DefaultDeadline(),
		maxDeadline:     cfg.Server.MaxDeadline(),
		logger:          logger,
	}, nil
}

// ServeHTTP implements http.Handler. It matches the request to a mounted
// chain, validates the method, and runs the chain under the request budget.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m, ok := rt.matchMount(r.URL.Path)
	if !ok {
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.ChainNotFound, "no chain mounted for this path")
		return
	}

	start := time.Now()
	rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

	metrics.ActiveRequests.Inc()
	defer func() {
		metrics.ActiveRequests.Dec()
		status := strconv.Itoa(rec.statusCode)
		metrics.RequestsTotal.WithLabelValues(m.cfg.Name, r.Method, status).Inc()
		metrics.RequestDuration.WithLabelValues(m.cfg.Name, r.Method).Observe(time.Since(start).Seconds())
	}()

	rt.serveChain(rec, r, m)
}

func (rt *Router) serveChain(w http.ResponseWriter, r *http.Request, m mount) {
	if len(m.cfg.Methods) > 0 && !methodAllowed(r.Method, m.cfg.Methods) {
		w.Header().Set("Allow", strings.Join(m.cfg.Methods, ", "))
		apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed, "method not allowed for this chain")
		return
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				middleware.WriteBodyLimitError(w, r)
				return
			}
			rt.logger.Warn("request body read failed",
				"chain", m.cfg.Name,
				"error", err,
				"request_id", middleware.GetRequestID(r.Context()),
			)
			apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "failed to read request body")
			return
		}
	}

	timeout, err := requestDeadline(r, rt.defaultDeadline, rt.maxDeadline)
	if err != nil {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.InvalidDeadline, err.Error())
		return
	}

	correlationID := middleware.GetRequestID(r.Context())
	bud := budget.New(r.Context(), timeout, correlationID)
	defer bud.Cancel()

	result, execErr := m.chain.Execute(bud, fallback.Request{
		Method:        r.Method,
		Path:          subPath(r.URL.Path, m.prefix),
		Query:         r.URL.Query(),
		Body:          body,
		CorrelationID: correlationID,
	})
	if execErr != nil {
		rt.logger.Error("chain exhausted",
			"chain", m.cfg.Name,
			"error", execErr,
			"request_id", correlationID,
		)
		apierror.WriteJSON(w, r, http.StatusBadGateway, apierror.ChainExhausted, "all strategies failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Degraded", strconv.FormatBool(result.Degraded))
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(envelope{Result: result, RequestID: correlationID}); err != nil {
		rt.logger.Warn("failed to write result", "chain", m.cfg.Name, "error", err, "request_id", correlationID)
	}
}

// envelope is the response body: the chain result plus the request id.
type envelope struct {
	fallback.Result
	RequestID string `json:"request_id,omitempty"`
}

// ChainRequiresAuth reports whether the chain mounted at path requires a
// Bearer token. Unmatched paths return false so the 404 can surface without
// an auth challenge.
func (rt *Router) ChainRequiresAuth(path string) bool {
	m, ok := rt.matchMount(path)
	if !ok {
		return false
	}
	return m.cfg.AuthRequired
}

func (rt *Router) matchMount(path string) (mount, bool) {
	for _, m := range rt.mounts {
		if routing.MatchesPrefix(path, m.prefix) {
			return m, true
		}
	}
	return mount{}, false
}

// requestDeadline resolves the per-request time budget: the caller's
// X-Deadline-Ms when present, the configured default otherwise, never more
// than the configured maximum.
func requestDeadline(r *http.Request, def, max time.Duration) (time.Duration, error) {
	h := r.Header.Get(DeadlineHeader)
	if h == "" {
		return def, nil
	}
	ms, err := strconv.ParseInt(h, 10, 64)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", DeadlineHeader, h)
	}
	// Comparing in milliseconds also avoids duration overflow on huge values.
	if max > 0 && ms >= max.Milliseconds() {
		return max, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// subPath returns the request path below the mount prefix, always starting
// with "/". The chain's strategies see only this suffix.
func subPath(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	if rest == "" {
		return "/"
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

func methodAllowed(method string, allowed []string) bool {
	for _, m := range allowed {
		if strings.EqualFold(method, m) {
			return true
		}
	}
	return false
}

// responseRecorder wraps http.ResponseWriter to capture the status code
// while still writing to the real client. Used for metrics reporting.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.written {
		rr.statusCode = code
		rr.written = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.written {
		rr.statusCode = http.StatusOK
		rr.written = true
	}
	return rr.ResponseWriter.Write(b)
}

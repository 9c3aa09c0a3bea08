//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dskow/toolgate/internal/admin"
	"github.com/dskow/toolgate/internal/auth"
	"github.com/dskow/toolgate/internal/cache"
	"github.com/dskow/toolgate/internal/circuitbreaker"
	"github.com/dskow/toolgate/internal/config"
	"github.com/dskow/toolgate/internal/health"
	"github.com/dskow/toolgate/internal/metrics"
	"github.com/dskow/toolgate/internal/middleware"
	"github.com/dskow/toolgate/internal/ratelimit"
	"github.com/dskow/toolgate/internal/relay"
	"github.com/dskow/toolgate/internal/telemetry"
)

const (
	jwtSecret = "integration-test-secret-key-32chars!!"
	jwtIssuer = "https://auth.example.com"
	jwtAud    = "toolgate"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// harness is a fully wired relay served over a loopback listener: the same
// middleware stack, ops mux, and chain construction as cmd/toolgate, minus
// the process scaffolding.
type harness struct {
	srv *httptest.Server
}

func (h *harness) url(path string) string { return h.srv.URL + path }

func startRelay(t *testing.T, yamlCfg string) *harness {
	t.Helper()

	cfg, err := config.LoadFromBytes([]byte(yamlCfg))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := cache.NewMemory(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	sink := telemetry.Nop{}
	breakers := circuitbreaker.NewRegistry(func(key string) circuitbreaker.Settings {
		return relay.BreakerSettings(cfg.Breakers.Resolve(key))
	}, logger, sink)
	limiter := ratelimit.New(cfg.Throttle, logger)
	t.Cleanup(limiter.Stop)

	chains, err := relay.BuildChains(cfg, relay.Deps{
		Store:     store,
		Breakers:  breakers,
		Bulkheads: relay.BuildBulkheads(cfg),
		Throttle:  limiter,
		Sink:      sink,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("build chains: %v", err)
	}
	router, err := relay.New(cfg, chains, logger)
	if err != nil {
		t.Fatalf("build router: %v", err)
	}

	var handler http.Handler = router
	handler = auth.Middleware(cfg.Auth, router.ChainRequiresAuth, logger)(handler)
	handler = middleware.BodyLimit(cfg.Server.MaxBodyBytes)(handler)
	handler = middleware.Deadline(cfg.Server.MaxDeadline() + 2*time.Second)(handler)
	handler = middleware.Logging(logger, nil, nil)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	mux := http.NewServeMux()
	health.New(cfg.Chains, breakers, logger).RegisterRoutes(mux)
	if cfg.Metrics.IsEnabled() {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}
	if cfg.Admin.Enabled {
		// Never started, so the reloader only hands its initial config to
		// the admin surface.
		reloader := config.NewReloader("", cfg, logger)
		admin.New(reloader, breakers, limiter, cfg.Chains, cfg.Admin.IPAllowlist, logger).RegisterRoutes(mux)
	}

	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if p == "/health" || p == "/ready" ||
			(cfg.Metrics.IsEnabled() && p == cfg.Metrics.Path) ||
			(cfg.Admin.Enabled && strings.HasPrefix(p, "/admin/")) {
			mux.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})

	srv := httptest.NewServer(combined)
	t.Cleanup(srv.Close)
	return &harness{srv: srv}
}

// Tool backend modes.
const (
	modeOK      = "ok"
	modeFail    = "fail"
	modeInvalid = "invalid"
	modeSlow    = "slow"
)

// toolBackend is a stand-in tool server whose behavior can be switched
// mid-test: healthy, erroring, returning junk, or stalling.
type toolBackend struct {
	srv  *httptest.Server
	mode atomic.Value
	hits atomic.Int64
}

func newToolBackend(t *testing.T, okBody string) *toolBackend {
	t.Helper()
	b := &toolBackend{}
	b.mode.Store(modeOK)
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		switch b.mode.Load().(string) {
		case modeFail:
			http.Error(w, "boom", http.StatusInternalServerError)
		case modeInvalid:
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"unexpected": true}`))
		case modeSlow:
			// Longer than any strategy timeout used in these tests.
			time.Sleep(1500 * time.Millisecond)
			fallthrough
		default:
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(okBody))
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *toolBackend) URL() string      { return b.srv.URL }
func (b *toolBackend) setMode(m string) { b.mode.Store(m) }
func (b *toolBackend) hitCount() int64  { return b.hits.Load() }

// pricingConfig renders the standard pricing chain over two live backends, a
// cached layer, and a synthetic baseline. Breakers are tuned small so three
// failures trip them and the cooldown passes within a test.
func pricingConfig(primary, mirror string) string {
	return fmt.Sprintf(`
server:
  max_body_bytes: 4096
  default_deadline_ms: 2000
  max_deadline_ms: 10000
cache:
  backend: memory
  ttl: 1h
  max_entries: 256
breakers:
  defaults:
    window_size: 8
    min_samples: 3
    failure_rate_threshold: 0.5
    cooldown: 300ms
admin:
  enabled: true
  ip_allowlist:
    - 127.0.0.1/32
    - "::1/128"
chains:
  - name: menu_price
    path_prefix: /menu/price
    methods: [GET]
    cache_write: true
    validate:
      required_fields:
        - price_cents
    strategies:
      - name: primary
        kind: live
        dependency: pricing_primary
        backend: %s
        timeout_ms: 500
      - name: mirror
        kind: live
        dependency: pricing_mirror
        backend: %s
        timeout_ms: 500
      - name: recent
        kind: cached
        timeout_ms: 50
      - name: baseline
        kind: synthetic
        body: '{"price_cents": 250, "source": "baseline"}'
`, primary, mirror)
}

// envelope mirrors the relay's result body.
type envelope struct {
	Value     json.RawMessage `json:"value"`
	Degraded  bool            `json:"degraded"`
	Reasons   []string        `json:"reasons"`
	Freshness string          `json:"freshness"`
	Strategy  string          `json:"strategy"`
	RequestID string          `json:"request_id"`
}

func decodeEnvelope(t *testing.T, body []byte) envelope {
	t.Helper()
	var e envelope
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("parse envelope %q: %v", string(body), err)
	}
	return e
}

func hasReason(e envelope, reason string) bool {
	for _, r := range e.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

func generateJWT(sub, scope string, expiry time.Duration) string {
	claims := jwt.MapClaims{
		"sub":   sub,
		"iss":   jwtIssuer,
		"aud":   jwtAud,
		"exp":   time.Now().Add(expiry).Unix(),
		"scope": scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		panic(fmt.Sprintf("generateJWT: %v", err))
	}
	return s
}

func httpDo(method, url string, body io.Reader, headers map[string]string) (*http.Response, []byte, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp, data, err
}

func httpGet(url string, headers map[string]string) (*http.Response, []byte, error) {
	return httpDo("GET", url, nil, headers)
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func parseJSON(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", string(data), err)
	}
	return m
}

func assertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertErrorCode(t *testing.T, body []byte, expected string) {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("failed to parse error response: %v\nbody: %s", err, string(body))
	}
	code, ok := m["error_code"].(string)
	if !ok {
		t.Fatalf("error_code field missing or not a string in %s", string(body))
	}
	if code != expected {
		t.Errorf("expected error_code %q, got %q", expected, code)
	}
}

func assertHeader(t *testing.T, resp *http.Response, key, expected string) {
	t.Helper()
	got := resp.Header.Get(key)
	if got != expected {
		t.Errorf("expected header %s=%q, got %q", key, expected, got)
	}
}

func assertBodyContains(t *testing.T, body []byte, substr string) {
	t.Helper()
	if !strings.Contains(string(body), substr) {
		t.Errorf("expected body to contain %q, got %q", substr, string(body))
	}
}

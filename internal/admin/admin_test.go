package admin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dskow/toolgate/internal/circuitbreaker"
	"github.com/dskow/toolgate/internal/config"
	"github.com/dskow/toolgate/internal/ratelimit"
)

type mockConfigProvider struct {
	cfg *config.Config
}

func (m *mockConfigProvider) Current() *config.Config { return m.cfg }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			Enabled:   true,
			JWTSecret: "super-secret-key",
			Issuer:    "test",
			Audience:  "test",
		},
		Throttle: config.ThrottleConfig{
			Enabled:           true,
			RequestsPerSecond: 100,
			BurstSize:         50,
		},
		Cache: config.CacheConfig{
			Backend: "memory",
			Redis:   config.RedisConfig{Addr: "localhost:6379", Password: "redis-secret"},
		},
		Chains: []config.ChainConfig{
			{
				Name:         "pricing",
				PathPrefix:   "/menu/price",
				Methods:      []string{"GET"},
				AuthRequired: true,
				CacheWrite:   true,
				Strategies: []config.StrategyConfig{
					{Name: "primary", Kind: "live", Dependency: "pricing_primary", Backend: "http://localhost:7001", TimeoutMs: 900},
					{Name: "cache", Kind: "cached", TimeoutMs: 50},
					{Name: "baseline", Kind: "synthetic", Body: `{"price_cents":250}`},
				},
			},
		},
	}
}

func testHandler(t *testing.T, allowlist []string) (*Handler, *circuitbreaker.Registry, *ratelimit.Limiter) {
	t.Helper()

	logger := testLogger()
	cfg := testConfig()

	breakers := circuitbreaker.NewRegistry(func(string) circuitbreaker.Settings {
		return circuitbreaker.Settings{
			WindowSize:           8,
			MinSamples:           1,
			FailureRateThreshold: 0.5,
			Cooldown:             time.Hour,
		}
	}, logger, nil)

	throttle := ratelimit.New(cfg.Throttle, logger)
	t.Cleanup(throttle.Stop)

	h := New(&mockConfigProvider{cfg: cfg}, breakers, throttle, cfg.Chains, allowlist, logger)
	return h, breakers, throttle
}

func adminGet(h *Handler, method, path, remoteAddr string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestChainsEndpoint(t *testing.T) {
	h, breakers, _ := testHandler(t, []string{"127.0.0.0/8"})

	rec := adminGet(h, "GET", "/admin/chains", "127.0.0.1:1234")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string][]chainStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	chains := resp["chains"]
	if len(chains) != 1 {
		t.Fatalf("expected 1 chain, got %d", len(chains))
	}
	ch := chains[0]
	if ch.Name != "pricing" || ch.PathPrefix != "/menu/price" {
		t.Errorf("chain = %s at %s, want pricing at /menu/price", ch.Name, ch.PathPrefix)
	}
	if len(ch.Strategies) != 3 {
		t.Fatalf("expected 3 strategies, got %d", len(ch.Strategies))
	}
	// No traffic yet, so the live slot has no breaker to report on.
	if got := ch.Strategies[0].BreakerState; got != "unknown" {
		t.Errorf("live breaker_state = %q, want unknown", got)
	}
	if got := ch.Strategies[1].BreakerState; got != "" {
		t.Errorf("cached breaker_state = %q, want empty", got)
	}

	// Trip the dependency and the same endpoint reports it open.
	breakers.Get("pricing_primary").RecordFailure(10 * time.Millisecond)

	rec = adminGet(h, "GET", "/admin/chains", "127.0.0.1:1234")
	resp = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal after trip: %v", err)
	}
	if got := resp["chains"][0].Strategies[0].BreakerState; got != "open" {
		t.Errorf("live breaker_state after trip = %q, want open", got)
	}
}

func TestBreakersEndpoint(t *testing.T) {
	h, breakers, _ := testHandler(t, []string{"127.0.0.0/8"})

	breakers.Get("pricing_primary").RecordFailure(10 * time.Millisecond)
	breakers.Get("allergen_db").RecordSuccess(5 * time.Millisecond)

	rec := adminGet(h, "GET", "/admin/breakers", "127.0.0.1:1234")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string][]circuitbreaker.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	stats := resp["breakers"]
	if len(stats) != 2 {
		t.Fatalf("expected 2 breakers, got %d", len(stats))
	}
	// Snapshot sorts by key.
	if stats[0].Key != "allergen_db" || stats[0].State != "closed" {
		t.Errorf("stats[0] = %s/%s, want allergen_db/closed", stats[0].Key, stats[0].State)
	}
	if stats[1].Key != "pricing_primary" || stats[1].State != "open" {
		t.Errorf("stats[1] = %s/%s, want pricing_primary/open", stats[1].Key, stats[1].State)
	}
	if stats[1].OpenedAt == nil {
		t.Error("open breaker should report opened_at")
	}
}

func TestConfigEndpoint_RedactsSecrets(t *testing.T) {
	h, _, _ := testHandler(t, []string{"127.0.0.0/8"})

	rec := adminGet(h, "GET", "/admin/config", "127.0.0.1:1234")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"***"`) {
		t.Error("expected jwt_secret to be redacted")
	}
	if strings.Contains(body, "super-secret-key") {
		t.Error("jwt_secret was not redacted")
	}
	if strings.Contains(body, "redis-secret") {
		t.Error("redis password leaked into config response")
	}
}

func TestThrottleEndpoint(t *testing.T) {
	h, _, throttle := testHandler(t, []string{"127.0.0.0/8"})

	throttle.Allow("pricing_primary")

	rec := adminGet(h, "GET", "/admin/throttle", "127.0.0.1:1234")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Enabled bool                   `json:"enabled"`
		Buckets []ratelimit.BucketStat `json:"buckets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Enabled {
		t.Error("enabled = false, want true")
	}
	if len(resp.Buckets) != 1 || resp.Buckets[0].Dependency != "pricing_primary" {
		t.Errorf("buckets = %+v, want one pricing_primary entry", resp.Buckets)
	}
}

func TestIPAllowlist_Denied(t *testing.T) {
	h, _, _ := testHandler(t, []string{"10.0.0.0/8"})

	rec := adminGet(h, "GET", "/admin/chains", "192.168.1.1:1234")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestIPAllowlist_Allowed(t *testing.T) {
	h, _, _ := testHandler(t, []string{"192.168.0.0/16"})

	rec := adminGet(h, "GET", "/admin/chains", "192.168.1.100:5678")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _, _ := testHandler(t, []string{"127.0.0.0/8"})

	rec := adminGet(h, "POST", "/admin/chains", "127.0.0.1:1234")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dskow/toolgate/internal/cache"
	"github.com/dskow/toolgate/internal/circuitbreaker"
	"github.com/dskow/toolgate/internal/config"
	"github.com/dskow/toolgate/internal/fallback"
	"github.com/dskow/toolgate/internal/telemetry"
)

// Deps carries the shared collaborators chain construction needs. Client is
// optional; a nil Client gets one pooled default shared by every live
// strategy.
type Deps struct {
	Store     cache.Store
	Breakers  *circuitbreaker.Registry
	Bulkheads map[string]*circuitbreaker.Bulkhead
	Throttle  fallback.ThrottleGate
	Sink      telemetry.Sink
	Logger    *slog.Logger
	Client    *http.Client
}

// BreakerSettings maps a resolved breaker config onto the breaker's own
// settings type. MaxConcurrent is absent on purpose; it sizes the bulkhead,
// not the breaker.
func BreakerSettings(bc config.BreakerConfig) circuitbreaker.Settings {
	return circuitbreaker.Settings{
		WindowSize:              bc.WindowSize,
		SampleMaxAge:            bc.SampleMaxAge,
		MinSamples:              bc.MinSamples,
		FailureRateThreshold:    bc.FailureRateThreshold,
		P95LatencyThreshold:     bc.P95LatencyThreshold,
		Cooldown:                bc.Cooldown,
		SlowCallThreshold:       bc.SlowCallThreshold,
		Adaptive:                bc.Adaptive,
		EWMAAlpha:               bc.EWMAAlpha,
		MinFailureRateThreshold: bc.MinFailureRateThreshold,
	}
}

// BuildBulkheads creates one bulkhead per dependency that configures
// max_concurrent. Dependencies are shared across chains, so two chains
// calling the same tool compete for the same slots.
func BuildBulkheads(cfg *config.Config) map[string]*circuitbreaker.Bulkhead {
	out := make(map[string]*circuitbreaker.Bulkhead)
	for _, ch := range cfg.Chains {
		for _, sc := range ch.Strategies {
			if sc.Dependency == "" {
				continue
			}
			if _, ok := out[sc.Dependency]; ok {
				continue
			}
			if bh := circuitbreaker.NewBulkhead(sc.Dependency, cfg.Breakers.Resolve(sc.Dependency).MaxConcurrent); bh != nil {
				out[sc.Dependency] = bh
			}
		}
	}
	return out
}

// BuildChains constructs every configured chain. Config validation has
// already rejected structural defects; errors here mean the config and the
// construction disagree, which should not survive a test run.
func BuildChains(cfg *config.Config, deps Deps) (map[string]*fallback.Chain, error) {
	client := deps.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	chains := make(map[string]*fallback.Chain, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		entries := make([]fallback.Entry, 0, len(cc.Strategies))
		for _, sc := range cc.Strategies {
			switch sc.Kind {
			case "live":
				s, err := fallback.NewHTTPStrategy(sc.Name, sc.Backend, sc.Timeout(), client)
				if err != nil {
					return nil, fmt.Errorf("chain %s: %w", cc.Name, err)
				}
				entries = append(entries, fallback.Entry{Strategy: s, Dependency: sc.Dependency})
			case "cached":
				s, err := fallback.NewCacheStrategy(sc.Name, cc.Name, deps.Store, fallback.DefaultCacheKey(cc.Name), sc.Timeout())
				if err != nil {
					return nil, fmt.Errorf("chain %s: %w", cc.Name, err)
				}
				entries = append(entries, fallback.Entry{Strategy: s})
			case "synthetic":
				s, err := fallback.NewStaticStrategy(sc.Name, []byte(sc.Body))
				if err != nil {
					return nil, fmt.Errorf("chain %s: %w", cc.Name, err)
				}
				entries = append(entries, fallback.Entry{Strategy: s})
			default:
				return nil, fmt.Errorf("chain %s: unknown strategy kind %q", cc.Name, sc.Kind)
			}
		}

		opts := fallback.Options{
			Breakers:  deps.Breakers,
			Bulkheads: deps.Bulkheads,
			Throttle:  deps.Throttle,
			Logger:    deps.Logger,
			Sink:      deps.Sink,
		}
		if len(cc.Validate.RequiredFields) > 0 {
			opts.Validate = fallback.JSONObjectValidator(cc.Validate.RequiredFields...)
		}
		if cc.CacheWrite {
			opts.Store = deps.Store
			opts.CacheKey = fallback.DefaultCacheKey(cc.Name)
			opts.CacheWrite = true
		}

		ch, err := fallback.New(cc.Name, entries, opts)
		if err != nil {
			return nil, err
		}
		chains[cc.Name] = ch
	}
	return chains, nil
}

package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dskow/toolgate/internal/cache"
	"github.com/dskow/toolgate/internal/metrics"
)

// ErrCacheMiss reports that a cached strategy had nothing stored under the
// request's key. The chain treats it as a quiet pass to the next strategy.
var ErrCacheMiss = errors.New("cache miss")

// DefaultCacheKey keys entries by chain, method, path, and canonical query.
// Request bodies are not part of the key; chains whose responses depend on
// a POST body need their own key func.
func DefaultCacheKey(chain string) func(Request) string {
	return func(req Request) string {
		key := chain + ":" + req.Method + ":" + req.Path
		if len(req.Query) > 0 {
			key += "?" + req.Query.Encode()
		}
		return key
	}
}

// CacheStrategy serves payloads a healthier moment wrote through to the
// store. A hit carries the entry's write time so the result can say how
// stale it is.
type CacheStrategy struct {
	name    string
	chain   string
	store   cache.Store
	key     func(Request) string
	timeout time.Duration
}

// NewCacheStrategy builds a cached strategy over store. A nil key func
// falls back to DefaultCacheKey(chain).
func NewCacheStrategy(name, chain string, store cache.Store, key func(Request) string, timeout time.Duration) (*CacheStrategy, error) {
	if store == nil {
		return nil, fmt.Errorf("strategy %s: nil cache store", name)
	}
	if key == nil {
		key = DefaultCacheKey(chain)
	}
	return &CacheStrategy{
		name:    name,
		chain:   chain,
		store:   store,
		key:     key,
		timeout: timeout,
	}, nil
}

// Name implements Strategy.
func (s *CacheStrategy) Name() string { return s.name }

// Kind implements Strategy.
func (s *CacheStrategy) Kind() Kind { return Cached }

// Timeout implements Strategy.
func (s *CacheStrategy) Timeout() time.Duration { return s.timeout }

// Execute implements Strategy. A miss returns ErrCacheMiss; a hit returns
// the stored payload with its write time.
func (s *CacheStrategy) Execute(ctx context.Context, req Request) (Payload, error) {
	value, storedAt, found, err := s.store.Get(ctx, s.key(req))
	if err != nil {
		metrics.CacheLookups.WithLabelValues(s.chain, "error").Inc()
		return Payload{}, fmt.Errorf("cache lookup: %w", err)
	}
	if !found {
		metrics.CacheLookups.WithLabelValues(s.chain, "miss").Inc()
		return Payload{}, ErrCacheMiss
	}
	metrics.CacheLookups.WithLabelValues(s.chain, "hit").Inc()
	return Payload{Data: value, StoredAt: storedAt}, nil
}

// StaticStrategy returns one fixed payload. It is the chain's terminal
// guarantee: Execute never fails and never consults the context, so an
// exhausted budget still gets an answer.
type StaticStrategy struct {
	name    string
	payload []byte
}

// NewStaticStrategy validates the payload once, at boot. A payload that is
// not valid JSON is a configuration defect, not something to discover
// mid-outage.
func NewStaticStrategy(name string, payload []byte) (*StaticStrategy, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("strategy %s: empty static payload", name)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("strategy %s: static payload is not valid JSON", name)
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return &StaticStrategy{name: name, payload: cp}, nil
}

// Name implements Strategy.
func (s *StaticStrategy) Name() string { return s.name }

// Kind implements Strategy.
func (s *StaticStrategy) Kind() Kind { return Synthetic }

// Timeout implements Strategy.
func (s *StaticStrategy) Timeout() time.Duration { return 0 }

// Execute implements Strategy.
func (s *StaticStrategy) Execute(context.Context, Request) (Payload, error) {
	return Payload{Data: s.payload}, nil
}

package fallback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrThrottled marks a backend's explicit rate-limit response (HTTP 429).
// The chain records it against the breaker like any other failure but
// surfaces the distinct "throttled" reason.
var ErrThrottled = errors.New("throttled by backend")

// maxResponseBytes caps how much of a backend response one attempt reads.
const maxResponseBytes = 4 << 20

// HTTPStrategy is a live strategy calling one backend base URL over HTTP.
// The incoming request's method, relative path, query, and body are
// forwarded; the correlation id travels as X-Request-ID.
type HTTPStrategy struct {
	name    string
	backend *url.URL
	timeout time.Duration
	client  *http.Client
}

// NewHTTPStrategy builds a live strategy for the given absolute backend
// URL. A nil client gets a pooled default; pass one to share a transport
// across strategies hitting the same host.
func NewHTTPStrategy(name, backendURL string, timeout time.Duration, client *http.Client) (*HTTPStrategy, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: parse backend url: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("strategy %s: backend url scheme must be http or https, got %q", name, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("strategy %s: backend url missing host", name)
	}
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPStrategy{
		name:    name,
		backend: u,
		timeout: timeout,
		client:  client,
	}, nil
}

// Name implements Strategy.
func (s *HTTPStrategy) Name() string { return s.name }

// Kind implements Strategy.
func (s *HTTPStrategy) Kind() Kind { return Live }

// Timeout implements Strategy.
func (s *HTTPStrategy) Timeout() time.Duration { return s.timeout }

// Execute performs one backend call. 429 maps to ErrThrottled, any other
// non-2xx status to a plain transport error; the body is read only on
// success, capped at maxResponseBytes.
func (s *HTTPStrategy) Execute(ctx context.Context, req Request) (Payload, error) {
	u := *s.backend
	u.Path = joinPath(s.backend.Path, req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return Payload{}, fmt.Errorf("build %s request: %w", s.name, err)
	}
	hreq.Header.Set("Accept", "application/json")
	if len(req.Body) > 0 {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if req.CorrelationID != "" {
		hreq.Header.Set("X-Request-ID", req.CorrelationID)
	}

	resp, err := s.client.Do(hreq)
	if err != nil {
		return Payload{}, fmt.Errorf("call %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		drain(resp.Body)
		return Payload{}, fmt.Errorf("%s responded 429: %w", s.name, ErrThrottled)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp.Body)
		return Payload{}, fmt.Errorf("%s responded %d", s.name, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return Payload{}, fmt.Errorf("read %s response: %w", s.name, err)
	}
	if len(data) > maxResponseBytes {
		return Payload{}, &ValidationError{Reason: "response exceeds size cap"}
	}
	return Payload{Data: data}, nil
}

// drain consumes a bounded slice of an unwanted body so the connection can
// be reused.
func drain(r io.Reader) {
	io.Copy(io.Discard, io.LimitReader(r, 4096))
}

func joinPath(base, rel string) string {
	b := strings.TrimSuffix(base, "/")
	if rel == "" {
		if b == "" {
			return "/"
		}
		return b
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return b + rel
}

// Package config provides YAML configuration loading with validation and
// environment variable substitution for the relay.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level relay configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Throttle ThrottleConfig `yaml:"throttle" json:"throttle"`
	Auth     AuthConfig     `yaml:"auth" json:"auth"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Breakers BreakersConfig `yaml:"breakers" json:"breakers"`
	Admin    AdminConfig    `yaml:"admin" json:"admin"`
	Chains   []ChainConfig  `yaml:"chains" json:"chains"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              int           `yaml:"port" json:"port"`
	ReadTimeout       time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TrustedProxies    []string      `yaml:"trusted_proxies" json:"trusted_proxies"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	DefaultDeadlineMs int           `yaml:"default_deadline_ms" json:"default_deadline_ms"`
	MaxDeadlineMs     int           `yaml:"max_deadline_ms" json:"max_deadline_ms"`
	TLS               TLSConfig     `yaml:"tls" json:"tls"`
}

// DefaultDeadline returns the per-request time budget applied when the
// caller does not send X-Deadline-Ms.
func (s ServerConfig) DefaultDeadline() time.Duration {
	return time.Duration(s.DefaultDeadlineMs) * time.Millisecond
}

// MaxDeadline returns the upper bound a caller-supplied deadline may reach.
func (s ServerConfig) MaxDeadline() time.Duration {
	return time.Duration(s.MaxDeadlineMs) * time.Millisecond
}

// TLSConfig holds TLS termination settings.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	MinVersion string `yaml:"min_version" json:"min_version"` // "1.2" or "1.3"; default: "1.2"
}

// LoggingConfig holds log output and rotation settings.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`               // "debug", "info", "warn", "error"; default: "info"
	Output     string `yaml:"output" json:"output"`             // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`   // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`   // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"` // max days to retain rotated files; default: 30

	// BodyLogging captures request and response bodies in access logs with
	// sensitive fields redacted. Off unless explicitly enabled.
	BodyLogging     bool `yaml:"body_logging" json:"body_logging"`
	MaxBodyLogBytes int  `yaml:"max_body_log_bytes" json:"max_body_log_bytes"` // per-body capture cap; default: 4096
}

// ValidLogLevels are the accepted logging.level strings.
var ValidLogLevels = map[string]bool{
	"":      true, // empty means default ("info")
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

// ThrottleConfig holds the outbound per-dependency rate gate settings. The
// gate withholds live attempts; it never feeds breaker windows.
type ThrottleConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// AuthConfig holds JWT authentication settings.
type AuthConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	JWTSecret string   `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer    string   `yaml:"issuer" json:"issuer"`
	Audience  string   `yaml:"audience" json:"audience"`
	Scopes    []string `yaml:"scopes" json:"scopes"`
}

// CacheConfig selects and sizes the store behind cached strategies and
// write-through.
type CacheConfig struct {
	Backend    string        `yaml:"backend" json:"backend"` // "memory" or "redis"; default: "memory"
	TTL        time.Duration `yaml:"ttl" json:"ttl"`
	MaxEntries int           `yaml:"max_entries" json:"max_entries"` // memory backend only
	KeyPrefix  string        `yaml:"key_prefix" json:"key_prefix"`   // redis backend only
	Redis      RedisConfig   `yaml:"redis" json:"redis"`
}

// RedisConfig holds redis connection settings for the cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
}

// BreakersConfig holds breaker defaults plus per-dependency overrides.
type BreakersConfig struct {
	Defaults  BreakerConfig            `yaml:"defaults" json:"defaults"`
	Overrides map[string]BreakerConfig `yaml:"overrides" json:"overrides,omitempty"`
}

// BreakerConfig holds one dependency's breaker and bulkhead settings. In
// Overrides a zero-valued field inherits the default.
type BreakerConfig struct {
	WindowSize              int           `yaml:"window_size" json:"window_size"`
	SampleMaxAge            time.Duration `yaml:"sample_max_age" json:"sample_max_age"`
	MinSamples              int           `yaml:"min_samples" json:"min_samples"`
	FailureRateThreshold    float64       `yaml:"failure_rate_threshold" json:"failure_rate_threshold"`
	P95LatencyThreshold     time.Duration `yaml:"p95_latency_threshold" json:"p95_latency_threshold"`
	Cooldown                time.Duration `yaml:"cooldown" json:"cooldown"`
	SlowCallThreshold       time.Duration `yaml:"slow_call_threshold" json:"slow_call_threshold"`
	MaxConcurrent           int           `yaml:"max_concurrent" json:"max_concurrent"`
	Adaptive                bool          `yaml:"adaptive" json:"adaptive"`
	EWMAAlpha               float64       `yaml:"ewma_alpha" json:"ewma_alpha"`
	MinFailureRateThreshold float64       `yaml:"min_failure_rate_threshold" json:"min_failure_rate_threshold"`
}

// Resolve returns the effective settings for a dependency key: the defaults
// with any non-zero override fields applied.
func (b BreakersConfig) Resolve(key string) BreakerConfig {
	out := b.Defaults
	ov, ok := b.Overrides[key]
	if !ok {
		return out
	}
	if ov.WindowSize != 0 {
		out.WindowSize = ov.WindowSize
	}
	if ov.SampleMaxAge != 0 {
		out.SampleMaxAge = ov.SampleMaxAge
	}
	if ov.MinSamples != 0 {
		out.MinSamples = ov.MinSamples
	}
	if ov.FailureRateThreshold != 0 {
		out.FailureRateThreshold = ov.FailureRateThreshold
	}
	if ov.P95LatencyThreshold != 0 {
		out.P95LatencyThreshold = ov.P95LatencyThreshold
	}
	if ov.Cooldown != 0 {
		out.Cooldown = ov.Cooldown
	}
	if ov.SlowCallThreshold != 0 {
		out.SlowCallThreshold = ov.SlowCallThreshold
	}
	if ov.MaxConcurrent != 0 {
		out.MaxConcurrent = ov.MaxConcurrent
	}
	if ov.Adaptive {
		out.Adaptive = true
	}
	if ov.EWMAAlpha != 0 {
		out.EWMAAlpha = ov.EWMAAlpha
	}
	if ov.MinFailureRateThreshold != 0 {
		out.MinFailureRateThreshold = ov.MinFailureRateThreshold
	}
	return out
}

// ChainConfig defines one mounted fallback chain.
type ChainConfig struct {
	Name         string           `yaml:"name" json:"name"`
	PathPrefix   string           `yaml:"path_prefix" json:"path_prefix"`
	Methods      []string         `yaml:"methods" json:"methods"` // empty means all methods
	AuthRequired bool             `yaml:"auth_required" json:"auth_required"`
	CacheWrite   bool             `yaml:"cache_write" json:"cache_write"`
	Validate     ValidateConfig   `yaml:"validate" json:"validate"`
	Strategies   []StrategyConfig `yaml:"strategies" json:"strategies"`
}

// ValidateConfig holds the payload sanity check applied to every
// non-terminal strategy result.
type ValidateConfig struct {
	RequiredFields []string `yaml:"required_fields" json:"required_fields"`
}

// StrategyConfig defines one slot in a chain.
type StrategyConfig struct {
	Name       string `yaml:"name" json:"name"`
	Kind       string `yaml:"kind" json:"kind"` // "live", "cached", or "synthetic"
	Dependency string `yaml:"dependency" json:"dependency,omitempty"`
	Backend    string `yaml:"backend" json:"backend,omitempty"`
	TimeoutMs  int    `yaml:"timeout_ms" json:"timeout_ms"`
	Body       string `yaml:"body" json:"body,omitempty"` // synthetic payload, JSON
}

// Timeout returns the strategy's per-attempt timeout as a time.Duration.
func (s StrategyConfig) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// Warnings are stored on cfg.Warnings (goroutine-safe, no package-level state).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1048576 // 1 MB
	}
	if cfg.Server.DefaultDeadlineMs == 0 {
		cfg.Server.DefaultDeadlineMs = 2000
	}
	if cfg.Server.MaxDeadlineMs == 0 {
		cfg.Server.MaxDeadlineMs = 10000
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}
	if cfg.Logging.MaxBodyLogBytes == 0 {
		cfg.Logging.MaxBodyLogBytes = 4096
	}

	// TLS defaults
	if cfg.Server.TLS.Enabled && cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = "1.2"
	}

	if cfg.Throttle.Enabled {
		if cfg.Throttle.RequestsPerSecond == 0 {
			cfg.Throttle.RequestsPerSecond = 50
		}
		if cfg.Throttle.BurstSize == 0 {
			cfg.Throttle.BurstSize = 25
		}
	}

	// Cache defaults
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 6 * time.Hour
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 10000
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "toolgate:"
	}

	// Breaker defaults
	bd := &cfg.Breakers.Defaults
	if bd.WindowSize == 0 {
		bd.WindowSize = 20
	}
	if bd.SampleMaxAge == 0 {
		bd.SampleMaxAge = 5 * time.Minute
	}
	if bd.MinSamples == 0 {
		bd.MinSamples = 5
	}
	if bd.FailureRateThreshold == 0 {
		bd.FailureRateThreshold = 0.5
	}
	if bd.Cooldown == 0 {
		bd.Cooldown = 30 * time.Second
	}
	if bd.Adaptive && bd.EWMAAlpha == 0 {
		bd.EWMAAlpha = 0.3
	}
	if bd.Adaptive && bd.MinFailureRateThreshold == 0 {
		bd.MinFailureRateThreshold = 0.2
	}

	// Strategy timeout defaults by kind
	for i := range cfg.Chains {
		for j := range cfg.Chains[i].Strategies {
			s := &cfg.Chains[i].Strategies[j]
			if s.TimeoutMs == 0 {
				switch s.Kind {
				case "live":
					s.TimeoutMs = 5000
				case "cached":
					s.TimeoutMs = 250
				}
			}
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if cfg.Server.DefaultDeadlineMs < 0 {
		return fmt.Errorf("server.default_deadline_ms must be non-negative")
	}
	if cfg.Server.MaxDeadlineMs < 0 {
		return fmt.Errorf("server.max_deadline_ms must be non-negative")
	}
	if cfg.Server.MaxDeadlineMs > 0 && cfg.Server.DefaultDeadlineMs > cfg.Server.MaxDeadlineMs {
		return fmt.Errorf("server.default_deadline_ms must not exceed server.max_deadline_ms")
	}

	if cfg.Throttle.Enabled {
		if cfg.Throttle.RequestsPerSecond <= 0 {
			return fmt.Errorf("throttle.requests_per_second must be positive")
		}
		if cfg.Throttle.BurstSize <= 0 {
			return fmt.Errorf("throttle.burst_size must be positive")
		}
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
		}
		if cfg.Auth.Issuer == "" {
			return fmt.Errorf("auth.issuer is required when auth is enabled")
		}
		if cfg.Auth.Audience == "" {
			return fmt.Errorf("auth.audience is required when auth is enabled")
		}
	}

	// Cache validation
	switch cfg.Cache.Backend {
	case "memory":
		if cfg.Cache.MaxEntries < 1 {
			return fmt.Errorf("cache.max_entries must be positive for the memory backend")
		}
	case "redis":
		if cfg.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be \"memory\" or \"redis\", got %q", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be non-negative")
	}

	// TLS validation
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.MinVersion != "1.2" && cfg.Server.TLS.MinVersion != "1.3" {
			return fmt.Errorf("server.tls.min_version must be \"1.2\" or \"1.3\", got %q", cfg.Server.TLS.MinVersion)
		}
	}

	// Logging validation
	if !ValidLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.MaxBodyLogBytes < 0 {
		return fmt.Errorf("logging.max_body_log_bytes must be non-negative, got %d", cfg.Logging.MaxBodyLogBytes)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	// Admin validation
	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	seenNames := make(map[string]bool)
	seenPrefixes := make(map[string]bool)
	for i, ch := range cfg.Chains {
		if err := validateChain(cfg, i, ch); err != nil {
			return err
		}
		if seenNames[ch.Name] {
			return fmt.Errorf("duplicate chain name: %s", ch.Name)
		}
		seenNames[ch.Name] = true
		if seenPrefixes[ch.PathPrefix] {
			return fmt.Errorf("duplicate chain path_prefix: %s", ch.PathPrefix)
		}
		seenPrefixes[ch.PathPrefix] = true
	}

	// Overrides for dependencies no chain references are usually typos.
	// Checked as a warning, not an error, in collectWarnings.

	return nil
}

func validateChain(cfg *Config, i int, ch ChainConfig) error {
	if ch.Name == "" {
		return fmt.Errorf("chains[%d].name is required", i)
	}
	if ch.PathPrefix == "" {
		return fmt.Errorf("chains[%d].path_prefix is required", i)
	}
	if !strings.HasPrefix(ch.PathPrefix, "/") {
		return fmt.Errorf("chains[%d].path_prefix must start with /", i)
	}
	for _, m := range ch.Methods {
		switch m {
		case "GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS":
		default:
			return fmt.Errorf("chains[%d]: invalid method %q", i, m)
		}
	}
	if len(ch.Strategies) == 0 {
		return fmt.Errorf("chains[%d]: at least one strategy is required", i)
	}

	seen := make(map[string]bool)
	for j, s := range ch.Strategies {
		if s.Name == "" {
			return fmt.Errorf("chains[%d].strategies[%d].name is required", i, j)
		}
		if seen[s.Name] {
			return fmt.Errorf("chains[%d]: duplicate strategy name %q", i, s.Name)
		}
		seen[s.Name] = true

		last := j == len(ch.Strategies)-1
		switch s.Kind {
		case "live":
			if s.Dependency == "" {
				return fmt.Errorf("chains[%d].strategies[%d]: live strategy needs a dependency", i, j)
			}
			if s.Backend == "" {
				return fmt.Errorf("chains[%d].strategies[%d]: live strategy needs a backend", i, j)
			}
			u, err := url.Parse(s.Backend)
			if err != nil {
				return fmt.Errorf("chains[%d].strategies[%d].backend: invalid URL: %w", i, j, err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("chains[%d].strategies[%d].backend: scheme must be http or https, got %q", i, j, u.Scheme)
			}
			if u.Host == "" {
				return fmt.Errorf("chains[%d].strategies[%d].backend: host is required", i, j)
			}
			if err := validateBreaker(s.Dependency, cfg.Breakers.Resolve(s.Dependency)); err != nil {
				return err
			}
		case "cached":
			// The store itself is configured globally under cache.
		case "synthetic":
			if s.Body == "" {
				return fmt.Errorf("chains[%d].strategies[%d]: synthetic strategy needs a body", i, j)
			}
			if !json.Valid([]byte(s.Body)) {
				return fmt.Errorf("chains[%d].strategies[%d]: synthetic body is not valid JSON", i, j)
			}
			if !last {
				return fmt.Errorf("chains[%d].strategies[%d]: synthetic strategies may only sit in the terminal position", i, j)
			}
		default:
			return fmt.Errorf("chains[%d].strategies[%d].kind must be live, cached, or synthetic; got %q", i, j, s.Kind)
		}
		if s.TimeoutMs < 0 {
			return fmt.Errorf("chains[%d].strategies[%d].timeout_ms must be non-negative", i, j)
		}
	}

	if last := ch.Strategies[len(ch.Strategies)-1]; last.Kind != "synthetic" {
		return fmt.Errorf("chains[%d]: terminal strategy %q must be synthetic so the chain always answers", i, last.Name)
	}
	return nil
}

// validateBreaker checks the merged settings a dependency will actually
// run with, so a bad override fails at load time.
func validateBreaker(key string, b BreakerConfig) error {
	if b.WindowSize < 1 {
		return fmt.Errorf("breaker %s: window_size must be positive", key)
	}
	if b.MinSamples < 1 {
		return fmt.Errorf("breaker %s: min_samples must be positive", key)
	}
	if b.FailureRateThreshold <= 0 || b.FailureRateThreshold > 1 {
		return fmt.Errorf("breaker %s: failure_rate_threshold must be between 0 (exclusive) and 1 (inclusive)", key)
	}
	if b.P95LatencyThreshold < 0 {
		return fmt.Errorf("breaker %s: p95_latency_threshold must be non-negative", key)
	}
	if b.Cooldown <= 0 {
		return fmt.Errorf("breaker %s: cooldown must be positive", key)
	}
	if b.SampleMaxAge < 0 {
		return fmt.Errorf("breaker %s: sample_max_age must be non-negative", key)
	}
	if b.SlowCallThreshold < 0 {
		return fmt.Errorf("breaker %s: slow_call_threshold must be non-negative", key)
	}
	if b.MaxConcurrent < 0 {
		return fmt.Errorf("breaker %s: max_concurrent must be non-negative", key)
	}
	if b.Adaptive {
		if b.MinFailureRateThreshold <= 0 || b.MinFailureRateThreshold >= b.FailureRateThreshold {
			return fmt.Errorf("breaker %s: min_failure_rate_threshold must be between 0 and failure_rate_threshold", key)
		}
		if b.P95LatencyThreshold <= 0 {
			return fmt.Errorf("breaker %s: p95_latency_threshold must be positive when adaptive is enabled", key)
		}
		if b.EWMAAlpha <= 0 || b.EWMAAlpha > 1 {
			return fmt.Errorf("breaker %s: ewma_alpha must be in (0, 1]", key)
		}
	}
	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Auth.Enabled && strings.Contains(cfg.Auth.JWTSecret, "${") {
		warnings = append(warnings, "auth.jwt_secret contains unresolved environment variable")
	}
	if cfg.Cache.Backend == "redis" && strings.Contains(cfg.Cache.Redis.Password, "${") {
		warnings = append(warnings, "cache.redis.password contains unresolved environment variable")
	}

	referenced := make(map[string]bool)
	for _, ch := range cfg.Chains {
		hasCached := false
		for _, s := range ch.Strategies {
			if s.Kind == "live" {
				referenced[s.Dependency] = true
			}
			if s.Kind == "cached" {
				hasCached = true
			}
		}
		if ch.CacheWrite && !hasCached {
			warnings = append(warnings, fmt.Sprintf("chain %s: cache_write is enabled but no cached strategy reads the entries", ch.Name))
		}
	}
	for key := range cfg.Breakers.Overrides {
		if !referenced[key] {
			warnings = append(warnings, fmt.Sprintf("breakers.overrides.%s does not match any chain dependency", key))
		}
	}
	return warnings
}

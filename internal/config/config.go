// Package config provides gateway configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Security SecurityConfig `yaml:"security"`
	Auth     AuthConfig     `yaml:"auth"`
	Projects []ProjectEntry `yaml:"projects,omitempty"`
	Redis    *RedisConfig   `yaml:"redis,omitempty"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string   `yaml:"listenAddr"`
	ReadTimeout     Duration `yaml:"readTimeout,omitempty"`
	WriteTimeout    Duration `yaml:"writeTimeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output,omitempty"`
}

// SecurityConfig configures runtime security posture.
type SecurityConfig struct {
	// Hardened enables IP allowlist enforcement for production-class
	// keys. It is a deliberate runtime-global switch rather than a
	// per-key setting.
	Hardened bool `yaml:"hardened"`

	// TrustedProxies lists proxy CIDRs whose X-Forwarded-For entries
	// may be trusted when resolving the client origin.
	TrustedProxies []string `yaml:"trustedProxies,omitempty"`
}

// AuthConfig configures credential extraction and validation.
type AuthConfig struct {
	// Header is the request header carrying the API key.
	Header string `yaml:"header,omitempty"`

	// QueryParam is the fallback query parameter carrying the API key.
	QueryParam string `yaml:"queryParam,omitempty"`

	// AllowBypassKeys enables the local development bypass literals.
	AllowBypassKeys bool `yaml:"allowBypassKeys"`

	// CacheTTL bounds how long a key record lookup may be served from
	// cache. Revocations are observed within at most this window.
	CacheTTL Duration `yaml:"cacheTTL,omitempty"`

	// StoreTimeout is the per-call timeout for key and project store
	// operations.
	StoreTimeout Duration `yaml:"storeTimeout,omitempty"`

	// Keys lists static key records for the in-memory store.
	Keys []KeyEntry `yaml:"keys,omitempty"`
}

// KeyEntry is a statically configured key record.
type KeyEntry struct {
	Credential  string     `yaml:"credential"`
	ProjectID   string     `yaml:"projectId,omitempty"`
	Class       string     `yaml:"class,omitempty"`
	Status      string     `yaml:"status"`
	ExpiresAt   *time.Time `yaml:"expiresAt,omitempty"`
	IPAllowlist []string   `yaml:"ipAllowlist,omitempty"`
	Permissions []string   `yaml:"permissions,omitempty"`
}

// ProjectEntry is a statically configured project.
type ProjectEntry struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name,omitempty"`
	Status string `yaml:"status"`
}

// RedisConfig configures the redis-backed stores.
type RedisConfig struct {
	URL            string   `yaml:"url"`
	KeyPrefix      string   `yaml:"keyPrefix,omitempty"`
	PoolSize       int      `yaml:"poolSize,omitempty"`
	ConnectTimeout Duration `yaml:"connectTimeout,omitempty"`
	ReadTimeout    Duration `yaml:"readTimeout,omitempty"`
	WriteTimeout   Duration `yaml:"writeTimeout,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Namespace string `yaml:"namespace,omitempty"`
}

// Default values.
const (
	DefaultListenAddr      = ":8080"
	DefaultHeader          = "X-API-Key"
	DefaultQueryParam      = "api_key"
	DefaultCacheTTL        = 2 * time.Second
	MaxCacheTTL            = 5 * time.Second
	DefaultStoreTimeout    = 2 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
)

// DefaultConfig returns a configuration with defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      DefaultListenAddr,
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			Header:       DefaultHeader,
			QueryParam:   DefaultQueryParam,
			CacheTTL:     Duration(DefaultCacheTTL),
			StoreTimeout: Duration(DefaultStoreTimeout),
		},
		Metrics: MetricsConfig{
			Namespace: "keygate",
		},
	}
}

// ApplyDefaults fills in zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Auth.Header == "" {
		c.Auth.Header = DefaultHeader
	}
	if c.Auth.QueryParam == "" {
		c.Auth.QueryParam = DefaultQueryParam
	}
	if c.Auth.CacheTTL == 0 {
		c.Auth.CacheTTL = Duration(DefaultCacheTTL)
	}
	if c.Auth.StoreTimeout == 0 {
		c.Auth.StoreTimeout = Duration(DefaultStoreTimeout)
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "keygate"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return errors.New("server.listenAddr is required")
	}
	if c.Auth.CacheTTL.Duration() < 0 {
		return errors.New("auth.cacheTTL must be non-negative")
	}
	if c.Auth.CacheTTL.Duration() > MaxCacheTTL {
		return fmt.Errorf("auth.cacheTTL must not exceed %s", MaxCacheTTL)
	}
	if c.Auth.StoreTimeout.Duration() <= 0 {
		return errors.New("auth.storeTimeout must be positive")
	}
	for i, proxy := range c.Security.TrustedProxies {
		if !isValidCIDROrIP(proxy) {
			return fmt.Errorf("security.trustedProxies[%d]: invalid CIDR or IP: %s", i, proxy)
		}
	}
	for i, key := range c.Auth.Keys {
		if err := key.Validate(); err != nil {
			return fmt.Errorf("auth.keys[%d]: %w", i, err)
		}
	}
	for i, project := range c.Projects {
		if err := project.Validate(); err != nil {
			return fmt.Errorf("projects[%d]: %w", i, err)
		}
	}
	if c.Redis != nil && c.Redis.URL == "" {
		return errors.New("redis.url is required when redis is configured")
	}
	return nil
}

// Validate validates a static key entry.
func (e *KeyEntry) Validate() error {
	if e.Credential == "" {
		return errors.New("credential is required")
	}
	switch e.Status {
	case "active", "rotated", "revoked":
	default:
		return fmt.Errorf("invalid status: %s", e.Status)
	}
	for i, entry := range e.IPAllowlist {
		if !isValidCIDROrIP(entry) {
			return fmt.Errorf("ipAllowlist[%d]: invalid CIDR or IP: %s", i, entry)
		}
	}
	return nil
}

// Validate validates a project entry.
func (e *ProjectEntry) Validate() error {
	if e.ID == "" {
		return errors.New("id is required")
	}
	switch e.Status {
	case "active", "inactive":
	default:
		return fmt.Errorf("invalid status: %s", e.Status)
	}
	return nil
}

// isValidCIDROrIP reports whether s parses as a CIDR or a single IP.
func isValidCIDROrIP(s string) bool {
	if _, _, err := net.ParseCIDR(s); err == nil {
		return true
	}
	return net.ParseIP(s) != nil
}

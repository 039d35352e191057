package apikey

import (
	"fmt"
	"time"
)

// Config represents validation pipeline configuration.
type Config struct {
	// Hardened enables IP allowlist enforcement for production-class
	// keys. Runtime-global: origin policy is a property of the
	// deployment, not of an individual key.
	Hardened bool

	// BypassKeys are the development literals that short-circuit the
	// pipeline to an override result. Empty disables the bypass.
	BypassKeys []string

	// StoreTimeout bounds each key and project store call. Zero uses
	// DefaultStoreTimeout.
	StoreTimeout time.Duration
}

// DefaultStoreTimeout bounds store calls when no timeout is configured.
const DefaultStoreTimeout = 2 * time.Second

// Validate validates the pipeline configuration.
func (c *Config) Validate() error {
	if c.StoreTimeout < 0 {
		return fmt.Errorf("storeTimeout must be non-negative")
	}
	for i, key := range c.BypassKeys {
		if key == "" {
			return fmt.Errorf("bypassKeys[%d] must not be empty", i)
		}
		if _, err := ParseKey(key); err == nil {
			return fmt.Errorf("bypassKeys[%d] must not be a structured key", i)
		}
	}
	return nil
}

// effectiveStoreTimeout returns the configured store timeout or the
// default.
func (c *Config) effectiveStoreTimeout() time.Duration {
	if c.StoreTimeout > 0 {
		return c.StoreTimeout
	}
	return DefaultStoreTimeout
}

// Package cache implements the Redis-backed link cache: positive entries
// with jittered logical freshness, negative markers for known-missing codes,
// and stale reads for database outages
package cache

import (
	"errors"
	"time"
)

// Static errors for configuration validation
var (
	ErrPositiveTTLTooShort = errors.New("positiveTTL must be at least 1s")
	ErrStaleTTLTooShort    = errors.New("staleTTL must not be shorter than positiveTTL")
	ErrJitterOutOfRange    = errors.New("jitter must be between 0 and 0.5")
)

// Config holds link cache tuning
type Config struct {
	// PositiveTTL is how long a cached link counts as fresh
	PositiveTTL time.Duration `yaml:"positiveTTL" default:"1h"`
	// NegativeTTL is how long a not-found marker suppresses lookups
	NegativeTTL time.Duration `yaml:"negativeTTL" default:"5m"`
	// StaleTTL is how long entries are physically retained in Redis past
	// their freshness so the database-outage path has something to serve
	StaleTTL time.Duration `yaml:"staleTTL" default:"24h"`
	// Jitter randomizes each entry's freshness window by +/- this fraction
	// so entries written together do not all expire together
	Jitter float64 `yaml:"jitter" default:"0.08"`
	// OpTimeout bounds every cache round trip on the redirect path
	OpTimeout time.Duration `yaml:"opTimeout" default:"50ms"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PositiveTTL < time.Second {
		return ErrPositiveTTLTooShort
	}

	if c.StaleTTL < c.PositiveTTL {
		return ErrStaleTTLTooShort
	}

	if c.Jitter < 0 || c.Jitter > 0.5 {
		return ErrJitterOutOfRange
	}

	return nil
}

// Package freqtrack implements the distributed sliding-window frequency
// tracker: one atomic Redis script per check, with an in-process fallback
// when Redis is unreachable
package freqtrack

import (
	"errors"
	"time"
)

// Static errors for configuration validation
var (
	ErrWindowTooShort    = errors.New("window must be at least 1s")
	ErrThresholdRequired = errors.New("threshold must be greater than zero")
)

// Config holds frequency tracker tuning
type Config struct {
	// Window is the trailing interval checks are counted over
	Window time.Duration `yaml:"window" default:"60s"`
	// Threshold is the per-identity count above which the window is flagged
	Threshold int64 `yaml:"threshold" default:"30"`
	// OpTimeout bounds the Redis round trip; a slow check falls back locally
	OpTimeout time.Duration `yaml:"opTimeout" default:"50ms"`
	// SweepInterval is how often stale fallback entries are pruned
	SweepInterval time.Duration `yaml:"sweepInterval" default:"1m"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Window < time.Second {
		return ErrWindowTooShort
	}

	if c.Threshold <= 0 {
		return ErrThresholdRequired
	}

	return nil
}

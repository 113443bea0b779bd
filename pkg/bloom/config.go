// Package bloom implements the IP reputation filter: a bloom filter over
// hashed identities with optional Redis mirroring so instances converge on
// the same view of known-abusive clients
package bloom

import (
	"errors"
	"time"
)

// Static errors for configuration validation
var (
	ErrExpectedItemsRequired = errors.New("expectedItems must be greater than zero")
	ErrRateOutOfRange        = errors.New("falsePositiveRate must be between 0 and 1 exclusive")
)

// Config holds reputation filter sizing and mirroring settings
type Config struct {
	// ExpectedItems sizes the bit array. Exceeding it degrades the false
	// positive rate but never produces false negatives.
	ExpectedItems int `yaml:"expectedItems" default:"100000"`
	// FalsePositiveRate is the target rate at ExpectedItems
	FalsePositiveRate float64 `yaml:"falsePositiveRate" default:"0.01"`
	// Distributed mirrors bit writes to Redis and periodically merges the
	// shared bitmap back in
	Distributed bool `yaml:"distributed" default:"true"`
	// RefreshInterval is how often the shared bitmap is merged in
	RefreshInterval time.Duration `yaml:"refreshInterval" default:"5m"`
	// MirrorTimeout bounds each best-effort Redis write
	MirrorTimeout time.Duration `yaml:"mirrorTimeout" default:"100ms"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ExpectedItems <= 0 {
		return ErrExpectedItemsRequired
	}

	if c.FalsePositiveRate <= 0 || c.FalsePositiveRate >= 1 {
		return ErrRateOutOfRange
	}

	return nil
}

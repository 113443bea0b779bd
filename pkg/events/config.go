// Package events produces click events: payload construction, privacy
// scrubbing, bot derivation, and the fire-and-forget enqueue that keeps
// analytics off the redirect's critical path
package events

import (
	"errors"
	"time"
)

// Static errors for configuration validation
var (
	ErrSaltRequired        = errors.New("identitySalt is required")
	ErrWorkersRequired     = errors.New("workers must be greater than zero")
	ErrBufferRequired      = errors.New("buffer must be greater than zero")
	ErrParallelismRequired = errors.New("batchParallelism must be greater than zero")
)

// Config holds click event production settings
type Config struct {
	// IdentitySalt is mixed into identity hashes so raw addresses can never
	// be recovered from stored events. Changing it resets all identities.
	IdentitySalt string `yaml:"identitySalt" default:"linkhop"`
	// EnqueueTimeout bounds the single enqueue attempt
	EnqueueTimeout time.Duration `yaml:"enqueueTimeout" default:"2s"`
	// BatchParallelism bounds concurrent emits in EmitBatch
	BatchParallelism int `yaml:"batchParallelism" default:"8"`
	// Workers is the number of dispatcher goroutines draining submissions
	Workers int `yaml:"workers" default:"4"`
	// Buffer is the dispatcher channel capacity; submissions beyond it are
	// dropped rather than blocking the redirect
	Buffer int `yaml:"buffer" default:"1024"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.IdentitySalt == "" {
		return ErrSaltRequired
	}

	if c.Workers <= 0 {
		return ErrWorkersRequired
	}

	if c.Buffer <= 0 {
		return ErrBufferRequired
	}

	if c.BatchParallelism <= 0 {
		return ErrParallelismRequired
	}

	return nil
}

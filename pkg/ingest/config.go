package ingest

import (
	"errors"
	"time"
)

// Static errors for configuration validation
var (
	ErrBatchSizeRequired    = errors.New("batchSize must be greater than zero")
	ErrBatchTimeoutRequired = errors.New("batchTimeout must be greater than zero")
	ErrConcurrencyRequired  = errors.New("concurrency must be greater than zero")
)

// Config holds click ingestion settings
type Config struct {
	// BatchSize is the record count that triggers an immediate flush
	BatchSize int `yaml:"batchSize" default:"100"`
	// BatchTimeout bounds how long a record may sit unflushed
	BatchTimeout time.Duration `yaml:"batchTimeout" default:"5s"`
	// Concurrency is the asynq handler parallelism for the clicks queue
	Concurrency int `yaml:"concurrency" default:"10"`
	// DrainTimeout bounds the final flush during shutdown
	DrainTimeout time.Duration `yaml:"drainTimeout" default:"10s"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return ErrBatchSizeRequired
	}

	if c.BatchTimeout <= 0 {
		return ErrBatchTimeoutRequired
	}

	if c.Concurrency <= 0 {
		return ErrConcurrencyRequired
	}

	return nil
}

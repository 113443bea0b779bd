// Package api serves the public redirect endpoint plus the liveness,
// readiness and metrics surfaces.
package api

import (
	"errors"
	"time"
)

// ErrAddrRequired is returned when no listen address is configured
var ErrAddrRequired = errors.New("api listen address is required")

// Config represents API service configuration
type Config struct {
	Addr string `yaml:"addr" default:":8080"`

	// RedirectMaxAge is how long clients may cache a permanent redirect.
	// Temporary redirects are never client-cacheable.
	RedirectMaxAge time.Duration `yaml:"redirectMaxAge" default:"1h"`

	// ReadyTimeout bounds the dependency probes behind /health/ready
	ReadyTimeout time.Duration `yaml:"readyTimeout" default:"2s"`
}

// Validate validates the API configuration
func (c *Config) Validate() error {
	if c.Addr == "" {
		return ErrAddrRequired
	}

	return nil
}

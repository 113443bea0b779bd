// Package postgres provides the PostgreSQL client used for link lookups,
// click event persistence, and stat rollups
package postgres

import (
	"errors"
	"time"
)

// Static errors for configuration validation
var (
	ErrURLRequired = errors.New("URL is required")
)

// Config contains PostgreSQL connection and pool settings
type Config struct {
	URL             string        `yaml:"url" validate:"required,url"`
	MaxConns        int32         `yaml:"maxConns"`
	MinConns        int32         `yaml:"minConns"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime time.Duration `yaml:"maxConnIdleTime"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout"`
	// ReadTimeout bounds single-row lookups on the redirect path. Keep it
	// tight: a slow lookup is treated the same as a failed one.
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	InsertTimeout time.Duration `yaml:"insertTimeout"`
	QueryTimeout  time.Duration `yaml:"queryTimeout"`
	Debug         bool          `yaml:"debug"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrURLRequired
	}

	return nil
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}

	if c.MinConns == 0 {
		c.MinConns = 2
	}

	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}

	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}

	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}

	if c.ReadTimeout == 0 {
		c.ReadTimeout = 100 * time.Millisecond
	}

	if c.InsertTimeout == 0 {
		c.InsertTimeout = 5 * time.Second
	}

	if c.QueryTimeout == 0 {
		c.QueryTimeout = 30 * time.Second
	}
}

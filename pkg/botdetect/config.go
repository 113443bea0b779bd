// Package botdetect classifies redirect requests as human or automated
// traffic using ordered checks over the user agent and request frequency
package botdetect

import "errors"

// ErrCacheSizeRequired is returned when the memoization cache size is invalid
var ErrCacheSizeRequired = errors.New("cacheSize must be greater than zero")

// Config holds bot detector settings
type Config struct {
	// CacheSize bounds the user-agent memoization cache. Signature matching
	// is pure per string, so results are safe to reuse.
	CacheSize int `yaml:"cacheSize" default:"4096"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.CacheSize <= 0 {
		return ErrCacheSizeRequired
	}

	return nil
}

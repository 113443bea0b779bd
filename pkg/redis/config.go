// Package redis provides Redis client configuration and key namespacing
package redis

import (
	"errors"
	"fmt"
	"strings"
)

// schemaVersion is baked into every key so a future layout change can roll
// out side by side with the old one.
const schemaVersion = "v1"

// Define static errors
var (
	ErrAddressRequired = errors.New("redis address is required")
)

// Config holds Redis client configuration
type Config struct {
	// Address is a redis URL, e.g. redis://localhost:6379/0
	Address string `yaml:"address"`
	// Namespace prefixes every key and queue this instance touches
	Namespace string `yaml:"namespace" default:"linkhop"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Address == "" {
		return ErrAddressRequired
	}

	if c.Namespace == "" {
		c.Namespace = "linkhop"
	}

	return nil
}

// Key builds a namespaced, versioned Redis key: {ns}:v1:{parts...}
func (c *Config) Key(parts ...string) string {
	return fmt.Sprintf("%s:%s:%s", c.Namespace, schemaVersion, strings.Join(parts, ":"))
}

// Queue adds the namespace to an Asynq queue name
func (c *Config) Queue(queue string) string {
	if c.Namespace == "" {
		return queue
	}

	return fmt.Sprintf("%s:%s", c.Namespace, queue)
}

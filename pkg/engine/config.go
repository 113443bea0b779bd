// Package engine composes the linkhop services and runs them by role
package engine

import (
	"github.com/linkhop/linkhop/pkg/api"
	"github.com/linkhop/linkhop/pkg/bloom"
	"github.com/linkhop/linkhop/pkg/botdetect"
	"github.com/linkhop/linkhop/pkg/cache"
	"github.com/linkhop/linkhop/pkg/events"
	"github.com/linkhop/linkhop/pkg/freqtrack"
	"github.com/linkhop/linkhop/pkg/ingest"
	"github.com/linkhop/linkhop/pkg/postgres"
	r "github.com/linkhop/linkhop/pkg/redis"
	"github.com/linkhop/linkhop/pkg/rollup"
)

// Roles selects which halves of the system an instance runs. A single
// process may run both; they only share Redis and Postgres.
type Roles struct {
	// Redirector serves the public redirect endpoint and emits click events
	Redirector bool
	// Pipeline consumes click events and runs stat rollups
	Pipeline bool
}

// Config represents the complete engine configuration
type Config struct {
	// Core settings
	Logging         string `yaml:"logging" default:"info" validate:"oneof=panic fatal warn info debug trace"`
	MetricsAddr     string `yaml:"metricsAddr" default:":9091"`
	HealthCheckAddr string `yaml:"healthCheckAddr"`
	PProfAddr       string `yaml:"pprofAddr"`

	// Shared dependencies
	Redis    r.Config        `yaml:"redis"`
	Postgres postgres.Config `yaml:"postgres"`

	// Redirect path
	Cache      cache.Config     `yaml:"cache"`
	Frequency  freqtrack.Config `yaml:"frequency"`
	Reputation bloom.Config     `yaml:"reputation"`
	BotDetect  botdetect.Config `yaml:"botDetect"`
	Events     events.Config    `yaml:"events"`
	API        api.Config       `yaml:"api"`

	// Analytics pipeline
	Ingest ingest.Config `yaml:"ingest"`
	Rollup rollup.Config `yaml:"rollup"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Redis.Validate(); err != nil {
		return err
	}

	if err := c.Postgres.Validate(); err != nil {
		return err
	}

	if err := c.Cache.Validate(); err != nil {
		return err
	}

	if err := c.Frequency.Validate(); err != nil {
		return err
	}

	if err := c.Reputation.Validate(); err != nil {
		return err
	}

	if err := c.BotDetect.Validate(); err != nil {
		return err
	}

	if err := c.Events.Validate(); err != nil {
		return err
	}

	if err := c.API.Validate(); err != nil {
		return err
	}

	if err := c.Ingest.Validate(); err != nil {
		return err
	}

	return c.Rollup.Validate()
}

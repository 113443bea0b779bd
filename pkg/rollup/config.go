package rollup

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Static errors for configuration validation
var (
	ErrInvalidSchedule     = errors.New("invalid cron schedule")
	ErrLeaseTooShort       = errors.New("leaseTTL must be at least twice renewInterval")
	ErrConcurrencyRequired = errors.New("concurrency must be greater than zero")
)

// Config holds rollup scheduling and execution settings. Schedules are
// standard five-field cron expressions evaluated in UTC; an empty schedule
// disables that cadence.
type Config struct {
	// Hourly rolls up the prior hour, offset past the hour boundary so late
	// events land first
	Hourly string `yaml:"hourly" default:"5 * * * *"`
	// Daily rolls up the prior UTC day
	Daily string `yaml:"daily" default:"15 0 * * *"`
	// Weekly rolls up the prior Monday-to-Monday week
	Weekly string `yaml:"weekly" default:"30 0 * * 1"`
	// Monthly rolls up the prior calendar month
	Monthly string `yaml:"monthly" default:"45 0 1 * *"`

	// Concurrency is the worker parallelism for the rollups queue. Kept at 1
	// so overlapping windows never race on the same stat rows.
	Concurrency int `yaml:"concurrency" default:"1"`
	// MaxRetry is how often a failed job is retried before archiving
	MaxRetry int `yaml:"maxRetry" default:"3"`

	// LeaseTTL is how long a scheduler leadership lease lives without renewal
	LeaseTTL time.Duration `yaml:"leaseTTL" default:"10s"`
	// RenewInterval is how often the lease is renewed or contested
	RenewInterval time.Duration `yaml:"renewInterval" default:"3s"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	for name, schedule := range map[string]string{
		"hourly":  c.Hourly,
		"daily":   c.Daily,
		"weekly":  c.Weekly,
		"monthly": c.Monthly,
	} {
		if schedule == "" {
			continue
		}

		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrInvalidSchedule, name, schedule, err)
		}
	}

	if c.Concurrency <= 0 {
		return ErrConcurrencyRequired
	}

	if c.LeaseTTL < 2*c.RenewInterval {
		return ErrLeaseTooShort
	}

	return nil
}

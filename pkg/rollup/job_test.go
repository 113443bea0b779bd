package rollup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobTaskID(t *testing.T) {
	start := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	t.Run("deterministic for same window", func(t *testing.T) {
		a := &Job{Type: JobDaily, Start: start, End: end}
		b := &Job{Type: JobDaily, Start: start, End: end}

		require.Equal(t, a.TaskID(), b.TaskID())
		assert.Equal(t, fmt.Sprintf("rollup:daily:%d:%d", start.Unix(), end.Unix()), a.TaskID())
	})

	t.Run("differs across job types", func(t *testing.T) {
		daily := &Job{Type: JobDaily, Start: start, End: end}
		backfill := &Job{Type: JobBackfill, Start: start, End: end}

		assert.NotEqual(t, daily.TaskID(), backfill.TaskID())
	})

	t.Run("differs across windows", func(t *testing.T) {
		a := &Job{Type: JobHourly, Start: start, End: start.Add(time.Hour)}
		b := &Job{Type: JobHourly, Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)}

		assert.NotEqual(t, a.TaskID(), b.TaskID())
	})

	t.Run("link subset changes the id", func(t *testing.T) {
		all := &Job{Type: JobBackfill, Start: start, End: end}
		some := &Job{Type: JobBackfill, Start: start, End: end, LinkIDs: []int64{1, 2}}
		others := &Job{Type: JobBackfill, Start: start, End: end, LinkIDs: []int64{3}}

		assert.NotEqual(t, all.TaskID(), some.TaskID())
		assert.NotEqual(t, some.TaskID(), others.TaskID())

		same := &Job{Type: JobBackfill, Start: start, End: end, LinkIDs: []int64{1, 2}}
		assert.Equal(t, some.TaskID(), same.TaskID())
	})
}

func TestJobValidate(t *testing.T) {
	start := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	tests := []struct {
		name    string
		job     *Job
		wantErr error
	}{
		{
			name: "valid hourly job",
			job:  &Job{Type: JobHourly, Start: start, End: start.Add(time.Hour)},
		},
		{
			name: "valid backfill with links",
			job:  &Job{Type: JobBackfill, Start: start, End: end, LinkIDs: []int64{7, 9}},
		},
		{
			name:    "unknown type",
			job:     &Job{Type: JobType("yearly"), Start: start, End: end},
			wantErr: ErrUnknownJobType,
		},
		{
			name:    "zero start",
			job:     &Job{Type: JobDaily, End: end},
			wantErr: ErrInvalidWindow,
		},
		{
			name:    "zero end",
			job:     &Job{Type: JobDaily, Start: start},
			wantErr: ErrInvalidWindow,
		},
		{
			name:    "end before start",
			job:     &Job{Type: JobDaily, Start: end, End: start},
			wantErr: ErrInvalidWindow,
		},
		{
			name:    "empty window",
			job:     &Job{Type: JobDaily, Start: start, End: start},
			wantErr: ErrInvalidWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestPriorHourWindow(t *testing.T) {
	t.Run("mid hour", func(t *testing.T) {
		now := time.Date(2026, 3, 15, 14, 37, 22, 0, time.UTC)
		start, end := PriorHourWindow(now)

		assert.Equal(t, time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC), end)
	})

	t.Run("normalizes to UTC", func(t *testing.T) {
		karachi := time.FixedZone("PKT", 5*60*60)
		now := time.Date(2026, 3, 15, 3, 30, 0, 0, karachi) // 2026-03-14T22:30Z

		start, end := PriorHourWindow(now)

		assert.Equal(t, time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC), end)
	})
}

func TestPriorDayWindow(t *testing.T) {
	t.Run("just after midnight", func(t *testing.T) {
		now := time.Date(2026, 3, 15, 0, 10, 0, 0, time.UTC)
		start, end := PriorDayWindow(now)

		assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), end)
	})

	t.Run("normalizes to UTC", func(t *testing.T) {
		karachi := time.FixedZone("PKT", 5*60*60)
		now := time.Date(2026, 3, 15, 2, 0, 0, 0, karachi) // 2026-03-14T21:00Z

		start, end := PriorDayWindow(now)

		assert.Equal(t, time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), end)
	})
}

func TestPriorWeekWindow(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "midweek",
			now:       time.Date(2026, 3, 18, 9, 0, 0, 0, time.UTC), // Wednesday
			wantStart: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "monday covers the week that just ended",
			now:       time.Date(2026, 3, 16, 0, 30, 0, 0, time.UTC), // Monday
			wantStart: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "sunday still covers the previous full week",
			now:       time.Date(2026, 3, 15, 23, 0, 0, 0, time.UTC), // Sunday
			wantStart: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := PriorWeekWindow(tt.now)

			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
			assert.Equal(t, time.Monday, start.Weekday())
			assert.Equal(t, time.Monday, end.Weekday())
		})
	}
}

func TestPriorMonthWindow(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "mid month",
			now:       time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "january reaches into the prior year",
			now:       time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "end of a long month",
			now:       time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC),
			wantStart: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := PriorMonthWindow(tt.now)

			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestRollupConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Hourly:        "5 * * * *",
			Daily:         "15 0 * * *",
			Weekly:        "30 0 * * 1",
			Monthly:       "45 0 1 * *",
			Concurrency:   1,
			MaxRetry:      3,
			LeaseTTL:      10 * time.Second,
			RenewInterval: 3 * time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name: "empty schedules are disabled rather than invalid",
			mutate: func(c *Config) {
				c.Hourly = ""
				c.Weekly = ""
			},
		},
		{
			name:    "malformed cron",
			mutate:  func(c *Config) { c.Daily = "every day at noon" },
			wantErr: ErrInvalidSchedule,
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Concurrency = 0 },
			wantErr: ErrConcurrencyRequired,
		},
		{
			name: "lease shorter than twice the renew interval",
			mutate: func(c *Config) {
				c.LeaseTTL = 5 * time.Second
				c.RenewInterval = 3 * time.Second
			},
			wantErr: ErrLeaseTooShort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// Package rollup aggregates persisted click events into per-day stats. A
// leader-elected scheduler enqueues window jobs on a cron cadence; a single
// worker recomputes and overwrites the affected (link, day) rows, so any job
// can be re-run safely.
package rollup

import (
	"errors"
	"fmt"
	"hash/fnv"
	"time"
)

// JobType classifies the aggregation window a job covers
type JobType string

const (
	JobHourly   JobType = "hourly"
	JobDaily    JobType = "daily"
	JobWeekly   JobType = "weekly"
	JobMonthly  JobType = "monthly"
	JobBackfill JobType = "backfill"
)

// Task types and queue names for the rollup pipeline
const (
	// TypeRollupRun carries a concrete window job
	TypeRollupRun = "rollup:run"

	// Trigger tasks fired by the cron scheduler; handlers compute the prior
	// window at execution time and enqueue the concrete job
	TypeTriggerHourly  = "rollup:trigger:hourly"
	TypeTriggerDaily   = "rollup:trigger:daily"
	TypeTriggerWeekly  = "rollup:trigger:weekly"
	TypeTriggerMonthly = "rollup:trigger:monthly"

	// QueueRollups carries concrete jobs, QueueTriggers the cron firings
	QueueRollups  = "rollups"
	QueueTriggers = "rollup-triggers"
)

// Static errors for job validation
var (
	ErrUnknownJobType = errors.New("unknown rollup job type")
	ErrInvalidWindow  = errors.New("rollup window must be a non-empty [start, end) range")
)

// Job describes one aggregation run over [Start, End). LinkIDs narrows a
// backfill to specific links; empty means all links in the window.
type Job struct {
	Type    JobType   `json:"type"`
	Start   time.Time `json:"startDate"`
	End     time.Time `json:"endDate"`
	LinkIDs []int64   `json:"linkIds,omitempty"`
}

// TaskID derives the deterministic asynq task ID. Two jobs covering the same
// window collapse into one queue entry, which is what makes double-triggering
// harmless.
func (j *Job) TaskID() string {
	id := fmt.Sprintf("rollup:%s:%d:%d", j.Type, j.Start.Unix(), j.End.Unix())

	if len(j.LinkIDs) > 0 {
		h := fnv.New32a()
		for _, linkID := range j.LinkIDs {
			fmt.Fprintf(h, "%d,", linkID)
		}

		id = fmt.Sprintf("%s:%08x", id, h.Sum32())
	}

	return id
}

// Validate checks the job is runnable
func (j *Job) Validate() error {
	switch j.Type {
	case JobHourly, JobDaily, JobWeekly, JobMonthly, JobBackfill:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJobType, j.Type)
	}

	if j.Start.IsZero() || j.End.IsZero() || !j.Start.Before(j.End) {
		return ErrInvalidWindow
	}

	return nil
}

// PriorHourWindow returns the most recent fully elapsed UTC hour
func PriorHourWindow(now time.Time) (start, end time.Time) {
	end = now.UTC().Truncate(time.Hour)

	return end.Add(-time.Hour), end
}

// PriorDayWindow returns the most recent fully elapsed UTC day
func PriorDayWindow(now time.Time) (start, end time.Time) {
	y, m, d := now.UTC().Date()
	end = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	return end.AddDate(0, 0, -1), end
}

// PriorWeekWindow returns the most recent fully elapsed Monday-to-Monday week
func PriorWeekWindow(now time.Time) (start, end time.Time) {
	y, m, d := now.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	daysSinceMonday := (int(today.Weekday()) + 6) % 7
	end = today.AddDate(0, 0, -daysSinceMonday)

	return end.AddDate(0, 0, -7), end
}

// PriorMonthWindow returns the most recent fully elapsed calendar month
func PriorMonthWindow(now time.Time) (start, end time.Time) {
	y, m, _ := now.UTC().Date()
	end = time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)

	return end.AddDate(0, -1, 0), end
}

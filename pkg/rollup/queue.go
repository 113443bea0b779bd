package rollup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/observability"
	r "github.com/linkhop/linkhop/pkg/redis"
)

// failedJobsPageSize bounds one archive listing
const failedJobsPageSize = 100

// FailedJob is an archived rollup job: retries exhausted, waiting for an
// operator decision
type FailedJob struct {
	TaskID     string
	Job        Job
	LastError  string
	LastFailed time.Time
	Retried    int
	MaxRetry   int
}

// Queue enqueues rollup jobs and manages the failed-job archive
type Queue interface {
	// Enqueue submits a job. A job whose task ID is already queued or
	// running is skipped, not duplicated.
	Enqueue(ctx context.Context, job *Job) (string, error)
	// FailedJobs lists archived jobs whose retries are exhausted
	FailedJobs(ctx context.Context) ([]FailedJob, error)
	// RetryFailed moves an archived job back to pending
	RetryFailed(ctx context.Context, taskID string) error
	Close() error
}

type queue struct {
	log       logrus.FieldLogger
	cfg       *Config
	name      string
	client    *asynq.Client
	inspector *asynq.Inspector
}

var _ Queue = (*queue)(nil)

// NewQueue creates a rollup job queue
func NewQueue(logger logrus.FieldLogger, redisOpt *asynq.RedisClientOpt, keys *r.Config, cfg *Config) (Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &queue{
		log:       logger.WithField("component", "rollup_queue"),
		cfg:       cfg,
		name:      keys.Queue(QueueRollups),
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
	}, nil
}

func (q *queue) Enqueue(ctx context.Context, job *Job) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rollup job: %w", err)
	}

	taskID := job.TaskID()

	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TypeRollupRun, data),
		asynq.TaskID(taskID),
		asynq.Queue(q.name),
		asynq.MaxRetry(q.cfg.MaxRetry),
	)

	switch {
	case err == nil:
		observability.RecordRollupJob(string(job.Type), "enqueued", 0)

		q.log.WithFields(logrus.Fields{
			"task_id": taskID,
			"type":    job.Type,
			"start":   job.Start.UTC().Format(time.RFC3339),
			"end":     job.End.UTC().Format(time.RFC3339),
		}).Info("Enqueued rollup job")

		return taskID, nil

	case errors.Is(err, asynq.ErrTaskIDConflict):
		// The same window is already queued or in flight
		observability.RecordRollupJob(string(job.Type), "skipped", 0)

		q.log.WithField("task_id", taskID).Debug("Rollup job already queued, skipping")

		return taskID, nil

	default:
		return "", fmt.Errorf("failed to enqueue rollup job: %w", err)
	}
}

func (q *queue) FailedJobs(_ context.Context) ([]FailedJob, error) {
	tasks, err := q.inspector.ListArchivedTasks(q.name, asynq.PageSize(failedJobsPageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to list archived rollup jobs: %w", err)
	}

	failed := make([]FailedJob, 0, len(tasks))

	for _, task := range tasks {
		var job Job
		if err := json.Unmarshal(task.Payload, &job); err != nil {
			q.log.WithError(err).WithField("task_id", task.ID).Warn("Skipping archived job with undecodable payload")

			continue
		}

		failed = append(failed, FailedJob{
			TaskID:     task.ID,
			Job:        job,
			LastError:  task.LastErr,
			LastFailed: task.LastFailedAt,
			Retried:    task.Retried,
			MaxRetry:   task.MaxRetry,
		})
	}

	return failed, nil
}

func (q *queue) RetryFailed(_ context.Context, taskID string) error {
	if err := q.inspector.RunTask(q.name, taskID); err != nil {
		return fmt.Errorf("failed to requeue archived job %s: %w", taskID, err)
	}

	q.log.WithField("task_id", taskID).Info("Requeued archived rollup job")

	return nil
}

func (q *queue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close rollup queue client: %w", err)
	}

	if err := q.inspector.Close(); err != nil {
		return fmt.Errorf("failed to close rollup queue inspector: %w", err)
	}

	return nil
}

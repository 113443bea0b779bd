package rollup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/links"
	"github.com/linkhop/linkhop/pkg/observability"
	r "github.com/linkhop/linkhop/pkg/redis"
)

// queuePriority is the asynq weight for rollup queues
const queuePriority = 10

// retryBase is the first retry delay; each further attempt doubles it
const retryBase = 30 * time.Second

// aggregator is the database slice rollup jobs use
type aggregator interface {
	AggregateClicks(ctx context.Context, start, end time.Time, linkIDs []int64) ([]*links.DayStat, error)
	UpsertDayStats(ctx context.Context, stats []*links.DayStat) error
}

// Worker consumes the rollups queue and executes aggregation jobs
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type worker struct {
	log      logrus.FieldLogger
	cfg      *Config
	redisOpt *asynq.RedisClientOpt
	queue    string
	db       aggregator

	server *asynq.Server
	wg     sync.WaitGroup
}

var _ Worker = (*worker)(nil)

// NewWorker creates a rollup worker
func NewWorker(logger logrus.FieldLogger, cfg *Config, redisOpt *asynq.RedisClientOpt, keys *r.Config, db aggregator) (Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &worker{
		log:      logger.WithField("service", "rollup_worker"),
		cfg:      cfg,
		redisOpt: redisOpt,
		queue:    keys.Queue(QueueRollups),
		db:       db,
	}, nil
}

func (w *worker) Start(_ context.Context) error {
	srv := asynq.NewServer(w.redisOpt, asynq.Config{
		// Sequential execution keeps overlapping windows from racing on the
		// same stat rows
		Concurrency:    w.cfg.Concurrency,
		Queues:         map[string]int{w.queue: queuePriority},
		RetryDelayFunc: retryDelay,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRollupRun, w.handleRollup)

	w.wg.Add(1)

	go func() {
		defer w.wg.Done()

		if runErr := srv.Run(mux); runErr != nil {
			w.log.WithError(runErr).Error("Rollup worker stopped with error")
		}
	}()

	w.server = srv

	w.log.WithField("queue", w.queue).Info("Started rollup worker")

	return nil
}

func (w *worker) Stop() error {
	if w.server != nil {
		w.server.Shutdown()
	}

	w.wg.Wait()

	w.log.Info("Stopped rollup worker")

	return nil
}

// handleRollup decodes and executes one job. Decode and validation failures
// are permanent; execution failures are retried by asynq and eventually
// archived.
func (w *worker) handleRollup(ctx context.Context, task *asynq.Task) error {
	var job Job
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to decode rollup job: %v: %w", err, asynq.SkipRetry)
	}

	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid rollup job: %v: %w", err, asynq.SkipRetry)
	}

	return w.run(ctx, &job)
}

// run recomputes stats for the job's window and overwrites the affected
// rows. Re-running any job converges on the same result.
func (w *worker) run(ctx context.Context, job *Job) error {
	start := time.Now()

	stats, err := w.db.AggregateClicks(ctx, job.Start, job.End, job.LinkIDs)
	if err != nil {
		observability.RecordRollupJob(string(job.Type), "failed", time.Since(start).Seconds())

		return fmt.Errorf("failed to aggregate clicks: %w", err)
	}

	if err := w.db.UpsertDayStats(ctx, stats); err != nil {
		observability.RecordRollupJob(string(job.Type), "failed", time.Since(start).Seconds())

		return fmt.Errorf("failed to upsert day stats: %w", err)
	}

	observability.RecordRollupJob(string(job.Type), "success", time.Since(start).Seconds())

	w.log.WithFields(logrus.Fields{
		"type":     job.Type,
		"start":    job.Start.UTC().Format(time.RFC3339),
		"end":      job.End.UTC().Format(time.RFC3339),
		"rows":     len(stats),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Rollup complete")

	return nil
}

// retryDelay doubles the wait on every attempt: 30s, 1m, 2m, ...
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	return time.Duration(1<<n) * retryBase
}

package rollup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	r "github.com/linkhop/linkhop/pkg/redis"
)

// triggerUniqueWindow suppresses duplicate trigger enqueues when a demoted
// instance's cron fires alongside the new leader's
const triggerUniqueWindow = 30 * time.Second

// triggerEntry binds a cron spec to the window its trigger covers
type triggerEntry struct {
	taskType string
	spec     string
	jobType  JobType
	window   func(now time.Time) (start, end time.Time)
}

// Scheduler registers cron triggers and fires them while holding leadership
type Scheduler interface {
	// Start begins leader election and trigger processing
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler
	Stop() error
}

type scheduler struct {
	log logrus.FieldLogger
	cfg *Config

	queue        Queue
	elector      LeaderElector
	triggerQueue string

	sched  *asynq.Scheduler
	server *asynq.Server
	mux    *asynq.ServeMux

	now func() time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

var _ Scheduler = (*scheduler)(nil)

// NewScheduler creates a rollup scheduler. Every instance processes trigger
// tasks, but only the elected leader runs the cron that produces them.
func NewScheduler(logger logrus.FieldLogger, cfg *Config, redisOpt *asynq.RedisClientOpt, redisClient *redis.Client, keys *r.Config, queue Queue) (Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sched := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		LogLevel: asynq.InfoLevel,
	})

	triggerQueue := keys.Queue(QueueTriggers)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{triggerQueue: queuePriority},
	})

	elector := NewLeaderElector(logger, redisClient, keys.Key("rollup", "leader"), cfg)

	return &scheduler{
		log:          logger.WithField("service", "rollup_scheduler"),
		cfg:          cfg,
		queue:        queue,
		elector:      elector,
		triggerQueue: triggerQueue,
		sched:        sched,
		server:       server,
		mux:          asynq.NewServeMux(),
		now:          time.Now,
		done:         make(chan struct{}),
	}, nil
}

// Start registers trigger handlers, joins leader election and starts the
// trigger server. Handlers run on every instance so triggers enqueued by the
// leader can be picked up anywhere.
func (s *scheduler) Start(ctx context.Context) error {
	for _, entry := range s.entries() {
		s.mux.HandleFunc(entry.taskType, s.triggerHandler(entry))
	}

	if err := s.registerEntries(); err != nil {
		return err
	}

	if err := s.elector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start leader election: %w", err)
	}

	s.wg.Add(1)
	go s.handleLeadership()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if runErr := s.server.Run(s.mux); runErr != nil {
			s.log.WithError(runErr).Error("Trigger server stopped with error")
		}
	}()

	s.log.Info("Rollup scheduler started (participating in leader election)")

	return nil
}

// Stop shuts down election, cron and trigger processing
func (s *scheduler) Stop() error {
	close(s.done)

	if err := s.elector.Stop(); err != nil {
		s.log.WithError(err).Warn("Failed to stop leader elector")
	}

	if s.sched != nil {
		s.sched.Shutdown()
	}

	if s.server != nil {
		s.server.Shutdown()
	}

	s.wg.Wait()

	s.log.Info("Rollup scheduler stopped")

	return nil
}

// entries lists the configured triggers. An empty spec disables its window.
func (s *scheduler) entries() []triggerEntry {
	all := []triggerEntry{
		{TypeTriggerHourly, s.cfg.Hourly, JobHourly, PriorHourWindow},
		{TypeTriggerDaily, s.cfg.Daily, JobDaily, PriorDayWindow},
		{TypeTriggerWeekly, s.cfg.Weekly, JobWeekly, PriorWeekWindow},
		{TypeTriggerMonthly, s.cfg.Monthly, JobMonthly, PriorMonthWindow},
	}

	enabled := make([]triggerEntry, 0, len(all))

	for _, entry := range all {
		if entry.spec != "" {
			enabled = append(enabled, entry)
		}
	}

	return enabled
}

// registerEntries binds each enabled trigger to the cron scheduler. The cron
// does not fire until the scheduler is promoted to leader.
func (s *scheduler) registerEntries() error {
	for _, entry := range s.entries() {
		task := asynq.NewTask(entry.taskType, nil)

		entryID, err := s.sched.Register(entry.spec, task,
			asynq.Queue(s.triggerQueue),
			asynq.Unique(triggerUniqueWindow),
			asynq.MaxRetry(0),
		)
		if err != nil {
			return fmt.Errorf("failed to register %s with schedule %q: %w", entry.taskType, entry.spec, err)
		}

		s.log.WithFields(logrus.Fields{
			"task_type": entry.taskType,
			"schedule":  entry.spec,
			"entry_id":  entryID,
		}).Info("Registered rollup trigger")
	}

	return nil
}

// triggerHandler turns a fired trigger into a concrete window job. The job's
// deterministic task ID collapses duplicate triggers for the same window.
func (s *scheduler) triggerHandler(entry triggerEntry) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		start, end := entry.window(s.now())

		job := &Job{Type: entry.jobType, Start: start, End: end}

		if _, err := s.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("failed to enqueue %s rollup: %w", entry.jobType, err)
		}

		return nil
	}
}

// handleLeadership starts the cron on promotion. A demoted instance keeps
// its cron running: the trigger unique window and deterministic job IDs make
// double-firing harmless, and the cron dies with the process.
func (s *scheduler) handleLeadership() {
	defer s.wg.Done()

	promoted := s.elector.PromotedChan()
	demoted := s.elector.DemotedChan()

	var cronRunning bool

	for {
		select {
		case <-s.done:
			return

		case <-promoted:
			if cronRunning {
				s.log.Warn("Received promotion but cron already running")
				continue
			}

			s.log.Info("Promoted to rollup leader - starting cron")

			s.wg.Add(1)

			go func() {
				defer s.wg.Done()

				if runErr := s.sched.Run(); runErr != nil {
					s.log.WithError(runErr).Error("Cron stopped with error")
				}
			}()

			cronRunning = true

		case <-demoted:
			s.log.Info("Demoted from rollup leader")
		}
	}
}

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/events"
	r "github.com/linkhop/linkhop/pkg/redis"
)

// queuePriority is the asynq weight for the clicks queue. The ingest server
// consumes a single queue, so the value only needs to be non-zero.
const queuePriority = 10

// Service consumes the clicks queue and feeds the accumulator
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type service struct {
	log      logrus.FieldLogger
	cfg      *Config
	redisOpt *asynq.RedisClientOpt
	queue    string
	acc      Accumulator

	server *asynq.Server
	wg     sync.WaitGroup
}

var _ Service = (*service)(nil)

// NewService creates the click ingest service. It owns the accumulator's
// lifecycle: consuming starts after the accumulator and stops before the
// final drain.
func NewService(logger logrus.FieldLogger, cfg *Config, redisOpt *asynq.RedisClientOpt, keys *r.Config, acc Accumulator) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &service{
		log:      logger.WithField("service", "ingest"),
		cfg:      cfg,
		redisOpt: redisOpt,
		queue:    keys.Queue(events.QueueClicks),
		acc:      acc,
	}, nil
}

func (s *service) Start(ctx context.Context) error {
	if err := s.acc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start accumulator: %w", err)
	}

	srv := asynq.NewServer(s.redisOpt, asynq.Config{
		Concurrency: s.cfg.Concurrency,
		Queues:      map[string]int{s.queue: queuePriority},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(events.TypeClickEvent, s.handleClickEvent)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if runErr := srv.Run(mux); runErr != nil {
			s.log.WithError(runErr).Error("Ingest server stopped with error")
		}
	}()

	s.server = srv

	s.log.WithFields(logrus.Fields{
		"queue":       s.queue,
		"concurrency": s.cfg.Concurrency,
	}).Info("Started click ingest service")

	return nil
}

// Stop shuts down the consumer first so no new events arrive during the
// accumulator's drain flush
func (s *service) Stop() error {
	if s.server != nil {
		s.server.Shutdown()
	}

	s.wg.Wait()

	if err := s.acc.Stop(); err != nil {
		return fmt.Errorf("failed to drain accumulator: %w", err)
	}

	s.log.Info("Stopped click ingest service")

	return nil
}

// handleClickEvent decodes a queued click and buffers it. Decode failures are
// permanent: retrying cannot fix a bad payload.
func (s *service) handleClickEvent(_ context.Context, task *asynq.Task) error {
	var payload events.ClickPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		s.log.WithError(err).Warn("Dropping undecodable click event")

		return fmt.Errorf("failed to decode click event: %v: %w", err, asynq.SkipRetry)
	}

	s.acc.Add(payload.Event())

	return nil
}

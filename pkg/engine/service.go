package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentionally exposed when pprofAddr is configured
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/api"
	"github.com/linkhop/linkhop/pkg/bloom"
	"github.com/linkhop/linkhop/pkg/botdetect"
	"github.com/linkhop/linkhop/pkg/cache"
	"github.com/linkhop/linkhop/pkg/events"
	"github.com/linkhop/linkhop/pkg/freqtrack"
	"github.com/linkhop/linkhop/pkg/ingest"
	"github.com/linkhop/linkhop/pkg/observability"
	"github.com/linkhop/linkhop/pkg/postgres"
	r "github.com/linkhop/linkhop/pkg/redis"
	"github.com/linkhop/linkhop/pkg/resolver"
	"github.com/linkhop/linkhop/pkg/rollup"
)

// ErrNoRoles is returned when an engine is built with every role disabled
var ErrNoRoles = errors.New("at least one role must be enabled")

// Service wires the configured roles together and manages their lifecycle
type Service struct {
	config *Config
	roles  Roles
	log    *logrus.Logger

	db           postgres.ClientInterface
	redisClient  *redis.Client
	asynqOptions *asynq.RedisClientOpt
	asynqClient  *asynq.Client

	// Redirector role
	store      cache.Store
	frequency  freqtrack.Tracker
	reputation bloom.Service
	dispatcher events.Dispatcher
	api        api.Service

	// Pipeline role
	ingest      ingest.Service
	rollupQueue rollup.Queue
	worker      rollup.Worker
	scheduler   rollup.Scheduler

	// Servers
	healthServer *http.Server
	pprofServer  *http.Server
}

// NewService creates an engine wired for the given roles
func NewService(log *logrus.Logger, cfg *Config, roles Roles) (*Service, error) {
	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if !roles.Redirector && !roles.Pipeline {
		return nil, ErrNoRoles
	}

	redisClient, err := r.NewClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	asynqOptions, err := r.NewAsynqOptions(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to create asynq options: %w", err)
	}

	db, err := postgres.NewClient(log, &cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres client: %w", err)
	}

	s := &Service{
		log:    log,
		config: cfg,
		roles:  roles,

		db:           db,
		redisClient:  redisClient,
		asynqOptions: asynqOptions,
	}

	if roles.Redirector {
		if err := s.buildRedirector(); err != nil {
			return nil, err
		}
	}

	if roles.Pipeline {
		if err := s.buildPipeline(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// buildRedirector constructs the resolve-and-redirect path: cache, bot
// heuristics, the click event pipeline front end, and the HTTP surface.
func (a *Service) buildRedirector() error {
	cfg := a.config

	store, err := cache.NewStore(a.log, a.redisClient, &cfg.Redis, &cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to create cache store: %w", err)
	}

	frequency, err := freqtrack.NewTracker(a.log, a.redisClient, &cfg.Redis, &cfg.Frequency)
	if err != nil {
		return fmt.Errorf("failed to create frequency tracker: %w", err)
	}

	reputation, err := bloom.NewService(a.log, a.redisClient, &cfg.Redis, &cfg.Reputation)
	if err != nil {
		return fmt.Errorf("failed to create reputation service: %w", err)
	}

	detector, err := botdetect.NewDetector(a.log, &cfg.BotDetect, frequency)
	if err != nil {
		return fmt.Errorf("failed to create bot detector: %w", err)
	}

	a.asynqClient = asynq.NewClient(a.asynqOptions)

	producer, err := events.NewProducer(a.log, a.asynqClient, &cfg.Redis, &cfg.Events, detector, reputation)
	if err != nil {
		return fmt.Errorf("failed to create click producer: %w", err)
	}

	dispatcher, err := events.NewDispatcher(a.log, &cfg.Events, producer)
	if err != nil {
		return fmt.Errorf("failed to create click dispatcher: %w", err)
	}

	res := resolver.NewResolver(a.log, store, a.db)

	a.store = store
	a.frequency = frequency
	a.reputation = reputation
	a.dispatcher = dispatcher
	a.api = api.NewService(&cfg.API, res, dispatcher, store, a.db, a.log)

	return nil
}

// buildPipeline constructs the asynchronous half: the click ingest consumer
// and the rollup queue, worker, and scheduler.
func (a *Service) buildPipeline() error {
	cfg := a.config

	accumulator, err := ingest.NewAccumulator(a.log, &cfg.Ingest, a.db)
	if err != nil {
		return fmt.Errorf("failed to create click accumulator: %w", err)
	}

	ingestService, err := ingest.NewService(a.log, &cfg.Ingest, a.asynqOptions, &cfg.Redis, accumulator)
	if err != nil {
		return fmt.Errorf("failed to create ingest service: %w", err)
	}

	rollupQueue, err := rollup.NewQueue(a.log, a.asynqOptions, &cfg.Redis, &cfg.Rollup)
	if err != nil {
		return fmt.Errorf("failed to create rollup queue: %w", err)
	}

	worker, err := rollup.NewWorker(a.log, &cfg.Rollup, a.asynqOptions, &cfg.Redis, a.db)
	if err != nil {
		return fmt.Errorf("failed to create rollup worker: %w", err)
	}

	scheduler, err := rollup.NewScheduler(a.log, &cfg.Rollup, a.asynqOptions, a.redisClient, &cfg.Redis, rollupQueue)
	if err != nil {
		return fmt.Errorf("failed to create rollup scheduler: %w", err)
	}

	a.ingest = ingestService
	a.rollupQueue = rollupQueue
	a.worker = worker
	a.scheduler = scheduler

	return nil
}

// Start initializes and starts the configured services
func (a *Service) Start() error {
	a.log.Info("Starting linkhop engine...")

	ctx := context.Background()

	// Start metrics server
	observability.StartMetricsServer(a.config.MetricsAddr)
	a.log.WithField("addr", a.config.MetricsAddr).Info("Started metrics server")

	// Start health check server if configured
	if a.config.HealthCheckAddr != "" {
		a.startHealthCheck()
	}

	// Start pprof server if configured
	if a.config.PProfAddr != "" {
		a.startPProf()
	}

	// Start postgres client
	if err := a.db.Start(ctx); err != nil {
		return fmt.Errorf("failed to start postgres client: %w", err)
	}

	if a.roles.Redirector {
		// Start reputation service
		if err := a.reputation.Start(ctx); err != nil {
			return fmt.Errorf("failed to start reputation service: %w", err)
		}

		// Start frequency tracker
		if err := a.frequency.Start(ctx); err != nil {
			return fmt.Errorf("failed to start frequency tracker: %w", err)
		}

		// Start click dispatcher
		if err := a.dispatcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start click dispatcher: %w", err)
		}
	}

	if a.roles.Pipeline {
		// Start ingest consumer
		if err := a.ingest.Start(ctx); err != nil {
			return fmt.Errorf("failed to start ingest service: %w", err)
		}

		// Start rollup worker
		if err := a.worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start rollup worker: %w", err)
		}

		// Start rollup scheduler
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start rollup scheduler: %w", err)
		}
	}

	// The public surface comes up last, once everything behind it is running
	if a.roles.Redirector {
		if err := a.api.Start(ctx); err != nil {
			return fmt.Errorf("failed to start API service: %w", err)
		}
	}

	a.log.Info("Linkhop engine started successfully")

	return nil
}

// Stop gracefully shuts down the engine
func (a *Service) Stop() error {
	a.log.Info("Shutting down engine...")

	// Create a timeout context for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Helper function to stop a service
	stopService := func(name string, stopFunc func() error) {
		if stopFunc == nil {
			return
		}
		if err := stopFunc(); err != nil {
			a.log.WithError(err).Errorf("Failed to stop %s", name)
		}
	}

	// Stop all services.
	// 1. Stop the API first (stop taking requests)
	if a.api != nil {
		stopService("API service", a.api.Stop)
	}

	// 2. Stop the scheduler (stop creating new rollup jobs)
	if a.scheduler != nil {
		stopService("rollup scheduler", a.scheduler.Stop)
	}

	// 3. Stop the rollup worker (finish in-flight jobs)
	if a.worker != nil {
		stopService("rollup worker", a.worker.Stop)
	}

	// 4. Stop the dispatcher (drain buffered clicks into the queue)
	if a.dispatcher != nil {
		stopService("click dispatcher", a.dispatcher.Stop)
	}

	// 5. Stop ingest (flush accumulated clicks into postgres)
	if a.ingest != nil {
		stopService("ingest service", a.ingest.Stop)
	}

	// 6. Stop the redirect-path helpers
	if a.frequency != nil {
		stopService("frequency tracker", a.frequency.Stop)
	}
	if a.reputation != nil {
		stopService("reputation service", a.reputation.Stop)
	}

	// 7. Close queue producers
	if a.rollupQueue != nil {
		stopService("rollup queue", a.rollupQueue.Close)
	}
	if a.asynqClient != nil {
		stopService("click queue client", a.asynqClient.Close)
	}

	// 8. Close Redis (now safe, nothing is using it)
	if a.redisClient != nil {
		stopService("Redis client", a.redisClient.Close)
	}

	// Stop postgres client (critical - return error if fails)
	if a.db != nil {
		if err := a.db.Stop(); err != nil {
			a.log.WithError(err).Error("Failed to stop postgres client")
			return err
		}
	}

	// Stop HTTP servers
	if a.healthServer != nil {
		stopService("health check server", func() error { return a.healthServer.Shutdown(ctx) })
	}
	if a.pprofServer != nil {
		stopService("pprof server", func() error { return a.pprofServer.Shutdown(ctx) })
	}

	return nil
}

func (a *Service) startHealthCheck() {
	a.log.WithField("addr", a.config.HealthCheckAddr).Info("Starting health check server")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	a.healthServer = &http.Server{
		Addr:              a.config.HealthCheckAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := a.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("Health check server failed")
		}
	}()
}

func (a *Service) startPProf() {
	a.log.WithField("addr", a.config.PProfAddr).Info("Starting pprof server")

	a.pprofServer = &http.Server{
		Addr:              a.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	go func() {
		if err := a.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("Pprof server failed")
		}
	}()
}

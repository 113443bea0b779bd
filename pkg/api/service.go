package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/api/handlers"
	"github.com/linkhop/linkhop/pkg/cache"
	"github.com/linkhop/linkhop/pkg/events"
	"github.com/linkhop/linkhop/pkg/postgres"
	"github.com/linkhop/linkhop/pkg/resolver"
)

// Service defines the API service interface
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type service struct {
	app    *fiber.App
	server *http.Server
	config *Config

	resolver   resolver.Resolver
	dispatcher events.Dispatcher
	cache      cache.Store
	db         postgres.ClientInterface

	log logrus.FieldLogger
}

// NewService creates the public HTTP service
func NewService(cfg *Config, res resolver.Resolver, dispatcher events.Dispatcher, store cache.Store, db postgres.ClientInterface, log logrus.FieldLogger) Service {
	return &service{
		config:     cfg,
		resolver:   res,
		dispatcher: dispatcher,
		cache:      store,
		db:         db,
		log:        log.WithField("service", "api"),
	}
}

// Start initializes and starts the HTTP server
func (s *service) Start(_ context.Context) error {
	s.app = fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		AppName:      "linkhop",
	})

	setupMiddleware(s.app)

	server := handlers.NewServer(s.log, s.resolver, s.dispatcher, s.cache, s.db, handlers.Options{
		RedirectMaxAge: s.config.RedirectMaxAge,
		ReadyTimeout:   s.config.ReadyTimeout,
	})

	registerRoutes(s.app, server)

	// Wrap the Fiber app so net/http owns the listener lifecycle
	fiberHandler := adaptor.FiberApp(s.app)
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           fiberHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.WithField("addr", s.config.Addr).Info("Starting redirect server")

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Server failed to start")
		}
	}()

	return nil
}

// registerRoutes binds the fixed routes. The operational paths must be
// registered before the code parameter because names like "health" and
// "metrics" are themselves valid short codes.
func registerRoutes(app *fiber.App, server *handlers.Server) {
	app.Get("/health", server.Health)
	app.Get("/health/ready", server.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/:code", server.Redirect)
}

// Stop gracefully shuts down the API server
func (s *service) Stop() error {
	if s.server == nil {
		return nil
	}

	s.log.Info("Stopping redirect server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}

// Package handlers implements the request handlers behind the public HTTP
// surface: the redirect itself plus liveness and readiness probes.
package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/events"
	"github.com/linkhop/linkhop/pkg/resolver"
)

// retryAfterSeconds is the client backoff hint on 503 responses
const retryAfterSeconds = "30"

// Geo headers filled in by a fronting proxy; empty when absent
const (
	headerGeoCountry = "X-Geo-Country"
	headerGeoRegion  = "X-Geo-Region"
)

// Pinger is a connectivity probe on a backing store
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClickSink accepts click submissions without blocking
type ClickSink interface {
	Submit(in events.Input) bool
}

// Options carries the handler tunables down from the service config
type Options struct {
	RedirectMaxAge time.Duration
	ReadyTimeout   time.Duration
}

// Server implements the redirect and health handlers
type Server struct {
	log      logrus.FieldLogger
	resolver resolver.Resolver
	clicks   ClickSink
	cache    Pinger
	db       Pinger
	opts     Options
}

// NewServer creates the handler set for the public HTTP surface
func NewServer(log logrus.FieldLogger, res resolver.Resolver, clicks ClickSink, cachePing, dbPing Pinger, opts Options) *Server {
	return &Server{
		log:      log.WithField("component", "api.handlers"),
		resolver: res,
		clicks:   clicks,
		cache:    cachePing,
		db:       dbPing,
		opts:     opts,
	}
}

// Redirect handles GET /:code. The click record is handed off before the
// response is written and never awaited.
func (s *Server) Redirect(c fiber.Ctx) error {
	code := c.Params("code")

	res := s.resolver.Resolve(c.Context(), code)

	switch res.Status {
	case resolver.StatusFound:
		s.submitClick(c, code, res)

		return s.sendRedirect(c, res)

	case resolver.StatusUnavailable:
		c.Set(fiber.HeaderRetryAfter, retryAfterSeconds)

		return ErrUnavailable

	default:
		return ErrLinkNotFound
	}
}

// Health handles GET /health: process liveness only, no dependency checks
func (s *Server) Health(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready handles GET /health/ready. One dependency down is degraded (the
// redirect path can still answer from the surviving side); both down is
// unhealthy.
func (s *Server) Ready(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), s.opts.ReadyTimeout)
	defer cancel()

	cacheErr := s.cache.Ping(ctx)
	if cacheErr != nil {
		s.log.WithError(cacheErr).Warn("Cache readiness probe failed")
	}

	dbErr := s.db.Ping(ctx)
	if dbErr != nil {
		s.log.WithError(dbErr).Warn("Database readiness probe failed")
	}

	switch {
	case cacheErr == nil && dbErr == nil:
		return c.JSON(fiber.Map{"status": "ok"})

	case cacheErr != nil && dbErr != nil:
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy"})

	default:
		return c.JSON(fiber.Map{"status": "degraded"})
	}
}

func (s *Server) sendRedirect(c fiber.Ctx, res resolver.Resolution) error {
	c.Set(fiber.HeaderLocation, res.URL)

	status := fiber.StatusFound
	if res.Permanent {
		status = fiber.StatusMovedPermanently
	}

	// A stale answer keeps its status but must not extend downstream caching:
	// the destination could not be verified against the database.
	if res.Permanent && !res.Stale {
		c.Set(fiber.HeaderCacheControl, "public, max-age="+strconv.Itoa(int(s.opts.RedirectMaxAge.Seconds())))
	} else {
		c.Set(fiber.HeaderCacheControl, "no-cache")
	}

	return c.SendStatus(status)
}

func (s *Server) submitClick(c fiber.Ctx, code string, res resolver.Resolution) {
	in := events.Input{
		LinkID:     res.LinkID,
		ShortCode:  code,
		IP:         c.IP(),
		UserAgent:  c.Get(fiber.HeaderUserAgent),
		Referrer:   c.Get(fiber.HeaderReferer),
		Country:    c.Get(headerGeoCountry),
		Region:     c.Get(headerGeoRegion),
		OccurredAt: time.Now(),
	}

	if !s.clicks.Submit(in) {
		s.log.WithField("code", code).Debug("Click event dropped")
	}
}

// Package resolver turns a short code into a redirect decision. It owns the
// read path ordering: format check, negative marker, fresh cache, database,
// and finally the stale cache when the database cannot answer.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/cache"
	"github.com/linkhop/linkhop/pkg/links"
	"github.com/linkhop/linkhop/pkg/observability"
)

// Status is the outcome class of a resolution
type Status string

const (
	// StatusFound means the code maps to a servable URL
	StatusFound Status = "found"
	// StatusNotFound means the code is unknown, malformed, or ineligible
	StatusNotFound Status = "not_found"
	// StatusUnavailable means the backends cannot answer right now
	StatusUnavailable Status = "unavailable"
)

// Resolution is the redirect decision for one request
type Resolution struct {
	Status    Status
	URL       string
	Permanent bool
	// Stale marks an answer served from an expired cache entry while the
	// database is unreachable
	Stale  bool
	LinkID int64
}

// Resolver resolves short codes to redirect targets
type Resolver interface {
	Resolve(ctx context.Context, code string) Resolution
}

// linkReader is the database slice the resolver uses
type linkReader interface {
	GetLinkByCode(ctx context.Context, code string) (*links.Link, error)
}

type resolver struct {
	log   logrus.FieldLogger
	store cache.Store
	db    linkReader

	// detach runs fire-and-forget work such as cache warms. Swapped for a
	// synchronous version in tests.
	detach func(fn func())
}

var _ Resolver = (*resolver)(nil)

// NewResolver creates a redirect resolver over the given cache store and
// database reader
func NewResolver(logger logrus.FieldLogger, store cache.Store, db linkReader) Resolver {
	return &resolver{
		log:    logger.WithField("component", "resolver"),
		store:  store,
		db:     db,
		detach: func(fn func()) { go fn() },
	}
}

// Resolve works through the lookup tiers in order. Cache trouble is treated
// as a miss; only a database failure with no stale entry surfaces as
// unavailable.
func (r *resolver) Resolve(ctx context.Context, code string) Resolution {
	if err := links.ValidateCode(code); err != nil {
		observability.RecordRedirect("invalid")

		return Resolution{Status: StatusNotFound}
	}

	if negative, err := r.store.HasNegative(ctx, code); err != nil {
		r.log.WithError(err).WithField("code", code).Warn("Negative marker check failed")
	} else if negative {
		observability.NegativeCacheHits.Inc()
		observability.RecordRedirect("negative_hit")

		return Resolution{Status: StatusNotFound}
	}

	entry, err := r.store.GetLink(ctx, code)
	if err != nil {
		r.log.WithError(err).WithField("code", code).Warn("Cache read failed")
	} else if entry != nil {
		observability.RecordRedirect("hit")

		return Resolution{
			Status:    StatusFound,
			URL:       entry.URL,
			Permanent: entry.Permanent,
			LinkID:    entry.LinkID,
		}
	}

	start := time.Now()
	link, err := r.db.GetLinkByCode(ctx, code)

	observability.DBLookupDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case errors.Is(err, links.ErrNotFound):
		r.markNotFound(code)
		observability.RecordRedirect("not_found")

		return Resolution{Status: StatusNotFound}
	default:
		return r.resolveStale(ctx, code, err)
	}

	if !link.Eligible(time.Now()) {
		r.markNotFound(code)
		observability.RecordRedirect("not_found")

		return Resolution{Status: StatusNotFound}
	}

	r.warm(code, link)
	observability.RecordRedirect("db_hit")

	return Resolution{
		Status:    StatusFound,
		URL:       link.OriginalURL,
		Permanent: link.Permanent(),
		LinkID:    link.ID,
	}
}

// resolveStale is the only path allowed to read expired cache entries
func (r *resolver) resolveStale(ctx context.Context, code string, dbErr error) Resolution {
	r.log.WithError(dbErr).WithField("code", code).Warn("Database lookup failed, trying stale cache")

	entry, err := r.store.GetStaleLink(ctx, code)
	if err != nil || entry == nil {
		observability.RecordRedirect("unavailable")
		observability.RecordError("resolver", "unavailable")

		return Resolution{Status: StatusUnavailable}
	}

	observability.RecordRedirect("stale")

	return Resolution{
		Status:    StatusFound,
		URL:       entry.URL,
		Permanent: entry.Permanent,
		Stale:     true,
		LinkID:    entry.LinkID,
	}
}

// warm writes the resolved link back to the cache off the request path
func (r *resolver) warm(code string, link *links.Link) {
	id := link.ID
	url := link.OriginalURL
	permanent := link.Permanent()

	r.detach(func() {
		if err := r.store.SetLink(context.Background(), code, id, url, permanent); err != nil {
			r.log.WithError(err).WithField("code", code).Warn("Failed to warm link cache")
		}
	})
}

// markNotFound records a negative marker off the request path
func (r *resolver) markNotFound(code string) {
	r.detach(func() {
		if err := r.store.SetNegative(context.Background(), code); err != nil {
			r.log.WithError(err).WithField("code", code).Warn("Failed to set negative marker")
		}
	})
}

package cache

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/observability"
	r "github.com/linkhop/linkhop/pkg/redis"
)

// CachedLink is the JSON value stored under {ns}:v1:link:{code}. Field names
// are kept to one byte since this sits on the hot path of every redirect.
// FreshFor travels with the entry because each write gets its own jittered
// freshness window.
type CachedLink struct {
	LinkID    int64         `json:"l"`
	URL       string        `json:"u"`
	Permanent bool          `json:"p"`
	CachedAt  time.Time     `json:"t"`
	FreshFor  time.Duration `json:"f"`
}

// Fresh reports whether the entry is still within its freshness window
func (e *CachedLink) Fresh(now time.Time) bool {
	return now.Sub(e.CachedAt) <= e.FreshFor
}

// Store is the cache surface the resolver depends on
type Store interface {
	// GetLink returns a fresh cached entry, or nil on miss. Entries past
	// their freshness window count as misses but stay in Redis for
	// GetStaleLink.
	GetLink(ctx context.Context, code string) (*CachedLink, error)
	// GetStaleLink returns a cached entry regardless of freshness. Used
	// only when the database cannot answer.
	GetStaleLink(ctx context.Context, code string) (*CachedLink, error)
	// SetLink writes a positive entry with a jittered freshness window
	SetLink(ctx context.Context, code string, linkID int64, url string, permanent bool) error
	// HasNegative reports whether a not-found marker exists for the code
	HasNegative(ctx context.Context, code string) (bool, error)
	// SetNegative writes a not-found marker
	SetNegative(ctx context.Context, code string) error
	// Ping checks connectivity
	Ping(ctx context.Context) error
}

// store implements Store on a go-redis client
type store struct {
	log    logrus.FieldLogger
	client *redis.Client
	keys   *r.Config
	cfg    *Config
}

var _ Store = (*store)(nil)

// NewStore creates a link cache store
func NewStore(logger logrus.FieldLogger, client *redis.Client, keys *r.Config, cfg *Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &store{
		log:    logger.WithField("component", "cache"),
		client: client,
		keys:   keys,
		cfg:    cfg,
	}, nil
}

func (s *store) GetLink(ctx context.Context, code string) (*CachedLink, error) {
	entry, err := s.getEntry(ctx, code)
	if err != nil {
		observability.RecordCacheOperation("get", "error")

		return nil, err
	}

	if entry == nil || !entry.Fresh(time.Now()) {
		observability.RecordCacheOperation("get", "miss")

		return nil, nil
	}

	observability.RecordCacheOperation("get", "hit")

	return entry, nil
}

func (s *store) GetStaleLink(ctx context.Context, code string) (*CachedLink, error) {
	entry, err := s.getEntry(ctx, code)
	if err != nil {
		observability.RecordCacheOperation("get_stale", "error")

		return nil, err
	}

	if entry == nil {
		observability.RecordCacheOperation("get_stale", "miss")

		return nil, nil
	}

	observability.RecordCacheOperation("get_stale", "hit")

	return entry, nil
}

func (s *store) SetLink(ctx context.Context, code string, linkID int64, url string, permanent bool) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	entry := CachedLink{
		LinkID:    linkID,
		URL:       url,
		Permanent: permanent,
		CachedAt:  time.Now(),
		FreshFor:  s.jitteredTTL(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := s.client.Set(opCtx, s.keys.Key("link", code), data, s.cfg.StaleTTL).Err(); err != nil {
		observability.RecordCacheOperation("set", "error")

		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	observability.RecordCacheOperation("set", "ok")

	return nil
}

func (s *store) HasNegative(ctx context.Context, code string) (bool, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	n, err := s.client.Exists(opCtx, s.keys.Key("404", code)).Result()
	if err != nil {
		observability.RecordCacheOperation("negative_get", "error")

		return false, fmt.Errorf("failed to check negative marker: %w", err)
	}

	if n > 0 {
		observability.RecordCacheOperation("negative_get", "hit")

		return true, nil
	}

	observability.RecordCacheOperation("negative_get", "miss")

	return false, nil
}

func (s *store) SetNegative(ctx context.Context, code string) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Set(opCtx, s.keys.Key("404", code), "1", s.cfg.NegativeTTL).Err(); err != nil {
		observability.RecordCacheOperation("negative_set", "error")

		return fmt.Errorf("failed to write negative marker: %w", err)
	}

	observability.RecordCacheOperation("negative_set", "ok")

	return nil
}

func (s *store) Ping(ctx context.Context) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	return s.client.Ping(opCtx).Err()
}

func (s *store) getEntry(ctx context.Context, code string) (*CachedLink, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	key := s.keys.Key("link", code)

	data, err := s.client.Get(opCtx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}

		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var entry CachedLink
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		// Corrupt entry: drop it so the next lookup repopulates
		s.log.WithError(err).WithField("code", code).Warn("Dropping undecodable cache entry")
		_ = s.client.Del(ctx, key)

		return nil, nil
	}

	return &entry, nil
}

// jitteredTTL spreads freshness windows so entries written in a burst do not
// expire in a burst
func (s *store) jitteredTTL() time.Duration {
	maxOffset := int64(float64(s.cfg.PositiveTTL) * s.cfg.Jitter)
	if maxOffset <= 0 {
		return s.cfg.PositiveTTL
	}

	offBig, err := rand.Int(rand.Reader, big.NewInt(2*maxOffset+1))
	if err != nil {
		return s.cfg.PositiveTTL
	}

	return s.cfg.PositiveTTL + time.Duration(offBig.Int64()-maxOffset)
}

func (s *store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

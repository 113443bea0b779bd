package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/links"
)

const (
	selectLinkSQL = `
		SELECT id, short_code, original_url, active, expires_at, click_limit, click_count, created_at
		FROM links
		WHERE short_code = $1`

	insertClickEventSQL = `
		INSERT INTO click_events (event_id, link_id, short_code, ts, ip_hash, user_agent, referrer, country, region, is_bot)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10)
		ON CONFLICT (event_id) DO NOTHING`

	incrementClicksSQL = `
		UPDATE links
		SET click_count = click_count + $2
		WHERE id = $1`

	aggregateClicksSQL = `
		SELECT link_id, (ts AT TIME ZONE 'UTC')::date AS day, COUNT(*) AS clicks, COUNT(DISTINCT ip_hash) AS unique_visitors
		FROM click_events
		WHERE ts >= $1 AND ts < $2
		GROUP BY link_id, day
		ORDER BY link_id, day`

	aggregateClicksFilteredSQL = `
		SELECT link_id, (ts AT TIME ZONE 'UTC')::date AS day, COUNT(*) AS clicks, COUNT(DISTINCT ip_hash) AS unique_visitors
		FROM click_events
		WHERE ts >= $1 AND ts < $2 AND link_id = ANY($3)
		GROUP BY link_id, day
		ORDER BY link_id, day`

	upsertDayStatSQL = `
		INSERT INTO link_stats_daily (link_id, day, clicks, unique_visitors)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (link_id, day) DO UPDATE
		SET clicks = EXCLUDED.clicks, unique_visitors = EXCLUDED.unique_visitors`
)

// ClientInterface defines the database operations the services depend on
type ClientInterface interface {
	// GetLinkByCode fetches a link row by short code. Returns
	// links.ErrNotFound when no row exists.
	GetLinkByCode(ctx context.Context, code string) (*links.Link, error)
	// InsertClickEvents persists a batch of click events, skipping
	// duplicates by event ID. Returns the number of rows actually inserted.
	InsertClickEvents(ctx context.Context, events []*links.ClickEvent) (int64, error)
	// IncrementClickCounts bumps per-link click counters
	IncrementClickCounts(ctx context.Context, counts map[int64]int64) error
	// AggregateClicks groups click events in [start, end) by link and UTC day
	AggregateClicks(ctx context.Context, start, end time.Time, linkIDs []int64) ([]*links.DayStat, error)
	// UpsertDayStats overwrites daily stat rows keyed by (link_id, day)
	UpsertDayStats(ctx context.Context, stats []*links.DayStat) error
	// Ping checks connectivity
	Ping(ctx context.Context) error
	// Start opens the connection pool
	Start(ctx context.Context) error
	// Stop closes the connection pool
	Stop() error
}

// client implements ClientInterface on a pgx connection pool
type client struct {
	log           logrus.FieldLogger
	poolCfg       *pgxpool.Config
	pool          *pgxpool.Pool
	readTimeout   time.Duration
	insertTimeout time.Duration
	queryTimeout  time.Duration
	debug         bool
}

// NewClient creates a new PostgreSQL client. The pool is not opened until
// Start is called.
func NewClient(logger logrus.FieldLogger, cfg *Config) (ClientInterface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.SetDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres URL: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	return &client{
		log:           logger.WithField("component", "postgres"),
		poolCfg:       poolCfg,
		readTimeout:   cfg.ReadTimeout,
		insertTimeout: cfg.InsertTimeout,
		queryTimeout:  cfg.QueryTimeout,
		debug:         cfg.Debug,
	}, nil
}

func (c *client) Start(ctx context.Context) error {
	pool, err := pgxpool.NewWithConfig(ctx, c.poolCfg)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()

		return fmt.Errorf("failed to connect to postgres: %w", err)
	}

	c.pool = pool

	c.log.Info("Connected to PostgreSQL")

	return nil
}

func (c *client) Stop() error {
	if c.pool != nil {
		c.pool.Close()
	}

	c.log.Info("Closed PostgreSQL connection pool")

	return nil
}

func (c *client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *client) GetLinkByCode(ctx context.Context, code string) (*links.Link, error) {
	opCtx, cancel := c.opContext(ctx, c.readTimeout)
	defer cancel()

	var l links.Link

	err := c.pool.QueryRow(opCtx, selectLinkSQL, code).Scan(
		&l.ID, &l.ShortCode, &l.OriginalURL, &l.Active,
		&l.ExpiresAt, &l.ClickLimit, &l.ClickCount, &l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, links.ErrNotFound
		}

		return nil, fmt.Errorf("failed to query link: %w", err)
	}

	return &l, nil
}

func (c *client) InsertClickEvents(ctx context.Context, events []*links.ClickEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	opCtx, cancel := c.opContext(ctx, c.insertTimeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(insertClickEventSQL,
			e.EventID, e.LinkID, e.ShortCode, e.Timestamp,
			e.IPHash, e.UserAgent, e.Referrer, e.Country, e.Region, e.IsBot,
		)
	}

	results := c.pool.SendBatch(opCtx, batch)
	defer func() {
		if closeErr := results.Close(); closeErr != nil {
			c.log.WithError(closeErr).Debug("Failed to close batch results")
		}
	}()

	var inserted int64

	for range events {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert click events: %w", err)
		}

		inserted += tag.RowsAffected()
	}

	if c.debug {
		c.log.WithFields(logrus.Fields{
			"batch":    len(events),
			"inserted": inserted,
		}).Debug("Inserted click events")
	}

	return inserted, nil
}

func (c *client) IncrementClickCounts(ctx context.Context, counts map[int64]int64) error {
	if len(counts) == 0 {
		return nil
	}

	opCtx, cancel := c.opContext(ctx, c.insertTimeout)
	defer cancel()

	// Deterministic order keeps lock acquisition stable across workers
	ids := make([]int64, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(incrementClicksSQL, id, counts[id])
	}

	results := c.pool.SendBatch(opCtx, batch)
	defer func() {
		if closeErr := results.Close(); closeErr != nil {
			c.log.WithError(closeErr).Debug("Failed to close batch results")
		}
	}()

	for range ids {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to increment click counts: %w", err)
		}
	}

	return nil
}

func (c *client) AggregateClicks(ctx context.Context, start, end time.Time, linkIDs []int64) ([]*links.DayStat, error) {
	opCtx, cancel := c.opContext(ctx, c.queryTimeout)
	defer cancel()

	query := aggregateClicksSQL
	args := []any{start, end}

	if len(linkIDs) > 0 {
		query = aggregateClicksFilteredSQL
		args = append(args, linkIDs)
	}

	rows, err := c.pool.Query(opCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate clicks: %w", err)
	}
	defer rows.Close()

	var stats []*links.DayStat

	for rows.Next() {
		var s links.DayStat
		if err := rows.Scan(&s.LinkID, &s.Day, &s.Clicks, &s.UniqueVisitors); err != nil {
			return nil, fmt.Errorf("failed to scan stat row: %w", err)
		}

		stats = append(stats, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stat rows: %w", err)
	}

	return stats, nil
}

func (c *client) UpsertDayStats(ctx context.Context, stats []*links.DayStat) error {
	if len(stats) == 0 {
		return nil
	}

	opCtx, cancel := c.opContext(ctx, c.insertTimeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, s := range stats {
		batch.Queue(upsertDayStatSQL, s.LinkID, s.Day, s.Clicks, s.UniqueVisitors)
	}

	results := c.pool.SendBatch(opCtx, batch)
	defer func() {
		if closeErr := results.Close(); closeErr != nil {
			c.log.WithError(closeErr).Debug("Failed to close batch results")
		}
	}()

	for range stats {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert day stats: %w", err)
		}
	}

	return nil
}

// opContext applies the default timeout for an operation class unless the
// caller already set a deadline
func (c *client) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, timeout)
}

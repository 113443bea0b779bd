package freqtrack

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/observability"
	r "github.com/linkhop/linkhop/pkg/redis"
)

// windowSlack extends each key's expiry past the window so a check landing
// right at the boundary still sees its own entries
const windowSlack = time.Second

// checkScript prunes, inserts, counts, and re-arms expiry in one round trip.
// Splitting these into separate commands would undercount under concurrent
// checks from multiple processes.
//
// KEYS[1] = sorted set for the identity
// ARGV[1] = now (ms), ARGV[2] = window (ms), ARGV[3] = member, ARGV[4] = expiry (ms)
// Returns {count, oldest score}.
var checkScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
redis.call('ZADD', key, now, ARGV[3])
local count = redis.call('ZCARD', key)
redis.call('PEXPIRE', key, ARGV[4])
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')

return {count, oldest[2]}
`)

// Result is the outcome of a single frequency check
type Result struct {
	// Count is the number of checks for this identity inside the window,
	// including the one that produced this result
	Count int64
	// HighFrequency reports whether Count exceeds the configured threshold
	HighFrequency bool
	// ResetInMs is how long until the oldest counted check leaves the window
	ResetInMs int64
	// FromFallback marks results computed from in-process state while Redis
	// was unreachable; counts are then only valid within this process
	FromFallback bool
}

// Tracker counts per-identity requests over a sliding window
type Tracker interface {
	// Start begins the fallback sweep loop
	Start(ctx context.Context) error
	// Stop halts background work
	Stop() error
	// Check records one request for the identity and reports the window
	// state. It never returns an error: a Redis failure degrades to the
	// in-process fallback.
	Check(ctx context.Context, identityHash string) Result
}

type tracker struct {
	log    logrus.FieldLogger
	client *redis.Client
	keys   *r.Config
	cfg    *Config

	seq      atomic.Uint64
	fallback *localWindow

	done chan struct{}
	wg   sync.WaitGroup
}

var _ Tracker = (*tracker)(nil)

// NewTracker creates a frequency tracker backed by the shared Redis client
func NewTracker(logger logrus.FieldLogger, client *redis.Client, keys *r.Config, cfg *Config) (Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &tracker{
		log:      logger.WithField("component", "freqtrack"),
		client:   client,
		keys:     keys,
		cfg:      cfg,
		fallback: newLocalWindow(),
		done:     make(chan struct{}),
	}, nil
}

func (t *tracker) Start(_ context.Context) error {
	t.wg.Add(1)

	go t.sweepLoop()

	t.log.WithFields(logrus.Fields{
		"window":    t.cfg.Window,
		"threshold": t.cfg.Threshold,
	}).Info("Frequency tracker started")

	return nil
}

func (t *tracker) Stop() error {
	close(t.done)
	t.wg.Wait()

	return nil
}

func (t *tracker) Check(ctx context.Context, identityHash string) Result {
	nowMs := time.Now().UnixMilli()
	windowMs := t.cfg.Window.Milliseconds()

	count, oldest, err := t.checkRedis(ctx, identityHash, nowMs, windowMs)
	if err != nil {
		t.log.WithError(err).Debug("Frequency check falling back to local state")

		count, oldest = t.fallback.check(identityHash, nowMs, windowMs)

		res := t.result(count, oldest, nowMs, windowMs, true)
		observability.RecordFrequencyCheck("fallback", res.HighFrequency)

		return res
	}

	res := t.result(count, oldest, nowMs, windowMs, false)
	observability.RecordFrequencyCheck("redis", res.HighFrequency)

	return res
}

func (t *tracker) checkRedis(ctx context.Context, identityHash string, nowMs, windowMs int64) (count, oldest int64, err error) {
	opCtx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	defer cancel()

	member := strconv.FormatInt(nowMs, 10) + "-" + strconv.FormatUint(t.seq.Add(1), 10)
	expiryMs := windowMs + windowSlack.Milliseconds()

	vals, err := checkScript.Run(opCtx, t.client,
		[]string{t.keys.Key("freq", identityHash)},
		nowMs, windowMs, member, expiryMs,
	).Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to run check script: %w", err)
	}

	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("unexpected script reply of %d values", len(vals))
	}

	count, ok := vals[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected count type %T", vals[0])
	}

	oldestStr, ok := vals[1].(string)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected score type %T", vals[1])
	}

	oldest, err = strconv.ParseInt(oldestStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse oldest score: %w", err)
	}

	return count, oldest, nil
}

func (t *tracker) result(count, oldest, nowMs, windowMs int64, fromFallback bool) Result {
	resetIn := oldest + windowMs - nowMs
	if resetIn < 0 {
		resetIn = 0
	}

	return Result{
		Count:         count,
		HighFrequency: count > t.cfg.Threshold,
		ResetInMs:     resetIn,
		FromFallback:  fromFallback,
	}
}

func (t *tracker) sweepLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			removed := t.fallback.sweep(time.Now().UnixMilli(), t.cfg.Window.Milliseconds())
			if removed > 0 {
				t.log.WithField("identities", removed).Debug("Swept stale fallback windows")
			}
		}
	}
}

// localWindow mirrors the Redis window semantics in process memory. It only
// sees checks from this process, so a degraded count is a lower bound on the
// real one.
type localWindow struct {
	mu      sync.Mutex
	entries map[string][]int64
}

func newLocalWindow() *localWindow {
	return &localWindow{entries: make(map[string][]int64)}
}

func (w *localWindow) check(identityHash string, nowMs, windowMs int64) (count, oldest int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := pruneBefore(w.entries[identityHash], nowMs-windowMs)
	kept = append(kept, nowMs)
	w.entries[identityHash] = kept

	return int64(len(kept)), kept[0]
}

// sweep prunes every tracked identity and drops empty ones, bounding memory
// during long Redis outages. Returns how many identities were removed.
func (w *localWindow) sweep(nowMs, windowMs int64) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0

	for id, ts := range w.entries {
		kept := pruneBefore(ts, nowMs-windowMs)
		if len(kept) == 0 {
			delete(w.entries, id)

			removed++

			continue
		}

		w.entries[id] = kept
	}

	return removed
}

// pruneBefore drops timestamps at or before the cutoff. Entries are appended
// in time order, so the slice stays sorted.
func pruneBefore(ts []int64, cutoff int64) []int64 {
	i := 0
	for i < len(ts) && ts[i] <= cutoff {
		i++
	}

	return ts[i:]
}

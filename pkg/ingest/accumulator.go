// Package ingest drains the clicks queue into PostgreSQL. An accumulator
// batches decoded events so the database sees bounded multi-row inserts
// instead of one round trip per click.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/links"
	"github.com/linkhop/linkhop/pkg/observability"
)

// inserter is the database slice the accumulator uses
type inserter interface {
	InsertClickEvents(ctx context.Context, events []*links.ClickEvent) (int64, error)
	IncrementClickCounts(ctx context.Context, counts map[int64]int64) error
}

// Accumulator batches click events and flushes them by size, age, or request
type Accumulator interface {
	Start(ctx context.Context) error
	Stop() error
	// Add buffers one event. When the buffer reaches the batch size the run
	// loop flushes it.
	Add(event *links.ClickEvent)
	// Flush persists everything currently buffered and returns how many
	// records it wrote
	Flush(ctx context.Context) (int, error)
}

type accumulator struct {
	log logrus.FieldLogger
	cfg *Config
	db  inserter

	mu            sync.Mutex
	pending       []*links.ClickEvent
	oldestArrival time.Time

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

var _ Accumulator = (*accumulator)(nil)

// NewAccumulator creates a click event accumulator
func NewAccumulator(logger logrus.FieldLogger, cfg *Config, db inserter) (Accumulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &accumulator{
		log:  logger.WithField("component", "accumulator"),
		cfg:  cfg,
		db:   db,
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}, nil
}

func (a *accumulator) Start(_ context.Context) error {
	a.wg.Add(1)

	go a.run()

	a.log.WithFields(logrus.Fields{
		"batch_size":    a.cfg.BatchSize,
		"batch_timeout": a.cfg.BatchTimeout,
	}).Info("Started click accumulator")

	return nil
}

// Stop halts the run loop and drains whatever is still buffered
func (a *accumulator) Stop() error {
	close(a.done)
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.DrainTimeout)
	defer cancel()

	if _, err := a.flush(ctx, "shutdown", 0); err != nil {
		a.log.WithError(err).Error("Final drain flush failed")

		return err
	}

	a.log.Info("Stopped click accumulator")

	return nil
}

func (a *accumulator) Add(event *links.ClickEvent) {
	a.mu.Lock()

	if len(a.pending) == 0 {
		a.oldestArrival = time.Now()
	}

	a.pending = append(a.pending, event)
	full := len(a.pending) >= a.cfg.BatchSize

	a.mu.Unlock()

	if full {
		select {
		case a.kick <- struct{}{}:
		default: // A flush signal is already queued
		}
	}
}

func (a *accumulator) Flush(ctx context.Context) (int, error) {
	return a.flush(ctx, "manual", 0)
}

func (a *accumulator) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-a.kick:
			a.flushFull()
		case <-ticker.C:
			a.flushAged()
		}
	}
}

// flushFull drains size-triggered batches, at most BatchSize records each, so
// a burst turns into a series of bounded inserts
func (a *accumulator) flushFull() {
	for a.size() >= a.cfg.BatchSize {
		if _, err := a.flush(context.Background(), "size", a.cfg.BatchSize); err != nil {
			a.log.WithError(err).Warn("Size-triggered flush failed")

			return
		}
	}
}

// flushAged flushes everything once the oldest buffered record has waited
// longer than the batch timeout
func (a *accumulator) flushAged() {
	a.mu.Lock()
	aged := len(a.pending) > 0 && time.Since(a.oldestArrival) >= a.cfg.BatchTimeout
	a.mu.Unlock()

	if !aged {
		return
	}

	if _, err := a.flush(context.Background(), "timeout", 0); err != nil {
		a.log.WithError(err).Warn("Timeout flush failed")
	}
}

// flush swaps out up to limit buffered events (all of them when limit <= 0)
// and persists them outside the lock. On failure the batch is prepended back
// so nothing is lost.
func (a *accumulator) flush(ctx context.Context, trigger string, limit int) (int, error) {
	events := a.take(limit)
	if len(events) == 0 {
		return 0, nil
	}

	inserted, err := a.db.InsertClickEvents(ctx, events)
	if err != nil {
		a.restore(events)
		observability.RecordBatchFlush(trigger, "error", float64(len(events)))

		return 0, fmt.Errorf("failed to persist click batch: %w", err)
	}

	observability.RecordBatchFlush(trigger, "success", float64(len(events)))
	observability.ClicksPersisted.Add(float64(inserted))

	a.bumpCounters(ctx, events)

	return len(events), nil
}

func (a *accumulator) take(limit int) []*links.ClickEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) == 0 {
		return nil
	}

	if limit <= 0 || limit >= len(a.pending) {
		events := a.pending
		a.pending = nil

		return events
	}

	events := a.pending[:limit:limit]
	a.pending = append(make([]*links.ClickEvent, 0, len(a.pending)-limit), a.pending[limit:]...)
	// The remainder arrived after the records just taken
	a.oldestArrival = time.Now()

	return events
}

// restore prepends a failed batch so the next tick retries it
func (a *accumulator) restore(events []*links.ClickEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending = append(events, a.pending...)
	a.oldestArrival = time.Now().Add(-a.cfg.BatchTimeout)
}

// bumpCounters increments per-link totals after the insert. The rows are
// already durable, so a failure here is logged and left for the next rollup
// to reconcile.
func (a *accumulator) bumpCounters(ctx context.Context, events []*links.ClickEvent) {
	counts := make(map[int64]int64, len(events))
	for _, event := range events {
		counts[event.LinkID]++
	}

	if err := a.db.IncrementClickCounts(ctx, counts); err != nil {
		a.log.WithError(err).Warn("Failed to increment click counters")
	}
}

func (a *accumulator) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.pending)
}

func (a *accumulator) tickInterval() time.Duration {
	interval := a.cfg.BatchTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	return interval
}

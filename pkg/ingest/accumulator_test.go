package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkhop/linkhop/pkg/links"
)

type fakeInserter struct {
	mu        sync.Mutex
	batches   [][]*links.ClickEvent
	rows      int
	counts    []map[int64]int64
	insertErr error
	countErr  error
}

var _ inserter = (*fakeInserter)(nil)

func (f *fakeInserter) InsertClickEvents(_ context.Context, events []*links.ClickEvent) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.insertErr != nil {
		return 0, f.insertErr
	}

	batch := make([]*links.ClickEvent, len(events))
	copy(batch, events)

	f.batches = append(f.batches, batch)
	f.rows += len(events)

	return int64(len(events)), nil
}

func (f *fakeInserter) IncrementClickCounts(_ context.Context, counts map[int64]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.countErr != nil {
		return f.countErr
	}

	f.counts = append(f.counts, counts)

	return nil
}

func (f *fakeInserter) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	sizes := make([]int, len(f.batches))
	for i, b := range f.batches {
		sizes[i] = len(b)
	}

	return sizes
}

func (f *fakeInserter) totalRows() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.rows
}

func testAccumulator(t *testing.T, cfg *Config, db inserter) *accumulator {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	acc, err := NewAccumulator(log, cfg, db)
	require.NoError(t, err)

	impl, ok := acc.(*accumulator)
	require.True(t, ok)

	return impl
}

func clickEvent(id int) *links.ClickEvent {
	return &links.ClickEvent{
		EventID:   fmt.Sprintf("evt-%d", id),
		LinkID:    int64(id%3 + 1),
		ShortCode: "abc123",
		Timestamp: time.Now().UTC(),
	}
}

func TestAccumulatorSizeTriggeredFlushes(t *testing.T) {
	db := &fakeInserter{}
	acc := testAccumulator(t, &Config{
		BatchSize:    5,
		BatchTimeout: time.Hour, // never fires here
		Concurrency:  1,
		DrainTimeout: time.Second,
	}, db)

	require.NoError(t, acc.Start(context.Background()))

	for i := 0; i < 12; i++ {
		acc.Add(clickEvent(i))
	}

	// Two full batches drain automatically, the remainder stays buffered
	require.Eventually(t, func() bool {
		return db.totalRows() == 10
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []int{5, 5}, db.batchSizes())
	assert.Equal(t, 2, acc.size())

	flushed, err := acc.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, flushed)

	assert.Equal(t, []int{5, 5, 2}, db.batchSizes())
	assert.Equal(t, 12, db.totalRows())
	assert.Zero(t, acc.size())

	require.NoError(t, acc.Stop())
	assert.Equal(t, 12, db.totalRows(), "shutdown flush has nothing left to write")
}

func TestAccumulatorTimeoutFlush(t *testing.T) {
	db := &fakeInserter{}
	acc := testAccumulator(t, &Config{
		BatchSize:    100,
		BatchTimeout: 50 * time.Millisecond,
		Concurrency:  1,
		DrainTimeout: time.Second,
	}, db)

	require.NoError(t, acc.Start(context.Background()))

	for i := 0; i < 3; i++ {
		acc.Add(clickEvent(i))
	}

	require.Eventually(t, func() bool {
		return db.totalRows() == 3
	}, 2*time.Second, 5*time.Millisecond, "an undersized batch must still flush once it ages out")

	require.NoError(t, acc.Stop())
}

func TestAccumulatorDrainsOnStop(t *testing.T) {
	db := &fakeInserter{}
	acc := testAccumulator(t, &Config{
		BatchSize:    100,
		BatchTimeout: time.Hour,
		Concurrency:  1,
		DrainTimeout: time.Second,
	}, db)

	require.NoError(t, acc.Start(context.Background()))

	for i := 0; i < 4; i++ {
		acc.Add(clickEvent(i))
	}

	require.NoError(t, acc.Stop())

	assert.Equal(t, []int{4}, db.batchSizes(), "buffered events must survive shutdown")
}

func TestAccumulatorFlushErrorKeepsEvents(t *testing.T) {
	db := &fakeInserter{insertErr: errors.New("connection refused")}
	acc := testAccumulator(t, &Config{
		BatchSize:    100,
		BatchTimeout: time.Hour,
		Concurrency:  1,
		DrainTimeout: time.Second,
	}, db)

	for i := 0; i < 3; i++ {
		acc.Add(clickEvent(i))
	}

	_, err := acc.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, acc.size(), "a failed batch goes back into the buffer")

	db.mu.Lock()
	db.insertErr = nil
	db.mu.Unlock()

	flushed, err := acc.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, flushed)
	assert.Equal(t, 3, db.totalRows())
}

func TestAccumulatorBumpsPerLinkCounters(t *testing.T) {
	db := &fakeInserter{}
	acc := testAccumulator(t, &Config{
		BatchSize:    100,
		BatchTimeout: time.Hour,
		Concurrency:  1,
		DrainTimeout: time.Second,
	}, db)

	acc.Add(&links.ClickEvent{EventID: "a", LinkID: 1})
	acc.Add(&links.ClickEvent{EventID: "b", LinkID: 1})
	acc.Add(&links.ClickEvent{EventID: "c", LinkID: 2})

	_, err := acc.Flush(context.Background())
	require.NoError(t, err)

	require.Len(t, db.counts, 1)
	assert.Equal(t, map[int64]int64{1: 2, 2: 1}, db.counts[0])
}

func TestAccumulatorCounterFailureIsNonFatal(t *testing.T) {
	db := &fakeInserter{countErr: errors.New("deadlock detected")}
	acc := testAccumulator(t, &Config{
		BatchSize:    100,
		BatchTimeout: time.Hour,
		Concurrency:  1,
		DrainTimeout: time.Second,
	}, db)

	acc.Add(clickEvent(1))

	flushed, err := acc.Flush(context.Background())
	require.NoError(t, err, "counter increments are best-effort after a durable insert")
	assert.Equal(t, 1, flushed)
	assert.Equal(t, 1, db.totalRows())
}

func TestAccumulatorFlushEmpty(t *testing.T) {
	db := &fakeInserter{}
	acc := testAccumulator(t, &Config{
		BatchSize:    10,
		BatchTimeout: time.Hour,
		Concurrency:  1,
		DrainTimeout: time.Second,
	}, db)

	flushed, err := acc.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, flushed)
	assert.Empty(t, db.batchSizes())
}

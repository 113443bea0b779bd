package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkhop/linkhop/pkg/bloom"
	"github.com/linkhop/linkhop/pkg/botdetect"
	r "github.com/linkhop/linkhop/pkg/redis"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

type enqueued struct {
	task *asynq.Task
	opts []asynq.Option
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	err   error
	tasks []enqueued
}

var _ enqueuer = (*fakeEnqueuer)(nil)

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.tasks = append(f.tasks, enqueued{task: task, opts: opts})

	return &asynq.TaskInfo{ID: "enqueued"}, nil
}

func (f *fakeEnqueuer) all() []enqueued {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]enqueued, len(f.tasks))
	copy(out, f.tasks)

	return out
}

type fakeDetector struct {
	mu     sync.Mutex
	calls  int
	lastID string
	result botdetect.Result
}

var _ botdetect.Detector = (*fakeDetector)(nil)

func (f *fakeDetector) Detect(_ context.Context, _, identityHash string) botdetect.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.lastID = identityHash

	return f.result
}

func (f *fakeDetector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type fakeReputation struct {
	mu       sync.Mutex
	contains bool
	added    []string
}

var _ bloom.Service = (*fakeReputation)(nil)

func (f *fakeReputation) Start(_ context.Context) error { return nil }
func (f *fakeReputation) Stop() error                   { return nil }
func (f *fakeReputation) Reset(_ context.Context) error { return nil }
func (f *fakeReputation) ApproxFillRatio() float64      { return 0 }

func (f *fakeReputation) Add(_ context.Context, identityHash string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.added = append(f.added, identityHash)
}

func (f *fakeReputation) MightContain(_ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.contains
}

func (f *fakeReputation) addedHashes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.added))
	copy(out, f.added)

	return out
}

func testProducer(t *testing.T, det botdetect.Detector, rep bloom.Service) (*producer, *fakeEnqueuer) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	keys := &r.Config{Namespace: "test"}

	p, err := NewProducer(log, nil, keys, &Config{
		IdentitySalt:     "pepper",
		EnqueueTimeout:   time.Second,
		BatchParallelism: 4,
		Workers:          2,
		Buffer:           16,
	}, det, rep)
	require.NoError(t, err)

	fake := &fakeEnqueuer{}

	impl, ok := p.(*producer)
	require.True(t, ok)

	impl.client = fake

	return impl, fake
}

func optValue(t *testing.T, opts []asynq.Option, typ asynq.OptionType) interface{} {
	t.Helper()

	for _, opt := range opts {
		if opt.Type() == typ {
			return opt.Value()
		}
	}

	t.Fatalf("option %v not set", typ)

	return nil
}

func TestEmitEnqueuesClickEvent(t *testing.T) {
	p, fake := testProducer(t, &fakeDetector{}, &fakeReputation{})

	res := p.Emit(context.Background(), Input{
		LinkID:    42,
		ShortCode: "abc123",
		IP:        "203.0.113.7",
		UserAgent: chromeUA,
		Referrer:  "https://example.com/page",
		Country:   "DE",
	})

	require.True(t, res.Enqueued)
	require.NotEmpty(t, res.EventID)
	assert.False(t, res.IsBot)
	assert.Empty(t, res.BotReason)

	tasks := fake.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, TypeClickEvent, tasks[0].task.Type())

	assert.Equal(t, res.EventID, optValue(t, tasks[0].opts, asynq.TaskIDOpt))
	assert.Equal(t, "test:clicks", optValue(t, tasks[0].opts, asynq.QueueOpt))
	assert.Equal(t, 0, optValue(t, tasks[0].opts, asynq.MaxRetryOpt))

	var payload ClickPayload
	require.NoError(t, json.Unmarshal(tasks[0].task.Payload(), &payload))

	assert.Equal(t, res.EventID, payload.EventID)
	assert.Equal(t, "abc123", payload.ShortCode)
	assert.Equal(t, int64(42), payload.LinkID)
	assert.Equal(t, HashIdentity("pepper", "203.0.113.7"), payload.IPHash)
	assert.NotContains(t, string(tasks[0].task.Payload()), "203.0.113.7", "raw addresses must never be enqueued")
	assert.False(t, payload.IsBot)
	assert.InDelta(t, time.Now().UnixMilli(), payload.TimestampMs, float64(5*time.Second.Milliseconds()))
}

func TestEmitClassifiesBots(t *testing.T) {
	det := &fakeDetector{result: botdetect.Result{
		IsBot:      true,
		Reason:     botdetect.ReasonSignature,
		Confidence: 0.95,
	}}
	rep := &fakeReputation{}

	p, fake := testProducer(t, det, rep)

	res := p.Emit(context.Background(), Input{
		LinkID:    1,
		ShortCode: "abc123",
		IP:        "203.0.113.9",
		UserAgent: "Googlebot/2.1",
	})

	require.True(t, res.Enqueued)
	assert.True(t, res.IsBot)
	assert.Equal(t, botdetect.ReasonSignature, res.BotReason)

	tasks := fake.all()
	require.Len(t, tasks, 1)

	var payload ClickPayload
	require.NoError(t, json.Unmarshal(tasks[0].task.Payload(), &payload))
	assert.True(t, payload.IsBot, "bot flag rides along with the event rather than dropping it")

	wantHash := HashIdentity("pepper", "203.0.113.9")
	assert.Equal(t, []string{wantHash}, rep.addedHashes(), "confident verdicts feed the reputation filter")
}

func TestEmitSkipsReputationFeedbackBelowConfidence(t *testing.T) {
	det := &fakeDetector{result: botdetect.Result{
		IsBot:      true,
		Reason:     botdetect.ReasonHeuristic,
		Confidence: 0.6,
	}}
	rep := &fakeReputation{}

	p, _ := testProducer(t, det, rep)

	res := p.Emit(context.Background(), Input{ShortCode: "abc123", IP: "203.0.113.9", UserAgent: "x"})

	assert.True(t, res.IsBot)
	assert.Empty(t, rep.addedHashes(), "weak verdicts must not poison the reputation filter")
}

func TestEmitReputationShortCircuit(t *testing.T) {
	det := &fakeDetector{}
	rep := &fakeReputation{contains: true}

	p, fake := testProducer(t, det, rep)

	res := p.Emit(context.Background(), Input{
		ShortCode: "abc123",
		IP:        "203.0.113.10",
		UserAgent: chromeUA,
	})

	require.True(t, res.Enqueued)
	assert.True(t, res.IsBot)
	assert.Equal(t, botdetect.ReasonReputation, res.BotReason)
	assert.Zero(t, det.callCount(), "known-abusive identities skip detection")

	tasks := fake.all()
	require.Len(t, tasks, 1)
}

func TestEmitWithoutIP(t *testing.T) {
	det := &fakeDetector{}
	rep := &fakeReputation{contains: true}

	p, fake := testProducer(t, det, rep)

	res := p.Emit(context.Background(), Input{ShortCode: "abc123", UserAgent: chromeUA})

	require.True(t, res.Enqueued)
	assert.False(t, res.IsBot, "no identity means no reputation verdict")
	assert.Equal(t, 1, det.callCount())

	var payload ClickPayload
	require.NoError(t, json.Unmarshal(fake.all()[0].task.Payload(), &payload))
	assert.Empty(t, payload.IPHash)
}

func TestEmitEnqueueFailureIsNonFatal(t *testing.T) {
	p, fake := testProducer(t, &fakeDetector{}, &fakeReputation{})
	fake.err = errors.New("broker down")

	res := p.Emit(context.Background(), Input{ShortCode: "abc123", UserAgent: chromeUA})

	assert.False(t, res.Enqueued)
	assert.NotEmpty(t, res.EventID, "event id is assigned even when the enqueue fails")
}

func TestEmitTruncatesLongFields(t *testing.T) {
	p, fake := testProducer(t, &fakeDetector{}, &fakeReputation{})

	p.Emit(context.Background(), Input{
		ShortCode: "abc123",
		UserAgent: strings.Repeat("u", maxUserAgentLen+100),
		Referrer:  strings.Repeat("r", maxReferrerLen+100),
	})

	var payload ClickPayload
	require.NoError(t, json.Unmarshal(fake.all()[0].task.Payload(), &payload))

	assert.Len(t, payload.UserAgent, maxUserAgentLen)
	assert.Len(t, payload.Referrer, maxReferrerLen)
}

func TestEmitBatch(t *testing.T) {
	p, fake := testProducer(t, &fakeDetector{}, &fakeReputation{})

	ins := make([]Input, 12)
	for i := range ins {
		ins[i] = Input{LinkID: int64(i), ShortCode: "abc123", UserAgent: chromeUA}
	}

	results := p.EmitBatch(context.Background(), ins)

	require.Len(t, results, 12)
	for _, res := range results {
		assert.True(t, res.Enqueued)
		assert.NotEmpty(t, res.EventID)
	}

	assert.Len(t, fake.all(), 12)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:   "valid",
			config: Config{IdentitySalt: "s", Workers: 1, Buffer: 1, BatchParallelism: 1},
		},
		{
			name:    "missing salt",
			config:  Config{Workers: 1, Buffer: 1, BatchParallelism: 1},
			wantErr: ErrSaltRequired,
		},
		{
			name:    "no workers",
			config:  Config{IdentitySalt: "s", Buffer: 1, BatchParallelism: 1},
			wantErr: ErrWorkersRequired,
		},
		{
			name:    "no buffer",
			config:  Config{IdentitySalt: "s", Workers: 1, BatchParallelism: 1},
			wantErr: ErrBufferRequired,
		},
		{
			name:    "no parallelism",
			config:  Config{IdentitySalt: "s", Workers: 1, Buffer: 1},
			wantErr: ErrParallelismRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/linkhop/linkhop/pkg/bloom"
	"github.com/linkhop/linkhop/pkg/botdetect"
	"github.com/linkhop/linkhop/pkg/observability"
	r "github.com/linkhop/linkhop/pkg/redis"
)

// reputationConfidence is the detector confidence at which an identity is
// fed back into the reputation filter
const reputationConfidence = 0.8

// Input describes one resolved (or attempted) redirect. IP is the raw client
// address; it is hashed before anything is stored or enqueued.
type Input struct {
	LinkID     int64
	ShortCode  string
	IP         string
	UserAgent  string
	Referrer   string
	Country    string
	Region     string
	OccurredAt time.Time // zero means now
}

// Result reports what Emit did. There is no error: a failed enqueue is a
// logged, counted non-event as far as the caller is concerned.
type Result struct {
	EventID   string
	Enqueued  bool
	IsBot     bool
	BotReason string
}

// Producer turns redirect activity into queued click events
type Producer interface {
	// Emit builds, scrubs, and enqueues a single click event
	Emit(ctx context.Context, in Input) Result
	// EmitBatch runs many inputs through Emit with bounded parallelism
	EmitBatch(ctx context.Context, ins []Input) []Result
}

// enqueuer is the slice of the asynq client the producer uses
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

var _ enqueuer = (*asynq.Client)(nil)

type producer struct {
	log        logrus.FieldLogger
	cfg        *Config
	client     enqueuer
	queue      string
	detector   botdetect.Detector
	reputation bloom.Service
}

var _ Producer = (*producer)(nil)

// NewProducer creates a click event producer. The reputation filter may be
// nil, which skips the pre-detection reputation check.
func NewProducer(logger logrus.FieldLogger, client *asynq.Client, keys *r.Config, cfg *Config, detector botdetect.Detector, reputation bloom.Service) (Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &producer{
		log:        logger.WithField("component", "events"),
		cfg:        cfg,
		client:     client,
		queue:      keys.Queue(QueueClicks),
		detector:   detector,
		reputation: reputation,
	}, nil
}

func (p *producer) Emit(ctx context.Context, in Input) Result {
	eventID := uuid.NewString()

	var ipHash string
	if in.IP != "" {
		ipHash = HashIdentity(p.cfg.IdentitySalt, in.IP)
	}

	isBot, reason := p.classify(ctx, in.UserAgent, ipHash)

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	payload := ClickPayload{
		EventID:     eventID,
		ShortCode:   in.ShortCode,
		LinkID:      in.LinkID,
		TimestampMs: occurredAt.UnixMilli(),
		IPHash:      ipHash,
		UserAgent:   truncate(in.UserAgent, maxUserAgentLen),
		Referrer:    truncate(in.Referrer, maxReferrerLen),
		Country:     in.Country,
		Region:      in.Region,
		IsBot:       isBot,
	}

	res := Result{EventID: eventID, IsBot: isBot, BotReason: reason}

	data, err := json.Marshal(&payload)
	if err != nil {
		observability.RecordClickEvent("failed")
		p.log.WithError(err).WithField("short_code", in.ShortCode).Warn("Failed to marshal click event")

		return res
	}

	opCtx, cancel := context.WithTimeout(ctx, p.cfg.EnqueueTimeout)
	defer cancel()

	// Single attempt, no retry: losing one click under pressure is cheaper
	// than slowing down or double-counting.
	_, err = p.client.EnqueueContext(opCtx, asynq.NewTask(TypeClickEvent, data),
		asynq.TaskID(eventID),
		asynq.Queue(p.queue),
		asynq.MaxRetry(0),
	)
	if err != nil {
		observability.RecordClickEvent("failed")
		p.log.WithError(err).WithFields(logrus.Fields{
			"event_id":   eventID,
			"short_code": in.ShortCode,
		}).Warn("Failed to enqueue click event")

		return res
	}

	observability.RecordClickEvent("enqueued")

	res.Enqueued = true

	return res
}

func (p *producer) EmitBatch(ctx context.Context, ins []Input) []Result {
	results := make([]Result, len(ins))

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.BatchParallelism)

	for i := range ins {
		g.Go(func() error {
			results[i] = p.Emit(ctx, ins[i])

			return nil
		})
	}

	_ = g.Wait()

	return results
}

// classify consults the reputation filter first so known-abusive identities
// skip detection entirely, then runs the detector and feeds strong verdicts
// back into the filter
func (p *producer) classify(ctx context.Context, userAgent, ipHash string) (isBot bool, reason string) {
	if ipHash != "" && p.reputation != nil && p.reputation.MightContain(ipHash) {
		observability.ReputationHits.Inc()
		observability.RecordBotDetection(botdetect.ReasonReputation)

		return true, botdetect.ReasonReputation
	}

	det := p.detector.Detect(ctx, userAgent, ipHash)
	if !det.IsBot {
		return false, ""
	}

	if ipHash != "" && p.reputation != nil && det.Confidence >= reputationConfidence {
		p.reputation.Add(ctx, ipHash)
	}

	return true, det.Reason
}

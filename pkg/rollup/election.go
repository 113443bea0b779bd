package rollup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/observability"
)

// LeaderElector manages distributed leader election for the rollup scheduler.
// One lease key in Redis, one holder at a time; the lease lapses on its own
// when the holder dies.
type LeaderElector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	PromotedChan() <-chan struct{}
	DemotedChan() <-chan struct{}
}

type elector struct {
	log        logrus.FieldLogger
	redis      *redis.Client
	instanceID string
	leaderKey  string
	leaseTTL   time.Duration
	renewEvery time.Duration

	isLeader bool
	mu       sync.RWMutex

	done chan struct{}
	wg   sync.WaitGroup

	promoted chan struct{}
	demoted  chan struct{}
}

var _ LeaderElector = (*elector)(nil)

// NewLeaderElector creates a leader elector on a shared Redis client. The
// client is borrowed, not owned; Stop leaves it open.
func NewLeaderElector(logger logrus.FieldLogger, client *redis.Client, leaderKey string, cfg *Config) LeaderElector {
	return &elector{
		log:        logger.WithField("component", "rollup_election"),
		redis:      client,
		instanceID: uuid.New().String(),
		leaderKey:  leaderKey,
		leaseTTL:   cfg.LeaseTTL,
		renewEvery: cfg.RenewInterval,
		done:       make(chan struct{}),
		promoted:   make(chan struct{}, 1),
		demoted:    make(chan struct{}, 1),
	}
}

func (e *elector) Start(ctx context.Context) error {
	e.log.WithField("instance_id", e.instanceID).Info("Starting leader election")

	e.wg.Add(1)

	go e.run(ctx)

	return nil
}

func (e *elector) Stop() error {
	close(e.done)

	e.relinquish(context.Background())

	e.wg.Wait()

	e.log.Info("Leader election stopped")

	return nil
}

func (e *elector) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.renewEvery)
	defer ticker.Stop()

	// Contest immediately so a fresh deployment does not sit leaderless for
	// a full renew interval
	e.contest(ctx)

	for {
		select {
		case <-e.done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			e.contest(ctx)
		}
	}
}

func (e *elector) contest(ctx context.Context) {
	wasLeader := e.IsLeader()
	acquired := e.tryAcquire(ctx)

	switch {
	case acquired && !wasLeader:
		e.setLeader(true)
		e.log.WithField("instance_id", e.instanceID).Info("Promoted to rollup scheduler leader")

		select {
		case e.promoted <- struct{}{}:
		default:
		}
	case !acquired && wasLeader:
		e.setLeader(false)
		e.log.WithField("instance_id", e.instanceID).Info("Demoted from rollup scheduler leader")

		select {
		case e.demoted <- struct{}{}:
		default:
		}
	}
}

func (e *elector) tryAcquire(ctx context.Context) bool {
	acquired, err := e.redis.SetNX(ctx, e.leaderKey, e.instanceID, e.leaseTTL).Result()
	if err != nil {
		e.log.WithError(err).Debug("Failed to acquire leader lease")

		return false
	}

	if acquired {
		return true
	}

	owner, err := e.redis.Get(ctx, e.leaderKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			e.log.WithError(err).Debug("Failed to check lease owner")
		}

		return false
	}

	if owner != e.instanceID {
		return false
	}

	if err := e.redis.Expire(ctx, e.leaderKey, e.leaseTTL).Err(); err != nil {
		e.log.WithError(err).Warn("Failed to renew leader lease")

		return false
	}

	return true
}

// relinquish deletes the lease if this instance still holds it so a follower
// can take over without waiting out the TTL
func (e *elector) relinquish(ctx context.Context) {
	if !e.IsLeader() {
		return
	}

	owner, err := e.redis.Get(ctx, e.leaderKey).Result()
	if err == nil && owner == e.instanceID {
		if err := e.redis.Del(ctx, e.leaderKey).Err(); err != nil {
			e.log.WithError(err).Warn("Failed to delete leader lease")
		}
	}

	e.setLeader(false)
}

func (e *elector) setLeader(isLeader bool) {
	e.mu.Lock()
	e.isLeader = isLeader
	e.mu.Unlock()

	if isLeader {
		observability.SchedulerLeader.Set(1)
	} else {
		observability.SchedulerLeader.Set(0)
	}
}

func (e *elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.isLeader
}

func (e *elector) PromotedChan() <-chan struct{} {
	return e.promoted
}

func (e *elector) DemotedChan() <-chan struct{} {
	return e.demoted
}

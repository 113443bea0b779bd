package bloom

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/bits"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/observability"
	r "github.com/linkhop/linkhop/pkg/redis"
)

// Service is the reputation filter surface. Membership answers are
// probabilistic: MightContain can report a false positive but never a false
// negative, and entries only leave via Reset.
type Service interface {
	// Start loads the shared bitmap and begins periodic merges
	Start(ctx context.Context) error
	// Stop halts background merges
	Stop() error
	// Add records an identity. Mirror failures are swallowed; the local
	// bits are already set by the time the mirror write happens.
	Add(ctx context.Context, identityHash string)
	// MightContain reports whether an identity may have been added
	MightContain(identityHash string) bool
	// Reset clears local and shared state
	Reset(ctx context.Context) error
	// ApproxFillRatio reports the fraction of set bits, a saturation signal
	ApproxFillRatio() float64
}

type service struct {
	log    logrus.FieldLogger
	client *redis.Client
	cfg    *Config
	key    string

	mu     sync.RWMutex
	bitv   []byte
	size   uint64
	hashes int

	done chan struct{}
	wg   sync.WaitGroup
}

var _ Service = (*service)(nil)

// NewService creates a reputation filter sized for the configured item count
// and false positive rate. The client may be nil when Distributed is false.
func NewService(logger logrus.FieldLogger, client *redis.Client, keys *r.Config, cfg *Config) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	size := optimalSize(cfg.ExpectedItems, cfg.FalsePositiveRate)
	hashes := optimalHashCount(size, cfg.ExpectedItems)

	return &service{
		log:    logger.WithField("component", "reputation"),
		client: client,
		cfg:    cfg,
		key:    keys.Key("reputation", "bits"),
		bitv:   make([]byte, (size+7)/8),
		size:   size,
		hashes: hashes,
		done:   make(chan struct{}),
	}, nil
}

func (s *service) Start(ctx context.Context) error {
	if !s.cfg.Distributed {
		s.log.Info("Reputation filter running local-only")

		return nil
	}

	if err := s.merge(ctx); err != nil {
		// A cold redis is not fatal: the filter starts empty and converges
		s.log.WithError(err).Warn("Failed to load shared reputation bitmap")
	}

	s.wg.Add(1)

	go s.refreshLoop()

	s.log.WithFields(logrus.Fields{
		"bits":   s.size,
		"hashes": s.hashes,
	}).Info("Reputation filter started")

	return nil
}

func (s *service) Stop() error {
	close(s.done)
	s.wg.Wait()

	return nil
}

func (s *service) Add(ctx context.Context, identityHash string) {
	offsets := s.offsets(identityHash)

	s.mu.Lock()
	for _, off := range offsets {
		s.bitv[off/8] |= 0x80 >> (off % 8)
	}
	s.mu.Unlock()

	if !s.cfg.Distributed || s.client == nil {
		return
	}

	mirrorCtx, cancel := context.WithTimeout(ctx, s.cfg.MirrorTimeout)
	defer cancel()

	pipe := s.client.Pipeline()
	for _, off := range offsets {
		pipe.SetBit(mirrorCtx, s.key, int64(off), 1)
	}

	if _, err := pipe.Exec(mirrorCtx); err != nil {
		observability.RecordError("reputation", "mirror_write")
		s.log.WithError(err).Debug("Failed to mirror reputation bits")
	}
}

func (s *service) MightContain(identityHash string) bool {
	offsets := s.offsets(identityHash)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, off := range offsets {
		if s.bitv[off/8]&(0x80>>(off%8)) == 0 {
			return false
		}
	}

	return true
}

func (s *service) Reset(ctx context.Context) error {
	s.mu.Lock()
	for i := range s.bitv {
		s.bitv[i] = 0
	}
	s.mu.Unlock()

	if s.cfg.Distributed && s.client != nil {
		if err := s.client.Del(ctx, s.key).Err(); err != nil {
			return fmt.Errorf("failed to clear shared bitmap: %w", err)
		}
	}

	s.log.Info("Reputation filter reset")

	return nil
}

func (s *service) ApproxFillRatio() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var set int
	for _, b := range s.bitv {
		set += bits.OnesCount8(b)
	}

	return float64(set) / float64(s.size)
}

// offsets derives the k bit positions for an identity via double hashing on
// the two halves of a single 64-bit FNV-1a digest
func (s *service) offsets(identityHash string) []uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(identityHash))
	sum := h.Sum64()

	h1 := sum & 0xffffffff
	h2 := sum >> 32

	if h2 == 0 {
		h2 = 0x9e3779b9
	}

	offsets := make([]uint64, s.hashes)
	for i := range offsets {
		offsets[i] = (h1 + uint64(i)*h2) % s.size
	}

	return offsets
}

func (s *service) refreshLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

			if err := s.merge(ctx); err != nil {
				observability.RecordError("reputation", "merge")
				s.log.WithError(err).Debug("Failed to merge shared reputation bitmap")
			}

			cancel()
		}
	}
}

// merge ORs the shared bitmap into the local one. Bits only ever turn on, so
// merging in either direction is safe.
func (s *service) merge(ctx context.Context) error {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to read shared bitmap: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(data)
	if n > len(s.bitv) {
		n = len(s.bitv)
	}

	for i := 0; i < n; i++ {
		s.bitv[i] |= data[i]
	}

	return nil
}

// optimalSize computes the bit array size: m = -(n * ln(p)) / (ln(2)^2)
func optimalSize(n int, p float64) uint64 {
	m := -(float64(n) * math.Log(p)) / math.Pow(math.Log(2), 2)

	return uint64(math.Ceil(m))
}

// optimalHashCount computes the hash count: k = (m / n) * ln(2)
func optimalHashCount(m uint64, n int) int {
	k := (float64(m) / float64(n)) * math.Log(2)

	return int(math.Ceil(k))
}

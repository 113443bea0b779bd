package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/observability"
)

// Dispatcher decouples the redirect hot path from event production. Submit
// is non-blocking: when the buffer is full the event is dropped and counted
// rather than stalling a redirect.
type Dispatcher interface {
	Start(ctx context.Context) error
	Stop() error
	// Submit hands an input to the worker pool. It reports false when the
	// buffer was full and the event was dropped.
	Submit(in Input) bool
}

type dispatcher struct {
	log      logrus.FieldLogger
	cfg      *Config
	producer Producer

	inputs chan Input
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

var _ Dispatcher = (*dispatcher)(nil)

// NewDispatcher creates a dispatcher over the given producer
func NewDispatcher(logger logrus.FieldLogger, cfg *Config, producer Producer) (Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &dispatcher{
		log:      logger.WithField("component", "events_dispatcher"),
		cfg:      cfg,
		producer: producer,
		inputs:   make(chan Input, cfg.Buffer),
	}, nil
}

func (d *dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}

	d.started = true

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)

		go d.worker()
	}

	d.log.WithFields(logrus.Fields{
		"workers": d.cfg.Workers,
		"buffer":  d.cfg.Buffer,
	}).Info("Started click event dispatcher")

	return nil
}

// Stop closes the input channel and waits for the workers to drain whatever
// is still buffered
func (d *dispatcher) Stop() error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()

		return nil
	}

	d.stopped = true
	close(d.inputs)
	d.mu.Unlock()

	d.wg.Wait()

	d.log.Info("Stopped click event dispatcher")

	return nil
}

// Submit is serialized with Stop so it never sends on the closed channel
func (d *dispatcher) Submit(in Input) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started || d.stopped {
		return false
	}

	select {
	case d.inputs <- in:
		observability.DispatcherDepth.Inc()

		return true
	default:
		observability.RecordClickEvent("dropped")
		d.log.WithField("short_code", in.ShortCode).Warn("Dropped click event, buffer full")

		return false
	}
}

func (d *dispatcher) worker() {
	defer d.wg.Done()

	for in := range d.inputs {
		observability.DispatcherDepth.Dec()

		d.producer.Emit(context.Background(), in)
	}
}

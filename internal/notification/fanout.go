package notification

import (
	"context"
	"sync"
	"time"

	"task-notification-service/internal/logging"
	"task-notification-service/internal/models"
)

// Sink receives events routed to the persistent channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, userID string, ev models.NotificationEvent) error
}

type delivery struct {
	userID string
	ev     models.NotificationEvent
}

// Fanout is a bounded queue drained by a fixed worker pool that hands each
// persistent event to every sink.
type Fanout struct {
	sinks   []Sink
	jobs    chan delivery
	workers int
	timeout time.Duration
	logger  *logging.Logger
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func NewFanout(logger *logging.Logger, queueSize, workers int, sinks ...Sink) *Fanout {
	if queueSize <= 0 {
		queueSize = 500
	}
	if workers <= 0 {
		workers = 1
	}
	return &Fanout{
		sinks:   sinks,
		jobs:    make(chan delivery, queueSize),
		workers: workers,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// Start launches the worker pool.
func (f *Fanout) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	for i := 0; i < f.workers; i++ {
		f.wg.Add(1)
		go f.worker(ctx, i)
	}
}

// Stop cancels the workers and waits for them; queued deliveries are dropped.
func (f *Fanout) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

// Queue enqueues a delivery, dropping it when the queue is full.
func (f *Fanout) Queue(userID string, ev models.NotificationEvent) bool {
	select {
	case f.jobs <- delivery{userID: userID, ev: ev}:
		return true
	default:
		f.logger.Errorf("Fan-out queue full, dropping event %s for user %s", ev.ID(), userID)
		return false
	}
}

func (f *Fanout) worker(ctx context.Context, id int) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			f.logger.Debugf("Fan-out worker %d stopped", id)
			return
		case job := <-f.jobs:
			f.deliver(ctx, job)
		}
	}
}

func (f *Fanout) deliver(ctx context.Context, job delivery) {
	for _, sink := range f.sinks {
		c, cancel := context.WithTimeout(ctx, f.timeout)
		err := sink.Deliver(c, job.userID, job.ev)
		cancel()
		if err != nil {
			f.logger.Errorf("Sink %s failed for event %s: %v", sink.Name(), job.ev.ID(), err)
			continue
		}
		f.logger.Debugf("Sink %s delivered event %s to user %s", sink.Name(), job.ev.ID(), job.userID)
	}
}

package notification

import (
	"time"

	"github.com/jonboulle/clockwork"

	"task-notification-service/internal/logging"
	"task-notification-service/internal/models"
)

// Dispatcher is the single write path for events. It delivers to live
// channels or parks events in the pending queue, and hands persistent events
// to the fan-out workers.
//
// Every delivery for a user runs inside that user's lane, so events reach a
// user in dispatch-call order whether delivered live or flushed later.
type Dispatcher struct {
	sessions    *SessionRegistry
	pending     *PendingQueue
	fanout      *Fanout
	lanes       *keyedMutex
	clock       clockwork.Clock
	staleWindow time.Duration
	logger      *logging.Logger
}

func NewDispatcher(sessions *SessionRegistry, pending *PendingQueue, fanout *Fanout, clock clockwork.Clock, staleWindow time.Duration, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		sessions:    sessions,
		pending:     pending,
		fanout:      fanout,
		lanes:       newKeyedMutex(),
		clock:       clock,
		staleWindow: staleWindow,
		logger:      logger,
	}
}

// Dispatch delivers ev to userID. It never fails: an offline user gets the
// event queued instead. Only persistent-only events skip the live path; an
// event with no channel selected is treated as live.
func (d *Dispatcher) Dispatch(userID string, ev models.NotificationEvent) {
	channels := ev.Channels()
	if channels.Persistent && d.fanout != nil {
		d.fanout.Queue(userID, ev)
	}
	if !channels.Live && channels.Any() {
		d.logger.Debugf("Event %s (%s) for user %s is persistent only", ev.ID(), ev.Kind(), userID)
		return
	}

	unlock := d.lanes.Lock(userID)
	defer unlock()

	if d.deliverLive(userID, ev) {
		d.logger.Infof("Delivered %s event %s to user %s", ev.Kind(), ev.ID(), userID)
		return
	}
	if d.pending.Push(userID, PendingEntry{Event: ev, EnqueuedAt: d.clock.Now()}) {
		d.logger.Warnf("Pending queue full for user %s, evicted oldest entry", userID)
	}
	d.logger.Infof("User %s offline, queued %s event %s", userID, ev.Kind(), ev.ID())
}

// Flush delivers the user's pending events in enqueue order and empties the queue.
func (d *Dispatcher) Flush(userID string) int {
	unlock := d.lanes.Lock(userID)
	defer unlock()
	return d.flushLocked(userID)
}

// Connect registers ch and flushes pending events to the user in one step, so
// a concurrent Dispatch cannot overtake older queued entries.
func (d *Dispatcher) Connect(userID string, ch Channel) error {
	unlock := d.lanes.Lock(userID)
	defer unlock()
	if err := d.sessions.Join(userID, ch); err != nil {
		return err
	}
	d.flushLocked(userID)
	return nil
}

func (d *Dispatcher) Disconnect(userID string, ch Channel) {
	d.sessions.Leave(userID, ch)
}

func (d *Dispatcher) flushLocked(userID string) int {
	entries := d.pending.Drain(userID)
	if len(entries) == 0 {
		return 0
	}
	now := d.clock.Now()
	delivered := 0
	for _, e := range entries {
		if d.isStale(e.Event, now) {
			d.logger.Infof("Discarding stale %s event %s for user %s", e.Event.Kind(), e.Event.ID(), userID)
			continue
		}
		if !d.deliverLive(userID, e.Event) {
			d.logger.Warnf("Flush of event %s to user %s failed, dropping", e.Event.ID(), userID)
			continue
		}
		delivered++
	}
	d.logger.Infof("Flushed %d/%d pending events to user %s", delivered, len(entries), userID)
	return delivered
}

func (d *Dispatcher) isStale(ev models.NotificationEvent, now time.Time) bool {
	due := ev.DueDate()
	return !due.IsZero() && now.Sub(due) > d.staleWindow
}

// deliverLive sends to every registered channel, dropping channels that fail.
// It reports whether at least one channel accepted the event.
func (d *Dispatcher) deliverLive(userID string, ev models.NotificationEvent) bool {
	delivered := false
	for _, ch := range d.sessions.Channels(userID) {
		if err := ch.Send(ev); err != nil {
			d.logger.Errorf("Failed to send event %s to user %s: %v", ev.ID(), userID, err)
			d.sessions.Leave(userID, ch)
			continue
		}
		delivered = true
	}
	return delivered
}

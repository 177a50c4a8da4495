package notification

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"task-notification-service/internal/logging"
	"task-notification-service/internal/models"
)

// eventDispatcher is what timers and sweeps deliver through.
type eventDispatcher interface {
	Dispatch(userID string, ev models.NotificationEvent)
}

// ArmedTimer describes one pending reminder for a task.
type ArmedTimer struct {
	TaskID  string    `json:"taskId"`
	Minutes int       `json:"minutes"`
	FireAt  time.Time `json:"fireAt"`
}

// job is the arena record behind an ArmedTimer. A job is live only while
// its token is present in the arena; cancel removes it, so a timer that
// fires after a cancel finds nothing to claim.
type job struct {
	ArmedTimer
	token uint64
	timer clockwork.Timer
}

// TimerRegistry owns every armed reminder, keyed by task id. Schedule and
// Cancel for the same task are serialized; different tasks proceed in parallel.
type TimerRegistry struct {
	clock      clockwork.Clock
	dispatcher eventDispatcher
	logger     *logging.Logger

	taskLocks *keyedMutex
	seq       atomic.Uint64

	mu    sync.Mutex
	arena map[string][]*job
}

func NewTimerRegistry(clock clockwork.Clock, dispatcher eventDispatcher, logger *logging.Logger) *TimerRegistry {
	return &TimerRegistry{
		clock:      clock,
		dispatcher: dispatcher,
		logger:     logger,
		taskLocks:  newKeyedMutex(),
		arena:      make(map[string][]*job),
	}
}

// Schedule replaces the task's reminders with a fresh set derived from its
// current state and returns how many timers were armed. Reminders whose fire
// time has already passed while the task is still due are dispatched at once;
// reminders for a task already past due are left to the overdue sweep.
func (r *TimerRegistry) Schedule(task models.Task) int {
	unlock := r.taskLocks.Lock(task.ID)
	r.cancelLocked(task.ID)

	if !task.Notifiable() {
		unlock()
		r.logger.Debugf("Task %s not eligible for reminders (status=%s, enabled=%v)",
			task.ID, task.Status, task.NotificationSettings.Enabled)
		return 0
	}

	now := r.clock.Now()
	var (
		immediate []models.NotificationEvent
		armed     []*job
	)
	for _, rem := range task.EnabledReminders() {
		notifyAt := task.DueDate.Add(-time.Duration(rem.Minutes) * time.Minute)
		switch {
		case !task.DueDate.After(now):
			r.logger.Debugf("Task %s already due, skipping %d-minute reminder", task.ID, rem.Minutes)
		case !notifyAt.After(now):
			ev, err := models.NewDeadlineApproaching(task, approachingMessage(task.Title, task.DueDate, now), now)
			if err != nil {
				r.logger.Errorf("Task %s: %v", task.ID, err)
				continue
			}
			immediate = append(immediate, ev)
		default:
			armed = append(armed, r.arm(task, rem.Minutes, notifyAt, now))
		}
	}

	r.mu.Lock()
	if len(armed) > 0 {
		r.arena[task.ID] = armed
	}
	r.mu.Unlock()
	unlock()

	if len(armed) > 0 {
		r.logger.Infof("Armed %d reminder(s) for task %s due %s", len(armed), task.ID, task.DueDate.Format(time.RFC3339))
	}
	for _, ev := range immediate {
		r.logger.Infof("Sending immediate reminder for task %s", task.ID)
		r.dispatcher.Dispatch(task.OwnerID, ev)
	}
	return len(armed)
}

// ScheduleAll re-arms a batch of tasks and returns the number of timers armed.
func (r *TimerRegistry) ScheduleAll(tasks []models.Task) int {
	total := 0
	for _, t := range tasks {
		total += r.Schedule(t)
	}
	return total
}

// Cancel stops and discards every armed timer for the task. Safe to call
// when nothing is armed.
func (r *TimerRegistry) Cancel(taskID string) int {
	unlock := r.taskLocks.Lock(taskID)
	defer unlock()
	return r.cancelLocked(taskID)
}

// CancelAll drops every armed timer; used on shutdown.
func (r *TimerRegistry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, jobs := range r.arena {
		for _, j := range jobs {
			j.timer.Stop()
		}
		delete(r.arena, id)
	}
}

// Armed returns the task's armed timers ordered by fire time.
func (r *TimerRegistry) Armed(taskID string) []ArmedTimer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ArmedTimer, 0, len(r.arena[taskID]))
	for _, j := range r.arena[taskID] {
		out = append(out, j.ArmedTimer)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].FireAt.Before(out[k].FireAt) })
	return out
}

// Len returns the number of armed timers across all tasks.
func (r *TimerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, jobs := range r.arena {
		n += len(jobs)
	}
	return n
}

func (r *TimerRegistry) cancelLocked(taskID string) int {
	r.mu.Lock()
	jobs := r.arena[taskID]
	delete(r.arena, taskID)
	r.mu.Unlock()

	for _, j := range jobs {
		j.timer.Stop()
	}
	if len(jobs) > 0 {
		r.logger.Debugf("Cancelled %d timer(s) for task %s", len(jobs), taskID)
	}
	return len(jobs)
}

// arm must be called with the task lock held. The callback takes the same
// lock, so it cannot claim the job before Schedule has stored it.
func (r *TimerRegistry) arm(task models.Task, minutes int, fireAt, now time.Time) *job {
	j := &job{
		ArmedTimer: ArmedTimer{TaskID: task.ID, Minutes: minutes, FireAt: fireAt},
		token:      r.seq.Add(1),
	}
	token := j.token
	j.timer = r.clock.AfterFunc(fireAt.Sub(now), func() { r.fire(task, token) })
	return j
}

func (r *TimerRegistry) fire(task models.Task, token uint64) {
	unlock := r.taskLocks.Lock(task.ID)
	claimed := r.claim(task.ID, token)
	unlock()
	if !claimed {
		r.logger.Debugf("Stale timer for task %s ignored", task.ID)
		return
	}

	now := r.clock.Now()
	ev, err := models.NewDeadlineApproaching(task, approachingMessage(task.Title, task.DueDate, now), now)
	if err != nil {
		r.logger.Errorf("Task %s: %v", task.ID, err)
		return
	}
	r.dispatcher.Dispatch(task.OwnerID, ev)
}

// claim removes the job with token from the arena and reports whether it was there.
func (r *TimerRegistry) claim(taskID string, token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := r.arena[taskID]
	for i, j := range jobs {
		if j.token != token {
			continue
		}
		jobs = append(jobs[:i], jobs[i+1:]...)
		if len(jobs) == 0 {
			delete(r.arena, taskID)
		} else {
			r.arena[taskID] = jobs
		}
		return true
	}
	return false
}

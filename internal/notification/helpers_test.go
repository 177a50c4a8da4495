package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"task-notification-service/internal/db"
	"task-notification-service/internal/logging"
	"task-notification-service/internal/models"
)

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

const waitFor = 2 * time.Second

func testLogger() *logging.Logger {
	return logging.Discard()
}

func newTask(id, owner string, due time.Time, minutes ...int) models.Task {
	settings := models.DefaultNotificationSettings()
	if len(minutes) > 0 {
		settings.ReminderTimes = nil
		for _, m := range minutes {
			settings.ReminderTimes = append(settings.ReminderTimes, models.Reminder{Minutes: m, Enabled: true})
		}
	}
	return models.Task{
		ID:                   id,
		OwnerID:              owner,
		Title:                "Task " + id,
		Priority:             models.PriorityMedium,
		DueDate:              due,
		Status:               models.StatusPending,
		NotificationSettings: settings,
	}
}

func infoEvent(t *testing.T, title string) models.NotificationEvent {
	t.Helper()
	ev, err := models.NewInfo(title, "body of "+title, base)
	if err != nil {
		t.Fatalf("NewInfo error: %v", err)
	}
	return ev
}

// recorder is a Channel that captures everything sent to it.
type recorder struct {
	got  chan models.NotificationEvent
	mu   sync.Mutex
	fail bool
}

func newRecorder() *recorder {
	return &recorder{got: make(chan models.NotificationEvent, 64)}
}

func (r *recorder) Send(ev models.NotificationEvent) error {
	r.mu.Lock()
	fail := r.fail
	r.mu.Unlock()
	if fail {
		return errors.New("broken pipe")
	}
	r.got <- ev
	return nil
}

func (r *recorder) next(t *testing.T) models.NotificationEvent {
	t.Helper()
	select {
	case ev := <-r.got:
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		return models.NotificationEvent{}
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.got:
		t.Fatalf("unexpected event %s (%s)", ev.Title(), ev.Kind())
	case <-time.After(100 * time.Millisecond):
	}
}

type dispatched struct {
	userID string
	ev     models.NotificationEvent
}

// dispatchRecorder stands in for the Dispatcher in timer and sweep tests.
type dispatchRecorder struct {
	ch chan dispatched
}

func newDispatchRecorder() *dispatchRecorder {
	return &dispatchRecorder{ch: make(chan dispatched, 64)}
}

func (d *dispatchRecorder) Dispatch(userID string, ev models.NotificationEvent) {
	d.ch <- dispatched{userID: userID, ev: ev}
}

func (d *dispatchRecorder) next(t *testing.T) dispatched {
	t.Helper()
	select {
	case got := <-d.ch:
		return got
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for dispatch")
		return dispatched{}
	}
}

func (d *dispatchRecorder) none(t *testing.T) {
	t.Helper()
	select {
	case got := <-d.ch:
		t.Fatalf("unexpected dispatch to %s: %s %q", got.userID, got.ev.Kind(), got.ev.Message())
	case <-time.After(100 * time.Millisecond):
	}
}

// drain returns everything dispatched so far without waiting.
func (d *dispatchRecorder) drain() []dispatched {
	var out []dispatched
	for {
		select {
		case got := <-d.ch:
			out = append(out, got)
		default:
			return out
		}
	}
}

// memStore is an in-memory TaskStore.
type memStore struct {
	mu      sync.Mutex
	tasks   map[string]models.Task
	findErr error
	vanish  map[string]bool
}

func newMemStore(tasks ...models.Task) *memStore {
	s := &memStore{tasks: make(map[string]models.Task), vanish: make(map[string]bool)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *memStore) FindTasks(_ context.Context, f models.TaskFilter) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []models.Task
	for _, t := range s.tasks {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].DueDate.Before(out[k].DueDate) })
	return out, nil
}

func (s *memStore) UpdateLastNotified(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || s.vanish[id] {
		return fmt.Errorf("task %s: %w", id, db.ErrTaskNotFound)
	}
	if t.LastNotifiedAt != nil && !t.LastNotifiedAt.Before(at) {
		return fmt.Errorf("task %s: %w", id, db.ErrAlreadyNotified)
	}
	t.LastNotifiedAt = &at
	s.tasks[id] = t
	return nil
}

func (s *memStore) ListOwners(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	seen := map[string]bool{}
	var out []string
	for _, t := range s.tasks {
		if t.Status == models.StatusCompleted || seen[t.OwnerID] {
			continue
		}
		seen[t.OwnerID] = true
		out = append(out, t.OwnerID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStore) get(id string) models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

// sinkRecorder is a persistent-channel Sink.
type sinkRecorder struct {
	got chan dispatched
}

func (s *sinkRecorder) Name() string { return "recorder" }

func (s *sinkRecorder) Deliver(_ context.Context, userID string, ev models.NotificationEvent) error {
	s.got <- dispatched{userID: userID, ev: ev}
	return nil
}

// storedTask is newTask with settings decoded the way the store decodes them.
func storedTask(t *testing.T, id, owner string, due time.Time, settings string) models.Task {
	t.Helper()
	task := newTask(id, owner, due)
	ns, err := models.DecodeNotificationSettings([]byte(settings))
	if err != nil {
		t.Fatalf("DecodeNotificationSettings(%s) error: %v", settings, err)
	}
	task.NotificationSettings = ns
	return task
}

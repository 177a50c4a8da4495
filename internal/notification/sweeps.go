package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"task-notification-service/internal/db"
	"task-notification-service/internal/logging"
	"task-notification-service/internal/models"
)

// TaskStore is the slice of the task store the engine depends on.
type TaskStore interface {
	FindTasks(ctx context.Context, f models.TaskFilter) ([]models.Task, error)
	UpdateLastNotified(ctx context.Context, id string, at time.Time) error
	ListOwners(ctx context.Context) ([]string, error)
}

// openStatuses includes overdue because the task store flips a pending task
// to overdue once its due date passes; sweeping pending alone would skip it.
var openStatuses = []models.Status{models.StatusPending, models.StatusOverdue}

// Sweeper runs the periodic passes that work from task state rather than
// from armed timers, so they keep working after a restart drops the timers.
type Sweeper struct {
	store      TaskStore
	dispatcher eventDispatcher
	clock      clockwork.Clock
	logger     *logging.Logger
	repeat     time.Duration
	timeout    time.Duration
	loc        *time.Location
}

func NewSweeper(store TaskStore, dispatcher eventDispatcher, clock clockwork.Clock, logger *logging.Logger, repeat, timeout time.Duration, loc *time.Location) *Sweeper {
	if loc == nil {
		loc = time.Local
	}
	return &Sweeper{
		store:      store,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     logger,
		repeat:     repeat,
		timeout:    timeout,
		loc:        loc,
	}
}

// OverdueSweep reminds owners of open tasks past their due date, at most
// once per repeat window per task. It returns the number of reminders sent.
func (s *Sweeper) OverdueSweep(ctx context.Context) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	now := s.clock.Now()
	tasks, err := s.store.FindTasks(ctx, models.TaskFilter{
		Statuses:             openStatuses,
		DueBefore:            &now,
		NotificationsEnabled: models.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("overdue sweep: %w", err)
	}

	sent := 0
	cutoff := now.Add(-s.repeat)
	for _, task := range tasks {
		if task.LastNotifiedAt != nil && !task.LastNotifiedAt.Before(cutoff) {
			continue
		}
		if err := s.store.UpdateLastNotified(ctx, task.ID, now); err != nil {
			if errors.Is(err, db.ErrTaskNotFound) {
				s.logger.Warnf("Overdue task %s vanished before notify, skipping", task.ID)
				continue
			}
			if errors.Is(err, db.ErrAlreadyNotified) {
				s.logger.Debugf("Overdue task %s already notified, skipping", task.ID)
				continue
			}
			s.logger.Errorf("Failed to mark task %s notified: %v", task.ID, err)
			continue
		}
		ev, err := models.NewOverdueReminder(task, overdueMessage(task.Title, task.DueDate, now), now)
		if err != nil {
			s.logger.Errorf("Task %s: %v", task.ID, err)
			continue
		}
		s.dispatcher.Dispatch(task.OwnerID, ev)
		sent++
	}
	if sent > 0 {
		s.logger.Infof("Overdue sweep sent %d reminder(s) out of %d overdue task(s)", sent, len(tasks))
	}
	return sent, nil
}

// DailyDigest sends each owner one summary of their overdue tasks and those
// due within the next 24 hours. Owners with neither get nothing.
func (s *Sweeper) DailyDigest(ctx context.Context) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	now := s.clock.Now()
	owners, err := s.store.ListOwners(ctx)
	if err != nil {
		return 0, fmt.Errorf("daily digest: %w", err)
	}

	sent := 0
	for _, owner := range owners {
		summary, err := s.summarize(ctx, owner, now)
		if err != nil {
			s.logger.Errorf("Daily digest for user %s failed: %v", owner, err)
			continue
		}
		if summary.OverdueCount == 0 && summary.UpcomingCount == 0 {
			continue
		}
		ev, err := models.NewDailyDigest(summary, now)
		if err != nil {
			s.logger.Errorf("Daily digest for user %s: %v", owner, err)
			continue
		}
		s.dispatcher.Dispatch(owner, ev)
		sent++
	}
	s.logger.Infof("Daily digest sent to %d of %d user(s)", sent, len(owners))
	return sent, nil
}

func (s *Sweeper) summarize(ctx context.Context, owner string, now time.Time) (models.DigestSummary, error) {
	overdue, err := s.store.FindTasks(ctx, models.TaskFilter{
		OwnerID:   owner,
		Statuses:  openStatuses,
		DueBefore: &now,
	})
	if err != nil {
		return models.DigestSummary{}, err
	}
	upcoming, err := s.store.FindTasks(ctx, models.TaskFilter{
		OwnerID:  owner,
		Statuses: []models.Status{models.StatusPending},
		DueFrom:  &now,
		DueTo:    models.Time(now.Add(24 * time.Hour)),
	})
	if err != nil {
		return models.DigestSummary{}, err
	}
	return models.DigestSummary{
		OverdueCount:  len(overdue),
		UpcomingCount: len(upcoming),
		Overdue:       s.digestItems(overdue),
		Upcoming:      s.digestItems(upcoming),
	}, nil
}

func (s *Sweeper) digestItems(tasks []models.Task) []models.DigestItem {
	items := make([]models.DigestItem, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, models.DigestItem{
			Title:    t.Title,
			DueDate:  t.DueDate.In(s.loc).Format(digestDateLayout),
			Priority: t.Priority,
		})
	}
	return items
}

func (s *Sweeper) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

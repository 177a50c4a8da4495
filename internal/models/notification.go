package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind tags the variant of a NotificationEvent. Consumers render on it.
type Kind string

const (
	KindDeadlineApproaching Kind = "deadline-approaching"
	KindOverdueReminder     Kind = "task-overdue-reminder"
	KindDailyDigest         Kind = "daily-digest"
	KindInfo                Kind = "info"
)

// ErrInvalidEvent is returned when a constructor is missing a field its kind requires.
var ErrInvalidEvent = errors.New("invalid notification event")

// DigestItem is one task line in a daily digest.
type DigestItem struct {
	Title    string   `json:"title"`
	DueDate  string   `json:"dueDate"`
	Priority Priority `json:"priority"`
}

type DigestSummary struct {
	OverdueCount  int
	UpcomingCount int
	Overdue       []DigestItem
	Upcoming      []DigestItem
}

// NotificationEvent is the only artifact the engine emits. Fields are set by
// the New* constructors and cannot change afterwards.
type NotificationEvent struct {
	id        string
	kind      Kind
	title     string
	message   string
	taskID    string
	priority  Priority
	dueDate   time.Time
	timestamp time.Time
	channels  Channels
	digest    *DigestSummary
}

// NewDeadlineApproaching builds the reminder fired ahead of a task's due date.
func NewDeadlineApproaching(task Task, message string, now time.Time) (NotificationEvent, error) {
	return newTaskEvent(KindDeadlineApproaching, "Task Due Soon", task, message, now)
}

// NewOverdueReminder builds the hourly-capped reminder for a task past its due date.
func NewOverdueReminder(task Task, message string, now time.Time) (NotificationEvent, error) {
	return newTaskEvent(KindOverdueReminder, "Task Still Overdue", task, message, now)
}

func newTaskEvent(kind Kind, title string, task Task, message string, now time.Time) (NotificationEvent, error) {
	ev := NotificationEvent{
		id:        uuid.New().String(),
		kind:      kind,
		title:     title,
		message:   message,
		taskID:    task.ID,
		priority:  task.Priority,
		dueDate:   task.DueDate,
		timestamp: now,
		channels:  task.NotificationSettings.Channels,
	}
	return ev, ev.validate()
}

// NewDailyDigest builds the per-user daily summary. Digests go to every channel.
func NewDailyDigest(summary DigestSummary, now time.Time) (NotificationEvent, error) {
	s := DigestSummary{
		OverdueCount:  summary.OverdueCount,
		UpcomingCount: summary.UpcomingCount,
		Overdue:       append([]DigestItem(nil), summary.Overdue...),
		Upcoming:      append([]DigestItem(nil), summary.Upcoming...),
	}
	ev := NotificationEvent{
		id:    uuid.New().String(),
		kind:  KindDailyDigest,
		title: "Daily Task Update",
		message: fmt.Sprintf("You have %d overdue tasks and %d tasks due in the next 24 hours",
			s.OverdueCount, s.UpcomingCount),
		timestamp: now,
		channels:  Channels{Live: true, Persistent: true},
		digest:    &s,
	}
	return ev, ev.validate()
}

// NewInfo builds a free-form informational event for the live channel.
func NewInfo(title, message string, now time.Time) (NotificationEvent, error) {
	ev := NotificationEvent{
		id:        uuid.New().String(),
		kind:      KindInfo,
		title:     title,
		message:   message,
		timestamp: now,
		channels:  Channels{Live: true},
	}
	return ev, ev.validate()
}

func (e NotificationEvent) validate() error {
	if e.title == "" || e.message == "" {
		return fmt.Errorf("%w: %s requires title and message", ErrInvalidEvent, e.kind)
	}
	if e.timestamp.IsZero() {
		return fmt.Errorf("%w: %s requires a timestamp", ErrInvalidEvent, e.kind)
	}
	switch e.kind {
	case KindDeadlineApproaching, KindOverdueReminder:
		if e.taskID == "" {
			return fmt.Errorf("%w: %s requires a task id", ErrInvalidEvent, e.kind)
		}
		if e.dueDate.IsZero() {
			return fmt.Errorf("%w: %s requires a due date", ErrInvalidEvent, e.kind)
		}
	case KindDailyDigest:
		d := e.digest
		if d == nil {
			return fmt.Errorf("%w: digest summary missing", ErrInvalidEvent)
		}
		if d.OverdueCount != len(d.Overdue) || d.UpcomingCount != len(d.Upcoming) {
			return fmt.Errorf("%w: digest counts do not match lists", ErrInvalidEvent)
		}
		if d.OverdueCount == 0 && d.UpcomingCount == 0 {
			return fmt.Errorf("%w: empty digest", ErrInvalidEvent)
		}
	case KindInfo:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.kind)
	}
	return nil
}

func (e NotificationEvent) ID() string           { return e.id }
func (e NotificationEvent) Kind() Kind           { return e.kind }
func (e NotificationEvent) Title() string        { return e.title }
func (e NotificationEvent) Message() string      { return e.message }
func (e NotificationEvent) TaskID() string       { return e.taskID }
func (e NotificationEvent) Priority() Priority   { return e.priority }
func (e NotificationEvent) DueDate() time.Time   { return e.dueDate }
func (e NotificationEvent) Timestamp() time.Time { return e.timestamp }
func (e NotificationEvent) Channels() Channels   { return e.channels }

// Digest returns a copy of the digest summary; ok is false for other kinds.
func (e NotificationEvent) Digest() (DigestSummary, bool) {
	if e.digest == nil {
		return DigestSummary{}, false
	}
	return DigestSummary{
		OverdueCount:  e.digest.OverdueCount,
		UpcomingCount: e.digest.UpcomingCount,
		Overdue:       append([]DigestItem(nil), e.digest.Overdue...),
		Upcoming:      append([]DigestItem(nil), e.digest.Upcoming...),
	}, true
}

// MarshalJSON renders the wire form consumed by the UI.
func (e NotificationEvent) MarshalJSON() ([]byte, error) {
	out := struct {
		ID            string       `json:"id"`
		Type          Kind         `json:"type"`
		Title         string       `json:"title"`
		Message       string       `json:"message"`
		TaskID        string       `json:"taskId,omitempty"`
		Priority      Priority     `json:"priority,omitempty"`
		DueDate       *time.Time   `json:"dueDate,omitempty"`
		Timestamp     time.Time    `json:"timestamp"`
		OverdueCount  *int         `json:"overdueCount,omitempty"`
		UpcomingCount *int         `json:"upcomingCount,omitempty"`
		OverdueTasks  []DigestItem `json:"overdueTasks,omitempty"`
		UpcomingTasks []DigestItem `json:"upcomingTasks,omitempty"`
	}{
		ID:        e.id,
		Type:      e.kind,
		Title:     e.title,
		Message:   e.message,
		TaskID:    e.taskID,
		Priority:  e.priority,
		Timestamp: e.timestamp,
	}
	if !e.dueDate.IsZero() {
		d := e.dueDate
		out.DueDate = &d
	}
	if e.digest != nil {
		oc, uc := e.digest.OverdueCount, e.digest.UpcomingCount
		out.OverdueCount = &oc
		out.UpcomingCount = &uc
		out.OverdueTasks = e.digest.Overdue
		out.UpcomingTasks = e.digest.Upcoming
	}
	return json.Marshal(out)
}

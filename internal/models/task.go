package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTask is returned when a task snapshot lacks the fields scheduling needs.
var ErrInvalidTask = errors.New("invalid task")

type Status string

const (
	StatusPending   Status = "pending"
	StatusOverdue   Status = "overdue"
	StatusCompleted Status = "completed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Reminder is an offset before the due date at which the owner is notified.
type Reminder struct {
	Minutes int  `json:"minutes"`
	Enabled bool `json:"enabled"`
}

type PriorityLevels struct {
	High   bool `json:"high"`
	Medium bool `json:"medium"`
	Low    bool `json:"low"`
}

// Channels selects where events for a task go. Live means the websocket
// session (or the pending queue while offline); Persistent means the
// archive and any linked out-of-band contact.
type Channels struct {
	Live       bool `json:"live"`
	Persistent bool `json:"persistent"`
}

// UnmarshalJSON also accepts the task store's browser/email keys as aliases
// for live/persistent. Keys absent from data leave the current values alone.
func (c *Channels) UnmarshalJSON(data []byte) error {
	var raw struct {
		Live       *bool `json:"live"`
		Persistent *bool `json:"persistent"`
		Browser    *bool `json:"browser"`
		Email      *bool `json:"email"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Live != nil:
		c.Live = *raw.Live
	case raw.Browser != nil:
		c.Live = *raw.Browser
	}
	switch {
	case raw.Persistent != nil:
		c.Persistent = *raw.Persistent
	case raw.Email != nil:
		c.Persistent = *raw.Email
	}
	return nil
}

// Any reports whether at least one channel is selected.
func (c Channels) Any() bool {
	return c.Live || c.Persistent
}

type NotificationSettings struct {
	Enabled        bool           `json:"enabled"`
	ReminderTimes  []Reminder     `json:"reminderTimes"`
	PriorityLevels PriorityLevels `json:"priorityLevels"`
	Channels       Channels       `json:"channels"`
}

// DefaultNotificationSettings matches what the task store assigns to a new
// task created without explicit settings.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled:        true,
		ReminderTimes:  []Reminder{{Minutes: 60, Enabled: true}},
		PriorityLevels: PriorityLevels{High: true, Medium: true, Low: false},
		Channels:       Channels{Live: true, Persistent: false},
	}
}

// DecodeNotificationSettings parses stored settings JSON on top of the
// defaults, so an empty document or missing keys keep the default values.
func DecodeNotificationSettings(data []byte) (NotificationSettings, error) {
	s := DefaultNotificationSettings()
	if len(data) == 0 || string(data) == "null" {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return NotificationSettings{}, fmt.Errorf("decode notification settings: %w", err)
	}
	return s, nil
}

// Task is the notification-relevant projection of a task owned by the task store.
type Task struct {
	ID                   string               `json:"id"`
	OwnerID              string               `json:"userId"`
	Title                string               `json:"title"`
	Priority             Priority             `json:"priority"`
	DueDate              time.Time            `json:"dueDate"`
	Status               Status               `json:"status"`
	NotificationSettings NotificationSettings `json:"notificationSettings"`
	LastNotifiedAt       *time.Time           `json:"lastNotified,omitempty"`
}

// Notifiable reports whether the task may carry armed timers at all.
func (t Task) Notifiable() bool {
	return t.NotificationSettings.Enabled && t.Status != StatusCompleted
}

// EnabledReminders returns the enabled reminders in configured order, keeping
// only the first occurrence of each minute value and dropping non-positive
// offsets.
func (t Task) EnabledReminders() []Reminder {
	seen := make(map[int]bool, len(t.NotificationSettings.ReminderTimes))
	var out []Reminder
	for _, r := range t.NotificationSettings.ReminderTimes {
		if !r.Enabled || r.Minutes <= 0 || seen[r.Minutes] {
			continue
		}
		seen[r.Minutes] = true
		out = append(out, r)
	}
	return out
}

// IsOverdue compares the due date against now; overdue is never stored as an event.
func (t Task) IsOverdue(now time.Time) bool {
	return t.Status != StatusCompleted && t.DueDate.Before(now)
}

// DecodeTask parses a task snapshot. Settings missing from the payload take
// the values from DefaultNotificationSettings.
func DecodeTask(data []byte) (Task, error) {
	t := Task{NotificationSettings: DefaultNotificationSettings()}
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (t Task) Validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidTask)
	case t.OwnerID == "":
		return fmt.Errorf("%w: task %s has no owner", ErrInvalidTask, t.ID)
	case t.DueDate.IsZero():
		return fmt.Errorf("%w: task %s has no due date", ErrInvalidTask, t.ID)
	}
	switch t.Status {
	case StatusPending, StatusOverdue, StatusCompleted:
	case "":
		return fmt.Errorf("%w: task %s has no status", ErrInvalidTask, t.ID)
	default:
		return fmt.Errorf("%w: task %s has unknown status %q", ErrInvalidTask, t.ID, t.Status)
	}
	return nil
}

package models

import "time"

// TaskFilter is the predicate used to query the task store. Zero-valued
// fields do not constrain the result.
type TaskFilter struct {
	OwnerID              string
	Statuses             []Status
	DueBefore            *time.Time // dueDate < DueBefore
	DueFrom              *time.Time // dueDate >= DueFrom
	DueTo                *time.Time // dueDate <= DueTo
	NotificationsEnabled *bool
}

// Match evaluates the filter against a task in memory.
func (f TaskFilter) Match(t Task) bool {
	if f.OwnerID != "" && t.OwnerID != f.OwnerID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if t.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.DueBefore != nil && !t.DueDate.Before(*f.DueBefore) {
		return false
	}
	if f.DueFrom != nil && t.DueDate.Before(*f.DueFrom) {
		return false
	}
	if f.DueTo != nil && t.DueDate.After(*f.DueTo) {
		return false
	}
	if f.NotificationsEnabled != nil && t.NotificationSettings.Enabled != *f.NotificationsEnabled {
		return false
	}
	return true
}

func Bool(v bool) *bool { return &v }

func Time(v time.Time) *time.Time { return &v }

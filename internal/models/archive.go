package models

import (
	"encoding/json"
	"time"
)

// ArchivedNotification is a persistent-channel event as stored in the
// notifications table.
type ArchivedNotification struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Kind       Kind            `json:"type"`
	Title      string          `json:"title"`
	Message    string          `json:"message"`
	TaskID     *string         `json:"task_id,omitempty"`
	Priority   string          `json:"priority,omitempty"`
	DueDate    *time.Time      `json:"due_date,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	ArchivedAt time.Time       `json:"archived_at"`
}

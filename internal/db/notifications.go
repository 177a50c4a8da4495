package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"task-notification-service/internal/models"
)

// CreateNotification archives a dispatched event for the user.
func (d *DB) CreateNotification(ctx context.Context, userID string, ev models.NotificationEvent) error {
	id, err := uuid.Parse(ev.ID())
	if err != nil {
		return fmt.Errorf("invalid event id %s: %w", ev.ID(), err)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", ev.ID(), err)
	}

	var taskID, priority *string
	if v := ev.TaskID(); v != "" {
		taskID = &v
	}
	if v := string(ev.Priority()); v != "" {
		priority = &v
	}
	dueDate := ev.DueDate()
	var due interface{}
	if !dueDate.IsZero() {
		due = dueDate
	}

	query := `
        INSERT INTO notifications (
            id, user_id, kind, title, message, task_id, priority, due_date, payload, created_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO NOTHING`
	_, err = d.Pool.Exec(ctx, query,
		id, userID, string(ev.Kind()), ev.Title(), ev.Message(),
		taskID, priority, due, payload, ev.Timestamp())
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// GetNotificationsByUserID pages through a user's archived events, newest first.
func (d *DB) GetNotificationsByUserID(ctx context.Context, userID string, limit, offset int) ([]models.ArchivedNotification, error) {
	rows, err := d.Pool.Query(ctx, `
        SELECT id, user_id, kind, title, message, task_id, priority, due_date, payload, created_at, archived_at
        FROM notifications
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications by user_id %s: %w", userID, err)
	}
	defer rows.Close()

	var notifications []models.ArchivedNotification
	for rows.Next() {
		var (
			n        models.ArchivedNotification
			id       uuid.UUID
			kind     string
			priority *string
		)
		err := rows.Scan(
			&id, &n.UserID, &kind, &n.Title, &n.Message, &n.TaskID,
			&priority, &n.DueDate, &n.Payload, &n.CreatedAt, &n.ArchivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.ID = id.String()
		n.Kind = models.Kind(kind)
		if priority != nil {
			n.Priority = *priority
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

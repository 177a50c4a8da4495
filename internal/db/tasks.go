package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"task-notification-service/internal/models"
)

const taskColumns = `id, owner_id, title, priority, due_date, status, notification_settings, last_notified_at`

// FindTasks returns every task matching the filter, ordered by due date.
func (d *DB) FindTasks(ctx context.Context, f models.TaskFilter) ([]models.Task, error) {
	query, args := buildTaskQuery(f)
	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

func buildTaskQuery(f models.TaskFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.OwnerID != "" {
		add("owner_id = $%d", f.OwnerID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.DueBefore != nil {
		add("due_date < $%d", *f.DueBefore)
	}
	if f.DueFrom != nil {
		add("due_date >= $%d", *f.DueFrom)
	}
	if f.DueTo != nil {
		add("due_date <= $%d", *f.DueTo)
	}
	if f.NotificationsEnabled != nil {
		add("COALESCE((notification_settings->>'enabled')::boolean, true) = $%d", *f.NotificationsEnabled)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY due_date ASC"
	return query, args
}

// GetTask fetches a single task, returning ErrTaskNotFound on a miss.
func (d *DB) GetTask(ctx context.Context, id string) (models.Task, error) {
	row := d.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Task{}, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
		}
		return models.Task{}, err
	}
	return t, nil
}

// UpdateLastNotified moves last_notified_at forward to at. It never moves
// the value backwards: if the stored value is already at or after at it
// returns ErrAlreadyNotified.
func (d *DB) UpdateLastNotified(ctx context.Context, id string, at time.Time) error {
	query := `
	UPDATE tasks
	SET last_notified_at = $2
	WHERE id = $1 AND (last_notified_at IS NULL OR last_notified_at < $2)`
	tag, err := d.Pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to update last_notified_at for task %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := d.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check task %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return fmt.Errorf("task %s: %w", id, ErrAlreadyNotified)
}

// ListOwners returns every user that owns at least one non-completed task.
func (d *DB) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := d.Pool.Query(ctx, `
	SELECT DISTINCT owner_id
	FROM tasks
	WHERE status <> 'completed'
	ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list task owners: %w", err)
	}
	defer rows.Close()

	owners, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan task owners: %w", err)
	}
	return owners, nil
}

func scanTask(row pgx.Row) (models.Task, error) {
	var (
		t        models.Task
		priority string
		status   string
		settings []byte
	)
	err := row.Scan(
		&t.ID,
		&t.OwnerID,
		&t.Title,
		&priority,
		&t.DueDate,
		&status,
		&settings,
		&t.LastNotifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Task{}, err
		}
		return models.Task{}, fmt.Errorf("failed to scan task: %w", err)
	}
	t.NotificationSettings, err = models.DecodeNotificationSettings(settings)
	if err != nil {
		return models.Task{}, fmt.Errorf("task %s: %w", t.ID, err)
	}
	t.Priority = models.Priority(priority)
	t.Status = models.Status(status)
	return t, nil
}

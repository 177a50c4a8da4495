package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTaskNotFound is returned when a task id no longer exists in the store.
var ErrTaskNotFound = errors.New("task not found")

// ErrAlreadyNotified is returned when last_notified_at is already at or past
// the requested time.
var ErrAlreadyNotified = errors.New("task already notified")

type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	d.Pool.Close()
}

// EnsureSchema creates the tables this service reads and writes if they
// don't exist. The tasks table is owned by the task store; it is declared
// here so a fresh database can run the service standalone.
func (d *DB) EnsureSchema(ctx context.Context) error {
	_, err := d.Pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                    TEXT PRIMARY KEY,
	owner_id              TEXT NOT NULL,
	title                 TEXT NOT NULL,
	priority              TEXT NOT NULL DEFAULT 'medium',
	due_date              TIMESTAMPTZ NOT NULL,
	status                TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','overdue','completed')),
	notification_settings JSONB NOT NULL DEFAULT '{}'::jsonb,
	last_notified_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_due ON tasks(status, due_date);
CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id);

CREATE TABLE IF NOT EXISTS notifications (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	title       TEXT NOT NULL,
	message     TEXT NOT NULL,
	task_id     TEXT,
	priority    TEXT,
	due_date    TIMESTAMPTZ,
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS telegram_contacts (
	user_id    TEXT PRIMARY KEY,
	chat_id    BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

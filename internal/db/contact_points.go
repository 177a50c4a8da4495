package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"task-notification-service/internal/models"
)

// ErrNoContact is returned when the user has not linked a Telegram chat.
var ErrNoContact = errors.New("no telegram contact")

// UpsertTelegramContact links (or relinks) a user's Telegram chat.
func (d *DB) UpsertTelegramContact(ctx context.Context, c models.TelegramContact) (models.TelegramContact, error) {
	query := `
	INSERT INTO telegram_contacts (user_id, chat_id, created_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (user_id) DO UPDATE SET chat_id = EXCLUDED.chat_id
	RETURNING created_at`

	if err := d.Pool.QueryRow(ctx, query, c.UserID, c.ChatID).Scan(&c.CreatedAt); err != nil {
		return models.TelegramContact{}, fmt.Errorf("failed to upsert telegram contact: %w", err)
	}
	return c, nil
}

// GetTelegramChatID returns the chat linked to the user, or ErrNoContact.
func (d *DB) GetTelegramChatID(ctx context.Context, userID string) (int64, error) {
	var chatID int64
	err := d.Pool.QueryRow(ctx, `SELECT chat_id FROM telegram_contacts WHERE user_id = $1`, userID).Scan(&chatID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("user %s: %w", userID, ErrNoContact)
		}
		return 0, fmt.Errorf("failed to get telegram contact for user %s: %w", userID, err)
	}
	return chatID, nil
}

// DeleteTelegramContact unlinks the user's chat.
func (d *DB) DeleteTelegramContact(ctx context.Context, userID string) error {
	_, err := d.Pool.Exec(ctx, `DELETE FROM telegram_contacts WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete telegram contact: %w", err)
	}
	return nil
}

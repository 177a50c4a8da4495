package models

import "time"

// TelegramContact links a user to the Telegram chat that receives their
// persistent-channel events.
type TelegramContact struct {
	UserID    string    `json:"user_id" binding:"required"`
	ChatID    int64     `json:"chat_id" binding:"required"`
	CreatedAt time.Time `json:"created_at"`
}

package providers

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"task-notification-service/internal/db"
	"task-notification-service/internal/logging"
	"task-notification-service/internal/models"
	"task-notification-service/internal/utils"
)

// ChatLookup resolves the Telegram chat linked to a user.
type ChatLookup interface {
	GetTelegramChatID(ctx context.Context, userID string) (int64, error)
}

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramSink forwards persistent-channel events to the owner's linked chat.
type TelegramSink struct {
	sender     messageSender
	chats      ChatLookup
	limiter    *rate.Limiter
	logger     *logging.Logger
	loc        *time.Location
	attempts   int
	retryDelay time.Duration
}

// NewTelegramSink builds a sink on a go-telegram bot. ratePerSecond caps
// outgoing messages across all chats.
func NewTelegramSink(token string, ratePerSecond int, chats ChatLookup, logger *logging.Logger, loc *time.Location) (*TelegramSink, error) {
	if token == "" {
		return nil, errors.New("missing telegram bot token")
	}
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	return newTelegramSink(b, ratePerSecond, chats, logger, loc), nil
}

func newTelegramSink(sender messageSender, ratePerSecond int, chats ChatLookup, logger *logging.Logger, loc *time.Location) *TelegramSink {
	if ratePerSecond <= 0 {
		ratePerSecond = 25
	}
	if loc == nil {
		loc = time.Local
	}
	return &TelegramSink{
		sender:     sender,
		chats:      chats,
		limiter:    rate.NewLimiter(rate.Limit(float64(ratePerSecond)), ratePerSecond),
		logger:     logger,
		loc:        loc,
		attempts:   3,
		retryDelay: time.Second,
	}
}

func (s *TelegramSink) Name() string { return "telegram" }

// Deliver sends ev to the user's chat. Users without a linked chat are skipped.
func (s *TelegramSink) Deliver(ctx context.Context, userID string, ev models.NotificationEvent) error {
	chatID, err := s.chats.GetTelegramChatID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNoContact) {
			s.logger.Debugf("User %s has no Telegram chat, skipping event %s", userID, ev.ID())
			return nil
		}
		return err
	}
	return s.send(ctx, chatID, formatTelegram(ev, s.loc))
}

// Welcome checks that the bot can reach chatID, which fails until the user
// has started the bot.
func (s *TelegramSink) Welcome(ctx context.Context, chatID int64) error {
	return s.send(ctx, chatID, "You will now receive task reminders here.")
}

func (s *TelegramSink) send(ctx context.Context, chatID int64, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit exceeded: %w", err)
	}
	return utils.Retry(ctx, s.logger, s.attempts, s.retryDelay, func() error {
		params := &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      text,
			ParseMode: tgmodels.ParseModeHTML,
		}
		if _, err := s.sender.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", chatID, err)
		}
		return nil
	})
}

func formatTelegram(ev models.NotificationEvent, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n%s", html.EscapeString(ev.Title()), html.EscapeString(ev.Message()))
	if p := ev.Priority(); p != "" {
		fmt.Fprintf(&b, "\n\n<b>Priority:</b> %s", p)
	}
	if due := ev.DueDate(); !due.IsZero() {
		fmt.Fprintf(&b, "\n<b>Due:</b> %s", due.In(loc).Format("Jan 2, 3:04 PM"))
	}
	if summary, ok := ev.Digest(); ok {
		writeItems(&b, "Overdue", summary.Overdue)
		writeItems(&b, "Due soon", summary.Upcoming)
	}
	return b.String()
}

func writeItems(b *strings.Builder, heading string, items []models.DigestItem) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n<b>%s</b>", heading)
	for _, it := range items {
		fmt.Fprintf(b, "\n• %s (%s, %s)", html.EscapeString(it.Title), it.DueDate, it.Priority)
	}
}

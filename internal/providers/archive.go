package providers

import (
	"context"

	"task-notification-service/internal/logging"
	"task-notification-service/internal/models"
)

// Archiver stores delivered events for later retrieval.
type Archiver interface {
	CreateNotification(ctx context.Context, userID string, ev models.NotificationEvent) error
}

// ArchiveSink records persistent-channel events in the notifications table.
type ArchiveSink struct {
	store  Archiver
	logger *logging.Logger
}

func NewArchiveSink(store Archiver, logger *logging.Logger) *ArchiveSink {
	return &ArchiveSink{store: store, logger: logger}
}

func (s *ArchiveSink) Name() string { return "archive" }

func (s *ArchiveSink) Deliver(ctx context.Context, userID string, ev models.NotificationEvent) error {
	if err := s.store.CreateNotification(ctx, userID, ev); err != nil {
		return err
	}
	s.logger.Debugf("Archived %s event %s for user %s", ev.Kind(), ev.ID(), userID)
	return nil
}

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"task-notification-service/internal/db"
	"task-notification-service/internal/logging"
	"task-notification-service/internal/models"
	"task-notification-service/internal/notification"
)

// Notifier is the notification service as seen by the HTTP layer.
type Notifier interface {
	ScheduleTask(task models.Task) int
	CancelTask(taskID string) int
	ArmedTimers(taskID string) []notification.ArmedTimer
	Connect(userID string, ch notification.Channel) error
	Disconnect(userID string, ch notification.Channel)
}

// Store is the persistence the handlers read and write directly.
type Store interface {
	GetTask(ctx context.Context, id string) (models.Task, error)
	GetNotificationsByUserID(ctx context.Context, userID string, limit, offset int) ([]models.ArchivedNotification, error)
	UpsertTelegramContact(ctx context.Context, c models.TelegramContact) (models.TelegramContact, error)
	DeleteTelegramContact(ctx context.Context, userID string) error
}

// ChatVerifier confirms the bot can write to a chat before it is linked.
type ChatVerifier interface {
	Welcome(ctx context.Context, chatID int64) error
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type Handler struct {
	notifier Notifier
	store    Store
	verifier ChatVerifier
	logger   *logging.Logger
}

// NewHandler wires the handlers. verifier may be nil when no bot is configured.
func NewHandler(notifier Notifier, store Store, verifier ChatVerifier, logger *logging.Logger) *Handler {
	return &Handler{notifier: notifier, store: store, verifier: verifier, logger: logger}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// PutTask takes a full task snapshot and re-arms its reminders.
func (h *Handler) PutTask(c *gin.Context) {
	id := c.Param("id")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Errorf("Failed to read task %s body: %v", id, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	task, err := models.DecodeTask(body)
	if err != nil {
		h.logger.Warnf("Invalid task snapshot for %s: %v", id, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if task.ID != id {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Task id does not match path"})
		return
	}

	armed := h.notifier.ScheduleTask(task)
	h.logger.Infof("Rescheduled task %s: %d timer(s) armed", id, armed)
	c.JSON(http.StatusOK, gin.H{
		"taskId": id,
		"armed":  armed,
		"timers": h.notifier.ArmedTimers(id),
	})
}

// ReloadTask re-arms a task from its stored state. A task missing from the
// store is treated as deleted.
func (h *Handler) ReloadTask(c *gin.Context) {
	id := c.Param("id")
	task, err := h.store.GetTask(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			cancelled := h.notifier.CancelTask(id)
			h.logger.Warnf("Task %s not in store, cancelled %d timer(s)", id, cancelled)
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		h.logger.Errorf("Failed to load task %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load task"})
		return
	}

	armed := h.notifier.ScheduleTask(task)
	h.logger.Infof("Reloaded task %s: %d timer(s) armed", id, armed)
	c.JSON(http.StatusOK, gin.H{
		"taskId": id,
		"armed":  armed,
		"timers": h.notifier.ArmedTimers(id),
	})
}

func (h *Handler) DeleteTask(c *gin.Context) {
	id := c.Param("id")
	cancelled := h.notifier.CancelTask(id)
	h.logger.Infof("Cancelled %d timer(s) for deleted task %s", cancelled, id)
	c.JSON(http.StatusOK, gin.H{"taskId": id, "cancelled": cancelled})
}

func (h *Handler) GetTaskTimers(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, gin.H{"taskId": id, "timers": h.notifier.ArmedTimers(id)})
}

func (h *Handler) GetNotificationsByUserID(c *gin.Context) {
	userID := c.Param("user_id")
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
		return
	}

	notifications, err := h.store.GetNotificationsByUserID(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Errorf("Failed to get notifications for user_id %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get notifications"})
		return
	}
	if notifications == nil {
		notifications = []models.ArchivedNotification{}
	}

	h.logger.Infof("Retrieved %d notifications for user_id %s", len(notifications), userID)
	c.JSON(http.StatusOK, notifications)
}

func (h *Handler) RegisterTelegram(c *gin.Context) {
	var req models.TelegramContact
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warnf("Invalid telegram registration: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.verifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Telegram is not configured"})
		return
	}
	if err := h.verifier.Welcome(c.Request.Context(), req.ChatID); err != nil {
		h.logger.Errorf("Invalid chat_id %d: %v", req.ChatID, err)
		c.JSON(http.StatusForbidden, gin.H{"error": "Cannot send message to this chat_id. Please start the bot first."})
		return
	}

	contact, err := h.store.UpsertTelegramContact(c.Request.Context(), req)
	if err != nil {
		h.logger.Errorf("Failed to link telegram chat for user %s: %v", req.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register chat"})
		return
	}
	h.logger.Infof("Linked chat_id %d to user %s", contact.ChatID, contact.UserID)
	c.JSON(http.StatusOK, contact)
}

func (h *Handler) UnregisterTelegram(c *gin.Context) {
	userID := c.Param("user_id")
	if err := h.store.DeleteTelegramContact(c.Request.Context(), userID); err != nil {
		h.logger.Errorf("Failed to unlink telegram chat for user %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to unregister chat"})
		return
	}
	c.Status(http.StatusNoContent)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

package api

import (
	"github.com/gin-gonic/gin"

	"task-notification-service/internal/config"
	"task-notification-service/internal/logging"
)

func NewRouter(h *Handler, logger *logging.Logger, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	r.GET("/health", h.Health)
	r.GET("/ws", h.ServeWS)

	api := r.Group(cfg.API.BasePath)
	{
		// Task lifecycle
		api.PUT("/tasks/:id", h.PutTask)
		api.POST("/tasks/:id/reload", h.ReloadTask)
		api.DELETE("/tasks/:id", h.DeleteTask)
		api.GET("/tasks/:id/timers", h.GetTaskTimers)

		// Notifications
		api.GET("/notifications/user/:user_id", h.GetNotificationsByUserID)

		// Telegram
		api.POST("/telegram/register", h.RegisterTelegram)
		api.DELETE("/telegram/:user_id", h.UnregisterTelegram)
	}
	return r
}

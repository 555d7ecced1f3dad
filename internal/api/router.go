package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"reminder-service/internal/logging"
)

func NewRouter(h *Handler, hub *Hub, logger *logging.Logger, basePath string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})

	r.GET("/health", h.Health)

	// Run triggers
	r.GET("/", h.Action)
	r.POST("/", h.Trigger)
	r.GET("/connpass-reminder", h.Action)
	r.POST("/connpass-reminder", h.Trigger)
	r.POST("/telegram/webhook", h.TelegramWebhook)

	if hub != nil {
		r.GET("/ws/runs", hub.ServeRuns)
	}

	if basePath == "" {
		basePath = "/api/v0"
	}
	api := r.Group(basePath)
	{
		// Notifications
		api.GET("/notifications/stats", h.GetNotificationStats)
		api.GET("/notifications/subscriber/:id", h.GetNotificationsBySubscriber)
		api.GET("/notifications/failed", h.GetFailedNotifications)

		// Events
		api.GET("/events", h.GetUpcomingEvents)

		// Subscribers
		api.GET("/subscribers/:id", h.GetSubscriber)
		api.PUT("/subscribers/:id/reminders", h.UpdateReminders)
	}
	return r
}

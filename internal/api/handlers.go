package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/logging"
	"reminder-service/internal/models"
	"reminder-service/internal/providers"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	defaultEventWindow = 7 * 24 * time.Hour
	maxEventWindow     = 31 * 24 * time.Hour

	serviceName          = "connpass-reminder"
	telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// Version is reported by the health endpoint and set at build time.
var Version = "dev"

// Coordinator is the part of services.Service the handlers use.
type Coordinator interface {
	HandleTrigger(ctx context.Context, req models.TriggerRequest) (models.TriggerResult, error)
	HandleWebhook(ctx context.Context, events []models.InboundEvent) error
	ProbeEventSource(ctx context.Context) models.ProbeResult
	Subscriber(ctx context.Context, id string) (models.Subscriber, error)
	UpdateReminders(ctx context.Context, subscriberID string, rules []models.ReminderRule, enabled bool) (models.Subscriber, error)
}

type LedgerReader interface {
	ListNotificationsBySubscriber(ctx context.Context, subscriberID string, limit int) ([]models.NotificationRecord, error)
	ListFailedNotifications(ctx context.Context, limit int) ([]models.NotificationRecord, error)
	NotificationStats(ctx context.Context, subscriberID string) (models.NotificationStats, error)
}

// EventReader reads the events stored by scheduled passes.
type EventReader interface {
	FindUpcomingEvents(ctx context.Context, from, to time.Time) ([]models.Event, error)
}

type Handler struct {
	svc            Coordinator
	ledger         LedgerReader
	events         EventReader
	logger         *logging.Logger
	telegramSecret string
	now            func() time.Time
}

func NewHandler(svc Coordinator, ledger LedgerReader, events EventReader, logger *logging.Logger, telegramSecret string) *Handler {
	return &Handler{
		svc:            svc,
		ledger:         ledger,
		events:         events,
		logger:         logger,
		telegramSecret: telegramSecret,
		now:            time.Now,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"service":   serviceName,
		"version":   Version,
	})
}

// Trigger runs a scheduled pass or handles webhook events.
func (h *Handler) Trigger(c *gin.Context) {
	var req models.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid trigger request body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	res, err := h.svc.HandleTrigger(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "Trigger "+string(req.Type)+" failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Action serves GET ?action=health|test.
func (h *Handler) Action(c *gin.Context) {
	switch c.Query("action") {
	case "health":
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": h.now().UTC().Format(time.RFC3339)})
	case "test":
		c.JSON(http.StatusOK, h.svc.ProbeEventSource(c.Request.Context()))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
	}
}

// TelegramWebhook receives Bot API updates. Once the update is accepted it is
// always acknowledged so Telegram does not redeliver it; failures are logged.
func (h *Handler) TelegramWebhook(c *gin.Context) {
	if h.telegramSecret != "" {
		got := c.GetHeader(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.telegramSecret)) != 1 {
			h.logger.Warnf("Telegram webhook rejected: bad secret token")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
	}

	var update tgmodels.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Errorf("Invalid Telegram update: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ev, ok := providers.InboundFromUpdate(&update)
	if !ok {
		h.logger.Debugf("Ignoring Telegram update %d", update.ID)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	if err := h.svc.HandleWebhook(c.Request.Context(), []models.InboundEvent{ev}); err != nil {
		h.logger.Errorf("Telegram update %d failed: %v", update.ID, err)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) GetNotificationStats(c *gin.Context) {
	subscriberID := c.Query("subscriber_id")
	stats, err := h.ledger.NotificationStats(c.Request.Context(), subscriberID)
	if err != nil {
		h.writeError(c, "Failed to get notification stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetNotificationsBySubscriber(c *gin.Context) {
	id := c.Param("id")
	limit, ok := h.limit(c)
	if !ok {
		return
	}
	recs, err := h.ledger.ListNotificationsBySubscriber(c.Request.Context(), id, limit)
	if err != nil {
		h.writeError(c, "Failed to get notifications for subscriber "+id, err)
		return
	}
	h.logger.Infof("Retrieved %d notifications for subscriber %s", len(recs), id)
	c.JSON(http.StatusOK, recs)
}

func (h *Handler) GetFailedNotifications(c *gin.Context) {
	limit, ok := h.limit(c)
	if !ok {
		return
	}
	recs, err := h.ledger.ListFailedNotifications(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, "Failed to get failed notifications", err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// GetUpcomingEvents lists stored events starting in [from, to]. from defaults
// to now and to to a week after from. Both are RFC3339.
func (h *Handler) GetUpcomingEvents(c *gin.Context) {
	from := h.now()
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from"})
			return
		}
		from = t
	}
	to := from.Add(defaultEventWindow)
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to"})
			return
		}
		to = t
	}
	if to.Before(from) || to.Sub(from) > maxEventWindow {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid time window"})
		return
	}

	events, err := h.events.FindUpcomingEvents(c.Request.Context(), from, to)
	if err != nil {
		h.writeError(c, "Failed to get upcoming events", err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) GetSubscriber(c *gin.Context) {
	id := c.Param("id")
	sub, err := h.svc.Subscriber(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to get subscriber "+id, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

type updateRemindersRequest struct {
	Enabled *bool                 `json:"enabled" binding:"required"`
	Rules   []models.ReminderRule `json:"rules"`
}

func (h *Handler) UpdateReminders(c *gin.Context) {
	id := c.Param("id")
	var req updateRemindersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for reminders of %s: %v", id, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	sub, err := h.svc.UpdateReminders(c.Request.Context(), id, req.Rules, *req.Enabled)
	if err != nil {
		h.writeError(c, "Failed to update reminders of "+id, err)
		return
	}
	h.logger.Infof("Updated reminder settings of subscriber %s", id)
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) limit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

// writeError maps the error kind to a status. 5xx responses hide the error
// and 4xx responses carry only its message.
func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	status := apperrors.HTTPStatus(apperrors.KindOf(err))
	h.logger.WithFields(logrus.Fields(apperrors.FieldsOf(err))).
		WithField("status", status).
		Errorf("%s: %v", msg, err)
	if status >= http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": apperrors.Message(err)})
}

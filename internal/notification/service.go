package notification

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/logging"
	"reminder-service/internal/models"
	"reminder-service/internal/reminder"
)

// Ledger records delivery attempts. CreateNotification does not check for
// duplicates; Dispatch looks up the most recent attempt before every create.
type Ledger interface {
	CreateNotification(ctx context.Context, subscriberID string, eventID int64, kind models.ReminderKind) (models.NotificationRecord, error)
	// FindMostRecentNotification returns nil, nil when the triple was never
	// attempted.
	FindMostRecentNotification(ctx context.Context, subscriberID string, eventID int64, kind models.ReminderKind) (*models.NotificationRecord, error)
	// UpdateNotificationStatus fails with apperrors.ErrNotFound for an
	// unknown id.
	UpdateNotificationStatus(ctx context.Context, id string, status models.NotificationStatus, errorMessage string) error
}

// Channel delivers a rendered message to a chat recipient.
type Channel interface {
	Send(ctx context.Context, recipientID string, msg models.Message) error
}

// Renderer builds the reminder payload for an event.
type Renderer interface {
	Reminder(event models.Event, kind models.ReminderKind) models.Message
}

type Config struct {
	MaxWorkers    int
	SendTimeout   time.Duration
	LedgerTimeout time.Duration
	// Location is the zone event start times are evaluated in.
	Location *time.Location
}

// Service is the reminder dispatch loop.
type Service struct {
	ledger   Ledger
	channel  Channel
	renderer Renderer
	logger   *logging.Logger
	config   Config
}

// New constructs a dispatch Service
func New(ledger Ledger, channel Channel, renderer Renderer, logger *logging.Logger, cfg Config) *Service {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		ledger:   ledger,
		channel:  channel,
		renderer: renderer,
		logger:   logger,
		config:   cfg,
	}
}

// Dispatch sends every due reminder for the enabled subscribers and returns
// the aggregated outcome. It never fails as a whole: errors are folded into
// the summary per triple and per subscriber.
func (s *Service) Dispatch(ctx context.Context, now time.Time, subscribers []models.Subscriber, events []models.Event) models.RunSummary {
	var summary models.RunSummary

	enabled := make([]models.Subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		if sub.ReminderEnabled {
			enabled = append(enabled, sub)
		}
	}
	if len(enabled) == 0 || len(events) == 0 {
		return summary
	}

	workers := s.config.MaxWorkers
	if workers > len(enabled) {
		workers = len(enabled)
	}

	tasks := make(chan models.Subscriber)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range tasks {
				res, err := s.runSubscriber(ctx, now, sub, events)
				if err != nil {
					res.SubscriberFailures++
					s.logger.WithFields(logrus.Fields{
						"subscriber_id": sub.ID,
						"kind":          apperrors.KindOf(err),
					}).Errorf("Failed to process reminders for subscriber: %v", err)
				}
				mu.Lock()
				summary.Merge(res)
				mu.Unlock()
			}
		}()
	}
	for _, sub := range enabled {
		tasks <- sub
	}
	close(tasks)
	wg.Wait()

	s.logger.Infof("Dispatch finished: attempted=%d sent=%d failed=%d skipped=%d subscriber_failures=%d",
		summary.Attempted, summary.Sent, summary.Failed, summary.Skipped, summary.SubscriberFailures)
	return summary
}

// runSubscriber is the error boundary for one subscriber. Outcomes recorded
// before a failure stay in the returned summary.
func (s *Service) runSubscriber(ctx context.Context, now time.Time, sub models.Subscriber, events []models.Event) (res models.RunSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			// an attempt interrupted mid-send is left pending and counts as failed
			res.Failed = res.Attempted - res.Sent
			err = apperrors.New(apperrors.KindInternal, "dispatch.subscriber", fmt.Sprintf("panic: %v", r), map[string]any{
				"subscriber_id": sub.ID,
			})
			s.logger.Debugf("Recovered panic stack: %s", debug.Stack())
		}
	}()

	if sub.ChannelRecipientID == "" {
		return res, apperrors.New(apperrors.KindValidation, "dispatch.subscriber", "subscriber has no channel recipient", map[string]any{
			"subscriber_id": sub.ID,
		})
	}

	for _, event := range events {
		start := event.StartTime.In(s.config.Location)
		for _, rule := range sub.ReminderRules {
			if err := ctx.Err(); err != nil {
				return res, apperrors.Wrap(err, apperrors.KindInternal, "dispatch.subscriber", map[string]any{
					"subscriber_id": sub.ID,
				})
			}
			if err := reminder.Validate(rule); err != nil {
				s.logger.WithField("subscriber_id", sub.ID).Warnf("Skipping invalid reminder rule: %v", err)
				continue
			}
			if !reminder.IsDue(now, start, rule) {
				continue
			}
			s.processTriple(ctx, sub, event, reminder.KindOf(rule), &res)
		}
	}
	return res, nil
}

// processTriple runs the find → create → send → update sequence for one
// due (subscriber, event, kind).
func (s *Service) processTriple(ctx context.Context, sub models.Subscriber, event models.Event, kind models.ReminderKind, res *models.RunSummary) {
	log := s.logger.WithFields(logrus.Fields{
		"subscriber_id": sub.ID,
		"event_id":      event.ID,
		"kind":          kind,
	})

	latest, err := s.findMostRecent(ctx, sub.ID, event.ID, kind)
	if err != nil {
		res.Attempted++
		res.Failed++
		log.Errorf("Ledger lookup failed, not sending: %v", err)
		return
	}
	if latest != nil && latest.Status == models.StatusSent {
		res.Skipped++
		log.Debugf("Reminder already sent at %s", latest.SentAt.Format(time.RFC3339))
		return
	}

	res.Attempted++
	record, err := s.create(ctx, sub.ID, event.ID, kind)
	if err != nil {
		res.Failed++
		log.Errorf("Ledger create failed, not sending: %v", err)
		return
	}

	msg := s.renderer.Reminder(event, kind)
	if sendErr := s.send(ctx, sub.ChannelRecipientID, msg); sendErr != nil {
		res.Failed++
		log.WithField("notification_id", record.ID).Warnf("Reminder delivery failed: %v", sendErr)
		if err := s.updateStatus(ctx, record.ID, models.StatusFailed, sendErr.Error()); err != nil {
			log.WithField("notification_id", record.ID).Errorf("Failed to mark notification failed: %v", err)
		}
		return
	}

	res.Sent++
	if err := s.updateStatus(ctx, record.ID, models.StatusSent, ""); err != nil {
		res.Unrecorded++
		log.WithFields(logrus.Fields{
			"notification_id": record.ID,
			"alert":           "ledger_inconsistent",
		}).Errorf("Reminder delivered but ledger still pending: %v", err)
		return
	}
	log.WithField("notification_id", record.ID).Infof("Reminder sent")
}

func (s *Service) findMostRecent(ctx context.Context, subscriberID string, eventID int64, kind models.ReminderKind) (*models.NotificationRecord, error) {
	ctx, cancel := s.ledgerContext(ctx)
	defer cancel()
	return s.ledger.FindMostRecentNotification(ctx, subscriberID, eventID, kind)
}

func (s *Service) create(ctx context.Context, subscriberID string, eventID int64, kind models.ReminderKind) (models.NotificationRecord, error) {
	ctx, cancel := s.ledgerContext(ctx)
	defer cancel()
	return s.ledger.CreateNotification(ctx, subscriberID, eventID, kind)
}

func (s *Service) updateStatus(ctx context.Context, id string, status models.NotificationStatus, errMsg string) error {
	// The status update must land even when the run context was cancelled
	// mid-send, otherwise the attempt stays pending.
	ctx, cancel := s.ledgerContext(context.WithoutCancel(ctx))
	defer cancel()
	return s.ledger.UpdateNotificationStatus(ctx, id, status, errMsg)
}

func (s *Service) send(ctx context.Context, recipientID string, msg models.Message) error {
	if s.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.SendTimeout)
		defer cancel()
	}
	if err := s.channel.Send(ctx, recipientID, msg); err != nil {
		return err
	}
	// A send that returned after its deadline is not trusted as delivered.
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(err, apperrors.KindDelivery, "channel.send", map[string]any{"recipient_id": recipientID})
	}
	return nil
}

func (s *Service) ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.LedgerTimeout > 0 {
		return context.WithTimeout(ctx, s.config.LedgerTimeout)
	}
	return context.WithCancel(ctx)
}

// Package services coordinates reminder runs and chat commands. Every
// trigger surface (HTTP, Kafka, cron, CLI) enters through HandleTrigger.
package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/logging"
	"reminder-service/internal/models"
	"reminder-service/internal/reminder"
)

type SubscriberStore interface {
	ListEnabledSubscribers(ctx context.Context) ([]models.Subscriber, error)
	FindSubscriberByChannelID(ctx context.Context, recipientID string) (*models.Subscriber, error)
	FindSubscriberByID(ctx context.Context, id string) (*models.Subscriber, error)
	CreateSubscriber(ctx context.Context, sub models.Subscriber) (models.Subscriber, error)
	UpdateReminderSettings(ctx context.Context, id string, rules []models.ReminderRule, enabled bool) error
}

type EventSource interface {
	ListUpcomingEvents(ctx context.Context, from, to time.Time) ([]models.Event, error)
}

type EventStore interface {
	UpsertEvents(ctx context.Context, events []models.Event) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, now time.Time, subs []models.Subscriber, events []models.Event) models.RunSummary
}

// Channel sends chat replies.
type Channel interface {
	Send(ctx context.Context, recipientID string, msg models.Message) error
}

// RunLock serializes scheduled passes. ok is false when another run holds it.
type RunLock interface {
	TryAcquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// RunObserver is told about every finished scheduled pass.
type RunObserver interface {
	RunFinished(report models.RunReport)
}

type Deps struct {
	Subscribers SubscriberStore
	Source      EventSource
	Events      EventStore
	Dispatcher  Dispatcher
	Channel     Channel
}

type Config struct {
	Horizon time.Duration
	// ProbeWindow is how far ahead ProbeEventSource looks.
	ProbeWindow time.Duration
	Now         func() time.Time
}

type Option func(*Service)

func WithRunLock(lock RunLock) Option {
	return func(s *Service) { s.lock = lock }
}

func WithObserver(o RunObserver) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

// Service is the run coordinator.
type Service struct {
	subscribers SubscriberStore
	source      EventSource
	events      EventStore
	dispatcher  Dispatcher
	channel     Channel
	lock        RunLock
	observers   []RunObserver
	cfg         Config
	logger      *logging.Logger
}

func New(deps Deps, cfg Config, logger *logging.Logger, opts ...Option) *Service {
	if cfg.Horizon <= 0 {
		cfg.Horizon = 7 * 24 * time.Hour
	}
	if cfg.ProbeWindow <= 0 {
		cfg.ProbeWindow = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Service{
		subscribers: deps.Subscribers,
		source:      deps.Source,
		events:      deps.Events,
		dispatcher:  deps.Dispatcher,
		channel:     deps.Channel,
		cfg:         cfg,
		logger:      logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Logger exposes the Service's logger
func (s *Service) Logger() *logging.Logger {
	return s.logger
}

// HandleTrigger routes a trigger request to its control path.
func (s *Service) HandleTrigger(ctx context.Context, req models.TriggerRequest) (models.TriggerResult, error) {
	switch req.Type {
	case models.TriggerScheduled:
		summary, err := s.RunScheduledPass(ctx)
		if err != nil {
			return models.TriggerResult{}, err
		}
		return models.TriggerResult{Message: "Scheduled reminders processed successfully", Summary: &summary}, nil
	case models.TriggerWebhook:
		events, ignored, err := models.DecodeInboundEvents(req.Events)
		if err != nil {
			return models.TriggerResult{}, err
		}
		if len(ignored) > 0 {
			s.logger.Debugf("Ignored %d webhook events of unhandled types %v", len(ignored), ignored)
		}
		if err := s.HandleWebhook(ctx, events); err != nil {
			return models.TriggerResult{}, err
		}
		return models.TriggerResult{Message: "Webhook processed successfully"}, nil
	default:
		return models.TriggerResult{}, apperrors.New(apperrors.KindValidation, "trigger", "Invalid request type", map[string]any{
			"type": req.Type,
		})
	}
}

// RunScheduledPass evaluates every enabled subscriber against the upcoming
// events and dispatches due reminders.
func (s *Service) RunScheduledPass(ctx context.Context) (models.RunSummary, error) {
	if s.lock != nil {
		release, ok, err := s.lock.TryAcquire(ctx)
		if err != nil {
			return models.RunSummary{}, apperrors.Wrap(err, apperrors.KindInternal, "run.lock", nil)
		}
		if !ok {
			return models.RunSummary{}, apperrors.New(apperrors.KindConflict, "run.lock", "a reminder run is already in progress", nil)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warnf("Failed to release run lock: %v", err)
			}
		}()
	}

	started := s.cfg.Now()
	subs, err := s.subscribers.ListEnabledSubscribers(ctx)
	if err != nil {
		return models.RunSummary{}, apperrors.Wrap(err, apperrors.KindStorage, "run.list_subscribers", nil)
	}
	if len(subs) == 0 {
		s.logger.Infof("No enabled subscribers, skipping run")
		return models.RunSummary{}, nil
	}

	to := started.Add(s.cfg.Horizon)
	events, err := s.source.ListUpcomingEvents(ctx, started, to)
	if err != nil {
		return models.RunSummary{}, apperrors.Wrap(err, apperrors.KindUpstream, "run.list_events", map[string]any{
			"horizon": s.cfg.Horizon.String(),
		})
	}
	if len(events) == 0 {
		s.logger.Infof("No upcoming events between %s and %s", started.Format(time.RFC3339), to.Format(time.RFC3339))
		return models.RunSummary{}, nil
	}

	if err := s.events.UpsertEvents(ctx, events); err != nil {
		return models.RunSummary{}, apperrors.Wrap(err, apperrors.KindStorage, "run.upsert_events", map[string]any{
			"count": len(events),
		})
	}

	summary := s.dispatcher.Dispatch(ctx, started, subs, events)
	report := models.RunReport{
		StartedAt:   started,
		FinishedAt:  s.cfg.Now(),
		Subscribers: len(subs),
		Events:      len(events),
		Summary:     summary,
	}
	for _, o := range s.observers {
		o.RunFinished(report)
	}

	s.logger.WithFields(logrus.Fields{
		"subscribers":         len(subs),
		"events":              len(events),
		"attempted":           summary.Attempted,
		"sent":                summary.Sent,
		"failed":              summary.Failed,
		"skipped":             summary.Skipped,
		"subscriber_failures": summary.SubscriberFailures,
		"unrecorded":          summary.Unrecorded,
	}).Info("Reminder run finished")
	return summary, nil
}

// ProbeEventSource fetches the next day of events to check connectivity.
func (s *Service) ProbeEventSource(ctx context.Context) models.ProbeResult {
	now := s.cfg.Now()
	events, err := s.source.ListUpcomingEvents(ctx, now, now.Add(s.cfg.ProbeWindow))
	if err != nil {
		s.logger.Errorf("Event source probe failed: %v", err)
		return models.ProbeResult{OK: false, Error: err.Error()}
	}
	res := models.ProbeResult{OK: true, Count: len(events)}
	if len(events) > 0 {
		sample := events[0]
		res.Sample = &sample
	}
	return res
}

// UpdateReminders replaces a subscriber's rules after validating them.
func (s *Service) UpdateReminders(ctx context.Context, subscriberID string, rules []models.ReminderRule, enabled bool) (models.Subscriber, error) {
	fields := map[string]any{"subscriber_id": subscriberID}
	for i, rule := range rules {
		if err := reminder.Validate(rule); err != nil {
			fields["index"] = i
			return models.Subscriber{}, apperrors.Wrap(err, apperrors.KindValidation, "subscribers.update_reminders", fields)
		}
	}
	if err := s.subscribers.UpdateReminderSettings(ctx, subscriberID, rules, enabled); err != nil {
		return models.Subscriber{}, err
	}
	sub, err := s.subscribers.FindSubscriberByID(ctx, subscriberID)
	if err != nil {
		return models.Subscriber{}, err
	}
	if sub == nil {
		return models.Subscriber{}, apperrors.Wrap(apperrors.ErrNotFound, apperrors.KindNotFound, "subscribers.update_reminders", fields)
	}
	return *sub, nil
}

// Subscriber returns one subscriber or a not_found error.
func (s *Service) Subscriber(ctx context.Context, id string) (models.Subscriber, error) {
	sub, err := s.subscribers.FindSubscriberByID(ctx, id)
	if err != nil {
		return models.Subscriber{}, err
	}
	if sub == nil {
		return models.Subscriber{}, apperrors.Wrap(apperrors.ErrNotFound, apperrors.KindNotFound, "subscribers.get", map[string]any{
			"subscriber_id": id,
		})
	}
	return *sub, nil
}


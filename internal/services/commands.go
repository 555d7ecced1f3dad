package services

import (
	"context"
	"errors"
	"strings"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/messages"
	"reminder-service/internal/models"
)

// HandleWebhook processes inbound chat events one by one. A failing event
// does not stop the rest; all errors are joined.
func (s *Service) HandleWebhook(ctx context.Context, events []models.InboundEvent) error {
	var errs []error
	for _, ev := range events {
		var err error
		switch e := ev.(type) {
		case models.FollowEvent:
			err = s.reply(ctx, e.Recipient, messages.Welcome)
		case models.UnfollowEvent:
			err = s.unfollow(ctx, e.Recipient)
		case models.MessageEvent:
			err = s.handleMessage(ctx, e)
		default:
			err = apperrors.New(apperrors.KindValidation, "webhook.handle", "unsupported inbound event", map[string]any{
				"recipient_id": ev.RecipientID(),
			})
		}
		if err != nil {
			s.logger.Errorf("Webhook event for %s failed: %v", ev.RecipientID(), err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) handleMessage(ctx context.Context, e models.MessageEvent) error {
	text := strings.ToLower(e.Text)
	switch {
	case strings.Contains(text, "登録") || strings.Contains(text, "register"):
		return s.register(ctx, e.Recipient)
	case strings.Contains(text, "設定") || strings.Contains(text, "settings"):
		return s.settings(ctx, e.Recipient)
	case strings.Contains(text, "ヘルプ") || strings.Contains(text, "help"):
		return s.reply(ctx, e.Recipient, messages.Help)
	default:
		return s.reply(ctx, e.Recipient, messages.UnknownCommand)
	}
}

func (s *Service) register(ctx context.Context, recipient string) error {
	fields := map[string]any{"recipient_id": recipient}
	existing, err := s.subscribers.FindSubscriberByChannelID(ctx, recipient)
	if err != nil {
		return s.registrationFailed(ctx, recipient, err)
	}

	switch {
	case existing == nil:
		sub, err := s.subscribers.CreateSubscriber(ctx, models.Subscriber{
			ChannelRecipientID: recipient,
			ReminderEnabled:    true,
			ReminderRules:      models.DefaultReminderRules(),
		})
		if err != nil {
			return s.registrationFailed(ctx, recipient, err)
		}
		s.logger.WithField("subscriber_id", sub.ID).Infof("Registered subscriber for recipient %s", recipient)
		return s.reply(ctx, recipient, messages.Registered)
	case !existing.ReminderEnabled:
		if err := s.subscribers.UpdateReminderSettings(ctx, existing.ID, existing.ReminderRules, true); err != nil {
			return s.registrationFailed(ctx, recipient, err)
		}
		s.logger.WithFields(fields).Infof("Re-enabled subscriber %s", existing.ID)
		return s.reply(ctx, recipient, messages.Reenabled)
	default:
		return s.reply(ctx, recipient, messages.AlreadyRegistered)
	}
}

func (s *Service) registrationFailed(ctx context.Context, recipient string, cause error) error {
	err := apperrors.Wrap(cause, apperrors.KindOf(cause), "webhook.register", map[string]any{"recipient_id": recipient})
	if replyErr := s.reply(ctx, recipient, messages.RegistrationFailed); replyErr != nil {
		return errors.Join(err, replyErr)
	}
	return err
}

func (s *Service) settings(ctx context.Context, recipient string) error {
	sub, err := s.subscribers.FindSubscriberByChannelID(ctx, recipient)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindStorage, "webhook.settings", map[string]any{"recipient_id": recipient})
	}
	if sub == nil {
		return s.reply(ctx, recipient, messages.NotRegistered)
	}
	return s.reply(ctx, recipient, messages.Settings(*sub))
}

// unfollow keeps the rules so a later registration restores them.
func (s *Service) unfollow(ctx context.Context, recipient string) error {
	sub, err := s.subscribers.FindSubscriberByChannelID(ctx, recipient)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindStorage, "webhook.unfollow", map[string]any{"recipient_id": recipient})
	}
	if sub == nil {
		return nil
	}
	if err := s.subscribers.UpdateReminderSettings(ctx, sub.ID, sub.ReminderRules, false); err != nil {
		return err
	}
	s.logger.Infof("Disabled reminders for subscriber %s after unfollow", sub.ID)
	return nil
}

func (s *Service) reply(ctx context.Context, recipient, text string) error {
	if err := s.channel.Send(ctx, recipient, models.TextMessage(text)); err != nil {
		return apperrors.Wrap(err, apperrors.KindDelivery, "webhook.reply", map[string]any{"recipient_id": recipient})
	}
	return nil
}

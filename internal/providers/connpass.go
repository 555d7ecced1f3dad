package providers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/logging"
	"reminder-service/internal/models"
	"reminder-service/internal/utils"
	"reminder-service/pkg/connpass"
)

type ConnpassConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	MaxPages int
	// Location is the zone connpass dates are expressed in.
	Location *time.Location
	Retry    utils.RetryPolicy
}

// Connpass lists upcoming events from connpass.
type Connpass struct {
	client *connpass.Client
	cfg    ConnpassConfig
	logger *logging.Logger
}

func NewConnpass(cfg ConnpassConfig, logger *logging.Logger) *Connpass {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = utils.RetryPolicy{MaxAttempts: 3, Delay: 500 * time.Millisecond}
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = retryableConnpassError
	}
	var opts []connpass.Option
	if cfg.APIKey != "" {
		opts = append(opts, connpass.WithAPIKey(cfg.APIKey))
	}
	return &Connpass{
		client: connpass.NewClient(cfg.BaseURL, cfg.Timeout, opts...),
		cfg:    cfg,
		logger: logger,
	}
}

// ListUpcomingEvents returns events starting within [from, to] ordered by
// start time.
func (c *Connpass) ListUpcomingEvents(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	var (
		raw       []connpass.Event
		truncated bool
	)
	err := utils.Retry(ctx, c.logger, c.cfg.Retry, func(ctx context.Context) error {
		var err error
		raw, truncated, err = c.client.EventsBetween(ctx, from, to, c.cfg.Location, c.cfg.MaxPages)
		return err
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUpstream, "connpass.list_events", map[string]any{
			"from": from.Format(time.RFC3339),
			"to":   to.Format(time.RFC3339),
		})
	}

	if truncated {
		c.logger.WithFields(logrus.Fields{
			"max_pages": c.cfg.MaxPages,
			"from":      from.Format(time.RFC3339),
			"to":        to.Format(time.RFC3339),
		}).Warnf("Connpass results truncated at %d pages, raise CONNPASS_MAX_PAGES to see later events", c.cfg.MaxPages)
	}

	seen := make(map[int64]bool, len(raw))
	events := make([]models.Event, 0, len(raw))
	for _, e := range raw {
		if seen[e.EventID] {
			continue
		}
		seen[e.EventID] = true
		events = append(events, eventFromConnpass(e))
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].StartTime.Before(events[j].StartTime)
	})
	c.logger.Debugf("Fetched %d connpass events between %s and %s", len(events), from.Format(time.RFC3339), to.Format(time.RFC3339))
	return events, nil
}

func eventFromConnpass(e connpass.Event) models.Event {
	var tags []string
	if e.Series != nil && e.Series.Title != "" {
		tags = append(tags, e.Series.Title)
	}
	for _, tag := range strings.Fields(e.HashTag) {
		tags = append(tags, "#"+strings.TrimPrefix(tag, "#"))
	}
	return models.Event{
		ID:            e.EventID,
		Title:         e.Title,
		Catch:         e.Catch,
		Description:   e.Description,
		URL:           e.EventURL,
		Location:      e.Place,
		Address:       e.Address,
		OwnerNickname: e.OwnerNickname,
		Limit:         e.Limit,
		Accepted:      e.Accepted,
		Waiting:       e.Waiting,
		Tags:          tags,
		StartTime:     e.StartedAt,
		EndTime:       e.EndedAt,
	}
}

func retryableConnpassError(err error) bool {
	var apiErr *connpass.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

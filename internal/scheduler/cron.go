// Package scheduler triggers scheduled passes in-process on a cron spec.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/logging"
	"reminder-service/internal/models"
)

type TriggerHandler interface {
	HandleTrigger(ctx context.Context, req models.TriggerRequest) (models.TriggerResult, error)
}

// Scheduler owns one cron entry. Overlapping ticks are skipped while a run
// is still in progress.
type Scheduler struct {
	c       *cron.Cron
	spec    string
	handler TriggerHandler
	logger  *logging.Logger

	mu  sync.Mutex
	ctx context.Context
}

func New(spec string, loc *time.Location, handler TriggerHandler, logger *logging.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	cronLogger := cron.PrintfLogger(logger)
	s := &Scheduler{
		spec:    spec,
		handler: handler,
		logger:  logger,
		ctx:     context.Background(),
	}
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := s.c.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("failed to schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins ticking. Runs use ctx and stop starting once it is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.c.Start()
	s.logger.Infof("Scheduler started with %q, next run at %s", s.spec, s.Next().Format(time.RFC3339))
}

// Stop prevents new runs and waits for a running one or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.c.Stop()
	select {
	case <-done.Done():
		s.logger.Infof("Scheduler stopped")
	case <-ctx.Done():
		s.logger.Warnf("Scheduler stop timed out with a run in progress")
	}
}

// Next is the time of the next tick, zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	res, err := s.handler.HandleTrigger(ctx, models.TriggerRequest{Type: models.TriggerScheduled})
	switch {
	case apperrors.Is(err, apperrors.KindConflict):
		s.logger.Infof("Scheduled run skipped: %v", err)
	case err != nil:
		s.logger.Errorf("Scheduled run failed: %v", err)
	default:
		s.logger.Infof("Scheduled run finished: %s", res.Message)
	}
}

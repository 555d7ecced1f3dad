package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"reminder-service/internal/app"
	"reminder-service/internal/config"
	"reminder-service/internal/kafka"
	"reminder-service/internal/logging"
	"reminder-service/internal/reminder"
	"reminder-service/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("Failed to init service: %v", err)
		log.Fatalf("Service init failed: %v", err)
	}
	defer a.Close()

	var wg sync.WaitGroup

	// Kafka trigger consumer is optional
	var consumer *kafka.Consumer
	if cfg.Kafka.Broker != "" {
		consumer, err = kafka.NewConsumer(kafka.Config{
			Broker:  cfg.Kafka.Broker,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, a.Service, logger)
		if err != nil {
			logger.Errorf("Failed to init kafka consumer: %v", err)
			log.Fatalf("Kafka consumer init failed: %v", err)
		}
		logger.Infof("Kafka consumer initialized with topic: %s", cfg.Kafka.Topic)
		consumer.Start(ctx, &wg)
	}

	var sched *scheduler.Scheduler
	if cfg.Schedule.Cron != "" {
		sched, err = scheduler.New(cfg.Schedule.Cron, cfg.Reminder.Location, a.Service, logger)
		if err != nil {
			logger.Errorf("Invalid SCHEDULE_CRON: %v", err)
			log.Fatalf("Scheduler init failed: %v", err)
		}
		sched.Start(ctx)
		logger.Infof("Reminder match window is ±%s, %q must fire at least every %s",
			reminder.MatchWindow, cfg.Schedule.Cron, 2*reminder.MatchWindow)
	} else {
		logger.Infof("SCHEDULE_CRON not set, scheduled passes need an external trigger at least every %s", 2*reminder.MatchWindow)
	}

	// Start API server
	srv := &http.Server{
		Addr:              cfg.API.Port,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
			cancel()
		}
	}()

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case <-c:
	case <-ctx.Done():
	}
	logger.Infof("Shutting down...")

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API server shutdown failed: %v", err)
	}
	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	cancel()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Errorf("Kafka consumer close failed: %v", err)
		}
	}
	wg.Wait()
	logger.Infof("Service stopped")
}

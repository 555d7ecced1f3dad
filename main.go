// Command reminder-service runs a single trigger in-process and prints the
// result as JSON. It is meant for cron jobs and manual runs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"reminder-service/internal/app"
	"reminder-service/internal/config"
	"reminder-service/internal/logging"
	"reminder-service/internal/models"
)

func main() {
	triggerType := flag.String("type", string(models.TriggerScheduled), "trigger type: scheduled or webhook")
	eventsFile := flag.String("events", "", "JSON file with webhook events, required for -type webhook")
	flag.Parse()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Config load failed:", err)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatal("Logger init failed:", err)
	}
	defer logger.Close()

	req, err := buildRequest(models.TriggerType(*triggerType), *eventsFile)
	if err != nil {
		log.Fatal("Invalid arguments:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("Service init failed: %v", err)
		log.Fatal("Service init failed:", err)
	}

	res, err := a.Service.HandleTrigger(ctx, req)
	a.Close()
	if err != nil {
		logger.Errorf("Trigger %s failed: %v", req.Type, err)
		logger.Close()
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))
}

func buildRequest(t models.TriggerType, eventsFile string) (models.TriggerRequest, error) {
	req := models.TriggerRequest{Type: t}
	if t != models.TriggerWebhook {
		return req, nil
	}
	if eventsFile == "" {
		return req, fmt.Errorf("-events is required for webhook triggers")
	}
	raw, err := os.ReadFile(eventsFile)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(raw, &req.Events); err != nil {
		return req, fmt.Errorf("failed to decode %s: %w", eventsFile, err)
	}
	return req, nil
}

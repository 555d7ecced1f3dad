// Package kafka consumes run triggers from a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"reminder-service/internal/apperrors"
	"reminder-service/internal/logging"
	"reminder-service/internal/models"
)

type Config struct {
	Broker  string
	Topic   string
	GroupID string
}

// TriggerHandler runs one trigger request.
type TriggerHandler interface {
	HandleTrigger(ctx context.Context, req models.TriggerRequest) (models.TriggerResult, error)
}

type Consumer struct {
	reader  *kafka.Reader
	handler TriggerHandler
	logger  *logging.Logger
}

func NewConsumer(cfg Config, handler TriggerHandler, logger *logging.Logger) (*Consumer, error) {
	if cfg.Broker == "" {
		return nil, errors.New("kafka broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "reminder_trigger"
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "reminder-service"
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        strings.Split(cfg.Broker, ","),
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.FirstOffset,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0,
	})
	return &Consumer{reader: r, handler: handler, logger: logger}, nil
}

// Start consumes until ctx is cancelled. Each message is committed after it
// has been handled, whatever the outcome; a failed run is retried by the next
// trigger, not by redelivery.
func (s *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Infof("Kafka consumer started on topic %s", s.reader.Config().Topic)
		for {
			msg, err := s.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					s.logger.Infof("Kafka consumer stopped")
					return
				}
				s.logger.Errorf("Read message failed: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			s.process(ctx, msg)
			if err := s.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				s.logger.Errorf("Commit offset %d failed: %v", msg.Offset, err)
			}
		}
	}()
}

func (s *Consumer) process(ctx context.Context, msg kafka.Message) {
	fields := map[string]any{"topic": msg.Topic, "partition": msg.Partition, "offset": msg.Offset}

	req, err := decodeTrigger(msg.Value)
	if err != nil {
		s.logger.WithFields(fields).Errorf("Invalid trigger message: %v", err)
		return
	}

	res, err := s.handler.HandleTrigger(ctx, req)
	switch {
	case apperrors.Is(err, apperrors.KindConflict):
		s.logger.WithFields(fields).Infof("Trigger skipped: %v", err)
	case err != nil:
		s.logger.WithFields(fields).Errorf("Trigger %s failed: %v", req.Type, err)
	default:
		s.logger.WithFields(fields).Infof("Trigger %s handled: %s", req.Type, res.Message)
	}
}

func decodeTrigger(raw []byte) (models.TriggerRequest, error) {
	var req models.TriggerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if req.Type == "" {
		return req, errors.New("trigger type is required")
	}
	return req, nil
}

func (s *Consumer) Close() error {
	return s.reader.Close()
}

package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"vault-ledger-go/internal/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const DefaultRetryDelay = 2 * time.Second

// messageReader is the subset of *kafka.Reader the source uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventProcessor is what KafkaSource feeds. *Processor implements it.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, raw models.RawEvent) (*ProcessResult, error)
}

// KafkaSource consumes event notifications and commits each offset only after
// the notification was processed, so delivery is at-least-once.
type KafkaSource struct {
	reader     messageReader
	processor  EventProcessor
	retryDelay time.Duration
}

func NewKafkaSource(cfg models.KafkaConfig, processor EventProcessor) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        strings.Split(cfg.Brokers, ","),
		Topic:          cfg.EventsTopic,
		GroupID:        cfg.GroupId,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // commits are explicit
	})
	return newKafkaSource(reader, processor, cfg.RetryDelay)
}

func newKafkaSource(reader messageReader, processor EventProcessor, retryDelay time.Duration) *KafkaSource {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &KafkaSource{reader: reader, processor: processor, retryDelay: retryDelay}
}

// Run blocks until ctx is cancelled. Notifications that can never succeed are
// logged and committed; any other failure is retried without committing.
func (s *KafkaSource) Run(ctx context.Context) error {
	zap.L().Info("Starting event intake")

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			zap.L().Error("Kafka fetch error", zap.Error(err))
			if !s.sleep(ctx) {
				return nil
			}
			continue
		}

		if err := s.handle(ctx, msg); err != nil {
			// only cancellation gets here
			return nil
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			zap.L().Warn("Failed to commit offset",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

func (s *KafkaSource) handle(ctx context.Context, msg kafka.Message) error {
	var raw models.RawEvent
	if err := json.Unmarshal(msg.Value, &raw); err != nil {
		zap.L().Error("Dropping undecodable event notification",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	for {
		_, err := s.processor.ProcessEvent(ctx, raw)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			zap.L().Error("Dropping invalid event notification",
				zap.String("signature", raw.Signature),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return nil
		}

		zap.L().Error("Event processing failed, retrying",
			zap.String("signature", raw.Signature),
			zap.String("event_type", string(raw.EventType)),
			zap.Duration("retry_in", s.retryDelay),
			zap.Error(err))
		if !s.sleep(ctx) {
			return fmt.Errorf("event intake stopped: %w", ctx.Err())
		}
	}
}

func (s *KafkaSource) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.retryDelay):
		return true
	}
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/honeynil/AuthSessionService/internal/models"
	"github.com/honeynil/AuthSessionService/internal/repository"
	pkgerrors "github.com/honeynil/AuthSessionService/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer persists session events into the audit trail.
type Consumer struct {
	reader    messageReader
	topic     string
	auditRepo repository.AuditRepository
}

func NewConsumer(brokers []string, topic, groupID string, auditRepo repository.AuditRepository) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		topic:     topic,
		auditRepo: auditRepo,
	}
}

// Consume blocks until ctx is cancelled or the reader is closed.
func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				slog.Info("session event consumer stopped", "topic", c.topic)
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.topic, "error", err)
			continue
		}

		if err := c.HandleMessage(ctx, msg); err != nil {
			slog.Error("failed to handle session event",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err)
		}
	}
}

func (c *Consumer) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.SessionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("%w: unmarshal session event: %v", pkgerrors.ErrInvalidInput, err)
	}
	if !event.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", pkgerrors.ErrInvalidInput, event.Type)
	}
	if event.UserID == "" || event.OccurredAt.IsZero() {
		return fmt.Errorf("%w: event without user_id or occurred_at", pkgerrors.ErrInvalidInput)
	}

	id, err := c.auditRepo.Record(ctx, &event)
	if err != nil {
		return fmt.Errorf("record session event: %w", err)
	}

	slog.Info("session event recorded",
		"audit_id", id,
		"type", event.Type,
		"user_id", event.UserID,
		"session_id", event.SessionID)
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

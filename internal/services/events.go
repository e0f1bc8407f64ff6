package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/honeynil/AuthSessionService/internal/models"
)

type EventPublisher interface {
	Publish(ctx context.Context, event *models.SessionEvent) error
}

const (
	publishRetries = 3
	publishTimeout = 5 * time.Second
)

// eventEmitter publishes session events in the background. A failing broker
// never fails or slows down the auth path.
type eventEmitter struct {
	publisher EventPublisher
	backoff   time.Duration
}

func newEventEmitter(publisher EventPublisher) *eventEmitter {
	return &eventEmitter{publisher: publisher, backoff: time.Second}
}

func (e *eventEmitter) emit(event models.SessionEvent) {
	if e == nil || e.publisher == nil {
		return
	}
	go func() {
		for i := 0; i < publishRetries; i++ {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err := e.publisher.Publish(ctx, &event)
			cancel()
			if err == nil {
				return
			}
			slog.Warn("failed to publish session event",
				"type", event.Type,
				"session_id", event.SessionID,
				"attempt", i+1,
				"error", err)
			time.Sleep(e.backoff * time.Duration(i+1))
		}
		slog.Error("failed to publish session event after retries",
			"type", event.Type,
			"user_id", event.UserID,
			"session_id", event.SessionID)
	}()
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/honeynil/AuthSessionService/internal/models"
	"github.com/stretchr/testify/assert"
)

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	done     chan struct{}
}

func (p *flakyPublisher) Publish(ctx context.Context, event *models.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return errors.New("broker unavailable")
	}
	close(p.done)
	return nil
}

func TestEventEmitter_Retries(t *testing.T) {
	publisher := &flakyPublisher{failures: 2, done: make(chan struct{})}
	emitter := &eventEmitter{publisher: publisher, backoff: time.Millisecond}

	emitter.emit(models.SessionEvent{Type: models.EventSessionIssued, UserID: "1"})

	select {
	case <-publisher.done:
	case <-time.After(time.Second):
		t.Fatal("event was not published")
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	assert.Equal(t, 3, publisher.calls)
}

func TestEventEmitter_NilPublisher(t *testing.T) {
	var nilEmitter *eventEmitter
	assert.NotPanics(t, func() {
		nilEmitter.emit(models.SessionEvent{})
		newEventEmitter(nil).emit(models.SessionEvent{})
	})
}

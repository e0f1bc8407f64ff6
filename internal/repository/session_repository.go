package repository

import (
	"context"
	"time"

	"github.com/honeynil/AuthSessionService/internal/models"
)

// SessionRepository is the session store. It is the only source of truth for
// whether a token pair is still live.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	// Touch updates last activity if the session still exists. Concurrent
	// touches may overwrite each other.
	Touch(ctx context.Context, sessionID string, at time.Time) error
	// Rotate atomically replaces the session record with next if and only if
	// the stored generation equals expectedGeneration.
	Rotate(ctx context.Context, next *models.Session, expectedGeneration int64, ttl time.Duration) error
	// Delete reports whether a live session was removed.
	Delete(ctx context.Context, sessionID string) (bool, error)
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
	ListForUser(ctx context.Context, userID string) ([]*models.Session, error)
}

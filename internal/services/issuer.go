package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/honeynil/AuthSessionService/internal/models"
	"github.com/honeynil/AuthSessionService/internal/repository"
	pkgerrors "github.com/honeynil/AuthSessionService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// TokenIssuer opens a brand-new session for an authenticated user.
type TokenIssuer struct {
	sessions repository.SessionRepository
	codec    TokenCodec
	events   *eventEmitter
	settings Settings
}

func NewTokenIssuer(sessions repository.SessionRepository, codec TokenCodec, publisher EventPublisher, settings Settings) *TokenIssuer {
	return &TokenIssuer{
		sessions: sessions,
		codec:    codec,
		events:   newEventEmitter(publisher),
		settings: settings,
	}
}

// Issue never reuses a session. When the session cannot be written no token
// is returned.
func (i *TokenIssuer) Issue(ctx context.Context, userID string, claims models.IdentityClaims, deviceID string) (pair *models.TokenPair, err error) {
	ctx, span := startSpan(ctx, "Issue")
	defer func() { finish(span, "issue", err) }()

	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", pkgerrors.ErrInvalidInput)
	}

	now := i.settings.now()
	session := &models.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		DeviceID:       deviceID,
		Generation:     0,
		CreatedAt:      now,
		LastActivityAt: now,
		Claims:         claims,
	}
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("session_id", session.ID),
	)

	pair, err = mintPair(i.codec, i.settings, session)
	if err != nil {
		slog.Error("failed to encode token pair", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: encode token pair: %v", pkgerrors.ErrInternal, err)
	}

	if err := i.sessions.Create(ctx, session, i.settings.sessionTTL()); err != nil {
		slog.Error("failed to create session", "user_id", userID, "session_id", session.ID, "error", err)
		return nil, err
	}

	i.events.emit(models.SessionEvent{
		Type:       models.EventSessionIssued,
		SessionID:  session.ID,
		UserID:     userID,
		DeviceID:   deviceID,
		OccurredAt: now,
	})
	slog.Info("session issued", "user_id", userID, "session_id", session.ID, "device_id", deviceID)
	return pair, nil
}

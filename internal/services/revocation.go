package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/AuthSessionService/internal/models"
	"github.com/honeynil/AuthSessionService/internal/repository"
	pkgerrors "github.com/honeynil/AuthSessionService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type RevocationService struct {
	sessions repository.SessionRepository
	events   *eventEmitter
	settings Settings
}

func NewRevocationService(sessions repository.SessionRepository, publisher EventPublisher, settings Settings) *RevocationService {
	return &RevocationService{
		sessions: sessions,
		events:   newEventEmitter(publisher),
		settings: settings,
	}
}

// RevokeSession deletes one session. Revoking an absent session is not an
// error.
func (s *RevocationService) RevokeSession(ctx context.Context, sessionID string) (err error) {
	ctx, span := startSpan(ctx, "RevokeSession")
	defer func() { finish(span, "revoke", err) }()
	span.SetAttributes(attribute.String("session_id", sessionID))

	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", pkgerrors.ErrInvalidInput)
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, pkgerrors.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.revoke(ctx, session, models.EventSessionRevoked, "logout")
}

func (s *RevocationService) revoke(ctx context.Context, session *models.Session, eventType models.SessionEventType, reason string) error {
	deleted, err := s.sessions.Delete(ctx, session.ID)
	if err != nil {
		slog.Error("failed to revoke session", "session_id", session.ID, "reason", reason, "error", err)
		return err
	}
	if !deleted {
		return nil
	}

	s.events.emit(models.SessionEvent{
		Type:       eventType,
		SessionID:  session.ID,
		UserID:     session.UserID,
		DeviceID:   session.DeviceID,
		Generation: session.Generation,
		Reason:     reason,
		OccurredAt: s.settings.now(),
	})
	slog.Info("session revoked", "session_id", session.ID, "user_id", session.UserID, "reason", reason)
	return nil
}

// RevokeAllForUser deletes every session in the user's index and returns how
// many live sessions were removed.
func (s *RevocationService) RevokeAllForUser(ctx context.Context, userID string) (removed int, err error) {
	ctx, span := startSpan(ctx, "RevokeAllForUser")
	defer func() { finish(span, "revoke_all", err) }()
	span.SetAttributes(attribute.String("user_id", userID))

	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", pkgerrors.ErrInvalidInput)
	}

	removed, err = s.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		slog.Error("failed to revoke user sessions", "user_id", userID, "error", err)
		return 0, err
	}

	s.events.emit(models.SessionEvent{
		Type:       models.EventUserRevoked,
		UserID:     userID,
		Reason:     fmt.Sprintf("%d sessions", removed),
		OccurredAt: s.settings.now(),
	})
	slog.Info("user sessions revoked", "user_id", userID, "count", removed)
	return removed, nil
}

func (s *RevocationService) ListSessions(ctx context.Context, userID string) (sessions []*models.Session, err error) {
	ctx, span := startSpan(ctx, "ListSessions")
	defer func() { finish(span, "list", err) }()

	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", pkgerrors.ErrInvalidInput)
	}
	return s.sessions.ListForUser(ctx, userID)
}

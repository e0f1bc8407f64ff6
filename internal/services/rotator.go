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

// RefreshRotator exchanges a refresh token for a new pair. Every successful
// rotation advances the session generation, so each refresh token is usable
// at most once.
type RefreshRotator struct {
	sessions repository.SessionRepository
	codec    TokenCodec
	// claims is optional; without it the previous snapshot is carried over.
	claims   ClaimsSource
	revoker  *RevocationService
	events   *eventEmitter
	settings Settings
}

func NewRefreshRotator(
	sessions repository.SessionRepository,
	codec TokenCodec,
	claims ClaimsSource,
	revoker *RevocationService,
	publisher EventPublisher,
	settings Settings,
) *RefreshRotator {
	return &RefreshRotator{
		sessions: sessions,
		codec:    codec,
		claims:   claims,
		revoker:  revoker,
		events:   newEventEmitter(publisher),
		settings: settings,
	}
}

func (r *RefreshRotator) Rotate(ctx context.Context, refreshToken, deviceID string) (pair *models.TokenPair, err error) {
	ctx, span := startSpan(ctx, "Rotate")
	defer func() { finish(span, "rotate", err) }()

	presented, err := r.codec.Decode(refreshToken)
	if err != nil {
		return nil, err
	}
	if presented.Kind != models.KindRefresh {
		return nil, fmt.Errorf("%w: got %s token", pkgerrors.ErrTokenKindMismatch, presented.Kind)
	}
	span.SetAttributes(
		attribute.String("session_id", presented.SessionID),
		attribute.Int64("generation", presented.Generation),
	)

	session, err := r.sessions.Get(ctx, presented.SessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != presented.Subject {
		return nil, fmt.Errorf("%w: session owner mismatch", pkgerrors.ErrSessionNotFound)
	}

	if session.DeviceID != "" && deviceID != "" && deviceID != session.DeviceID {
		slog.Warn("refresh from another device",
			"session_id", session.ID,
			"bound_device", session.DeviceID,
			"device_id", deviceID)
		r.events.emit(models.SessionEvent{
			Type:       models.EventDeviceMismatched,
			SessionID:  session.ID,
			UserID:     session.UserID,
			DeviceID:   deviceID,
			Generation: session.Generation,
			Reason:     "device_mismatch",
			OccurredAt: r.settings.now(),
		})
		return nil, pkgerrors.ErrDeviceMismatch
	}

	if session.Generation != presented.Generation {
		return nil, r.replayed(ctx, session, presented.Generation)
	}

	claims := session.Claims
	if r.claims != nil {
		fresh, err := r.claims.ClaimsFor(ctx, session.UserID)
		switch {
		case errors.Is(err, pkgerrors.ErrUserNotFound):
			_ = r.revoker.revoke(context.WithoutCancel(ctx), session, models.EventSessionRevoked, "user_not_found")
			return nil, fmt.Errorf("%w: user no longer exists", pkgerrors.ErrSessionNotFound)
		case err != nil:
			return nil, err
		}
		claims = fresh
	}

	next := *session
	next.Generation = session.Generation + 1
	next.LastActivityAt = r.settings.now()
	next.Claims = claims

	pair, err = mintPair(r.codec, r.settings, &next)
	if err != nil {
		slog.Error("failed to encode token pair", "session_id", session.ID, "error", err)
		return nil, fmt.Errorf("%w: encode token pair: %v", pkgerrors.ErrInternal, err)
	}

	// Once the compare-and-swap is sent its outcome must not depend on the
	// caller going away; the store bounds it with its own timeout.
	err = r.sessions.Rotate(context.WithoutCancel(ctx), &next, session.Generation, r.settings.sessionTTL())
	switch {
	case errors.Is(err, pkgerrors.ErrGenerationMismatch):
		return nil, r.replayed(ctx, session, presented.Generation)
	case err != nil:
		slog.Error("failed to rotate session", "session_id", session.ID, "error", err)
		return nil, err
	}

	r.events.emit(models.SessionEvent{
		Type:       models.EventSessionRotated,
		SessionID:  next.ID,
		UserID:     next.UserID,
		DeviceID:   next.DeviceID,
		Generation: next.Generation,
		OccurredAt: next.LastActivityAt,
	})
	slog.Info("session rotated", "session_id", next.ID, "generation", next.Generation)
	return pair, nil
}

// replayed handles a refresh token that is no longer current: either an old
// token was presented again or a concurrent rotation won. The whole session
// is revoked in both cases.
func (r *RefreshRotator) replayed(ctx context.Context, session *models.Session, presented int64) error {
	slog.Warn("refresh token replay detected",
		"session_id", session.ID,
		"user_id", session.UserID,
		"presented_generation", presented,
		"stored_generation", session.Generation)

	if err := r.revoker.revoke(context.WithoutCancel(ctx), session, models.EventReplayDetected, "generation_mismatch"); err != nil {
		slog.Error("failed to revoke replayed session", "session_id", session.ID, "error", err)
	}
	return pkgerrors.ErrGenerationMismatch
}

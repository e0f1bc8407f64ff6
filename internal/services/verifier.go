package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/honeynil/AuthSessionService/internal/models"
	"github.com/honeynil/AuthSessionService/internal/repository"
	pkgerrors "github.com/honeynil/AuthSessionService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// TokenVerifier authorizes individual requests. Claims are trusted as of
// issuance; only the liveness of the session is checked against the store.
type TokenVerifier struct {
	sessions repository.SessionRepository
	codec    TokenCodec
	settings Settings
}

func NewTokenVerifier(sessions repository.SessionRepository, codec TokenCodec, settings Settings) *TokenVerifier {
	return &TokenVerifier{sessions: sessions, codec: codec, settings: settings}
}

func (v *TokenVerifier) Verify(ctx context.Context, accessToken string) (identity *models.Identity, err error) {
	ctx, span := startSpan(ctx, "Verify")
	defer func() { finish(span, "verify", err) }()

	claims, err := v.codec.Decode(accessToken)
	if err != nil {
		return nil, err
	}
	if claims.Kind != models.KindAccess {
		return nil, fmt.Errorf("%w: got %s token", pkgerrors.ErrTokenKindMismatch, claims.Kind)
	}
	span.SetAttributes(attribute.String("session_id", claims.SessionID))

	// store errors and timeouts deny the request
	session, err := v.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != claims.Subject {
		return nil, fmt.Errorf("%w: session owner mismatch", pkgerrors.ErrSessionNotFound)
	}

	v.touch(ctx, session)

	identity = &models.Identity{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
	}
	if claims.Identity != nil {
		identity.Claims = *claims.Identity
	}
	return identity, nil
}

// touch is best effort; losing it to a race or a cancelled request is fine.
func (v *TokenVerifier) touch(ctx context.Context, session *models.Session) {
	now := v.settings.now()
	if v.settings.TouchInterval > 0 && now.Sub(session.LastActivityAt) < v.settings.TouchInterval {
		return
	}
	if err := v.sessions.Touch(ctx, session.ID, now); err != nil && ctx.Err() == nil {
		slog.Warn("failed to update session activity", "session_id", session.ID, "error", err)
	}
}

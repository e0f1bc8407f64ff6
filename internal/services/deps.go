package service

import (
	"context"
	"time"

	"github.com/honeynil/AuthSessionService/internal/infrastructure/observability"
	"github.com/honeynil/AuthSessionService/internal/models"
	pkgerrors "github.com/honeynil/AuthSessionService/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "auth-service"

type TokenCodec interface {
	Encode(claims models.TokenClaims, kind models.TokenKind, ttl time.Duration) (string, time.Time, error)
	Decode(token string) (*models.TokenClaims, error)
}

// ClaimsSource returns the current authoritative claims of a user.
type ClaimsSource interface {
	ClaimsFor(ctx context.Context, userID string) (models.IdentityClaims, error)
}

type Settings struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// SessionTTL must be >= RefreshTTL.
	SessionTTL time.Duration
	// TouchInterval skips the last-activity write when the stored value is
	// more recent than this. Zero touches on every verification.
	TouchInterval time.Duration
	Now           func() time.Time
}

func (s Settings) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s Settings) sessionTTL() time.Duration {
	if s.SessionTTL < s.RefreshTTL {
		return s.RefreshTTL
	}
	return s.SessionTTL
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name)
}

// finish records the operation outcome on the span and in metrics.
func finish(span trace.Span, operation string, err error) {
	reason := pkgerrors.Reason(err)
	observability.AuthOperations.WithLabelValues(operation, reason).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
	}
	span.End()
}

// mintPair encodes the access and refresh tokens for the given session state.
func mintPair(codec TokenCodec, settings Settings, session *models.Session) (*models.TokenPair, error) {
	identity := session.Claims
	access := models.TokenClaims{
		SessionID:  session.ID,
		Generation: session.Generation,
		Identity:   &identity,
	}
	access.Subject = session.UserID

	accessToken, accessExp, err := codec.Encode(access, models.KindAccess, settings.AccessTTL)
	if err != nil {
		return nil, err
	}

	refresh := models.TokenClaims{
		SessionID:  session.ID,
		Generation: session.Generation,
	}
	refresh.Subject = session.UserID

	refreshToken, refreshExp, err := codec.Encode(refresh, models.KindRefresh, settings.RefreshTTL)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		SessionID:        session.ID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

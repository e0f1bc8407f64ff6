package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/honeynil/AuthSessionService/internal/models"
	pkgerrors "github.com/honeynil/AuthSessionService/pkg/errors"
)

var signingMethod = jwt.SigningMethodHS256

// Codec signs and verifies HS256 tokens with a key injected at startup.
type Codec struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

type CodecOption func(*Codec)

// WithClock overrides the time source used for iat/exp and for validation.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

func NewCodec(secret []byte, issuer, audience string, opts ...CodecOption) (*Codec, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("JWT secret not set")
	}
	c := &Codec{
		secret:   append([]byte(nil), secret...),
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encode stamps kind, issuer, audience, jti, iat and an absolute exp onto
// claims and signs them. It returns the token and its expiry.
func (c *Codec) Encode(claims models.TokenClaims, kind models.TokenKind, ttl time.Duration) (string, time.Time, error) {
	if claims.Subject == "" || claims.SessionID == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject and session id are required", pkgerrors.ErrInvalidInput)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: ttl must be positive", pkgerrors.ErrInvalidInput)
	}

	now := c.now()
	issuedAt := jwt.NewNumericDate(now)
	expiresAt := jwt.NewNumericDate(now.Add(ttl))

	claims.Kind = kind
	claims.ID = uuid.NewString()
	claims.Issuer = c.issuer
	claims.Audience = jwt.ClaimStrings{c.audience}
	claims.IssuedAt = issuedAt
	claims.ExpiresAt = expiresAt
	if kind == models.KindRefresh {
		claims.Identity = nil
	}

	token, err := jwt.NewWithClaims(signingMethod, &claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return token, expiresAt.Time, nil
}

// Decode verifies the signature before looking at any claim, then checks
// expiry (exp == now counts as expired), issuer and audience. It never returns
// claims together with an error.
func (c *Codec) Decode(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, c.keyFunc,
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}
	if !token.Valid {
		return nil, pkgerrors.ErrTokenInvalidSignature
	}

	if claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject or session id", pkgerrors.ErrTokenMalformed)
	}
	switch claims.Kind {
	case models.KindAccess, models.KindRefresh:
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", pkgerrors.ErrTokenMalformed, claims.Kind)
	}
	return claims, nil
}

func (c *Codec) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
	}
	return c.secret, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", pkgerrors.ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", pkgerrors.ErrTokenInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return pkgerrors.ErrTokenExpired
	default:
		// issuer, audience, nbf and missing required claims
		return fmt.Errorf("%w: %v", pkgerrors.ErrTokenMalformed, err)
	}
}

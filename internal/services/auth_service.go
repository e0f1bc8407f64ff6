package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/honeynil/AuthSessionService/internal/models"
	"github.com/honeynil/AuthSessionService/internal/repository"
	pkgerrors "github.com/honeynil/AuthSessionService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// dummyHash is compared against when the user does not exist so that an
// unknown username costs the same as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)

type AuthService interface {
	Register(ctx context.Context, username, password, deviceID string) (*models.TokenPair, error)
	Login(ctx context.Context, username, password, deviceID string) (*models.TokenPair, error)
	Verify(ctx context.Context, accessToken string) (*models.Identity, error)
	Refresh(ctx context.Context, refreshToken, deviceID string) (*models.TokenPair, error)
	Logout(ctx context.Context, identity *models.Identity) error
	LogoutAll(ctx context.Context, identity *models.Identity) (int, error)
	ListSessions(ctx context.Context, identity *models.Identity) ([]*models.Session, error)
	RevokeUser(ctx context.Context, userID string) (int, error)
}

type authService struct {
	users    repository.UserRepository
	issuer   *TokenIssuer
	verifier *TokenVerifier
	rotator  *RefreshRotator
	revoker  *RevocationService
}

func NewAuthService(
	users repository.UserRepository,
	issuer *TokenIssuer,
	verifier *TokenVerifier,
	rotator *RefreshRotator,
	revoker *RevocationService,
) *authService {
	return &authService{
		users:    users,
		issuer:   issuer,
		verifier: verifier,
		rotator:  rotator,
		revoker:  revoker,
	}
}

func (s *authService) Register(ctx context.Context, username, password, deviceID string) (pair *models.TokenPair, err error) {
	ctx, span := startSpan(ctx, "Register")
	defer func() { finish(span, "register", err) }()

	username = strings.TrimSpace(username)
	if username == "" || len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: username and a password of at least %d characters are required",
			pkgerrors.ErrInvalidInput, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if stderrors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, fmt.Errorf("%w: password must not exceed 72 bytes", pkgerrors.ErrInvalidInput)
	}
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		return nil, fmt.Errorf("%w: hash password: %v", pkgerrors.ErrInternal, err)
	}

	user := &models.User{Username: username, PasswordHash: string(hash)}
	if err := s.users.Create(ctx, user); err != nil {
		if stderrors.Is(err, pkgerrors.ErrUsernameExists) {
			slog.Warn("username already exists", "username", username)
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int64("user_id", user.ID))
	slog.Info("user registered", "user_id", user.ID, "username", username)

	return s.issuer.Issue(ctx, userKey(user.ID), user.Claims(), deviceID)
}

func (s *authService) Login(ctx context.Context, username, password, deviceID string) (pair *models.TokenPair, err error) {
	ctx, span := startSpan(ctx, "Login")
	defer func() { finish(span, "login", err) }()

	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
			slog.Error("failed to load user", "username", username, "error", err)
			return nil, err
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		slog.Warn("login for unknown user", "username", username)
		return nil, pkgerrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Warn("invalid password", "user_id", user.ID)
		return nil, pkgerrors.ErrInvalidCredentials
	}
	span.SetAttributes(attribute.Int64("user_id", user.ID))

	return s.issuer.Issue(ctx, userKey(user.ID), user.Claims(), deviceID)
}

func (s *authService) Verify(ctx context.Context, accessToken string) (*models.Identity, error) {
	return s.verifier.Verify(ctx, accessToken)
}

func (s *authService) Refresh(ctx context.Context, refreshToken, deviceID string) (*models.TokenPair, error) {
	return s.rotator.Rotate(ctx, refreshToken, deviceID)
}

func (s *authService) Logout(ctx context.Context, identity *models.Identity) error {
	if identity == nil {
		return pkgerrors.ErrSessionNotFound
	}
	return s.revoker.RevokeSession(ctx, identity.SessionID)
}

func (s *authService) LogoutAll(ctx context.Context, identity *models.Identity) (int, error) {
	if identity == nil {
		return 0, pkgerrors.ErrSessionNotFound
	}
	return s.revoker.RevokeAllForUser(ctx, identity.UserID)
}

func (s *authService) ListSessions(ctx context.Context, identity *models.Identity) ([]*models.Session, error) {
	if identity == nil {
		return nil, pkgerrors.ErrSessionNotFound
	}
	return s.revoker.ListSessions(ctx, identity.UserID)
}

// RevokeUser is the administrative kill switch for every session of a user.
func (s *authService) RevokeUser(ctx context.Context, userID string) (int, error) {
	if _, err := parseUserKey(userID); err != nil {
		return 0, err
	}
	return s.revoker.RevokeAllForUser(ctx, userID)
}

// UserClaims reads current claims from the user repository.
type UserClaims struct {
	users repository.UserRepository
}

func NewUserClaims(users repository.UserRepository) *UserClaims {
	return &UserClaims{users: users}
}

func (c *UserClaims) ClaimsFor(ctx context.Context, userID string) (models.IdentityClaims, error) {
	id, err := parseUserKey(userID)
	if err != nil {
		return models.IdentityClaims{}, err
	}
	user, err := c.users.GetByID(ctx, id)
	if err != nil {
		return models.IdentityClaims{}, err
	}
	return user.Claims(), nil
}

func userKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseUserKey(userID string) (int64, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad user id %q", pkgerrors.ErrInvalidInput, userID)
	}
	return id, nil
}

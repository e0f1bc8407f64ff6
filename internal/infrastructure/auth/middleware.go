package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/honeynil/AuthSessionService/internal/infrastructure/observability"
	"github.com/honeynil/AuthSessionService/internal/models"
	pkgerrors "github.com/honeynil/AuthSessionService/pkg/errors"
)

type identityKey struct{}

// TokenVerifier validates an access token against the session store.
type TokenVerifier interface {
	Verify(ctx context.Context, accessToken string) (*models.Identity, error)
}

func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := observability.Logger(r.Context())

			tokenStr, ok := BearerToken(r)
			if !ok {
				logger.Warn("missing or invalid authorization header")
				WriteUnauthorized(w)
				return
			}

			identity, err := verifier.Verify(r.Context(), tokenStr)
			if err != nil {
				// the reason never reaches the client
				logger.Warn("access denied", "reason", pkgerrors.Reason(err), "error", err)
				WriteUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, identity)
			ctx = observability.ContextWithLogger(ctx, logger.With(
				"user_id", identity.UserID,
				"session_id", identity.SessionID,
			))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin must run behind AuthMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			WriteUnauthorized(w)
			return
		}
		if !identity.Claims.IsAdmin {
			observability.Logger(r.Context()).Warn("admin route denied")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": pkgerrors.ErrForbidden.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func IdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*models.Identity)
	return identity, ok && identity != nil
}

// ContextWithIdentity is used by tests and internal callers that already hold
// a verified identity.
func ContextWithIdentity(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func BearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// WriteUnauthorized writes the single response used for every token or
// session failure.
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

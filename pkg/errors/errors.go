package errors

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrNilUser            = errors.New("user is nil")
	ErrNilEvent           = errors.New("event is nil")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrUsernameExists     = fmt.Errorf("username already exists")
	ErrInternal           = fmt.Errorf("internal error")
	ErrInvalidInput       = fmt.Errorf("invalid input")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("too many requests")
)

// Token and session failures. Callers outside the auth subsystem only ever see
// these collapsed into a single "unauthorized" outcome, see IsUnauthorized.
var (
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenInvalidSignature = errors.New("token signature invalid")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenKindMismatch     = errors.New("token kind mismatch")
	ErrSessionNotFound       = errors.New("session not found")
	ErrGenerationMismatch    = errors.New("refresh token generation mismatch")
	ErrDeviceMismatch        = errors.New("device binding mismatch")
	ErrStoreUnavailable      = errors.New("session store unavailable")
)

var unauthorized = []error{
	ErrTokenMalformed,
	ErrTokenInvalidSignature,
	ErrTokenExpired,
	ErrTokenKindMismatch,
	ErrSessionNotFound,
	ErrGenerationMismatch,
	ErrDeviceMismatch,
	ErrStoreUnavailable,
	ErrInvalidCredentials,
}

// IsUnauthorized reports whether err belongs to the token/session taxonomy and
// must be answered with a uniform "please re-authenticate".
func IsUnauthorized(err error) bool {
	for _, target := range unauthorized {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Reason returns a short label for err for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTokenMalformed):
		return "token_malformed"
	case errors.Is(err, ErrTokenInvalidSignature):
		return "token_invalid_signature"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenKindMismatch):
		return "token_kind_mismatch"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrGenerationMismatch):
		return "generation_mismatch"
	case errors.Is(err, ErrDeviceMismatch):
		return "device_mismatch"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	default:
		return "error"
	}
}

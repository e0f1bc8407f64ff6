package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/honeynil/AuthSessionService/internal/infrastructure/auth"
	"github.com/honeynil/AuthSessionService/internal/infrastructure/observability"
	"github.com/honeynil/AuthSessionService/internal/models"
	service "github.com/honeynil/AuthSessionService/internal/services"
	pkgerrors "github.com/honeynil/AuthSessionService/pkg/errors"
)

// RateLimiter counts attempts per client in a shared window.
type RateLimiter interface {
	Allow(ctx context.Context, clientID string) (bool, error)
}

// AuditLog returns the recorded session events of a user, newest first.
type AuditLog interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]models.SessionEvent, error)
}

type Handler struct {
	service        service.AuthService
	limiter        RateLimiter
	audit          AuditLog
	trustedProxies []netip.Prefix
}

// limiter and audit may be nil. X-Forwarded-For is only read when the direct
// peer is one of trustedProxies.
func NewHandler(s service.AuthService, limiter RateLimiter, audit AuditLog, trustedProxies []netip.Prefix) *Handler {
	return &Handler{service: s, limiter: limiter, audit: audit, trustedProxies: trustedProxies}
}

type errorResponse struct {
	Error string `json:"error"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	DeviceID     string `json:"device_id"`
}

type sessionResponse struct {
	SessionID      string    `json:"session_id"`
	DeviceID       string    `json:"device_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Current        bool      `json:"current"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeServiceError maps service errors to responses. Every token, session
// or credential failure is collapsed into the same 401.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.Logger(r.Context())
	switch {
	case pkgerrors.IsUnauthorized(err):
		logger.Warn("request unauthorized", "reason", pkgerrors.Reason(err), "error", err)
		auth.WriteUnauthorized(w)
	case errors.Is(err, pkgerrors.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, pkgerrors.ErrUsernameExists):
		h.writeError(w, http.StatusConflict, pkgerrors.ErrUsernameExists)
	default:
		logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, pkgerrors.ErrInternal)
	}
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/register", h.rateLimited(h.Register)).Methods("POST")
	r.HandleFunc("/login", h.rateLimited(h.Login)).Methods("POST")
	r.HandleFunc("/refresh", h.rateLimited(h.Refresh)).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/logout", h.Logout).Methods("POST")
	r.HandleFunc("/logout/all", h.LogoutAll).Methods("POST")
	r.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	r.HandleFunc("/sessions/events", h.SessionEvents).Methods("GET")
	r.HandleFunc("/me", h.Me).Methods("GET")
}

func (h *Handler) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/users/{id}/revoke", h.RevokeUser).Methods("POST")
}

// rateLimited fails open: an unavailable limiter must not lock every user out.
func (h *Handler) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil {
			next(w, r)
			return
		}
		allowed, err := h.limiter.Allow(r.Context(), h.clientIP(r))
		if err != nil {
			observability.Logger(r.Context()).Warn("rate limiter unavailable", "error", err)
			next(w, r)
			return
		}
		if !allowed {
			h.writeError(w, http.StatusTooManyRequests, pkgerrors.ErrRateLimited)
			return
		}
		next(w, r)
	}
}

// clientIP returns the address the rate limiter counts against: the direct
// peer, or the right-most untrusted X-Forwarded-For hop when the peer is a
// trusted proxy.
func (h *Handler) clientIP(r *http.Request) string {
	peer := remoteAddr(r)
	if !h.trusted(peer) {
		return peer
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		addr, err := netip.ParseAddr(hop)
		if err != nil {
			// a garbled hop cannot be attributed further
			return peer
		}
		if !h.trustedAddr(addr.Unmap()) {
			return addr.Unmap().String()
		}
	}
	return peer
}

func (h *Handler) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return h.trustedAddr(addr.Unmap())
}

func (h *Handler) trustedAddr(addr netip.Addr) bool {
	for _, prefix := range h.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, pkgerrors.ErrInvalidInput)
		return
	}

	pair, err := h.service.Register(r.Context(), req.Username, req.Password, req.DeviceID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, pkgerrors.ErrInvalidInput)
		return
	}

	pair, err := h.service.Login(r.Context(), req.Username, req.Password, req.DeviceID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		h.writeError(w, http.StatusBadRequest, pkgerrors.ErrInvalidInput)
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken, req.DeviceID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		auth.WriteUnauthorized(w)
		return
	}
	if err := h.service.Logout(r.Context(), identity); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		auth.WriteUnauthorized(w)
		return
	}
	removed, err := h.service.LogoutAll(r.Context(), identity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": removed})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		auth.WriteUnauthorized(w)
		return
	}
	sessions, err := h.service.ListSessions(r.Context(), identity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponses(sessions, identity.SessionID))
}

func toSessionResponses(sessions []*models.Session, current string) []sessionResponse {
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			SessionID:      s.ID,
			DeviceID:       s.DeviceID,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
			Current:        s.ID == current,
		})
	}
	return out
}

func (h *Handler) SessionEvents(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		auth.WriteUnauthorized(w)
		return
	}
	if h.audit == nil {
		h.writeError(w, http.StatusNotFound, errors.New("audit log disabled"))
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			h.writeError(w, http.StatusBadRequest, pkgerrors.ErrInvalidInput)
			return
		}
		limit = n
	}

	events, err := h.audit.ListByUser(r.Context(), identity.UserID, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []models.SessionEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		auth.WriteUnauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     identity.UserID,
		"session_id":  identity.SessionID,
		"username":    identity.Claims.Username,
		"is_admin":    identity.Claims.IsAdmin,
		"is_verified": identity.Claims.IsVerified,
	})
}

func (h *Handler) RevokeUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	removed, err := h.service.RevokeUser(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	observability.Logger(r.Context()).Info("admin revoked user sessions", "target_user_id", userID, "count", removed)
	writeJSON(w, http.StatusOK, map[string]int{"revoked": removed})
}

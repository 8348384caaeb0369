package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/utafrali/storefront-session/internal/domain"
	"github.com/utafrali/storefront-session/internal/session"
	"github.com/utafrali/storefront-session/internal/wishlist"
	"github.com/utafrali/storefront-session/pkg/httputil"
	"github.com/utafrali/storefront-session/pkg/validator"
)

// SessionManager is the session surface exposed over HTTP.
// session.Manager satisfies it.
type SessionManager interface {
	Snapshot() domain.Session
	Login(ctx context.Context, access, refresh string) (domain.Session, error)
	Logout(ctx context.Context) (domain.Session, error)
	RetryFetch(ctx context.Context) error
	Wishlist() *wishlist.Store
}

// SessionHandler handles HTTP requests for session endpoints.
type SessionHandler struct {
	sessions SessionManager
	logger   *slog.Logger
}

// NewSessionHandler creates a new session HTTP handler.
func NewSessionHandler(sessions SessionManager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

// LoginRequest is the JSON request body for handing over issued tokens.
type LoginRequest struct {
	Access  string `json:"access" validate:"required"`
	Refresh string `json:"refresh" validate:"required"`
}

// SessionResponse describes the current session. Token values are never
// returned.
type SessionResponse struct {
	State         domain.SessionState `json:"state"`
	Authenticated bool                `json:"authenticated"`
	Subject       string              `json:"subject,omitempty"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
	WishlistMode  wishlist.Mode       `json:"wishlist_mode"`
}

func (h *SessionHandler) toResponse(s domain.Session) SessionResponse {
	resp := SessionResponse{
		State:         s.State,
		Authenticated: s.Authenticated(),
		WishlistMode:  h.sessions.Wishlist().Mode(),
	}
	if s.Authenticated() {
		resp.Subject = s.Credential.Subject
		if !s.Credential.ExpiresAt.IsZero() {
			exp := s.Credential.ExpiresAt.UTC()
			resp.ExpiresAt = &exp
		}
	}
	return resp
}

// Get handles GET /api/v1/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.toResponse(h.sessions.Snapshot())})
}

// Login handles POST /api/v1/session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	s, err := h.sessions.Login(r.Context(), req.Access, req.Refresh)
	if err != nil && !errors.Is(err, session.ErrWishlistLoad) {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "signed in without wishlist", slog.String("error", err.Error()))
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.toResponse(s)})
}

// Logout handles POST /api/v1/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Logout(r.Context())
	if err != nil && !errors.Is(err, session.ErrWishlistLoad) {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "signed out without wishlist", slog.String("error", err.Error()))
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.toResponse(s)})
}

// ReloadWishlist handles POST /api/v1/session/wishlist/reload
func (h *SessionHandler) ReloadWishlist(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.RetryFetch(r.Context()); err != nil {
		if errors.Is(err, wishlist.ErrStaleFetch) {
			httputil.WriteJSON(w, http.StatusConflict, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "STALE_FETCH", Message: "wishlist changed during reload"},
			})
			return
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: listResponse(h.sessions.Wishlist())})
}

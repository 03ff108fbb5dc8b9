// Package handler exposes the browser-facing gateway endpoints: upstream
// login, logout, session status and the mediated API proxy.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "quentry-gateway/pkg/domain-errors"
	"quentry-gateway/pkg/platform/httputil"
	"quentry-gateway/pkg/requestcontext"

	"quentry-gateway/internal/audit"
	"quentry-gateway/internal/platform/metrics"
	"quentry-gateway/internal/session"
	"quentry-gateway/internal/session/models"
)

// SessionService is the slice of the session manager the handler needs.
type SessionService interface {
	EstablishUpstream(ctx context.Context, subject, username, password string) (*models.UpstreamSession, error)
	GetUpstream(ctx context.Context, subject string) (*models.UpstreamSession, error)
	RevokeUpstream(ctx context.Context, subject string) error
}

// Forwarder relays an API request to the upstream service.
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, subject string)
}

// Handler handles the /quentry endpoints.
type Handler struct {
	logger   *slog.Logger
	sessions SessionService
	forward  Forwarder
	metrics  *metrics.Metrics
	auditor  *audit.Publisher
	clock    func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(h *Handler) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// New creates the gateway Handler.
func New(
	sessions SessionService,
	forward Forwarder,
	logger *slog.Logger,
	m *metrics.Metrics,
	auditor *audit.Publisher,
	opts ...Option,
) *Handler {
	h := &Handler{
		logger:   logger,
		sessions: sessions,
		forward:  forward,
		metrics:  m,
		auditor:  auditor,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register mounts the /quentry routes behind the identity middleware. Every
// endpoint here requires an established identity session.
func (h *Handler) Register(r chi.Router, requireIdentity func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(requireIdentity)
		r.Post("/quentry/login", h.handleLogin)
		r.Post("/quentry/logout", h.handleLogout)
		r.Get("/quentry/status", h.handleStatus)
		r.Handle("/quentry/api/*", http.HandlerFunc(h.handleProxy))
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userInfo struct {
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"userEmail,omitempty"`
	ID       string `json:"userSystemId,omitempty"`
}

type loginResponse struct {
	Success    bool              `json:"success"`
	User       userInfo          `json:"user"`
	URLsLookup map[string]string `json:"urlsLookup,omitempty"`
}

type statusResponse struct {
	Authenticated bool      `json:"authenticated"`
	ExpiresIn     int64     `json:"expiresIn,omitempty"`
	User          *userInfo `json:"user,omitempty"`
}

// handleLogin exchanges user credentials for an upstream session bound to the
// caller's identity subject. Credential rejections are normalized so the
// response never leaks which part of the credentials was wrong.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := requestcontext.Subject(ctx)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "username and password are required"))
		return
	}

	upstreamSession, err := h.sessions.EstablishUpstream(ctx, subject, req.Username, req.Password)
	if err != nil {
		if session.IsAuthFailure(err) {
			h.metrics.LoginsTotal.WithLabelValues("failure").Inc()
			h.logger.InfoContext(ctx, "upstream login rejected",
				"request_id", requestcontext.RequestID(ctx),
				"subject", subject,
				"error", err,
			)
			_ = h.auditor.Emit(ctx, audit.Event{
				Subject: subject,
				Action:  audit.ActionLoginFailed,
				Reason:  err.Error(),
			})
			httputil.WriteError(w, dErrors.New(dErrors.CodeUpstreamAuthFailed, "Invalid credentials"))
			return
		}

		h.metrics.LoginsTotal.WithLabelValues("error").Inc()
		h.logger.ErrorContext(ctx, "upstream login failed",
			"request_id", requestcontext.RequestID(ctx),
			"subject", subject,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.metrics.LoginsTotal.WithLabelValues("success").Inc()
	_ = h.auditor.Emit(ctx, audit.Event{
		Subject: subject,
		Action:  audit.ActionLoginSucceeded,
	})

	httputil.WriteJSON(w, http.StatusOK, loginResponse{
		Success:    true,
		User:       userInfoFrom(upstreamSession),
		URLsLookup: upstreamSession.URLsLookup,
	})
}

// handleLogout drops the upstream session only. The identity session and the
// browser cookie stay valid, so status flips to unauthenticated without
// forcing a new identity login.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := requestcontext.Subject(ctx)

	if err := h.sessions.RevokeUpstream(ctx, subject); err != nil {
		h.logger.WarnContext(ctx, "upstream logout cleanup failed",
			"request_id", requestcontext.RequestID(ctx),
			"subject", subject,
			"error", err,
		)
	}
	_ = h.auditor.Emit(ctx, audit.Event{
		Subject: subject,
		Action:  audit.ActionLogout,
	})

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleStatus reports whether the subject holds a live upstream session.
// Absence and expiry are ordinary answers, not errors.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := requestcontext.Subject(ctx)

	upstreamSession, err := h.sessions.GetUpstream(ctx, subject)
	if err != nil {
		httputil.WriteJSON(w, http.StatusOK, statusResponse{Authenticated: false})
		return
	}

	user := userInfoFrom(upstreamSession)
	httputil.WriteJSON(w, http.StatusOK, statusResponse{
		Authenticated: true,
		ExpiresIn:     int64(upstreamSession.RemainingAt(h.clock()).Seconds()),
		User:          &user,
	})
}

func (h *Handler) handleProxy(w http.ResponseWriter, r *http.Request) {
	h.forward.Forward(w, r, requestcontext.Subject(r.Context()))
}

func userInfoFrom(s *models.UpstreamSession) userInfo {
	return userInfo{
		Username: s.UserName,
		FullName: s.FullName,
		Email:    s.UserEmail,
		ID:       s.UserSystemID,
	}
}

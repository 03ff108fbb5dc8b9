// Package handler exposes the identity-provider login flow: the redirect to
// the provider's authorization endpoint and the callback that turns the
// returned code into a server-side identity session plus a browser cookie.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	dErrors "quentry-gateway/pkg/domain-errors"
	"quentry-gateway/pkg/platform/httputil"
	"quentry-gateway/pkg/requestcontext"

	"quentry-gateway/internal/audit"
	"quentry-gateway/internal/identity"
	"quentry-gateway/internal/session/models"
)

const (
	stateCookie = "qgw_oidc_state"
	nonceCookie = "qgw_oidc_nonce"

	// How long the browser has to complete the provider round trip.
	flowTTL = 10 * time.Minute
)

// Provider is the slice of the identity provider the handler needs.
type Provider interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (identity.Claims, identity.TokenBundle, error)
}

// SessionWriter persists and revokes identity sessions.
type SessionWriter interface {
	EstablishIdentity(ctx context.Context, claims identity.Claims, bundle identity.TokenBundle) (*models.IdentitySession, error)
	Revoke(ctx context.Context, subject string) error
}

// CookieIssuer manages the signed browser session cookie.
type CookieIssuer interface {
	Issue(w http.ResponseWriter, subject string) error
	Subject(r *http.Request) (string, error)
	Clear(w http.ResponseWriter)
}

// Handler handles /auth endpoints.
type Handler struct {
	logger        *slog.Logger
	provider      Provider
	sessions      SessionWriter
	cookies       CookieIssuer
	auditor       *audit.Publisher
	secure        bool
	afterLoginURL string
}

// New creates the identity Handler. secure controls the Secure attribute on
// the short-lived flow cookies; afterLoginURL is where the browser lands
// after a completed login.
func New(
	provider Provider,
	sessions SessionWriter,
	cookies CookieIssuer,
	logger *slog.Logger,
	auditor *audit.Publisher,
	secure bool,
	afterLoginURL string,
) *Handler {
	return &Handler{
		logger:        logger,
		provider:      provider,
		sessions:      sessions,
		cookies:       cookies,
		auditor:       auditor,
		secure:        secure,
		afterLoginURL: afterLoginURL,
	}
}

// Register mounts the /auth routes. These are the only unauthenticated
// endpoints besides health and metrics.
func (h *Handler) Register(r chi.Router) {
	r.Get("/auth/login", h.handleLogin)
	r.Get("/auth/callback", h.handleCallback)
	r.Post("/auth/logout", h.handleLogout)
}

// handleLogin starts the authorization code flow. State and nonce are bound
// to the browser via short-lived cookies so the callback can verify both.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	nonce := uuid.NewString()

	h.setFlowCookie(w, stateCookie, state)
	h.setFlowCookie(w, nonceCookie, nonce)

	http.Redirect(w, r, h.provider.AuthCodeURL(state, nonce), http.StatusFound)
}

// handleCallback completes the flow: verifies state, exchanges the code,
// persists the identity session and hands the browser its session cookie.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.WarnContext(ctx, "identity provider returned error",
			"request_id", requestcontext.RequestID(ctx),
			"error", errParam,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "identity provider rejected the login"))
		return
	}

	stateCk, err := r.Cookie(stateCookie)
	if err != nil || stateCk.Value == "" || stateCk.Value != r.URL.Query().Get("state") {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "state mismatch"))
		return
	}
	nonceCk, err := r.Cookie(nonceCookie)
	if err != nil || nonceCk.Value == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "login flow expired, start again"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing authorization code"))
		return
	}

	claims, bundle, err := h.provider.Exchange(ctx, code, nonceCk.Value)
	if err != nil {
		h.logger.WarnContext(ctx, "authorization code exchange failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "login could not be completed"))
		return
	}

	if _, err := h.sessions.EstablishIdentity(ctx, claims, bundle); err != nil {
		h.logger.ErrorContext(ctx, "failed to persist identity session",
			"request_id", requestcontext.RequestID(ctx),
			"subject", claims.Subject,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	if err := h.cookies.Issue(w, claims.Subject); err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "could not issue session cookie", err))
		return
	}

	h.clearFlowCookie(w, stateCookie)
	h.clearFlowCookie(w, nonceCookie)

	_ = h.auditor.Emit(ctx, audit.Event{
		Subject: claims.Subject,
		Action:  audit.ActionIdentityEstablished,
	})
	h.logger.InfoContext(ctx, "identity session established",
		"request_id", requestcontext.RequestID(ctx),
		"subject", claims.Subject,
	)

	http.Redirect(w, r, h.afterLoginURL, http.StatusFound)
}

// handleLogout tears down everything for the caller: both server-side
// sessions and the browser cookie. Idempotent, also for anonymous callers.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if subject, err := h.cookies.Subject(r); err == nil {
		if err := h.sessions.Revoke(ctx, subject); err != nil {
			h.logger.WarnContext(ctx, "session revocation failed",
				"request_id", requestcontext.RequestID(ctx),
				"subject", subject,
				"error", err,
			)
		}
		_ = h.auditor.Emit(ctx, audit.Event{
			Subject: subject,
			Action:  audit.ActionSessionRevoked,
		})
	}

	h.cookies.Clear(w)
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) setFlowCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth",
		MaxAge:   int(flowTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearFlowCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

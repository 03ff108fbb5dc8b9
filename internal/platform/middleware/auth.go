package middleware

import (
	"context"
	"log/slog"
	"net/http"

	dErrors "quentry-gateway/pkg/domain-errors"
	"quentry-gateway/pkg/platform/httputil"
	"quentry-gateway/pkg/requestcontext"

	"quentry-gateway/internal/audit"
	"quentry-gateway/internal/platform/metrics"
	"quentry-gateway/internal/session/models"
)

// CookieVerifier extracts a verified subject id from the request cookie.
type CookieVerifier interface {
	Subject(r *http.Request) (string, error)
}

// IdentityManager is the slice of the session manager the middleware needs.
type IdentityManager interface {
	GetIdentity(ctx context.Context, subject string) (*models.IdentitySession, error)
	ValidateIdentity(session *models.IdentitySession) models.IdentityStatus
	RefreshIdentity(ctx context.Context, session *models.IdentitySession) (*models.IdentitySession, error)
	Revoke(ctx context.Context, subject string) error
}

// RequireIdentity gates handlers behind a live identity session. A session
// nearing expiry is refreshed opportunistically; an already-expired one gets a
// single refresh attempt and is destroyed when that fails, forcing a fresh
// login.
func RequireIdentity(cookies CookieVerifier, sessions IdentityManager, logger *slog.Logger, m *metrics.Metrics, auditor *audit.Publisher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			subject, err := cookies.Subject(r)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}

			identity, err := sessions.GetIdentity(ctx, subject)
			if err != nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}

			switch sessions.ValidateIdentity(identity) {
			case models.IdentityExpiringSoon:
				if _, err := sessions.RefreshIdentity(ctx, identity); err != nil {
					// The current token is still good; log and keep serving.
					m.SessionRefreshes.WithLabelValues("failure").Inc()
					logger.WarnContext(ctx, "opportunistic identity refresh failed",
						"request_id", requestcontext.RequestID(ctx),
						"subject", subject,
						"error", err,
					)
				} else {
					m.SessionRefreshes.WithLabelValues("success").Inc()
					_ = auditor.Emit(ctx, audit.Event{Subject: subject, Action: audit.ActionIdentityRefreshed})
				}
			case models.IdentityExpired:
				if _, err := sessions.RefreshIdentity(ctx, identity); err != nil {
					m.SessionRefreshes.WithLabelValues("failure").Inc()
					logger.InfoContext(ctx, "identity session expired and refresh failed, revoking",
						"request_id", requestcontext.RequestID(ctx),
						"subject", subject,
					)
					if revokeErr := sessions.Revoke(ctx, subject); revokeErr != nil {
						logger.ErrorContext(ctx, "failed to revoke expired session",
							"subject", subject,
							"error", revokeErr,
						)
					}
					_ = auditor.Emit(ctx, audit.Event{
						Subject: subject,
						Action:  audit.ActionSessionRevoked,
						Reason:  "refresh_failed",
					})
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "session expired, log in again"))
					return
				}
				m.SessionRefreshes.WithLabelValues("success").Inc()
				_ = auditor.Emit(ctx, audit.Event{Subject: subject, Action: audit.ActionIdentityRefreshed})
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithSubject(ctx, subject)))
		})
	}
}

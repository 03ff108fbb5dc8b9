// Package upstream exchanges user credentials for an upstream-service session.
// It is invoked only on explicit login; the resulting session is consumed by
// the session manager.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	dErrors "quentry-gateway/pkg/domain-errors"

	"quentry-gateway/internal/session/models"
)

// SessionTTL is the fixed lifetime of an upstream session from issuance. The
// upstream payload carries no documented expiry of its own, so the fixed TTL
// policy is authoritative.
const SessionTTL = 3600 * time.Second

// RequiredCookie is the fixed cookie value the upstream expects on every
// call, both on authentication and on proxied requests.
const RequiredCookie = "portal-origin=gateway"

// Fixed headers the upstream authentication endpoint requires on every call.
const (
	headerClientID      = "X-Client-Id"
	headerClientVersion = "X-Client-Version"
	clientID            = "quentry-gateway"
	clientVersion       = "1.0"
	userAgent           = "quentry-gateway/1.0"
)

// AuthFailedError means the upstream rejected the credentials or returned no
// bearer token. It carries the upstream status code (0 when no response was
// received) and a reason for server-side logging; clients only ever see a
// normalized "invalid credentials" message.
type AuthFailedError struct {
	StatusCode int
	Reason     string
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf("upstream authentication failed (status %d): %s", e.StatusCode, e.Reason)
}

// Authenticator posts credentials to the upstream authentication endpoint and
// normalizes the response into an UpstreamSession.
type Authenticator struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	clock    func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithHTTPClient overrides the outbound client (tests, custom transports).
func WithHTTPClient(client *http.Client) Option {
	return func(a *Authenticator) {
		if client != nil {
			a.client = client
		}
	}
}

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(a *Authenticator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// New constructs an authenticator for the given endpoint. The default client
// carries a bounded timeout so a hung upstream cannot pin request handlers.
func New(endpoint string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Authenticator {
	a := &Authenticator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Authenticate exchanges username/password for an upstream session.
//
// A payload without a bearer token is always an authentication failure, no
// matter the HTTP status. Transport errors surface as upstream_unreachable so
// callers can tell "fix your credentials" from "try again later".
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*models.UpstreamSession, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerClientID, clientID)
	req.Header.Set(headerClientVersion, clientVersion)
	req.Header.Set("Cookie", RequiredCookie)
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeUpstreamUnreachable, "upstream authentication endpoint unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeUpstreamUnreachable, "read upstream auth response", err)
	}

	p, err := extractPayload(raw)
	if err != nil {
		return nil, &AuthFailedError{StatusCode: resp.StatusCode, Reason: err.Error()}
	}
	if p.Token == "" {
		return nil, &AuthFailedError{StatusCode: resp.StatusCode, Reason: "no token in auth response"}
	}

	session := &models.UpstreamSession{
		Token:               p.Token,
		UserName:            p.UserName,
		FullName:            p.FullName,
		UserEmail:           p.UserEmail,
		UserSystemID:        string(p.UserSystemID),
		URLsLookup:          p.URLsLookup,
		Region:              p.Region,
		PortalDefaultURL:    p.PortalDefaultURL,
		UserSpecialities:    p.UserSpecialities,
		UserSystemRoleTypes: p.UserSystemRoleTypes,
		Expires:             a.clock().Add(SessionTTL).UnixMilli(),
	}

	a.logger.DebugContext(ctx, "upstream authentication succeeded",
		"upstream_user", session.UserName,
		"region", session.Region,
	)
	return session, nil
}

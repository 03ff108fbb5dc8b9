// Package session holds the dual-session manager: the one component that
// knows about both credential lifecycles, identity-provider and
// upstream-service, keyed by the same subject id. The session
// store owns the serialized bytes; this package owns the typed view and all
// mutation logic.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dErrors "quentry-gateway/pkg/domain-errors"
	"quentry-gateway/pkg/platform/sentinel"

	"quentry-gateway/internal/identity"
	"quentry-gateway/internal/session/models"
	"quentry-gateway/internal/sessionstore"
	"quentry-gateway/internal/upstream"
)

const (
	identityKeyPrefix = "identity:"
	upstreamKeyPrefix = "upstream:"

	// RefreshLookahead is how long before identity expiry a session counts
	// as expiring soon.
	RefreshLookahead = 300 * time.Second

	// identityRecordTTL is the store backstop for identity records. It must
	// outlive the access token so a refresh token can still be found after
	// the access token lapses; the browser cookie bounds the real lifetime.
	identityRecordTTL = 24 * time.Hour
)

// Refresher exchanges a refresh token for a new token bundle.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (identity.TokenBundle, error)
}

// Authenticator exchanges user credentials for an upstream session.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*models.UpstreamSession, error)
}

// Manager bridges the two session lifecycles.
type Manager struct {
	store     sessionstore.Store
	refresher Refresher
	upstream  Authenticator
	logger    *slog.Logger
	clock     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager constructs the dual-session manager.
func NewManager(store sessionstore.Store, refresher Refresher, authenticator Authenticator, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		refresher: refresher,
		upstream:  authenticator,
		logger:    logger,
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// EstablishIdentity constructs and persists an identity session from
// validated claims and a token bundle. No side effects beyond persistence.
func (m *Manager) EstablishIdentity(ctx context.Context, claims identity.Claims, bundle identity.TokenBundle) (*models.IdentitySession, error) {
	session := &models.IdentitySession{
		Subject:      claims.Subject,
		Name:         claims.Name,
		Email:        claims.Email,
		Roles:        claims.Roles,
		AccessToken:  bundle.AccessToken,
		RefreshToken: bundle.RefreshToken,
		ExpiresAt:    bundle.Expiry,
	}
	if err := m.putIdentity(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetIdentity loads the identity session for a subject.
// Returns sentinel.ErrNotFound when no session exists.
func (m *Manager) GetIdentity(ctx context.Context, subject string) (*models.IdentitySession, error) {
	raw, err := m.store.Get(ctx, identityKeyPrefix+subject)
	if err != nil {
		return nil, err
	}
	var session models.IdentitySession
	if err := json.Unmarshal(raw, &session); err != nil {
		// A corrupt record is as good as absent; drop it.
		_ = m.store.Delete(ctx, identityKeyPrefix+subject)
		return nil, sentinel.ErrNotFound
	}
	return &session, nil
}

// ValidateIdentity compares the stored expiry against the current time.
func (m *Manager) ValidateIdentity(session *models.IdentitySession) models.IdentityStatus {
	now := m.clock()
	switch {
	case !now.Before(session.ExpiresAt):
		return models.IdentityExpired
	case session.ExpiresAt.Sub(now) < RefreshLookahead:
		return models.IdentityExpiringSoon
	default:
		return models.IdentityValid
	}
}

// RefreshIdentity exchanges the session's refresh token for a new bundle and
// persists the updated session in place. On failure the caller must destroy
// the session and force a re-login; the manager never retries.
func (m *Manager) RefreshIdentity(ctx context.Context, session *models.IdentitySession) (*models.IdentitySession, error) {
	if session.RefreshToken == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "session cannot be refreshed")
	}

	bundle, err := m.refresher.Refresh(ctx, session.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh identity for %q: %w", session.Subject, err)
	}

	session.AccessToken = bundle.AccessToken
	session.RefreshToken = bundle.RefreshToken
	session.ExpiresAt = bundle.Expiry
	if err := m.putIdentity(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// EstablishUpstream authenticates against the upstream service and persists
// the resulting session keyed by subject with a TTL equal to its remaining
// lifetime.
//
// Concurrent logins for one subject race by design: the last write to the
// store wins, matching the store's own last-write-wins semantics.
func (m *Manager) EstablishUpstream(ctx context.Context, subject, username, password string) (*models.UpstreamSession, error) {
	session, err := m.upstream.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode upstream session: %w", err)
	}

	ttl := session.RemainingAt(m.clock())
	if err := m.store.Set(ctx, upstreamKeyPrefix+subject, raw, ttl); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeStoreUnavailable, "could not persist session", err)
	}
	return session, nil
}

// GetUpstream loads the upstream session for a subject. The expires instant
// inside the payload is authoritative: a record past it is deleted and
// reported as sentinel.ErrExpired even if the store's TTL has not fired yet
// (clock skew tolerance). Absence is sentinel.ErrNotFound.
func (m *Manager) GetUpstream(ctx context.Context, subject string) (*models.UpstreamSession, error) {
	key := upstreamKeyPrefix + subject
	raw, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var session models.UpstreamSession
	if err := json.Unmarshal(raw, &session); err != nil {
		_ = m.store.Delete(ctx, key)
		return nil, sentinel.ErrNotFound
	}

	if session.ExpiredAt(m.clock()) {
		if err := m.store.Delete(ctx, key); err != nil {
			m.logger.WarnContext(ctx, "failed to clean up expired upstream session",
				"subject", subject,
				"error", err,
			)
		}
		return nil, sentinel.ErrExpired
	}
	return &session, nil
}

// Revoke deletes both the identity and upstream records for a subject.
// Idempotent: revoking an absent subject is a no-op.
func (m *Manager) Revoke(ctx context.Context, subject string) error {
	if err := m.store.Delete(ctx, identityKeyPrefix+subject); err != nil {
		return err
	}
	return m.store.Delete(ctx, upstreamKeyPrefix+subject)
}

// RevokeUpstream deletes only the upstream record, keeping the identity
// session alive (logout from the upstream service, not from the gateway).
func (m *Manager) RevokeUpstream(ctx context.Context, subject string) error {
	return m.store.Delete(ctx, upstreamKeyPrefix+subject)
}

func (m *Manager) putIdentity(ctx context.Context, session *models.IdentitySession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode identity session: %w", err)
	}
	if err := m.store.Set(ctx, identityKeyPrefix+session.Subject, raw, identityRecordTTL); err != nil {
		return dErrors.Wrap(dErrors.CodeStoreUnavailable, "could not persist session", err)
	}
	return nil
}

// IsAuthFailure reports whether err is an upstream credential rejection, as
// opposed to an infrastructure failure.
func IsAuthFailure(err error) bool {
	var authErr *upstream.AuthFailedError
	return errors.As(err, &authErr)
}

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "quentry-gateway/pkg/domain-errors"
	"quentry-gateway/pkg/requestcontext"

	"quentry-gateway/internal/audit"
	"quentry-gateway/internal/platform/metrics"
	"quentry-gateway/internal/session/models"
)

type fakeCookies struct {
	subject string
	err     error
}

func (f *fakeCookies) Subject(*http.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.subject, nil
}

type fakeIdentities struct {
	session    *models.IdentitySession
	getErr     error
	status     models.IdentityStatus
	refreshErr error

	refreshes int
	revokes   int
}

func (f *fakeIdentities) GetIdentity(context.Context, string) (*models.IdentitySession, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.session, nil
}

func (f *fakeIdentities) ValidateIdentity(*models.IdentitySession) models.IdentityStatus {
	return f.status
}

func (f *fakeIdentities) RefreshIdentity(_ context.Context, s *models.IdentitySession) (*models.IdentitySession, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return s, nil
}

func (f *fakeIdentities) Revoke(context.Context, string) error {
	f.revokes++
	return nil
}

func serveProtected(t *testing.T, cookies CookieVerifier, identities IdentityManager) (*httptest.ResponseRecorder, string) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditor := audit.NewPublisher(audit.NewMemoryStore(), logger)
	t.Cleanup(auditor.Close)

	var gotSubject string
	handler := RequireIdentity(cookies, identities,
		logger,
		metrics.New(prometheus.NewRegistry()),
		auditor,
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = requestcontext.Subject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quentry/status", nil))
	return rec, gotSubject
}

func TestRequireIdentity_ValidSessionInjectsSubject(t *testing.T) {
	identities := &fakeIdentities{
		session: &models.IdentitySession{Subject: "auth0|alice", ExpiresAt: time.Now().Add(time.Hour)},
		status:  models.IdentityValid,
	}

	rec, subject := serveProtected(t, &fakeCookies{subject: "auth0|alice"}, identities)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "auth0|alice", subject)
	assert.Zero(t, identities.refreshes)
}

func TestRequireIdentity_MissingCookie(t *testing.T) {
	cookies := &fakeCookies{err: dErrors.New(dErrors.CodeUnauthorized, "authentication required")}

	rec, _ := serveProtected(t, cookies, &fakeIdentities{})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assertErrorCode(t, rec, "authentication_required")
}

func TestRequireIdentity_NoServerSideSession(t *testing.T) {
	identities := &fakeIdentities{getErr: errors.New("not found")}

	rec, _ := serveProtected(t, &fakeCookies{subject: "auth0|alice"}, identities)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireIdentity_ExpiringSoonRefreshes(t *testing.T) {
	identities := &fakeIdentities{
		session: &models.IdentitySession{Subject: "auth0|alice", RefreshToken: "rt"},
		status:  models.IdentityExpiringSoon,
	}

	rec, _ := serveProtected(t, &fakeCookies{subject: "auth0|alice"}, identities)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, identities.refreshes)
}

func TestRequireIdentity_ExpiringSoonRefreshFailureStillServes(t *testing.T) {
	identities := &fakeIdentities{
		session:    &models.IdentitySession{Subject: "auth0|alice"},
		status:     models.IdentityExpiringSoon,
		refreshErr: errors.New("provider down"),
	}

	rec, _ := serveProtected(t, &fakeCookies{subject: "auth0|alice"}, identities)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireIdentity_ExpiredRefreshFailureRevokes(t *testing.T) {
	identities := &fakeIdentities{
		session:    &models.IdentitySession{Subject: "auth0|alice"},
		status:     models.IdentityExpired,
		refreshErr: errors.New("invalid_grant"),
	}

	rec, _ := serveProtected(t, &fakeCookies{subject: "auth0|alice"}, identities)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, identities.revokes)
}

func TestRequireIdentity_ExpiredRefreshSuccessServes(t *testing.T) {
	identities := &fakeIdentities{
		session: &models.IdentitySession{Subject: "auth0|alice", RefreshToken: "rt"},
		status:  models.IdentityExpired,
	}

	rec, _ := serveProtected(t, &fakeCookies{subject: "auth0|alice"}, identities)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, identities.revokes)
}

func TestRequireIdentity_ExpiredRefreshFailureAuditsRevocation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := audit.NewMemoryStore()
	auditor := audit.NewPublisher(store, logger)
	t.Cleanup(auditor.Close)

	identities := &fakeIdentities{
		session:    &models.IdentitySession{Subject: "auth0|alice"},
		status:     models.IdentityExpired,
		refreshErr: errors.New("invalid_grant"),
	}
	handler := RequireIdentity(&fakeCookies{subject: "auth0|alice"}, identities,
		logger, metrics.New(prometheus.NewRegistry()), auditor,
	)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quentry/status", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	events, err := store.ListBySubject(context.Background(), "auth0|alice")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionSessionRevoked, events[0].Action)
	assert.Equal(t, "refresh_failed", events[0].Reason)
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, want, body.Error)
}

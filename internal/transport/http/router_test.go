package httptransport

import (
	"context"
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

	"quentry-gateway/pkg/platform/circuit"

	adminhandler "quentry-gateway/internal/admin/handler"
	"quentry-gateway/internal/audit"
	gatewayhandler "quentry-gateway/internal/gateway/handler"
	"quentry-gateway/internal/identity"
	identityhandler "quentry-gateway/internal/identity/handler"
	"quentry-gateway/internal/platform/metrics"
	"quentry-gateway/internal/platform/middleware"
	"quentry-gateway/internal/proxy"
	"quentry-gateway/internal/session"
	"quentry-gateway/internal/sessioncookie"
	"quentry-gateway/internal/sessionstore"
	"quentry-gateway/internal/upstream"
)

type stubProvider struct{}

func (stubProvider) AuthCodeURL(state, nonce string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (stubProvider) Exchange(context.Context, string, string) (identity.Claims, identity.TokenBundle, error) {
	return identity.Claims{Subject: "auth0|alice"}, identity.TokenBundle{
		AccessToken: "at",
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}

type stubRefresher struct{}

func (stubRefresher) Refresh(context.Context, string) (identity.TokenBundle, error) {
	return identity.TokenBundle{}, errors.New("refresh not available")
}

func newTestRouter(t *testing.T) (http.Handler, *sessioncookie.Service) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	store := sessionstore.NewMemory()
	cookies := sessioncookie.New("test-signing-key", "qgw_session", time.Hour, false)
	auditor := audit.NewPublisher(audit.NewMemoryStore(), logger)
	t.Cleanup(auditor.Close)

	authServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"token": "EU_tok", "userName": "alice"}}`))
	}))
	t.Cleanup(authServer.Close)

	manager := session.NewManager(store, stubRefresher{}, upstream.New(authServer.URL, time.Second, logger), logger)

	registry := circuit.NewRegistry()
	mediator, err := proxy.NewMediator(authServer.URL, "/quentry/api", "/rest/api", time.Second,
		registry.Get(proxy.DependencyName), manager, logger, m)
	require.NoError(t, err)

	router := NewRouter(Deps{
		Logger:          logger,
		Gateway:         gatewayhandler.New(manager, mediator, logger, m, auditor),
		Identity:        identityhandler.New(stubProvider{}, manager, cookies, logger, auditor, false, "/"),
		Admin:           adminhandler.New(registry, auditor, audit.NewMemoryStore(), logger, "admin-token"),
		RequireIdentity: middleware.RequireIdentity(cookies, manager, logger, m, auditor),
		Breakers:        registry,
	})
	return router, cookies
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok", "sessionStore": "memory", "breakers": {"quentry": "closed"}}`, rec.Body.String())
}

func TestQuentryRoutesRequireIdentity(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/quentry/status", "/quentry/api/patients"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestAuthLoginRedirects(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "idp.example.com")
}

func TestFullLoginFlowThroughRouter(t *testing.T) {
	router, _ := newTestRouter(t)

	// Start the flow to obtain state and nonce cookies.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	flow := rec.Result().Cookies()
	require.NotEmpty(t, flow)

	var state string
	for _, c := range flow {
		if c.Name == "qgw_oidc_state" {
			state = c.Value
		}
	}
	require.NotEmpty(t, state)

	// Complete the callback; the stub provider accepts any code.
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state="+state, nil)
	for _, c := range flow {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)

	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "qgw_session" {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)

	// The cookie now opens the protected routes.
	req = httptest.NewRequest(http.MethodGet, "/quentry/status", nil)
	req.AddCookie(sessionCookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authenticated": false}`, rec.Body.String())
}

func TestRequestIDHeaderSet(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

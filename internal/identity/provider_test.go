package identity_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/oauth2-proxy/mockoidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quentry-gateway/internal/identity"
)

// runAuthorize drives the provider's authorization endpoint without following
// the redirect and returns the code it issued.
func runAuthorize(t *testing.T, authURL string) string {
	t.Helper()

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	location, err := resp.Location()
	require.NoError(t, err)
	return location.Query().Get("code")
}

func TestExchangeYieldsClaimsAndTokens(t *testing.T) {
	m, err := mockoidc.Run()
	require.NoError(t, err)
	defer func() { _ = m.Shutdown() }()

	cfg := m.Config()
	provider, err := identity.NewProvider(
		context.Background(),
		cfg.Issuer,
		cfg.ClientID,
		cfg.ClientSecret,
		"http://127.0.0.1/auth/callback",
	)
	require.NoError(t, err)

	m.QueueUser(&mockoidc.MockUser{
		Subject:           "user-42",
		Email:             "alice@example.com",
		PreferredUsername: "alice",
		Groups:            []string{"clinicians"},
	})

	code := runAuthorize(t, provider.AuthCodeURL("state-abc", "nonce-xyz"))
	require.NotEmpty(t, code)

	claims, bundle, err := provider.Exchange(context.Background(), code, "nonce-xyz")
	require.NoError(t, err)

	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, []string{"clinicians"}, claims.Roles)
	assert.NotEmpty(t, bundle.AccessToken)
	assert.NotEmpty(t, bundle.RefreshToken)
	assert.False(t, bundle.Expiry.IsZero())
}

func TestExchangeRejectsNonceMismatch(t *testing.T) {
	m, err := mockoidc.Run()
	require.NoError(t, err)
	defer func() { _ = m.Shutdown() }()

	cfg := m.Config()
	provider, err := identity.NewProvider(
		context.Background(),
		cfg.Issuer,
		cfg.ClientID,
		cfg.ClientSecret,
		"http://127.0.0.1/auth/callback",
	)
	require.NoError(t, err)

	m.QueueUser(mockoidc.DefaultUser())

	code := runAuthorize(t, provider.AuthCodeURL("state-abc", "nonce-sent"))
	require.NotEmpty(t, code)

	_, _, err = provider.Exchange(context.Background(), code, "different-nonce")
	assert.Error(t, err)
}

func TestExchangeBadCodeFails(t *testing.T) {
	m, err := mockoidc.Run()
	require.NoError(t, err)
	defer func() { _ = m.Shutdown() }()

	cfg := m.Config()
	provider, err := identity.NewProvider(
		context.Background(),
		cfg.Issuer,
		cfg.ClientID,
		cfg.ClientSecret,
		"http://127.0.0.1/auth/callback",
	)
	require.NoError(t, err)

	_, _, err = provider.Exchange(context.Background(), "no-such-code", "")
	assert.Error(t, err)
}

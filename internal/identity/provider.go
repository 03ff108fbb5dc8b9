// Package identity wraps the OAuth2/OIDC identity provider behind the two
// capabilities the session core needs: exchange an authorization code for
// claims plus tokens, and refresh a token bundle. The protocol details stay
// in here; the rest of the gateway sees Claims and TokenBundle only.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	pkgstrings "quentry-gateway/pkg/platform/strings"
)

// Claims are the validated identity-provider claims the session core keys on.
type Claims struct {
	Subject string
	Name    string
	Email   string
	Roles   []string
}

// TokenBundle carries the identity-provider tokens for one session. The
// refresh token may be empty, in which case refresh fails closed.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// ErrNoIDToken is returned when the token response lacks an id_token.
var ErrNoIDToken = errors.New("no id_token in token response")

// Provider talks to one OIDC identity provider.
type Provider struct {
	oauth       *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	callTimeout time.Duration
}

// Option configures a Provider.
type Option func(*Provider)

// WithCallTimeout bounds each outbound call to the identity provider.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.callTimeout = d
		}
	}
}

// NewProvider discovers the issuer's endpoints and builds the exchange and
// verification machinery.
func NewProvider(ctx context.Context, issuer, clientID, clientSecret, redirectURL string, opts ...Option) (*Provider, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover identity provider: %w", err)
	}

	p := &Provider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email", "groups"},
		},
		verifier:    provider.Verifier(&oidc.Config{ClientID: clientID}),
		callTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// AuthCodeURL builds the provider's authorization URL for a login redirect.
func (p *Provider) AuthCodeURL(state, nonce string) string {
	return p.oauth.AuthCodeURL(state, oidc.Nonce(nonce))
}

// Exchange trades an authorization code for validated claims and a token
// bundle. The nonce must match the one sent with the authorization redirect.
func (p *Provider) Exchange(ctx context.Context, code, nonce string) (Claims, TokenBundle, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return Claims{}, TokenBundle{}, fmt.Errorf("exchange authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return Claims{}, TokenBundle{}, ErrNoIDToken
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Claims{}, TokenBundle{}, fmt.Errorf("verify id_token: %w", err)
	}

	var raw struct {
		Nonce  string   `json:"nonce"`
		Name   string   `json:"name"`
		Email  string   `json:"email"`
		Roles  []string `json:"roles"`
		Groups []string `json:"groups"`
	}
	if err := idToken.Claims(&raw); err != nil {
		return Claims{}, TokenBundle{}, fmt.Errorf("decode claims: %w", err)
	}
	if nonce != "" && raw.Nonce != nonce {
		return Claims{}, TokenBundle{}, errors.New("nonce mismatch")
	}

	roles := pkgstrings.DedupeAndTrim(raw.Roles)
	if len(roles) == 0 {
		roles = pkgstrings.DedupeAndTrim(raw.Groups)
	}

	claims := Claims{
		Subject: idToken.Subject,
		Name:    raw.Name,
		Email:   raw.Email,
		Roles:   roles,
	}
	bundle := TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	return claims, bundle, nil
}

// Refresh exchanges a refresh token for a fresh bundle. When the provider
// does not rotate the refresh token, the old one is carried forward.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (TokenBundle, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	source := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return TokenBundle{}, fmt.Errorf("refresh token exchange: %w", err)
	}

	bundle := TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	if bundle.RefreshToken == "" {
		bundle.RefreshToken = refreshToken
	}
	return bundle, nil
}

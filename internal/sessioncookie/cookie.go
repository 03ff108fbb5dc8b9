// Package sessioncookie binds a browser to an established identity session.
// The cookie carries only a signed subject id; all session state lives server
// side in the session store.
package sessioncookie

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "quentry-gateway/pkg/domain-errors"
)

const issuer = "quentry-gateway"

// Service signs and validates the browser session cookie.
type Service struct {
	signingKey []byte
	cookieName string
	ttl        time.Duration
	secure     bool
}

// New constructs the cookie service. secure controls the cookie's Secure
// attribute and should be true outside local development.
func New(signingKey, cookieName string, ttl time.Duration, secure bool) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
	}
}

// Issue writes a signed session cookie for the subject.
func (s *Service) Issue(w http.ResponseWriter, subject string) error {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.NewString(),
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie.
func (s *Service) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Subject extracts and verifies the subject id from the request's session
// cookie.
func (s *Service) Subject(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return "", dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	parsed, err := jwt.ParseWithClaims(cookie.Value, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", dErrors.New(dErrors.CodeUnauthorized, "session cookie expired")
		}
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid session cookie")
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid session cookie")
	}
	return claims.Subject, nil
}

// Package models defines the two session records the gateway bridges: the
// identity-provider session and the upstream-service session. Both are
// persisted as JSON in the session store, keyed by the subject id.
package models

import "time"

// IdentityStatus classifies an identity session against the current time.
type IdentityStatus int

const (
	IdentityValid IdentityStatus = iota
	IdentityExpiringSoon
	IdentityExpired
)

func (s IdentityStatus) String() string {
	switch s {
	case IdentityExpiringSoon:
		return "expiring_soon"
	case IdentityExpired:
		return "expired"
	default:
		return "valid"
	}
}

// IdentitySession represents a completed identity-provider login. The access
// token and expiry are always set together; the refresh token may be absent,
// in which case refresh fails closed and forces a re-login.
type IdentitySession struct {
	Subject      string    `json:"subject"`
	Name         string    `json:"name,omitempty"`
	Email        string    `json:"email,omitempty"`
	Roles        []string  `json:"roles,omitempty"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// UpstreamSession represents a completed secondary authentication with the
// upstream service, owned by one subject id. It never outlives its owning
// identity session: revoking the identity cascades to this record.
//
// The JSON field names are the persisted wire shape; optional fields are
// absent (not null) when the upstream did not provide them.
type UpstreamSession struct {
	Token               string            `json:"token"`
	UserName            string            `json:"userName"`
	FullName            string            `json:"fullName,omitempty"`
	UserEmail           string            `json:"userEmail,omitempty"`
	UserSystemID        string            `json:"userSystemId,omitempty"`
	URLsLookup          map[string]string `json:"urlsLookup,omitempty"`
	Region              string            `json:"region,omitempty"`
	PortalDefaultURL    string            `json:"portalDefaultUrl,omitempty"`
	UserSpecialities    []string          `json:"userSpecialities,omitempty"`
	UserSystemRoleTypes []string          `json:"userSystemRoleTypes,omitempty"`

	// Expires is an absolute epoch-milliseconds instant. It is authoritative
	// over the store record's TTL, which only acts as a backstop.
	Expires int64 `json:"expires"`
}

// ExpiresAt returns the expiry as a time.Time.
func (s *UpstreamSession) ExpiresAt() time.Time {
	return time.UnixMilli(s.Expires)
}

// ExpiredAt reports whether the session is past its expiry at the given instant.
func (s *UpstreamSession) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}

// RemainingAt returns the session lifetime left at the given instant.
func (s *UpstreamSession) RemainingAt(now time.Time) time.Duration {
	return s.ExpiresAt().Sub(now)
}

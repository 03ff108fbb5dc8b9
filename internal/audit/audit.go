// Package audit records security-relevant gateway actions: logins, logouts,
// session revocations and circuit breaker events. Events fan out from a
// single publisher to whichever sinks are configured.
package audit

import (
	"context"
	"time"
)

// Category classifies events for retention and routing.
type Category string

const (
	// CategorySecurity covers authentication outcomes and revocations.
	CategorySecurity Category = "security"
	// CategoryOperations covers routine gateway activity.
	CategoryOperations Category = "operations"
)

// Action identifies what happened.
type Action string

const (
	ActionLoginSucceeded      Action = "upstream_login_succeeded"
	ActionLoginFailed         Action = "upstream_login_failed"
	ActionLogout              Action = "upstream_logout"
	ActionIdentityEstablished Action = "identity_established"
	ActionIdentityRefreshed   Action = "identity_refreshed"
	ActionSessionRevoked      Action = "session_revoked"
	ActionProxyRejected       Action = "proxy_rejected"
	ActionBreakerOpened       Action = "breaker_opened"
	ActionBreakerReset        Action = "breaker_reset"
)

var actionCategories = map[Action]Category{
	ActionLoginSucceeded:      CategorySecurity,
	ActionLoginFailed:         CategorySecurity,
	ActionLogout:              CategorySecurity,
	ActionSessionRevoked:      CategorySecurity,
	ActionProxyRejected:       CategorySecurity,
	ActionIdentityEstablished: CategoryOperations,
	ActionIdentityRefreshed:   CategoryOperations,
	ActionBreakerOpened:       CategoryOperations,
	ActionBreakerReset:        CategoryOperations,
}

// CategoryOf returns the category for an action. Unknown actions are
// operational.
func CategoryOf(action Action) Category {
	if cat, ok := actionCategories[action]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is one audit record. Subject is the identity-provider subject id;
// Reason carries failure detail and is empty on success.
type Event struct {
	Category  Category
	Timestamp time.Time
	Subject   string
	Action    Action
	Reason    string
	RequestID string
	ClientIP  string
	Browser   string
	OS        string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Package dErrors defines the gateway's user-facing error taxonomy. Services
// return these coded errors; the HTTP layer translates them with ToHTTPStatus
// and renders a stable JSON envelope. Infrastructure facts (not found, expired)
// live in pkg/platform/sentinel and are translated into these codes by services.
package dErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error code.
type Code string

const (
	// CodeBadRequest covers malformed or incomplete client input.
	CodeBadRequest Code = "bad_request"

	// CodeUnauthorized means no valid identity session is present.
	CodeUnauthorized Code = "authentication_required"

	// CodeUpstreamAuthFailed means the upstream service rejected the
	// supplied credentials (or returned no token). Clients should fix
	// their credentials.
	CodeUpstreamAuthFailed Code = "upstream_auth_failed"

	// CodeUpstreamSessionExpired means a previously established upstream
	// session lapsed. Clients should resubmit credentials, not fix them.
	CodeUpstreamSessionExpired Code = "upstream_session_expired"

	// CodeCircuitOpen means the upstream dependency is marked unavailable
	// and the call was rejected without a network attempt.
	CodeCircuitOpen Code = "circuit_open"

	// CodeStoreUnavailable means a session persistence write failed. Fatal
	// to the triggering request, never to the process.
	CodeStoreUnavailable Code = "store_unavailable"

	// CodeUpstreamUnreachable means a network error or timeout talking to
	// the upstream service.
	CodeUpstreamUnreachable Code = "upstream_unreachable"

	// CodeNotFound covers missing resources on the gateway's own surface.
	CodeNotFound Code = "not_found"

	// CodeInternal is the catch-all for programmer errors. Its description
	// is never returned to clients.
	CodeInternal Code = "internal_error"
)

// GatewayError carries a code, a human-readable message safe for clients, and
// optional internal detail that is logged but only rendered in non-production
// builds.
type GatewayError struct {
	Code    Code
	Message string
	Detail  string
	wrapped error
}

func (e GatewayError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e GatewayError) Unwrap() error { return e.wrapped }

// New constructs a GatewayError with a client-safe message.
func New(code Code, message string) GatewayError {
	return GatewayError{Code: code, Message: message}
}

// Wrap attaches an underlying cause. The cause participates in errors.Is/As
// chains but is never rendered to clients.
func Wrap(code Code, message string, cause error) GatewayError {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return GatewayError{Code: code, Message: message, Detail: detail, wrapped: cause}
}

// WithDetail returns a copy carrying internal diagnostic detail.
func (e GatewayError) WithDetail(detail string) GatewayError {
	e.Detail = detail
	return e
}

// CodeOf extracts the code from err, or CodeInternal if err is not a
// GatewayError.
func CodeOf(err error) Code {
	var gw GatewayError
	if errors.As(err, &gw) {
		return gw.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps an error code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeUpstreamAuthFailed, CodeUpstreamSessionExpired:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeCircuitOpen, CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case CodeUpstreamUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Package proxy forwards authenticated requests to the upstream service with
// the subject's bearer token injected, gated by the upstream's circuit
// breaker.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dErrors "quentry-gateway/pkg/domain-errors"
	"quentry-gateway/pkg/platform/circuit"
	"quentry-gateway/pkg/platform/httputil"
	"quentry-gateway/pkg/platform/sentinel"
	"quentry-gateway/pkg/requestcontext"

	"quentry-gateway/internal/audit"
	"quentry-gateway/internal/platform/metrics"
	"quentry-gateway/internal/session/models"
	"quentry-gateway/internal/upstream"
)

// DependencyName identifies the upstream service in the breaker registry.
const DependencyName = "quentry"

// Hop-by-hop headers are never relayed in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SessionReader is the slice of the session manager the mediator needs.
type SessionReader interface {
	GetUpstream(ctx context.Context, subject string) (*models.UpstreamSession, error)
}

// Mediator rewrites and forwards inbound requests to the upstream service.
type Mediator struct {
	target         *url.URL
	externalPrefix string
	upstreamPrefix string
	client         *http.Client
	breaker        *circuit.Breaker
	sessions       SessionReader
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditor        *audit.Publisher
	tracer         trace.Tracer
}

// Option configures a Mediator.
type Option func(*Mediator)

// WithHTTPClient overrides the outbound client (tests, custom transports).
func WithHTTPClient(client *http.Client) Option {
	return func(m *Mediator) {
		if client != nil {
			m.client = client
		}
	}
}

// WithAuditor records rejected forwards and breaker opens as audit events.
func WithAuditor(auditor *audit.Publisher) Option {
	return func(m *Mediator) {
		m.auditor = auditor
	}
}

// NewMediator constructs the proxy mediator. externalPrefix is stripped from
// inbound paths and replaced with upstreamPrefix.
func NewMediator(
	baseURL, externalPrefix, upstreamPrefix string,
	callTimeout time.Duration,
	breaker *circuit.Breaker,
	sessions SessionReader,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts ...Option,
) (*Mediator, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base URL: %w", err)
	}

	med := &Mediator{
		target:         target,
		externalPrefix: strings.TrimSuffix(externalPrefix, "/"),
		upstreamPrefix: strings.TrimSuffix(upstreamPrefix, "/"),
		client:         &http.Client{Timeout: callTimeout},
		breaker:        breaker,
		sessions:       sessions,
		logger:         logger,
		metrics:        m,
		tracer:         otel.Tracer("quentry-gateway/proxy"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(med)
		}
	}
	return med, nil
}

// Forward relays the inbound request to the upstream service on behalf of
// subject. Preconditions: a live upstream session and a non-open breaker;
// both are checked before any network call.
func (m *Mediator) Forward(w http.ResponseWriter, r *http.Request, subject string) {
	ctx := r.Context()

	session, err := m.sessions.GetUpstream(ctx, subject)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrExpired):
			m.auditRejection(ctx, subject, "upstream_session_expired")
			httputil.WriteError(w, dErrors.New(dErrors.CodeUpstreamSessionExpired, "upstream session expired, log in again"))
		default:
			m.auditRejection(ctx, subject, "no_upstream_session")
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "upstream login required"))
		}
		return
	}

	if m.breaker.IsOpen() {
		retryAfter := m.breaker.RetryAfter()
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		m.auditRejection(ctx, subject, "circuit_open")
		httputil.WriteError(w, dErrors.New(dErrors.CodeCircuitOpen, "upstream service temporarily unavailable"))
		return
	}

	outbound, err := m.buildOutbound(r, session)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "could not build upstream request", err))
		return
	}

	ctx, span := m.tracer.Start(ctx, "proxy.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("url.path", outbound.URL.Path),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := m.client.Do(outbound.WithContext(ctx))
	if err != nil {
		m.recordOutcome(ctx, false)
		span.RecordError(err)
		m.logger.ErrorContext(ctx, "upstream request failed",
			"request_id", requestcontext.RequestID(ctx),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeUpstreamUnreachable, "upstream service unreachable", err))
		return
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	m.recordOutcome(ctx, resp.StatusCode < http.StatusInternalServerError)

	duration := time.Since(start)
	m.metrics.ProxyDuration.Observe(duration.Seconds())
	m.metrics.ProxyRequestsTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()

	m.logger.InfoContext(ctx, "proxied request",
		"request_id", requestcontext.RequestID(ctx),
		"method", r.Method,
		"path", r.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
	)

	relayResponse(w, resp)
}

// buildOutbound rewrites the inbound request for the upstream: prefix
// rewrite, credential injection, original method and body preserved.
func (m *Mediator) buildOutbound(r *http.Request, session *models.UpstreamSession) (*http.Request, error) {
	rewritten := m.upstreamPrefix + strings.TrimPrefix(r.URL.Path, m.externalPrefix)

	target := *m.target
	target.Path = rewritten
	target.RawQuery = r.URL.RawQuery

	outbound, err := http.NewRequest(r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}
	outbound.ContentLength = r.ContentLength

	copyHeaders(outbound.Header, r.Header)
	// The gateway's own credentials replace whatever the browser sent.
	outbound.Header.Set("Authorization", "Bearer "+session.Token)
	outbound.Header.Set("Cookie", upstream.RequiredCookie)

	return outbound, nil
}

// recordOutcome reports the call result to the breaker and surfaces
// transitions in logs and metrics.
func (m *Mediator) recordOutcome(ctx context.Context, success bool) {
	var change circuit.StateChange
	if success {
		change = m.breaker.RecordSuccess()
	} else {
		change = m.breaker.RecordFailure()
	}

	switch {
	case change.Opened:
		m.metrics.BreakerTransitions.WithLabelValues(m.breaker.Name(), "opened").Inc()
		m.logger.WarnContext(ctx, "circuit breaker opened", "dependency", m.breaker.Name())
		if m.auditor != nil {
			_ = m.auditor.Emit(ctx, audit.Event{
				Action: audit.ActionBreakerOpened,
				Reason: m.breaker.Name(),
			})
		}
	case change.Closed:
		m.metrics.BreakerTransitions.WithLabelValues(m.breaker.Name(), "closed").Inc()
		m.logger.InfoContext(ctx, "circuit breaker closed", "dependency", m.breaker.Name())
	}
}

func (m *Mediator) auditRejection(ctx context.Context, subject, reason string) {
	if m.auditor == nil {
		return
	}
	_ = m.auditor.Emit(ctx, audit.Event{
		Subject: subject,
		Action:  audit.ActionProxyRejected,
		Reason:  reason,
	})
}

func relayResponse(w http.ResponseWriter, resp *http.Response) {
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHop(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if http.CanonicalHeaderKey(key) == h {
			return true
		}
	}
	return false
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

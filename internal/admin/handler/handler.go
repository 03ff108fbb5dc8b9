// Package handler exposes operator endpoints: circuit breaker inspection and
// reset, plus recent audit events. All routes require the admin token.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	dErrors "quentry-gateway/pkg/domain-errors"
	"quentry-gateway/pkg/platform/circuit"
	"quentry-gateway/pkg/platform/httputil"
	"quentry-gateway/pkg/requestcontext"

	"quentry-gateway/internal/audit"
)

const defaultRecentLimit = 50

// Handler handles /admin endpoints.
type Handler struct {
	logger     *slog.Logger
	breakers   *circuit.Registry
	auditor    *audit.Publisher
	auditStore audit.Store
	adminToken string
}

// New creates the admin Handler. An empty adminToken disables all admin
// routes rather than leaving them open.
func New(
	breakers *circuit.Registry,
	auditor *audit.Publisher,
	auditStore audit.Store,
	logger *slog.Logger,
	adminToken string,
) *Handler {
	return &Handler{
		logger:     logger,
		breakers:   breakers,
		auditor:    auditor,
		auditStore: auditStore,
		adminToken: adminToken,
	}
}

// Register mounts the /admin routes.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.requireAdminToken)
		r.Get("/admin/breakers", h.handleListBreakers)
		r.Post("/admin/breakers/{name}/reset", h.handleResetBreaker)
		r.Get("/admin/audit/recent", h.handleRecentAudit)
	})
}

func (h *Handler) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" || r.Header.Get("X-Admin-Token") != h.adminToken {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"forbidden"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleListBreakers(w http.ResponseWriter, r *http.Request) {
	states := make(map[string]string)
	for name, state := range h.breakers.Snapshot() {
		states[name] = state.String()
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"breakers": states})
}

// handleResetBreaker force-closes a breaker so an operator can shortcut the
// open window after an upstream incident is resolved.
func (h *Handler) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	if !h.breakers.Reset(name) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown breaker"))
		return
	}

	_ = h.auditor.Emit(ctx, audit.Event{
		Action: audit.ActionBreakerReset,
		Reason: name,
	})
	h.logger.InfoContext(ctx, "circuit breaker reset",
		"request_id", requestcontext.RequestID(ctx),
		"dependency", name,
	)

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	events, err := h.auditStore.ListRecent(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "could not list audit events", err))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

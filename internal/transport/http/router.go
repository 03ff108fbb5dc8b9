// Package httptransport assembles the gateway's HTTP surface from the
// feature handlers.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"quentry-gateway/pkg/platform/circuit"
	"quentry-gateway/pkg/platform/httputil"

	adminhandler "quentry-gateway/internal/admin/handler"
	gatewayhandler "quentry-gateway/internal/gateway/handler"
	identityhandler "quentry-gateway/internal/identity/handler"
	"quentry-gateway/internal/platform/middleware"
)

// HealthFunc probes a dependency. A nil error means healthy.
type HealthFunc func(ctx context.Context) error

// Deps bundles what the router needs.
type Deps struct {
	Logger          *slog.Logger
	Gateway         *gatewayhandler.Handler
	Identity        *identityhandler.Handler
	Admin           *adminhandler.Handler
	RequireIdentity func(http.Handler) http.Handler
	Breakers        *circuit.Registry

	// StoreHealth is nil when the in-process fallback store is in use.
	StoreHealth HealthFunc
}

// NewRouter wires all endpoints. /auth, /healthz and /admin are outside the
// identity middleware; everything under /quentry requires a live identity
// session.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))

	r.Get("/healthz", handleHealth(deps.StoreHealth, deps.Breakers))

	deps.Identity.Register(r)
	deps.Admin.Register(r)
	deps.Gateway.Register(r, deps.RequireIdentity)

	return r
}

type healthResponse struct {
	Status       string            `json:"status"`
	SessionStore string            `json:"sessionStore"`
	Breakers     map[string]string `json:"breakers"`
}

// handleHealth reports liveness. A degraded session store still answers ok;
// the gateway keeps serving from the in-process fallback.
func handleHealth(storeHealth HealthFunc, breakers *circuit.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:       "ok",
			SessionStore: "memory",
			Breakers:     map[string]string{},
		}
		if breakers != nil {
			for name, state := range breakers.Snapshot() {
				resp.Breakers[name] = state.String()
			}
		}

		if storeHealth != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := storeHealth(ctx); err != nil {
				resp.SessionStore = "unreachable"
			} else {
				resp.SessionStore = "redis"
			}
		}

		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

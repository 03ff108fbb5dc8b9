// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"quentry-gateway/pkg/platform/circuit"
	"quentry-gateway/pkg/platform/httputil"

	adminhandler "quentry-gateway/internal/admin/handler"
	"quentry-gateway/internal/audit"
	gatewayhandler "quentry-gateway/internal/gateway/handler"
	"quentry-gateway/internal/identity"
	identityhandler "quentry-gateway/internal/identity/handler"
	"quentry-gateway/internal/platform/config"
	"quentry-gateway/internal/platform/httpserver"
	"quentry-gateway/internal/platform/logger"
	"quentry-gateway/internal/platform/metrics"
	"quentry-gateway/internal/platform/middleware"
	platformredis "quentry-gateway/internal/platform/redis"
	"quentry-gateway/internal/proxy"
	"quentry-gateway/internal/session"
	"quentry-gateway/internal/sessioncookie"
	"quentry-gateway/internal/sessionstore"
	httptransport "quentry-gateway/internal/transport/http"
	"quentry-gateway/internal/upstream"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Environment)
	httputil.IncludeDetail = !cfg.IsProduction()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Session store: shared Redis when reachable, in-process fallback
	// otherwise.
	redisClient, err := platformredis.New(cfg.RedisURL, cfg.RedisDialTimeout)
	if err != nil {
		log.Warn("redis unavailable, falling back to in-process session store", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		m.StoreDegraded.Set(1)
	}
	store := sessionstore.Select(redisClient, log)

	// Audit pipeline: memory store unless a database is configured, plus an
	// optional Kafka sink.
	var auditStore audit.Store = audit.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to open audit database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		auditStore = audit.NewPostgresStore(db)
	}

	auditOpts := []audit.PublisherOption{audit.WithAsyncBuffer(256)}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			log.Error("failed to connect audit kafka sink", "error", err)
			os.Exit(1)
		}
		auditOpts = append(auditOpts, audit.WithSink(sink))
	}
	auditor := audit.NewPublisher(auditStore, log, auditOpts...)
	defer auditor.Close()

	provider, err := identity.NewProvider(ctx,
		cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret, cfg.OIDCRedirectURL)
	if err != nil {
		log.Error("failed to initialize identity provider", "issuer", cfg.OIDCIssuer, "error", err)
		os.Exit(1)
	}

	authenticator := upstream.New(cfg.UpstreamAuthURL, cfg.UpstreamAuthTimeout, log)
	manager := session.NewManager(store, provider, authenticator, log)

	registry := circuit.NewRegistry(
		circuit.WithFailureThreshold(cfg.BreakerFailureThreshold),
		circuit.WithOpenDuration(cfg.BreakerOpenDuration),
		circuit.WithCallTimeout(cfg.UpstreamCallTimeout),
	)
	mediator, err := proxy.NewMediator(
		cfg.UpstreamBaseURL, "/quentry/api", cfg.UpstreamPathPrefix,
		cfg.UpstreamCallTimeout,
		registry.Get(proxy.DependencyName), manager, log, m,
		proxy.WithAuditor(auditor),
	)
	if err != nil {
		log.Error("failed to build proxy mediator", "error", err)
		os.Exit(1)
	}

	cookies := sessioncookie.New(cfg.CookieSigningKey, cfg.CookieName, cfg.CookieTTL, cfg.IsProduction())

	var storeHealth httptransport.HealthFunc
	if redisClient != nil {
		storeHealth = redisClient.Health
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:          log,
		Gateway:         gatewayhandler.New(manager, mediator, log, m, auditor),
		Identity:        identityhandler.New(provider, manager, cookies, log, auditor, cfg.IsProduction(), cfg.PostLoginRedirect),
		Admin:           adminhandler.New(registry, auditor, auditStore, log, cfg.AdminToken),
		RequireIdentity: middleware.RequireIdentity(cookies, manager, log, m, auditor),
		Breakers:        registry,
		StoreHealth:     storeHealth,
	})

	appServer := httpserver.New(cfg.Addr, router)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := httpserver.New(cfg.MetricsAddr, metricsMux)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting gateway", "addr", cfg.Addr, "environment", cfg.Environment)
		if err := appServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		log.Info("starting metrics server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := appServer.Shutdown(shutdownCtx)
		if metricsErr := metricsServer.Shutdown(shutdownCtx); err == nil {
			err = metricsErr
		}
		return err
	})

	if err := group.Wait(); err != nil {
		log.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

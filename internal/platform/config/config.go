package config

import (
	"os"
	"strings"
	"time"
)

// Config captures everything the gateway reads from the environment so main
// stays lean. One flat struct; components receive only the fields they need.
type Config struct {
	Addr        string
	MetricsAddr string
	Environment string

	// Session persistence.
	RedisURL         string
	RedisDialTimeout time.Duration

	// Identity provider (OIDC).
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string

	// Browser session cookie.
	CookieSigningKey string
	CookieName       string
	CookieTTL        time.Duration

	// Upstream service.
	UpstreamBaseURL     string
	UpstreamAuthURL     string
	UpstreamPathPrefix  string
	UpstreamCallTimeout time.Duration
	UpstreamAuthTimeout time.Duration

	// Circuit breaker.
	BreakerFailureThreshold int
	BreakerOpenDuration     time.Duration

	// Optional audit sinks.
	DatabaseURL  string
	KafkaBrokers []string
	KafkaTopic   string

	// Admin endpoints.
	AdminToken string

	// Where the browser lands after a completed identity login.
	PostLoginRedirect string
}

// IsProduction reports whether diagnostic detail must be suppressed in
// error responses.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// FromEnv builds a Config from QGW_* environment variables with development
// defaults.
func FromEnv() Config {
	cfg := Config{
		Addr:                getEnv("QGW_ADDR", ":8080"),
		MetricsAddr:         getEnv("QGW_METRICS_ADDR", ":9090"),
		Environment:         getEnv("QGW_ENV", "development"),
		RedisURL:            os.Getenv("QGW_REDIS_URL"),
		RedisDialTimeout:    2 * time.Second,
		OIDCIssuer:          getEnv("QGW_OIDC_ISSUER", "http://localhost:5556"),
		OIDCClientID:        getEnv("QGW_OIDC_CLIENT_ID", "quentry-gateway"),
		OIDCClientSecret:    os.Getenv("QGW_OIDC_CLIENT_SECRET"),
		OIDCRedirectURL:     getEnv("QGW_OIDC_REDIRECT_URL", "http://localhost:8080/auth/callback"),
		CookieSigningKey:    getEnv("QGW_COOKIE_SIGNING_KEY", "dev-secret-key-change-in-production"),
		CookieName:          getEnv("QGW_COOKIE_NAME", "qgw_session"),
		CookieTTL:           12 * time.Hour,
		UpstreamBaseURL:     getEnv("QGW_UPSTREAM_BASE_URL", "https://portal.example.com"),
		UpstreamAuthURL:     getEnv("QGW_UPSTREAM_AUTH_URL", "https://portal.example.com/api/authenticate"),
		UpstreamPathPrefix:  getEnv("QGW_UPSTREAM_PATH_PREFIX", "/rest/api"),
		UpstreamCallTimeout: 10 * time.Second,
		UpstreamAuthTimeout: 5 * time.Second,

		BreakerFailureThreshold: 5,
		BreakerOpenDuration:     30 * time.Second,

		DatabaseURL: os.Getenv("QGW_DATABASE_URL"),
		KafkaTopic:  getEnv("QGW_KAFKA_AUDIT_TOPIC", "gateway.audit"),

		AdminToken:        os.Getenv("QGW_ADMIN_TOKEN"),
		PostLoginRedirect: getEnv("QGW_POST_LOGIN_REDIRECT", "/"),
	}

	if brokers := os.Getenv("QGW_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

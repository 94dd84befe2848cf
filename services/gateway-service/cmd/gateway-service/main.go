package main

import (
	"net/http"
	"time"

	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/config"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/metrics"
	otelx "github.com/modernmen/shopfront/libs/otel"
	"github.com/modernmen/shopfront/libs/redisx"
	"github.com/modernmen/shopfront/libs/runtime"
	"github.com/modernmen/shopfront/services/gateway-service/internal/proxy"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	config.Base
	JWTSecret      string        `env:"JWT_SECRET" envDefault:"dev-secret"`
	JWKSURL        string        `env:"JWKS_URL"`
	JWKSCacheTTL   time.Duration `env:"JWKS_CACHE_TTL" envDefault:"5m"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	BodyLimitBytes int64         `env:"REQUEST_BODY_LIMIT_BYTES" envDefault:"1048576"`

	AuthURL      string `env:"AUTH_URL" envDefault:"http://auth-service:8081"`
	BusinessURL  string `env:"BUSINESS_URL" envDefault:"http://business-service:8082"`
	BookingURL   string `env:"BOOKING_URL" envDefault:"http://booking-service:8083"`
	StaffURL     string `env:"STAFF_URL" envDefault:"http://staff-service:8084"`
	CRMURL       string `env:"CRM_URL" envDefault:"http://crm-service:8085"`
	AnalyticsURL string `env:"ANALYTICS_URL" envDefault:"http://analytics-service:8088"`

	// service=host:port pairs probed by /readyz.
	GRPCTargets []string `env:"GRPC_HEALTH_TARGETS" envSeparator:"," envDefault:"auth-service=auth-service:9081,business-service=business-service:9082,booking-service=booking-service:9083,staff-service=staff-service:9084,crm-service=crm-service:9085,analytics-service=analytics-service:9088"`

	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	RateLimitPrefix    string `env:"RATE_LIMIT_PREFIX" envDefault:"rl"`
	RateLimitFailOpen  bool   `env:"RATE_LIMIT_FAIL_OPEN" envDefault:"true"`

	CORSAllowedOrigins   []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool          `env:"CORS_ALLOW_CREDENTIALS" envDefault:"false"`
	CORSMaxAge           time.Duration `env:"CORS_MAX_AGE" envDefault:"10m"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate("gateway-service", "8080", ""); err != nil {
		panic(err)
	}
	logger := runtime.NewLoggerWithLevel(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := runtime.SignalContext(logger)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.ServiceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer runtime.Shutdown(logger, "otel", otelShutdown)
	}

	var jwksClient *auth.JWKSClient
	if cfg.JWKSURL != "" {
		jwksClient = auth.NewJWKSClient(cfg.JWKSURL, cfg.JWKSCacheTTL)
	}
	verifier := auth.NewVerifier(cfg.JWTSecret, jwksClient)

	downstream, err := proxy.NewDownstream(proxy.ParseTargets(cfg.GRPCTargets))
	if err != nil {
		panic(err)
	}
	defer downstream.Close()

	mux := runtime.NewBaseMuxWithReady(runtime.ReadyCheck{Name: "downstream", Check: downstream.Check})
	mux.Handle("GET /metrics", metrics.Handler())
	if err := proxy.Register(mux, proxy.Upstreams{
		Auth:      cfg.AuthURL,
		Business:  cfg.BusinessURL,
		Booking:   cfg.BookingURL,
		Staff:     cfg.StaffURL,
		CRM:       cfg.CRMURL,
		Analytics: cfg.AnalyticsURL,
	}, verifier); err != nil {
		panic(err)
	}

	var rateLimitMW httpx.Middleware
	rdb, err := redisx.Open(ctx, redisx.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis unavailable; falling back to in-memory rate limiting", "err", err)
		_ = rdb.Close()
		rdb = nil
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		rl := httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, cfg.RateLimitPrefix)
		rateLimitMW = rl.Middleware(logger, cfg.RateLimitFailOpen)
		logger.Info("rate limiting enabled (redis)", "per_minute", cfg.RateLimitPerMinute, "redis_addr", cfg.RedisAddr)
	} else {
		rl := httpx.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", cfg.RateLimitPerMinute)
	}

	httpMetrics := metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)
	var handler http.Handler = httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowCredentials: cfg.CORSAllowCredentials,
			MaxAge:           cfg.CORSMaxAge,
		}),
		httpx.WithRequestID,
		httpx.WithRecover,
		httpx.WithAccessLog(logger),
		httpMetrics.Middleware(cfg.ServiceName, nil),
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "gateway")

	runtime.ServeHTTP(ctx, logger, runtime.NewServer(cfg.Port, handler))
}

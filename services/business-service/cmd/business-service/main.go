package main

import (
	"net/http"
	"time"

	"github.com/modernmen/shopfront/libs/config"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/grpcx"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/metrics"
	otelx "github.com/modernmen/shopfront/libs/otel"
	"github.com/modernmen/shopfront/libs/redisx"
	"github.com/modernmen/shopfront/libs/runtime"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/business-service/internal/handlers"
	"github.com/modernmen/shopfront/services/business-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	config.Base
	SettingsCacheTTL time.Duration `env:"SETTINGS_CACHE_TTL" envDefault:"5m"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	BodyLimitBytes   int64         `env:"REQUEST_BODY_LIMIT_BYTES" envDefault:"1048576"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate("business-service", "8082", "9082"); err != nil {
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

	if cfg.DatabaseURL == "" {
		panic("DATABASE_URL is required")
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	rdb, err := redisx.Open(ctx, redisx.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis unavailable; settings cache disabled", "err", err)
		_ = rdb.Close()
		rdb = nil
	}
	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)})
	}

	repo := storage.NewRepository(pool)
	settingsRepo := settings.NewRepository(pool)
	settingsStore := settings.NewStore(settingsRepo, rdb, cfg.SettingsCacheTTL, logger)
	h := handlers.New(repo, settingsStore, settingsRepo, logger)

	health := grpcx.NewHealthServer(logger, cfg.ServiceName)
	go func() {
		if err := health.Serve(ctx, cfg.GRPCPort); err != nil {
			logger.Error("grpc health server failed", "err", err)
		}
	}()

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/v1/business/tenants", h.CreateTenant)
	mux.HandleFunc("GET /api/v1/business/tenant", h.GetTenant)
	mux.HandleFunc("GET /api/v1/business/settings", h.GetSettings)
	mux.HandleFunc("PUT /api/v1/business/settings", h.UpdateSettings)
	mux.HandleFunc("GET /api/v1/public/settings", h.PublicSettings)
	mux.HandleFunc("GET /api/v1/business/services", h.ListServices)
	mux.HandleFunc("POST /api/v1/business/services", h.CreateService)
	mux.HandleFunc("GET /api/v1/business/services/{id}", h.GetService)
	mux.HandleFunc("PUT /api/v1/business/services/{id}", h.UpdateService)
	mux.HandleFunc("DELETE /api/v1/business/services/{id}", h.DeleteService)
	mux.HandleFunc("GET /api/v1/public/services", h.PublicServices)

	httpMetrics := metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)
	var handler http.Handler = httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover,
		httpx.WithAccessLog(logger),
		httpMetrics.Middleware(cfg.ServiceName, nil),
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	handler = otelhttp.NewHandler(handler, "business")

	runtime.ServeHTTP(ctx, logger, runtime.NewServer(cfg.Port, handler))
}

package main

import (
	"net/http"
	"time"

	"github.com/modernmen/shopfront/libs/config"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/grpcx"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/kafkax"
	"github.com/modernmen/shopfront/libs/metrics"
	otelx "github.com/modernmen/shopfront/libs/otel"
	"github.com/modernmen/shopfront/libs/outbox"
	"github.com/modernmen/shopfront/libs/redisx"
	"github.com/modernmen/shopfront/libs/runtime"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/booking-service/internal/handlers"
	"github.com/modernmen/shopfront/services/booking-service/internal/storage"
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
	if err := cfg.Validate("booking-service", "8083", "9083"); err != nil {
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
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	repo := storage.NewBookingRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	settingsStore := settings.NewStore(settings.NewRepository(pool), rdb, cfg.SettingsCacheTTL, logger)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		Retain:    7 * 24 * time.Hour,
	})
	go publisher.Run(ctx)

	health := grpcx.NewHealthServer(logger, cfg.ServiceName)
	go func() {
		if err := health.Serve(ctx, cfg.GRPCPort); err != nil {
			logger.Error("grpc health server failed", "err", err)
		}
	}()

	booking := handlers.NewBookingHandler(repo, outboxRepo, settingsStore, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/public/availability", booking.Availability)
	mux.HandleFunc("POST /api/v1/public/book", booking.Book)
	mux.HandleFunc("GET /api/v1/appointments", booking.List)
	mux.HandleFunc("GET /api/v1/appointments/{id}", booking.Get)
	mux.HandleFunc("PUT /api/v1/appointments/{id}/status", booking.UpdateStatus)
	mux.HandleFunc("POST /api/v1/appointments/{id}/cancel", booking.Cancel)
	mux.HandleFunc("GET /api/v1/calendar/check", booking.CalendarCheck)

	httpMetrics := metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)
	var handler http.Handler = httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover,
		httpx.WithAccessLog(logger),
		httpMetrics.Middleware(cfg.ServiceName, nil),
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	handler = otelhttp.NewHandler(handler, "booking")

	runtime.ServeHTTP(ctx, logger, runtime.NewServer(cfg.Port, handler))
}

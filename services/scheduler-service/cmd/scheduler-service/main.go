package main

import (
	"net/http"
	"time"

	"github.com/modernmen/shopfront/libs/config"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/grpcx"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/inbox"
	"github.com/modernmen/shopfront/libs/kafkax"
	"github.com/modernmen/shopfront/libs/metrics"
	otelx "github.com/modernmen/shopfront/libs/otel"
	"github.com/modernmen/shopfront/libs/outbox"
	"github.com/modernmen/shopfront/libs/redisx"
	"github.com/modernmen/shopfront/libs/runtime"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/scheduler-service/internal/consumer"
	"github.com/modernmen/shopfront/services/scheduler-service/internal/jobs"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	config.Base
	SettingsCacheTTL time.Duration `env:"SETTINGS_CACHE_TTL" envDefault:"5m"`
	PollEvery        time.Duration `env:"SCHEDULER_POLL_EVERY" envDefault:"2s"`
	BatchSize        int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"50"`
	Backoff          time.Duration `env:"SCHEDULER_BACKOFF" envDefault:"1m"`
	MaxBackoff       time.Duration `env:"SCHEDULER_MAX_BACKOFF" envDefault:"1h"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate("scheduler-service", "8087", "9087"); err != nil {
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

	repo := jobs.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	settingsStore := settings.NewStore(settings.NewRepository(pool), rdb, cfg.SettingsCacheTTL, logger)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		Retain:    7 * 24 * time.Hour,
	})
	go publisher.Run(ctx)

	worker := jobs.NewWorker(repo, outboxRepo, logger, jobs.WorkerConfig{
		Interval:   cfg.PollEvery,
		BatchSize:  cfg.BatchSize,
		Backoff:    cfg.Backoff,
		MaxBackoff: cfg.MaxBackoff,
	})
	go worker.Run(ctx)

	handler := consumer.New(inbox.NewRepository(pool, cfg.KafkaGroupID), repo, settingsStore, logger)
	appointments := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topics:  consumer.Topics,
	}, handler.Handle)
	go appointments.Run(ctx)

	health := grpcx.NewHealthServer(logger, cfg.ServiceName)
	go func() {
		if err := health.Serve(ctx, cfg.GRPCPort); err != nil {
			logger.Error("grpc health server failed", "err", err)
		}
	}()

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	mux.Handle("GET /metrics", metrics.Handler())

	httpMetrics := metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)
	var h http.Handler = httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover,
		httpMetrics.Middleware(cfg.ServiceName, nil),
	)
	h = otelhttp.NewHandler(h, "scheduler")

	runtime.ServeHTTP(ctx, logger, runtime.NewServer(cfg.Port, h))
}

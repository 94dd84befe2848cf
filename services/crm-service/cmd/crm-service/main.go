package main

import (
	"net/http"
	"time"

	"github.com/modernmen/shopfront/libs/config"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
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
	"github.com/modernmen/shopfront/services/crm-service/internal/chatbot"
	"github.com/modernmen/shopfront/services/crm-service/internal/consumer"
	"github.com/modernmen/shopfront/services/crm-service/internal/handlers"
	"github.com/modernmen/shopfront/services/crm-service/internal/loyalty"
	"github.com/modernmen/shopfront/services/crm-service/internal/storage"
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
	if err := cfg.Validate("crm-service", "8085", "9085"); err != nil {
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

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	settingsStore := settings.NewStore(settings.NewRepository(pool), rdb, cfg.SettingsCacheTTL, logger)
	awards := loyalty.NewService(repo, outboxRepo)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		Retain:    7 * 24 * time.Hour,
	})
	go publisher.Run(ctx)

	completed := consumer.NewCompleted(inbox.NewRepository(pool, cfg.KafkaGroupID), repo, awards, settingsStore, logger)
	completedConsumer := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topics:  []string{events.AppointmentCompleted},
	}, completed.Handle)
	go completedConsumer.Run(ctx)

	health := grpcx.NewHealthServer(logger, cfg.ServiceName)
	go func() {
		if err := health.Serve(ctx, cfg.GRPCPort); err != nil {
			logger.Error("grpc health server failed", "err", err)
		}
	}()

	crm := handlers.New(repo, awards, settingsStore, chatbot.New(), logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/crm/customers", crm.ListCustomers)
	mux.HandleFunc("POST /api/v1/crm/customers", crm.CreateCustomer)
	mux.HandleFunc("GET /api/v1/crm/customers/{id}", crm.GetCustomer)
	mux.HandleFunc("PUT /api/v1/crm/customers/{id}", crm.UpdateCustomer)
	mux.HandleFunc("DELETE /api/v1/crm/customers/{id}", crm.DeleteCustomer)
	mux.HandleFunc("GET /api/v1/crm/customers/{id}/loyalty", crm.LoyaltyHistory)
	mux.HandleFunc("POST /api/v1/crm/loyalty/points", crm.AddPoints)
	mux.HandleFunc("GET /api/v1/crm/coupons", crm.ListCoupons)
	mux.HandleFunc("POST /api/v1/crm/coupons", crm.CreateCoupon)
	mux.HandleFunc("POST /api/v1/crm/coupons/{code}/redeem", crm.RedeemCoupon)
	mux.HandleFunc("GET /api/v1/public/coupons/validate", crm.ValidateCoupon)
	mux.HandleFunc("POST /api/v1/public/coupons/validate", crm.ValidateCoupon)
	mux.HandleFunc("GET /api/v1/public/chatbot", crm.ChatInfo)
	mux.HandleFunc("POST /api/v1/public/chatbot", crm.Chat)

	httpMetrics := metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)
	var handler http.Handler = httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover,
		httpx.WithAccessLog(logger),
		httpMetrics.Middleware(cfg.ServiceName, nil),
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	handler = otelhttp.NewHandler(handler, "crm")

	runtime.ServeHTTP(ctx, logger, runtime.NewServer(cfg.Port, handler))
}

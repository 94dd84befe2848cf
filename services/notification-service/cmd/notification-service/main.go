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
	"github.com/modernmen/shopfront/services/notification-service/internal/consumer"
	"github.com/modernmen/shopfront/services/notification-service/internal/email"
	"github.com/modernmen/shopfront/services/notification-service/internal/notify"
	"github.com/modernmen/shopfront/services/notification-service/internal/sms"
	"github.com/modernmen/shopfront/services/notification-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	config.Base
	SettingsCacheTTL time.Duration `env:"SETTINGS_CACHE_TTL" envDefault:"5m"`
	SMTPHost         string        `env:"SMTP_HOST" envDefault:"mailpit"`
	SMTPPort         string        `env:"SMTP_PORT" envDefault:"1025"`
	SMTPFrom         string        `env:"SMTP_FROM" envDefault:"no-reply@shopfront.local"`
	SMTPUsername     string        `env:"SMTP_USERNAME"`
	SMTPPassword     string        `env:"SMTP_PASSWORD"`
	EmailRatePerSec  float64       `env:"EMAIL_RATE_PER_SECOND" envDefault:"5"`
	EmailBurst       int           `env:"EMAIL_BURST" envDefault:"10"`
	SMSProvider      string        `env:"SMS_PROVIDER" envDefault:"none"`
	SMSWebhookURL    string        `env:"SMS_WEBHOOK_URL"`
	SMSWebhookToken  string        `env:"SMS_WEBHOOK_TOKEN"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate("notification-service", "8086", "9086"); err != nil {
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

	outboxRepo := outbox.NewRepository(pool)
	settingsStore := settings.NewStore(settings.NewRepository(pool), rdb, cfg.SettingsCacheTTL, logger)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		Retain:    7 * 24 * time.Hour,
	})
	go publisher.Run(ctx)

	mailer := email.NewThrottled(
		email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword),
		cfg.EmailRatePerSec, cfg.EmailBurst,
	)
	texter := sms.New(cfg.SMSProvider, cfg.SMSWebhookURL, cfg.SMSWebhookToken)
	notifications := storage.NewRepository(pool)
	dispatcher := notify.NewDispatcher(notifications, outboxRepo, mailer, texter, logger)
	handler := consumer.New(inbox.NewRepository(pool, cfg.KafkaGroupID), settingsStore, notifications, notify.NewBuilder(sms.Enabled(texter)), dispatcher, logger)

	eventConsumer := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topics:  consumer.Topics,
	}, handler.Handle)
	go eventConsumer.Run(ctx)

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
	var httpHandler http.Handler = httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover,
		httpx.WithAccessLog(logger),
		httpMetrics.Middleware(cfg.ServiceName, nil),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "notification")

	runtime.ServeHTTP(ctx, logger, runtime.NewServer(cfg.Port, httpHandler))
}

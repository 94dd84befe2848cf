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
	"github.com/modernmen/shopfront/libs/runtime"
	"github.com/modernmen/shopfront/services/auth-service/internal/audit"
	"github.com/modernmen/shopfront/services/auth-service/internal/handlers"
	"github.com/modernmen/shopfront/services/auth-service/internal/sessions"
	"github.com/modernmen/shopfront/services/auth-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	config.Base
	JWTSecret         string        `env:"JWT_SECRET" envDefault:"dev-secret"`
	JWTPrivateKeyPEM  string        `env:"JWT_PRIVATE_KEY_PEM"`
	JWTPrivateKeysPEM string        `env:"JWT_PRIVATE_KEYS_PEM"`
	JWTKid            string        `env:"JWT_KID"`
	JWTActiveKid      string        `env:"JWT_ACTIVE_KID"`
	AccessTTL         time.Duration `env:"ACCESS_TTL" envDefault:"1h"`
	RefreshTTL        time.Duration `env:"REFRESH_TTL" envDefault:"720h"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	BodyLimitBytes    int64         `env:"REQUEST_BODY_LIMIT_BYTES" envDefault:"1048576"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate("auth-service", "8081", "9081"); err != nil {
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

	signer, err := buildSigner(cfg)
	if err != nil {
		logger.Error("failed to init jwt signer", "err", err)
		panic(err)
	}

	users := storage.NewUserRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
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

	authHandler := handlers.NewAuthHandler(
		signer,
		users,
		sessions.NewRefreshRepository(pool),
		audit.NewRepository(pool),
		outboxRepo,
		handlers.TokenTTL{Access: cfg.AccessTTL, Refresh: cfg.RefreshTTL},
		logger,
	)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /api/v1/auth/logout", authHandler.Logout)
	mux.HandleFunc("GET /api/v1/auth/me", authHandler.Me)
	mux.HandleFunc("POST /api/v1/auth/users", authHandler.CreateUser)
	mux.HandleFunc("POST /api/v1/auth/rotate", authHandler.Rotate)
	mux.HandleFunc("GET /api/v1/auth/audit", authHandler.Audit)
	mux.HandleFunc("GET /.well-known/jwks.json", authHandler.JWKS)

	httpMetrics := metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)
	var handler http.Handler = httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover,
		httpx.WithAccessLog(logger),
		httpMetrics.Middleware(cfg.ServiceName, nil),
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	handler = otelhttp.NewHandler(handler, "auth")

	runtime.ServeHTTP(ctx, logger, runtime.NewServer(cfg.Port, handler))
}

// buildSigner prefers a rotating RS256 key set, then a single RS256 key, and
// falls back to the HS256 shared secret.
func buildSigner(cfg Config) (handlers.TokenSigner, error) {
	if cfg.JWTPrivateKeysPEM != "" {
		keys, err := handlers.ParseRS256KeySet(cfg.JWTPrivateKeysPEM)
		if err != nil {
			return nil, err
		}
		signer, err := handlers.NewRotatingSigner(keys, cfg.JWTActiveKid)
		if err != nil {
			return nil, err
		}
		return signer, nil
	}
	if cfg.JWTPrivateKeyPEM != "" {
		signer, err := handlers.NewRS256Signer([]byte(cfg.JWTPrivateKeyPEM), cfg.JWTKid)
		if err != nil {
			return nil, err
		}
		return signer, nil
	}
	return handlers.NewHS256Signer(cfg.JWTSecret), nil
}

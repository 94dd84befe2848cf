package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modernmen/shopfront/libs/config"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/runtime"
	"github.com/spf13/cobra"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	APIURL      string `env:"SHOPFRONT_API_URL" envDefault:"http://localhost:8080"`
	JWTSecret   string `env:"JWT_SECRET"`
	Token       string `env:"SHOPFRONT_TOKEN"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

var (
	cfg    Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:          "shopctl",
	Short:        "Operate a shopfront deployment",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger = runtime.NewLoggerWithLevel("shopctl", cfg.LogLevel)
		return nil
	},
}

// Execute runs the command tree until it finishes or the process is
// interrupted.
func Execute() error {
	if err := config.Load(&cfg); err != nil {
		return err
	}
	ctx, stop := runtime.SignalContext(runtime.NewLoggerWithLevel("shopctl", cfg.LogLevel))
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", "", "Postgres URL (default $DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.AddCommand(migrateCmd, seedCmd, payrollCmd)
}

func openPool(ctx context.Context) (*db.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL or --database-url is required")
	}
	return db.Open(ctx, cfg.DatabaseURL)
}

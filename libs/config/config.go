package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Load reads an optional .env file and then parses environment variables into dst.
// dst must be a pointer to a struct carrying `env` tags.
func Load(dst any, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	if err := env.Parse(dst); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Base holds the settings every service process shares.
type Base struct {
	ServiceName  string `env:"SERVICE_NAME"`
	Port         string `env:"PORT"`
	GRPCPort     string `env:"GRPC_PORT"`
	DatabaseURL  string `env:"DATABASE_URL"`
	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaGroupID string `env:"KAFKA_GROUP_ID"`
	RedisAddr    string `env:"REDIS_ADDR"`
	RedisPass    string `env:"REDIS_PASSWORD"`
	RedisDB      int    `env:"REDIS_DB" envDefault:"0"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

// Validate fills service defaults and checks the port values.
func (b *Base) Validate(service, port, grpcPort string) error {
	if b.ServiceName == "" {
		b.ServiceName = service
	}
	if b.Port == "" {
		b.Port = port
	}
	if b.GRPCPort == "" {
		b.GRPCPort = grpcPort
	}
	if b.KafkaGroupID == "" {
		b.KafkaGroupID = b.ServiceName
	}
	if err := checkPort("PORT", b.Port); err != nil {
		return err
	}
	if b.GRPCPort != "" {
		return checkPort("GRPC_PORT", b.GRPCPort)
	}
	return nil
}

func checkPort(key, v string) error {
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("%s must be a valid TCP port (got %q)", key, v)
	}
	return nil
}

package config

import "testing"

func TestLoadParsesBase(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("KAFKA_BROKERS", "kafka:9092")

	var cfg struct {
		Base
		JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret"`
	}
	if err := Load(&cfg, "testdata/missing.env"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate("staff-service", "8084", "9084"); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Port != "9090" || cfg.GRPCPort != "9084" {
		t.Fatalf("unexpected ports: %q %q", cfg.Port, cfg.GRPCPort)
	}
	if cfg.RedisDB != 3 || cfg.KafkaBrokers != "kafka:9092" {
		t.Fatalf("unexpected base: %+v", cfg.Base)
	}
	if cfg.ServiceName != "staff-service" || cfg.KafkaGroupID != "staff-service" {
		t.Fatalf("expected service defaults, got %q %q", cfg.ServiceName, cfg.KafkaGroupID)
	}
	if cfg.JWTSecret != "dev-secret" {
		t.Fatalf("expected default secret, got %q", cfg.JWTSecret)
	}
}

func TestValidateRejectsGarbagePort(t *testing.T) {
	b := Base{Port: "http"}
	if err := b.Validate("svc", "8080", ""); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
	b = Base{Port: "8080", GRPCPort: "70000"}
	if err := b.Validate("svc", "8080", "9080"); err == nil {
		t.Fatal("expected error for out of range grpc port")
	}
}

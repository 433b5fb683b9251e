package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

		cfg, err := Load("8081")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Port != "8081" {
			t.Errorf("expected port 8081, got %s", cfg.Port)
		}
		if cfg.NegotiationMaxAttempts != 5 {
			t.Errorf("expected 5 attempts, got %d", cfg.NegotiationMaxAttempts)
		}
		if cfg.NegotiationSessionTTL != 24*time.Hour {
			t.Errorf("expected 24h ttl, got %s", cfg.NegotiationSessionTTL)
		}
		if cfg.NegotiationSweepInterval != 5*time.Minute {
			t.Errorf("expected 5m sweep interval, got %s", cfg.NegotiationSweepInterval)
		}
		if cfg.NegotiationCurrency != "VND" || cfg.NegotiationTopic != "negotiation.events" {
			t.Errorf("unexpected currency/topic: %s/%s", cfg.NegotiationCurrency, cfg.NegotiationTopic)
		}

		policy := cfg.Policy()
		if policy.MinNegotiablePrice != 100000 || policy.MaxDiscountPercent != 50 {
			t.Errorf("unexpected policy: %+v", policy)
		}
	})

	t.Run("file then environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		yaml := "port: \"9000\"\npostgres_url: postgres://file\nnegotiation_max_attempts: 3\nnegotiation_currency: USD\n"
		if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		t.Setenv("CONFIG_FILE", path)
		t.Setenv("POSTGRES_URL", "postgres://env")
		t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
		t.Setenv("NEGOTIATION_SESSION_TTL", "2h")
		t.Setenv("AUTH_DEV_HEADERS", "true")
		t.Setenv("WS_ALLOWED_ORIGINS", "https://shop.example, https://admin.example")

		cfg, err := Load("8081")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Port != "9000" {
			t.Errorf("expected port from file, got %s", cfg.Port)
		}
		if cfg.PostgresURL != "postgres://env" {
			t.Errorf("expected environment to override file, got %s", cfg.PostgresURL)
		}
		if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
			t.Errorf("unexpected brokers: %v", cfg.KafkaBrokers)
		}
		if cfg.NegotiationMaxAttempts != 3 || cfg.NegotiationCurrency != "USD" {
			t.Errorf("unexpected negotiation settings: %d %s", cfg.NegotiationMaxAttempts, cfg.NegotiationCurrency)
		}
		if cfg.NegotiationSessionTTL != 2*time.Hour {
			t.Errorf("expected 2h ttl, got %s", cfg.NegotiationSessionTTL)
		}
		if !cfg.AuthDevHeaders {
			t.Error("expected dev headers to be enabled")
		}
		if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://admin.example" {
			t.Errorf("unexpected origins: %q", cfg.AllowedOrigins)
		}
	})

	t.Run("lists from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		yaml := "kafka_brokers:\n  - kafka-1:9092\n  - kafka-2:9092\n"
		if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		t.Setenv("CONFIG_FILE", path)

		cfg, err := Load("8081")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "kafka-1:9092" {
			t.Errorf("unexpected brokers: %q", cfg.KafkaBrokers)
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("port: [unclosed"), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		t.Setenv("CONFIG_FILE", path)

		if _, err := Load("8081"); err == nil {
			t.Error("expected error for malformed yaml")
		}
	})
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"PORT":                     "port",
		"NEGOTIATION_MAX_ATTEMPTS": "negotiation_max_attempts",
		"PATH":                     "",
		"HOME":                     "",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%s): expected %q, got %q", in, want, got)
		}
	}
}

func TestEnvValue(t *testing.T) {
	t.Run("splits list keys", func(t *testing.T) {
		key, value := envValue("KAFKA_BROKERS", " a:9092 ,b:9092,,")
		list, ok := value.([]string)
		if key != "kafka_brokers" || !ok {
			t.Fatalf("expected kafka_brokers list, got %s %T", key, value)
		}
		if len(list) != 2 || list[0] != "a:9092" || list[1] != "b:9092" {
			t.Errorf("unexpected list: %q", list)
		}
	})

	t.Run("keeps scalars", func(t *testing.T) {
		key, value := envValue("POSTGRES_URL", "postgres://a,b")
		if key != "postgres_url" || value != "postgres://a,b" {
			t.Errorf("unexpected pair: %s %v", key, value)
		}
	})

	t.Run("skips unknown variables", func(t *testing.T) {
		if key, _ := envValue("PATH", "/usr/bin"); key != "" {
			t.Errorf("expected skip, got %s", key)
		}
	})
}

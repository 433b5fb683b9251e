package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/joao-fontenele/bargainflow/internal/negotiation"
)

// Config is shared by every binary; each main reads the fields it needs.
// YAML keys match the lower-cased environment variable names.
type Config struct {
	Port                   string   `koanf:"port"`
	PostgresURL            string   `koanf:"postgres_url"`
	KafkaBrokers           []string `koanf:"kafka_brokers"`
	CatalogServiceURL      string   `koanf:"catalog_service_url"`
	CartServiceURL         string   `koanf:"cart_service_url"`
	EmailServiceURL        string   `koanf:"email_service_url"`
	NegotiationsServiceURL string   `koanf:"negotiations_service_url"`
	OTLPEndpoint           string   `koanf:"otel_exporter_otlp_endpoint"`
	JWTSecret              string   `koanf:"jwt_secret"`
	AuthDevHeaders         bool     `koanf:"auth_dev_headers"`
	AllowedOrigins         []string `koanf:"ws_allowed_origins"`

	NegotiationMaxAttempts        int           `koanf:"negotiation_max_attempts"`
	NegotiationSessionTTL         time.Duration `koanf:"negotiation_session_ttl"`
	NegotiationMinPrice           int64         `koanf:"negotiation_min_price"`
	NegotiationMaxDiscountPercent float64       `koanf:"negotiation_max_discount_percent"`
	NegotiationSweepInterval      time.Duration `koanf:"negotiation_sweep_interval"`
	NegotiationCurrency           string        `koanf:"negotiation_currency"`
	NegotiationTopic              string        `koanf:"negotiation_topic"`
}

var defaults = map[string]any{
	"negotiation_max_attempts":         negotiation.DefaultMaxAttempts,
	"negotiation_session_ttl":          negotiation.DefaultSessionTTL.String(),
	"negotiation_min_price":            100000,
	"negotiation_max_discount_percent": negotiation.DefaultMaxDiscountPercent,
	"negotiation_sweep_interval":       "5m",
	"negotiation_currency":             "VND",
	"negotiation_topic":                "negotiation.events",
}

// Load reads .env, then CONFIG_FILE (default config.yaml, optional), then the
// environment. Later sources win.
func Load(defaultPort string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if !k.Exists("port") {
		_ = k.Set("port", defaultPort)
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			_ = k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

var knownKeys = map[string]bool{
	"port": true, "postgres_url": true, "kafka_brokers": true,
	"catalog_service_url": true, "cart_service_url": true, "email_service_url": true,
	"negotiations_service_url": true, "otel_exporter_otlp_endpoint": true,
	"jwt_secret": true, "auth_dev_headers": true, "ws_allowed_origins": true,
}

var listKeys = map[string]bool{"kafka_brokers": true, "ws_allowed_origins": true}

// envKey keeps only the variables Config knows about.
func envKey(name string) string {
	key := strings.ToLower(name)
	if knownKeys[key] || strings.HasPrefix(key, "negotiation_") {
		return key
	}
	return ""
}

// envValue maps a variable to its key and splits comma-separated lists.
func envValue(name, value string) (string, any) {
	key := envKey(name)
	if key == "" || !listKeys[key] {
		return key, value
	}
	return key, splitList(value)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Policy converts the negotiation settings for the engine.
func (c *Config) Policy() negotiation.Policy {
	return negotiation.Policy{
		MaxAttempts:        c.NegotiationMaxAttempts,
		SessionTTL:         c.NegotiationSessionTTL,
		MinNegotiablePrice: c.NegotiationMinPrice,
		MaxDiscountPercent: c.NegotiationMaxDiscountPercent,
	}
}

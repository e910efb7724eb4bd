// Package config reads storefront settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/pricing"
)

type Payment struct {
	GatewayURL    string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
}

type Config struct {
	Port               string
	PostgresURL        string
	RedisAddr          string
	KafkaBrokers       []string
	OrdersTopic        string
	OTLPEndpoint       string
	LogLevel           string
	CartTTL            time.Duration
	OutboxPollInterval time.Duration
	Payment            Payment
	Pricing            pricing.Rules
}

// Load reads configuration for the storefront service. Missing required values
// are reported together.
func Load() (Config, error) {
	var errs []error

	cfg := Config{
		Port:         getenv("PORT", "8081"),
		PostgresURL:  strings.TrimSpace(os.Getenv("POSTGRES_URL")),
		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		OrdersTopic:  getenv("ORDERS_TOPIC", "store.orders"),
		OTLPEndpoint: strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		Payment: Payment{
			GatewayURL:    strings.TrimRight(getenv("PAYMENT_GATEWAY_URL", "http://localhost:8085"), "/"),
			KeyID:         getenv("PAYMENT_KEY_ID", "rzp_test_local"),
			KeySecret:     strings.TrimSpace(os.Getenv("PAYMENT_KEY_SECRET")),
			WebhookSecret: strings.TrimSpace(os.Getenv("PAYMENT_WEBHOOK_SECRET")),
		},
		Pricing: pricing.DefaultRules(),
	}

	if cfg.PostgresURL == "" {
		errs = append(errs, errors.New("POSTGRES_URL is required"))
	}
	if cfg.Payment.KeySecret == "" {
		errs = append(errs, errors.New("PAYMENT_KEY_SECRET is required"))
	}

	var err error
	if cfg.Payment.Timeout, err = durationEnv("PAYMENT_TIMEOUT", 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.CartTTL, err = durationEnv("CART_TTL", 24*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.OutboxPollInterval, err = durationEnv("OUTBOX_POLL_INTERVAL", time.Second); err != nil {
		errs = append(errs, err)
	}

	cfg.Pricing.Currency = getenv("PAYMENT_CURRENCY", cfg.Pricing.Currency)
	if cfg.Pricing.FreeShippingThreshold, err = decimalEnv("FREE_SHIPPING_THRESHOLD", cfg.Pricing.FreeShippingThreshold); err != nil {
		errs = append(errs, err)
	}
	if cfg.Pricing.FlatShippingFee, err = decimalEnv("FLAT_SHIPPING_FEE", cfg.Pricing.FlatShippingFee); err != nil {
		errs = append(errs, err)
	}
	if cfg.Pricing.TaxRate, err = decimalEnv("TAX_RATE", cfg.Pricing.TaxRate); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitList(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func decimalEnv(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s: invalid amount %q", key, v)
	}
	return d, nil
}

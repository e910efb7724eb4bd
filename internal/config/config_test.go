package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/store")
	t.Setenv("PAYMENT_KEY_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, "store.orders", cfg.OrdersTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 24*time.Hour, cfg.CartTTL)
	assert.Equal(t, 10*time.Second, cfg.Payment.Timeout)
	assert.True(t, cfg.Pricing.FreeShippingThreshold.Equal(decimal.NewFromInt(500)))
	assert.True(t, cfg.Pricing.FlatShippingFee.Equal(decimal.NewFromInt(50)))
	assert.True(t, cfg.Pricing.TaxRate.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, "INR", cfg.Pricing.Currency)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/store")
	t.Setenv("PAYMENT_KEY_SECRET", "secret")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PAYMENT_TIMEOUT", "3s")
	t.Setenv("PAYMENT_GATEWAY_URL", "https://api.example.com/")
	t.Setenv("TAX_RATE", "0.18")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.Payment.Timeout)
	assert.Equal(t, "https://api.example.com", cfg.Payment.GatewayURL)
	assert.True(t, cfg.Pricing.TaxRate.Equal(decimal.RequireFromString("0.18")))
}

func TestLoad_ReportsAllErrors(t *testing.T) {
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("PAYMENT_KEY_SECRET", "")
	t.Setenv("CART_TTL", "forever")
	t.Setenv("FLAT_SHIPPING_FEE", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_URL is required")
	assert.Contains(t, err.Error(), "PAYMENT_KEY_SECRET is required")
	assert.Contains(t, err.Error(), "CART_TTL")
	assert.Contains(t, err.Error(), "FLAT_SHIPPING_FEE")
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipestore/internal/logger"
)

func setPayOS(t *testing.T) {
	t.Setenv("PAYOS_CLIENT_ID", "client")
	t.Setenv("PAYOS_API_KEY", "key")
	t.Setenv("PAYOS_CHECKSUM_KEY", "checksum")
}

func TestLoadDefaults(t *testing.T) {
	logger.UseNop()
	t.Setenv("ENVIRONMENT", "test")
	setPayOS(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "127.0.0.1:5051", cfg.Addr())
	assert.Equal(t, "*", cfg.Server.AllowedOrigin)
	assert.Equal(t, payOSLiveBase, cfg.PayOS.APIBase)
	assert.Equal(t, "http://localhost:3000/premium/success", cfg.PayOS.ReturnURL)
	assert.Equal(t, "http://localhost:3000/premium/cancel", cfg.PayOS.CancelURL)
	assert.Equal(t, defaultPaymentLinkTTL, cfg.PayOS.LinkTTL)
	assert.Equal(t, defaultSessionTTL, cfg.Auth.SessionTTL)
	assert.Equal(t, time.Second, cfg.RateLimit.Auth)
	assert.Equal(t, 3*time.Second, cfg.RateLimit.Checkout)
	assert.Equal(t, defaultReconcileInterval, cfg.Jobs.ReconcileInterval)
	assert.True(t, cfg.Email.SendConfirmations)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoadOverrides(t *testing.T) {
	logger.UseNop()
	t.Setenv("ENVIRONMENT", "prod")
	setPayOS(t)
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("SERVER_PORT_PROD", "9090")
	t.Setenv("PUBLIC_BASE_URL", "https://recipes.example.vn/")
	t.Setenv("PAYOS_API_BASE", "https://sandbox.example/")
	t.Setenv("SESSION_TTL", "12h")
	t.Setenv("CHECKOUT_RATE_INTERVAL", "10s")
	t.Setenv("PENDING_ORDER_TTL", "not-a-duration")
	t.Setenv("SEND_CONFIRMATION_EMAILS", "false")
	t.Setenv("NATS_URL", "nats://127.0.0.1:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port, "environment-specific keys win")
	assert.Equal(t, "https://recipes.example.vn", cfg.Server.PublicBaseURL)
	assert.Equal(t, "https://recipes.example.vn/premium/success", cfg.PayOS.ReturnURL)
	assert.Equal(t, "https://sandbox.example", cfg.PayOS.APIBase)
	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Checkout)
	assert.Equal(t, defaultPendingOrderTTL, cfg.Jobs.PendingOrderTTL)
	assert.False(t, cfg.Email.SendConfirmations)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
}

func TestValidate(t *testing.T) {
	logger.UseNop()

	cfg := &Config{Database: DatabaseConfig{Path: "x.db"}}
	assert.Error(t, cfg.Validate(), "credentials are required")

	cfg.PayOS.Mock = true
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "*", cfg.Server.AllowedOrigin)

	cfg.Database.Path = ""
	assert.Error(t, cfg.Validate())

	cfg = &Config{
		Database: DatabaseConfig{Path: "x.db"},
		Server:   ServerConfig{AllowedOrigin: "https://recipes.example.vn"},
		PayOS:    PayOSConfig{ClientID: "a", APIKey: "b", ChecksumKey: "c"},
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://recipes.example.vn", cfg.Server.AllowedOrigin)
}

func TestMissingCredentialsFailLoad(t *testing.T) {
	logger.UseNop()
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("PAYOS_CLIENT_ID", "")
	t.Setenv("PAYOS_API_KEY", "")
	t.Setenv("PAYOS_CHECKSUM_KEY", "")
	t.Setenv("PAYOS_MOCK", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("PAYOS_MOCK", "true")
	_, err = Load()
	assert.NoError(t, err)
}

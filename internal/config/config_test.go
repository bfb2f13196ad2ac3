package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(content), 0o600))
	return dir
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	dir := writeConfig(t, `
app:
  env: production
  port: "9090"
database:
  dsn: postgres://billing@localhost/billing
auth:
  jwtSecret: secret
providers:
  paddle:
    webhookSecret: pdl_secret
    tolerance: 2m
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.App.Port)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.AllowUnsignedWebhooks())
	assert.Equal(t, "pdl_secret", cfg.Providers.Paddle.WebhookSecret)
	assert.Equal(t, 2*time.Minute, cfg.Providers.Paddle.Tolerance)
	assert.Equal(t, 5*time.Minute, cfg.Providers.Stripe.Tolerance)
	assert.Equal(t, 5*time.Minute, cfg.Cache.SubscriptionTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.AdminTTL)
	assert.Equal(t, "subscription.changed", cfg.Kafka.Topic)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Setenv("PROVIDERS_LEMONSQUEEZY_WEBHOOKSECRET", "from_env")
	dir := writeConfig(t, `
app:
  env: development
providers:
  lemonsqueezy:
    webhookSecret: from_file
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.Providers.LemonSqueezy.WebhookSecret)
	assert.True(t, cfg.AllowUnsignedWebhooks())
}

func TestLoadConfig_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	dir := writeConfig(t, `
app:
  env: production
`)

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestLoadConfig_UnknownEnv(t *testing.T) {
	t.Setenv("APP_ENV", "qa")
	dir := writeConfig(t, `
app:
  port: "8080"
`)

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

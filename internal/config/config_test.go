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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "bot-token"
github:
  webhook_secret: "hook-secret"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.ServerAddress())
	assert.Equal(t, "webhook", cfg.GitHub.Mode)
	assert.True(t, cfg.WebhookEnabled())
	assert.False(t, cfg.PollingEnabled())
	assert.Equal(t, 4, cfg.Dispatch.MaxConcurrent)
	assert.Equal(t, 10*time.Second, cfg.AttemptTimeout())
	assert.Equal(t, 30, cfg.Dispatch.RetentionDays)
}

func TestLoadRequiresTelegramToken(t *testing.T) {
	path := writeConfig(t, `
github:
  webhook_secret: "hook-secret"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram token")
}

func TestLoadRequiresWebhookSecretInWebhookMode(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "bot-token"
github:
  mode: both
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook secret")

	// Polling-only mode has no webhook endpoint to protect.
	path = writeConfig(t, `
telegram:
  token: "bot-token"
github:
  mode: polling
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.PollingEnabled())
	assert.False(t, cfg.WebhookEnabled())
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "bot-token"
github:
  mode: carrier-pigeon
  webhook_secret: "hook-secret"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid github mode")
}

func TestValidateDispatchBounds(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "bot-token"
github:
  webhook_secret: "hook-secret"
dispatch:
  max_concurrent: 0
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent")
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  addr: ":8080"
db:
  dsn: "postgres://localhost/age"
settlement:
  currency: idr
fx:
  manual_rates:
    IDR: 15000
gateway:
  active: midtrans
  midtrans:
    server_key: "SB-Mid-server-xyz"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "IDR", cfg.Settlement.Currency)
	assert.Equal(t, "USD", cfg.Settlement.BaseCurrency)
	assert.Equal(t, "AGE", cfg.Licenses.Prefix)
	assert.Equal(t, 3, cfg.Gateway.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout())
	assert.Equal(t, time.Hour, cfg.RefreshInterval())
	assert.Equal(t, 15000.0, cfg.FX.ManualRates["IDR"])
	assert.Equal(t, 48*time.Hour, cfg.ProviderTTL())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_ACTIVE", "stripe")
	t.Setenv("FX_MANUAL_RATES", "IDR=16000, eur=0.9")
	t.Setenv("GATEWAY_TIMEOUT_SECONDS", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "stripe", cfg.Gateway.Active)
	assert.Equal(t, 16000.0, cfg.FX.ManualRates["IDR"])
	assert.Equal(t, 0.9, cfg.FX.ManualRates["EUR"])
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout())
}

func TestLoad_ProviderTTLCanBeDisabled(t *testing.T) {
	t.Setenv("PROVIDER_TTL_HOURS", "-1")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.ProviderTTL())
}

func TestLoad_RejectsUnknownGateway(t *testing.T) {
	t.Setenv("GATEWAY_ACTIVE", "paypal")
	_, err := Load(writeConfig(t, sampleConfig))
	require.Error(t, err)
}

func TestLoad_RequiresDSN(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  addr: \":8080\"\nsettlement:\n  currency: IDR\n"))
	require.EqualError(t, err, "db.dsn is required")
}

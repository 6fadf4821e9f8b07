package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestGetYaml(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		path := writeConfig(t, `
platform: bybit
fiat_currency: USD
snapshot_path: /var/lib/ledgerd/ledger.json
journal_dir: /var/lib/ledgerd/wal
update_interval: 10m
dashboard_addr: ":9090"
tls_domains:
  - ledger.example.com
tls_cache_dir: /var/lib/ledgerd/certs
retry_initial_interval: 2s
retry_max_interval: 1m
retry_max_attempts: 3
`)

		cfg, err := getYaml(path)
		require.NoError(t, err)

		assert.Equal(t, "bybit", cfg.Platform)
		assert.Equal(t, "USD", cfg.FiatCurrency)
		assert.Equal(t, "/var/lib/ledgerd/ledger.json", cfg.SnapshotPath)
		assert.Equal(t, "/var/lib/ledgerd/wal", cfg.JournalDir)
		assert.Equal(t, 10*time.Minute, cfg.UpdateInterval)
		assert.Equal(t, ":9090", cfg.DashboardAddr)
		assert.Equal(t, []string{"ledger.example.com"}, cfg.TLSDomains)
		assert.Equal(t, 2*time.Second, cfg.RetryInitialInterval)
		assert.Equal(t, time.Minute, cfg.RetryMaxInterval)
		assert.Equal(t, 3, cfg.RetryMaxAttempts)
	})

	t.Run("defaults fill the gaps", func(t *testing.T) {
		path := writeConfig(t, "platform: binance\n")

		cfg, err := getYaml(path)
		require.NoError(t, err)

		assert.Equal(t, "EUR", cfg.FiatCurrency)
		assert.Equal(t, "ledger.json", cfg.SnapshotPath)
		assert.Equal(t, 5*time.Minute, cfg.UpdateInterval)
		assert.Equal(t, ":8080", cfg.DashboardAddr)
		assert.Equal(t, time.Second, cfg.RetryInitialInterval)
		assert.Equal(t, 30*time.Second, cfg.RetryMaxInterval)
		assert.Equal(t, 5, cfg.RetryMaxAttempts)
	})

	t.Run("missing platform rejected", func(t *testing.T) {
		path := writeConfig(t, "fiat_currency: USD\n")

		_, err := getYaml(path)
		assert.ErrorContains(t, err, "platform")
	})

	t.Run("unknown platform rejected", func(t *testing.T) {
		path := writeConfig(t, "platform: kraken\n")

		_, err := getYaml(path)
		assert.ErrorContains(t, err, "kraken")
	})

	t.Run("malformed yaml rejected", func(t *testing.T) {
		path := writeConfig(t, "platform: [unclosed\n")

		_, err := getYaml(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := getYaml(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

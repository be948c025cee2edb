package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickdrive/tickdrive/internal/domain"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT"}, c.Symbols)
	assert.Equal(t, 5, c.FetchIntervalSec)
	assert.Equal(t, 100, c.BufferSize)
	assert.Equal(t, domain.MarketSpot, c.Market())
	assert.Equal(t, "localhost:6379", c.RedisAddr())
	assert.Equal(t, "", c.ProxyURL())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
symbols: ["ETHUSDT", "SOLUSDT"]
timeframes: ["15m", "1h"]
market_type: future
fetch_interval_sec: 2
redis:
  host: cache.internal
proxy:
  host: 127.0.0.1
  port: 7890
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, c.Symbols)
	assert.Equal(t, domain.MarketFuture, c.Market())
	assert.Equal(t, 2, c.FetchIntervalSec)
	// Untouched fields keep their defaults.
	assert.Equal(t, 100, c.BufferSize)
	assert.Equal(t, "cache.internal:6379", c.RedisAddr())
	assert.Equal(t, "http://127.0.0.1:7890", c.ProxyURL())

	keys := c.Keys()
	require.Len(t, keys, 4)
	assert.Equal(t, domain.Key{Symbol: "ETHUSDT", Timeframe: "15m"}, keys[0])
	assert.Equal(t, domain.Key{Symbol: "SOLUSDT", Timeframe: "1h"}, keys[3])
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: postgres://file/db
binance:
  api_key: from-file
`), 0o644))

	t.Setenv("TICKDRIVE_DATABASE_URL", "postgres://env/db")
	t.Setenv("TICKDRIVE_BINANCE_API_KEY", "from-env")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", c.DatabaseURL)
	assert.Equal(t, "from-env", c.Binance.APIKey)
}

func TestLoadRejectsBadMarket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("market_type: margin\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

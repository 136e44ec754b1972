// FILE: env_test.go
package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("T_STR", "  hello  ")
	t.Setenv("T_EMPTY", "")
	t.Setenv("T_FLOAT", "1.5")
	t.Setenv("T_BADFLOAT", "one.five")
	t.Setenv("T_INT", "42")
	t.Setenv("T_BOOL_Y", "yes")
	t.Setenv("T_BOOL_N", "0")
	t.Setenv("T_BOOL_JUNK", "maybe")

	assert.Equal(t, "hello", getEnv("T_STR", "def"))
	assert.Equal(t, "def", getEnv("T_EMPTY", "def"))
	assert.Equal(t, "def", getEnv("T_UNSET", "def"))

	assert.InDelta(t, 1.5, getEnvFloat("T_FLOAT", 0), 1e-9)
	assert.InDelta(t, 9.0, getEnvFloat("T_BADFLOAT", 9), 1e-9)
	assert.InDelta(t, 9.0, getEnvFloat("T_UNSET", 9), 1e-9)

	assert.Equal(t, 42, getEnvInt("T_INT", 0))
	assert.Equal(t, 7, getEnvInt("T_UNSET", 7))

	assert.True(t, getEnvBool("T_BOOL_Y", false))
	assert.False(t, getEnvBool("T_BOOL_N", true))
	assert.True(t, getEnvBool("T_BOOL_JUNK", true))
	assert.False(t, getEnvBool("T_UNSET", false))
}

func TestLoadDaemonEnvDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("FROM_FILE=file\nALREADY_SET=file\n"), 0o644))

	t.Setenv("TRADERD_ENV_FILE", envFile)
	t.Setenv("ALREADY_SET", "process")
	// register cleanup via t.Setenv, then genuinely unset so the file wins
	t.Setenv("FROM_FILE", "placeholder")
	require.NoError(t, os.Unsetenv("FROM_FILE"))

	loadDaemonEnv()

	assert.Equal(t, "file", os.Getenv("FROM_FILE"))
	assert.Equal(t, "process", os.Getenv("ALREADY_SET"))
}

func TestLoadDaemonEnvToleratesMissingFile(t *testing.T) {
	t.Setenv("TRADERD_ENV_FILE", filepath.Join(t.TempDir(), "nope.env"))
	loadDaemonEnv() // must not panic or exit
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	for _, k := range []string{
		"BROKER", "GATEWAY_BASE_URL", "MARKET_OPEN", "MARKET_CLOSE",
		"LOOP_INTERVAL_SEC", "ACCOUNT_CACHE_TTL_SEC", "LOCK_FILE_PATH", "PORT",
		"BALANCE_SYNC_CRON", "PRICE_UPDATE_CRON", "STRATEGY_CRON",
	} {
		t.Setenv(k, "")
	}

	cfg := loadConfigFromEnv()
	assert.Equal(t, "demo", cfg.BrokerType)
	assert.Equal(t, "09:00", cfg.MarketOpen)
	assert.Equal(t, "15:30", cfg.MarketClose)
	assert.Empty(t, cfg.StrategyCron)
	assert.Equal(t, 8080, cfg.Port)
}

func TestConfigDurationClamps(t *testing.T) {
	cfg := Config{AccountCacheTTLSec: 0, LoopIntervalSec: 0}
	assert.Equal(t, "10m0s", cfg.AccountCacheTTL().String())
	assert.Equal(t, "1m0s", cfg.LoopInterval().String())

	cfg = Config{AccountCacheTTLSec: 30, LoopIntervalSec: 5}
	assert.Equal(t, "30s", cfg.AccountCacheTTL().String())
	assert.Equal(t, "5s", cfg.LoopInterval().String())
}

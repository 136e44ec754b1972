// FILE: config.go
// Package main – Runtime configuration model and loader.
//
// This file defines the Config struct (all the knobs the daemon uses) and a
// helper to populate it from environment variables. The .env file is read by
// loadDaemonEnv() (see env.go), so you can tune behavior without exports.
//
// Typical flow (see main.go):
//   loadDaemonEnv()
//   cfg := loadConfigFromEnv()
//
// NOTE: broker API creds stay broker-prefixed (EXCHANGE_ACCESS_KEY/SECRET,
// DEMO_*) and are consumed by the respective broker clients, not here.

package main

import "time"

// Config holds all runtime knobs for the daemon.
type Config struct {
	// Broker selection
	BrokerType string // "demo" | "exchange" | "manual"

	// Backend gateway
	GatewayBaseURL  string
	GatewayUsername string
	GatewayPassword string
	GatewayAccount  string // account identifier the daemon trades for

	// Job schedules (standard 5-field cron expressions).
	// An empty expression means the job is not registered at all.
	BalanceSyncCron string
	PriceUpdateCron string
	StrategyCron    string

	// Strategy loop bounds
	MarketOpen       string // "HH:MM" local
	MarketClose      string // "HH:MM" local
	TradableEveryday bool   // run the loop on non-trading days too
	LoopIntervalSec  int    // sleep between loop iterations

	// Caching & locking
	AccountCacheTTLSec int    // account-config cache TTL (default 600)
	LockFilePath       string // cross-process single-instance lock

	// Ops
	Port int // /metrics + /healthz listen port
}

// loadConfigFromEnv reads the process env (already hydrated by loadDaemonEnv())
// and returns a Config with sane defaults if keys are missing.
func loadConfigFromEnv() Config {
	return Config{
		BrokerType: getEnv("BROKER", "demo"),

		GatewayBaseURL:  getEnv("GATEWAY_BASE_URL", "http://127.0.0.1:8000"),
		GatewayUsername: getEnv("GATEWAY_USERNAME", ""),
		GatewayPassword: getEnv("GATEWAY_PASSWORD", ""),
		GatewayAccount:  getEnv("GATEWAY_ACCOUNT", ""),

		BalanceSyncCron: getEnv("BALANCE_SYNC_CRON", ""),
		PriceUpdateCron: getEnv("PRICE_UPDATE_CRON", ""),
		StrategyCron:    getEnv("STRATEGY_CRON", ""),

		MarketOpen:       getEnv("MARKET_OPEN", "09:00"),
		MarketClose:      getEnv("MARKET_CLOSE", "15:30"),
		TradableEveryday: getEnvBool("TRADABLE_EVERYDAY", false),
		LoopIntervalSec:  getEnvInt("LOOP_INTERVAL_SEC", 60),

		AccountCacheTTLSec: getEnvInt("ACCOUNT_CACHE_TTL_SEC", 600),
		LockFilePath:       getEnv("LOCK_FILE_PATH", "/tmp/traderd.lock"),

		Port: getEnvInt("PORT", 8080),
	}
}

// AccountCacheTTL returns the account-config cache TTL as a duration,
// clamped to at least one second.
func (c *Config) AccountCacheTTL() time.Duration {
	ttl := c.AccountCacheTTLSec
	if ttl <= 0 {
		ttl = 600
	}
	return time.Duration(ttl) * time.Second
}

// LoopInterval returns the strategy loop cadence, clamped to >= 1s.
func (c *Config) LoopInterval() time.Duration {
	iv := c.LoopIntervalSec
	if iv <= 0 {
		iv = 60
	}
	return time.Duration(iv) * time.Second
}

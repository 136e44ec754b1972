// FILE: broker.go
// Package main – Broker abstractions shared by all venue backends.
//
// This file defines the interface the daemon needs to talk to a trading
// venue, plus the normalized types every variant produces:
//   • Broker interface: balances, pending orders, order lifecycle, prices,
//     order books, venue minimums, fractional capability
//   • Common types: OrderSide, OrderStatus, Order, Balance, PriceData,
//     BookLevel, OrderBook
//   • KV: typed key-lookup wrapper over opaque JSON-ish config payloads
//   • accountConfigCache: per-component TTL cache of the account config
//
// Three concrete implementations live in separate files:
//   • broker_demo.go     – in-memory simulated venue (no external calls)
//   • broker_exchange.go – signed REST client for the automated exchange
//   • broker_manual.go   – API-less venue; emits need-trade signals instead
package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// OrderSide is the side of a trade.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus is the lifecycle state of a placed order. Executed, cancelled
// and rejected are terminal; an order never leaves a terminal state.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusExecuted  OrderStatus = "executed"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
	StatusPartial   OrderStatus = "partial"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Order is the normalized view of an order at a venue.
type Order struct {
	ID               string
	Symbol           string
	Side             OrderSide
	Quantity         float64
	Price            float64
	Status           OrderStatus
	ExecutedQuantity float64
}

// Balance is a point-in-time holding snapshot at a venue. Never persisted by
// the daemon; re-fetched every cycle.
type Balance struct {
	Symbol   string
	Quantity float64
	AvgPrice float64
}

// PriceData is an ephemeral quote, fetched per cycle and never cached beyond
// one strategy tick.
type PriceData struct {
	Symbol        string
	CurrentPrice  float64
	ChangePercent float64
	ChangeAmount  float64
}

// BookLevel is one (price, quantity) rung of an order book side.
type BookLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook is a finite depth snapshot; bids and asks are ordered best-first.
type OrderBook struct {
	Symbol    string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

// BestBid returns the top bid price, or 0 when the side is empty.
func (ob *OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk returns the top ask price, or 0 when the side is empty.
func (ob *OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Spread returns best ask minus best bid (0 when either side is empty).
func (ob *OrderBook) Spread() float64 {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return 0
	}
	return ob.BestAsk() - ob.BestBid()
}

// MidPrice returns the midpoint of the top of book (0 when either side is empty).
func (ob *OrderBook) MidPrice() float64 {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return 0
	}
	return (ob.BestBid() + ob.BestAsk()) / 2
}

// Broker is the uniform surface the daemon needs from any trading venue.
// A price of 0 in PlaceOrder means "at market" on venues that support it.
type Broker interface {
	Name() string
	GetBalances(ctx context.Context) (map[string]Balance, error)
	GetPendingOrders(ctx context.Context) ([]Order, error)
	PlaceOrder(ctx context.Context, symbol string, side OrderSide, quantity, price float64) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
	GetCurrentPrice(ctx context.Context, symbol string) (*PriceData, error)
	GetCurrentPrices(ctx context.Context, symbols []string) (map[string]PriceData, error)
	GetOrderBook(ctx context.Context, symbol string) (*OrderBook, error)
	MinOrderPrice() float64
	SupportsFractional() bool

	// AccountConfig returns the venue's cached account-level configuration
	// (credentials, notification settings), refreshing it when stale or when
	// force is set. InvalidateAccountConfig drops the cache so the next read
	// re-fetches; callers invoke it after any trade.
	AccountConfig(ctx context.Context, force bool) (KV, error)
	InvalidateAccountConfig()
}

// newBroker selects the Broker variant for the configured broker type.
func newBroker(cfg Config, gw *GatewayClient) (Broker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.BrokerType)) {
	case "demo", "":
		return NewDemoBroker(cfg, gw), nil
	case "exchange":
		return NewExchangeBrokerFromEnv(cfg, gw)
	case "manual":
		return NewManualBroker(cfg, gw), nil
	default:
		return nil, fmt.Errorf("unknown broker type %q", cfg.BrokerType)
	}
}

// --------- KV: opaque config payloads ---------

// KV wraps a decoded JSON object and offers typed lookups with explicit
// defaults. Strategy configs, account configs and asset metadata all arrive
// through this; never assume a key is present.
type KV map[string]any

// Str returns the string at key, or def when absent or not a string.
func (k KV) Str(key, def string) string {
	if v, ok := k[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// Float returns the number at key, or def when absent. JSON numbers decode as
// float64; numeric strings are tolerated because some backends stringify.
func (k KV) Float(key string, def float64) float64 {
	switch v := k[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns the boolean at key, or def when absent.
func (k KV) Bool(key string, def bool) bool {
	switch v := k[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "y", "yes":
			return true
		case "0", "false", "n", "no":
			return false
		}
	}
	return def
}

// Sub returns the nested object at key, or an empty KV.
func (k KV) Sub(key string) KV {
	if m, ok := k[key].(map[string]any); ok {
		return KV(m)
	}
	return KV{}
}

// Has reports whether key is present at all.
func (k KV) Has(key string) bool {
	_, ok := k[key]
	return ok
}

// --------- account-config cache ---------

// accountConfigCache is a {value, fetchedAt} pair refreshed on read when
// stale. Each component that reads the account config owns its own instance;
// readers tolerate a stale value for up to one TTL window.
type accountConfigCache struct {
	fetch func(ctx context.Context) (KV, error)
	ttl   time.Duration

	mu        sync.Mutex
	value     KV
	fetchedAt time.Time
}

func newAccountConfigCache(ttl time.Duration, fetch func(ctx context.Context) (KV, error)) *accountConfigCache {
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	return &accountConfigCache{fetch: fetch, ttl: ttl}
}

// Get returns the cached config, re-fetching when stale or when force is set.
// A fetch failure with a previous value present degrades to the stale value.
func (c *accountConfigCache) Get(ctx context.Context, force bool) (KV, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !force && c.value != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.value, nil
	}
	v, err := c.fetch(ctx)
	if err != nil {
		if c.value != nil {
			return c.value, nil
		}
		return nil, err
	}
	c.value = v
	c.fetchedAt = time.Now()
	return c.value, nil
}

// Invalidate drops the cached value so the next Get re-fetches.
func (c *accountConfigCache) Invalidate() {
	c.mu.Lock()
	c.value = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

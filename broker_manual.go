// FILE: broker_manual.go
// Package main – Manual-trade venue broker (no order-placement API).
//
// Some venues expose no trading API at all. PlaceOrder here never submits
// anything to a venue: it resolves the target asset through the gateway and
// writes a need-trade signal (desired price + signed quantity, positive buy /
// negative sell) to the short-TTL slot the backend keeps per asset. A human
// executes the trade out-of-band in the venue UI.
//
// Prices come from the external market-data lookup (see marketdata.go) with
// its two-tier fallback; if both sources fail the price is unavailable, never
// stale. Whole-unit lots only; SupportsFractional is false.

package main

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
)

type ManualBroker struct {
	gw      *GatewayClient
	account string
	quotes  *quoteLookup
	acct    *accountConfigCache
}

func NewManualBroker(cfg Config, gw *GatewayClient) *ManualBroker {
	b := &ManualBroker{
		gw:      gw,
		account: cfg.GatewayAccount,
		quotes:  newQuoteLookup(),
	}
	b.acct = newAccountConfigCache(cfg.AccountCacheTTL(), func(ctx context.Context) (KV, error) {
		return gw.GetAccountConfig(ctx, cfg.GatewayAccount)
	})
	return b
}

func (b *ManualBroker) Name() string { return "manual" }

// GetBalances reads holdings from the backend; the venue has no API, so the
// backend's asset rows are the authoritative view of this account.
func (b *ManualBroker) GetBalances(ctx context.Context) (map[string]Balance, error) {
	assets, err := b.gw.ListAssets(ctx, b.account, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string]Balance, len(assets))
	for _, a := range assets {
		if a.Type == "cash" || a.Quantity <= 0 {
			continue
		}
		out[a.Symbol] = Balance{Symbol: a.Symbol, Quantity: a.Quantity, AvgPrice: a.AvgPrice}
	}
	return out, nil
}

// GetPendingOrders returns nothing: the venue holds no daemon-placed orders,
// only need-trade signals the backend expires on its own.
func (b *ManualBroker) GetPendingOrders(ctx context.Context) ([]Order, error) {
	return nil, nil
}

// PlaceOrder writes a need-trade signal instead of routing an order.
func (b *ManualBroker) PlaceOrder(ctx context.Context, symbol string, side OrderSide, quantity, price float64) (*Order, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be > 0")
	}
	// whole-unit lots only
	quantity = math.Floor(quantity)
	if quantity < 1 {
		return nil, fmt.Errorf("quantity below one whole unit")
	}

	assets, err := b.gw.ListAssets(ctx, b.account, symbol)
	if err != nil {
		return nil, fmt.Errorf("resolve asset %s: %w", symbol, err)
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("no asset registered for symbol %s", symbol)
	}
	asset := assets[0]

	signedQty := quantity
	if side == SideSell {
		signedQty = -quantity
	}
	if err := b.gw.PushNeedTrade(ctx, asset.ID, price, signedQty); err != nil {
		return nil, fmt.Errorf("push need-trade: %w", err)
	}
	IncOrderPlaced(b.Name(), side)

	if acct, err := b.acct.Get(ctx, false); err == nil {
		notify(ctx, acct, fmt.Sprintf("need trade: %s %s %s x %s",
			side, symbol, trimDec(quantity), trimDec(price)))
	}

	// The "order" is the signal itself; it stays pending until a human acts
	// and the backend reconciles the real trade.
	return &Order{
		ID:       uuid.New().String(),
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    price,
		Status:   StatusPending,
	}, nil
}

// CancelOrder is a no-op: there is nothing at a venue to cancel, and the
// need-trade slot expires server-side.
func (b *ManualBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return false, nil
}

// GetOrderStatus always reports pending; confirmation happens out-of-band
// when the human records the executed trade in the backend.
func (b *ManualBroker) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	return StatusPending, nil
}

func (b *ManualBroker) GetCurrentPrice(ctx context.Context, symbol string) (*PriceData, error) {
	return b.quotes.Lookup(ctx, symbol)
}

func (b *ManualBroker) GetCurrentPrices(ctx context.Context, symbols []string) (map[string]PriceData, error) {
	out := make(map[string]PriceData, len(symbols))
	for _, s := range symbols {
		p, err := b.quotes.Lookup(ctx, s)
		if err != nil {
			continue // unavailable symbols are simply absent from the batch
		}
		out[s] = *p
	}
	return out, nil
}

// GetOrderBook is unsupported: the external data sources expose quotes only.
func (b *ManualBroker) GetOrderBook(ctx context.Context, symbol string) (*OrderBook, error) {
	return nil, fmt.Errorf("manual venue exposes no order book for %s", symbol)
}

func (b *ManualBroker) MinOrderPrice() float64 { return 0 }

func (b *ManualBroker) SupportsFractional() bool { return false }

func (b *ManualBroker) AccountConfig(ctx context.Context, force bool) (KV, error) {
	return b.acct.Get(ctx, force)
}

func (b *ManualBroker) InvalidateAccountConfig() { b.acct.Invalidate() }

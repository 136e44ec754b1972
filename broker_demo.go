// FILE: broker_demo.go
// Package main – In-memory demo broker (no external calls).
//
// Simulates a venue for dry runs and tests: balances, prices and order books
// all live in memory, seeded from env. Orders fill with a deterministic toy
// model: every second status poll on a pending order flips it to executed.
//
// Seed knobs:
//   DEMO_SYMBOL / DEMO_PRICE / DEMO_QUANTITY / DEMO_AVG_PRICE
//   DEMO_MIN_ORDER_PRICE (venue minimum order value; default 5000)

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type DemoBroker struct {
	mu       sync.Mutex
	balances map[string]Balance
	prices   map[string]float64
	orders   map[string]*Order
	polls    map[string]int
	minOrder float64

	acct *accountConfigCache
}

func NewDemoBroker(cfg Config, gw *GatewayClient) *DemoBroker {
	b := &DemoBroker{
		balances: map[string]Balance{},
		prices:   map[string]float64{},
		orders:   map[string]*Order{},
		polls:    map[string]int{},
		minOrder: getEnvFloat("DEMO_MIN_ORDER_PRICE", 5000),
	}
	if sym := getEnv("DEMO_SYMBOL", ""); sym != "" {
		b.prices[sym] = getEnvFloat("DEMO_PRICE", 50000)
		if qty := getEnvFloat("DEMO_QUANTITY", 0); qty > 0 {
			b.balances[sym] = Balance{
				Symbol:   sym,
				Quantity: qty,
				AvgPrice: getEnvFloat("DEMO_AVG_PRICE", b.prices[sym]),
			}
		}
	}
	b.acct = newAccountConfigCache(cfg.AccountCacheTTL(), func(ctx context.Context) (KV, error) {
		if gw == nil {
			return KV{}, nil
		}
		return gw.GetAccountConfig(ctx, cfg.GatewayAccount)
	})
	return b
}

func (b *DemoBroker) Name() string { return "demo" }

// SeedPrice installs or replaces the simulated price for a symbol.
func (b *DemoBroker) SeedPrice(symbol string, price float64) {
	b.mu.Lock()
	b.prices[symbol] = price
	b.mu.Unlock()
}

// SeedBalance installs a simulated holding.
func (b *DemoBroker) SeedBalance(symbol string, qty, avgPrice float64) {
	b.mu.Lock()
	b.balances[symbol] = Balance{Symbol: symbol, Quantity: qty, AvgPrice: avgPrice}
	b.mu.Unlock()
}

func (b *DemoBroker) GetBalances(ctx context.Context) (map[string]Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Balance, len(b.balances))
	for k, v := range b.balances {
		out[k] = v
	}
	return out, nil
}

func (b *DemoBroker) GetPendingOrders(ctx context.Context) ([]Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Order
	for _, o := range b.orders {
		if !o.Status.Terminal() {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (b *DemoBroker) PlaceOrder(ctx context.Context, symbol string, side OrderSide, quantity, price float64) (*Order, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be > 0")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if price <= 0 {
		price = b.prices[symbol]
	}
	if price <= 0 {
		return nil, fmt.Errorf("no simulated price for %s", symbol)
	}
	o := &Order{
		ID:       uuid.New().String(),
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    price,
		Status:   StatusPending,
	}
	b.orders[o.ID] = o
	IncOrderPlaced(b.Name(), side)
	return &Order{
		ID: o.ID, Symbol: o.Symbol, Side: o.Side,
		Quantity: o.Quantity, Price: o.Price, Status: o.Status,
	}, nil
}

func (b *DemoBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok || o.Status.Terminal() {
		return false, nil
	}
	o.Status = StatusCancelled
	return true, nil
}

// GetOrderStatus flips a pending order to executed on every second poll,
// applying the fill to the simulated balances.
func (b *DemoBroker) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return "", fmt.Errorf("unknown order %s", orderID)
	}
	if o.Status.Terminal() {
		return o.Status, nil
	}
	b.polls[orderID]++
	if b.polls[orderID]%2 == 0 {
		o.Status = StatusExecuted
		o.ExecutedQuantity = o.Quantity
		b.applyFill(o)
	}
	return o.Status, nil
}

// applyFill mutates the simulated balance for an executed order.
// Caller holds b.mu.
func (b *DemoBroker) applyFill(o *Order) {
	bal := b.balances[o.Symbol]
	bal.Symbol = o.Symbol
	switch o.Side {
	case SideBuy:
		total := bal.Quantity + o.Quantity
		if total > 0 {
			bal.AvgPrice = (bal.AvgPrice*bal.Quantity + o.Price*o.Quantity) / total
		}
		bal.Quantity = total
	case SideSell:
		bal.Quantity -= o.Quantity
		if bal.Quantity <= 0 {
			bal.Quantity = 0
			bal.AvgPrice = 0
		}
	}
	b.balances[o.Symbol] = bal
}

func (b *DemoBroker) GetCurrentPrice(ctx context.Context, symbol string) (*PriceData, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	px, ok := b.prices[symbol]
	if !ok || px <= 0 {
		return nil, fmt.Errorf("no simulated price for %s", symbol)
	}
	return &PriceData{Symbol: symbol, CurrentPrice: px}, nil
}

func (b *DemoBroker) GetCurrentPrices(ctx context.Context, symbols []string) (map[string]PriceData, error) {
	out := make(map[string]PriceData, len(symbols))
	for _, s := range symbols {
		p, err := b.GetCurrentPrice(ctx, s)
		if err != nil {
			continue // degrade per symbol, never fail the batch
		}
		out[s] = *p
	}
	return out, nil
}

// GetOrderBook synthesizes a five-level book around the simulated price.
func (b *DemoBroker) GetOrderBook(ctx context.Context, symbol string) (*OrderBook, error) {
	p, err := b.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	px := p.CurrentPrice
	tick := px * 0.001
	book := &OrderBook{Symbol: symbol, Timestamp: time.Now()}
	for i := 1; i <= 5; i++ {
		book.Bids = append(book.Bids, BookLevel{Price: px - tick*float64(i), Quantity: 10})
		book.Asks = append(book.Asks, BookLevel{Price: px + tick*float64(i), Quantity: 10})
	}
	return book, nil
}

func (b *DemoBroker) MinOrderPrice() float64 { return b.minOrder }

func (b *DemoBroker) SupportsFractional() bool { return true }

func (b *DemoBroker) AccountConfig(ctx context.Context, force bool) (KV, error) {
	return b.acct.Get(ctx, force)
}

func (b *DemoBroker) InvalidateAccountConfig() { b.acct.Invalidate() }

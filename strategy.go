// FILE: strategy.go
// Package main – Strategy abstractions and the dispatch runner.
//
// A Strategy is a per-asset decision procedure that places zero or one order
// per invocation. Five variants live in sibling files:
//   • strategy_dca.go         – fixed monthly amount, always buys
//   • strategy_rebalance.go   – weight-band rebalancing
//   • strategy_threshold.go   – stop-loss and take-profit (mirrored)
//   • strategy_targetvalue.go – order-book-aware target exposure
//
// Every placed order is recorded back to the backend as an unconfirmed
// transaction tagged with the broker order id and strategy name; the backend
// is the system of record for confirmation.

package main

import (
	"context"
	"fmt"
	"log"
)

// StrategyConfig is built fresh each tick from the current asset and account
// configuration; the daemon never persists it.
type StrategyConfig struct {
	Type          string
	AssetID       int64
	Symbol        string
	Config        KV // free-form per-asset strategy parameters
	AccountConfig KV // shared per-account settings
}

// StrategyInputs carries the variant-specific extras the runner threads in:
// current weight for rebalance, price + average cost for stop-loss and
// take-profit, held quantity + order book for target-value.
type StrategyInputs struct {
	Price         *PriceData
	Balance       *Balance   // nil when nothing is held
	CurrentWeight float64    // fraction of portfolio value in this asset
	TotalValue    float64    // portfolio value used for weight sizing
	Book          *OrderBook // nil when the venue exposes no depth
}

// Strategy decides and possibly places one order. The boolean is true iff an
// order was placed.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, cfg StrategyConfig, in StrategyInputs) (bool, error)
}

// Strategy type tags, as attached to assets by the backend.
const (
	StrategyDCA         = "dca"
	StrategyRebalance   = "rebalance"
	StrategyStopLoss    = "stop_loss"
	StrategyTakeProfit  = "take_profit"
	StrategyTargetValue = "target_value"
)

// StrategyRunner maps a StrategyConfig.Type to the matching variant.
type StrategyRunner struct {
	broker Broker
	gw     *GatewayClient
}

func NewStrategyRunner(broker Broker, gw *GatewayClient) *StrategyRunner {
	return &StrategyRunner{broker: broker, gw: gw}
}

// Run dispatches one strategy tick. Unknown types are an error the caller
// logs and skips; they never abort the surrounding batch.
func (r *StrategyRunner) Run(ctx context.Context, cfg StrategyConfig, in StrategyInputs) (bool, error) {
	var s Strategy
	switch cfg.Type {
	case StrategyDCA:
		s = &dcaStrategy{r}
	case StrategyRebalance:
		s = &rebalanceStrategy{r}
	case StrategyStopLoss:
		s = &thresholdStrategy{runner: r, takeProfit: false}
	case StrategyTakeProfit:
		s = &thresholdStrategy{runner: r, takeProfit: true}
	case StrategyTargetValue:
		s = &targetValueStrategy{r}
	default:
		return false, fmt.Errorf("unknown strategy type %q", cfg.Type)
	}

	placed, err := s.Execute(ctx, cfg, in)
	switch {
	case err != nil:
		IncStrategyRun(s.Name(), "error")
	case placed:
		IncStrategyRun(s.Name(), "order")
	default:
		IncStrategyRun(s.Name(), "noop")
	}
	return placed, err
}

// placeAndRecord places the order and writes the unconfirmed transaction.
// A recording failure after a successful placement is logged, not returned:
// the order is live either way, and the next balance sync surfaces the gap.
func (r *StrategyRunner) placeAndRecord(ctx context.Context, strategy string, cfg StrategyConfig, side OrderSide, qty, price float64) (bool, error) {
	order, err := r.broker.PlaceOrder(ctx, cfg.Symbol, side, qty, price)
	if err != nil {
		return false, fmt.Errorf("%s place %s %s: %w", strategy, side, cfg.Symbol, err)
	}
	log.Printf("[STRAT] %s placed %s %s qty=%s px=%s order=%s",
		strategy, side, cfg.Symbol, trimDec(qty), trimDec(price), order.ID)

	tx := Transaction{
		AssetID:       cfg.AssetID,
		Type:          string(side),
		Quantity:      order.Quantity,
		Price:         order.Price,
		BrokerOrderID: order.ID,
		Strategy:      strategy,
		Confirmed:     false,
	}
	if err := r.gw.CreateTransaction(ctx, tx); err != nil {
		log.Printf("[STRAT] %s record transaction for order %s: %v", strategy, order.ID, err)
	}
	return true, nil
}

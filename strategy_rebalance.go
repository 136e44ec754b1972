// FILE: strategy_rebalance.go
// Package main – Weight-band rebalancing strategy.
//
// Reads "target_weight" and "rebalance_threshold" (default 0.05). No-op while
// |current − target| stays inside the band; otherwise buys (under target) or
// sells (over target), sized proportional to the weight gap against the
// portfolio value. Sells never exceed the held quantity.

package main

import (
	"context"
	"math"
)

const defaultRebalanceThreshold = 0.05

type rebalanceStrategy struct {
	runner *StrategyRunner
}

func (s *rebalanceStrategy) Name() string { return StrategyRebalance }

func (s *rebalanceStrategy) Execute(ctx context.Context, cfg StrategyConfig, in StrategyInputs) (bool, error) {
	target := cfg.Config.Float("target_weight", 0)
	if target <= 0 || target > 1 {
		return false, nil
	}
	threshold := cfg.Config.Float("rebalance_threshold", defaultRebalanceThreshold)
	if threshold <= 0 {
		threshold = defaultRebalanceThreshold
	}
	if in.Price == nil || in.Price.CurrentPrice <= 0 || in.TotalValue <= 0 {
		return false, nil
	}

	gap := target - in.CurrentWeight
	if math.Abs(gap) <= threshold {
		return false, nil
	}

	price := in.Price.CurrentPrice
	qty := math.Abs(gap) * in.TotalValue / price
	if gap > 0 {
		return s.runner.placeAndRecord(ctx, s.Name(), cfg, SideBuy, qty, price)
	}

	held := 0.0
	if in.Balance != nil {
		held = in.Balance.Quantity
	}
	if held <= 0 {
		return false, nil
	}
	if qty > held {
		qty = held
	}
	return s.runner.placeAndRecord(ctx, s.Name(), cfg, SideSell, qty, price)
}

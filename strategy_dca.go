// FILE: strategy_dca.go
// Package main – Dollar-cost-averaging strategy.
//
// Reads "monthly_amount" from the asset config and buys amount/price units at
// the current price whenever the price is positive. Fails closed (no-op) when
// the amount is missing or the price is not positive.

package main

import "context"

type dcaStrategy struct {
	runner *StrategyRunner
}

func (s *dcaStrategy) Name() string { return StrategyDCA }

func (s *dcaStrategy) Execute(ctx context.Context, cfg StrategyConfig, in StrategyInputs) (bool, error) {
	amount := cfg.Config.Float("monthly_amount", 0)
	if amount <= 0 {
		return false, nil
	}
	if in.Price == nil || in.Price.CurrentPrice <= 0 {
		return false, nil
	}
	price := in.Price.CurrentPrice
	qty := amount / price
	return s.runner.placeAndRecord(ctx, s.Name(), cfg, SideBuy, qty, price)
}

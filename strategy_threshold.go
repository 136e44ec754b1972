// FILE: strategy_threshold.go
// Package main – Stop-loss and take-profit strategies.
//
// Both are return-threshold triggers on the held position and mirror each
// other, so they share one implementation:
//   • stop-loss:   "loss_threshold" must be negative; sell everything when
//     (price − avg_cost)/avg_cost <= threshold
//   • take-profit: "profit_threshold" must be positive; sell everything when
//     (price − avg_cost)/avg_cost >= threshold
//
// No-op when nothing is held or the cost basis is unknown.

package main

import "context"

type thresholdStrategy struct {
	runner     *StrategyRunner
	takeProfit bool
}

func (s *thresholdStrategy) Name() string {
	if s.takeProfit {
		return StrategyTakeProfit
	}
	return StrategyStopLoss
}

func (s *thresholdStrategy) Execute(ctx context.Context, cfg StrategyConfig, in StrategyInputs) (bool, error) {
	var threshold float64
	if s.takeProfit {
		threshold = cfg.Config.Float("profit_threshold", 0)
		if threshold <= 0 {
			return false, nil
		}
	} else {
		threshold = cfg.Config.Float("loss_threshold", 0)
		if threshold >= 0 {
			return false, nil
		}
	}

	if in.Balance == nil || in.Balance.Quantity <= 0 {
		return false, nil
	}
	avg := in.Balance.AvgPrice
	if avg <= 0 {
		// no cost basis, the return is undefined
		return false, nil
	}
	if in.Price == nil || in.Price.CurrentPrice <= 0 {
		return false, nil
	}

	price := in.Price.CurrentPrice
	ret := (price - avg) / avg

	triggered := false
	if s.takeProfit {
		triggered = ret >= threshold
	} else {
		triggered = ret <= threshold
	}
	if !triggered {
		return false, nil
	}

	// full-position exit
	return s.runner.placeAndRecord(ctx, s.Name(), cfg, SideSell, in.Balance.Quantity, price)
}

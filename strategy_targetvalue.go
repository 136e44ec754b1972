// FILE: strategy_targetvalue.go
// Package main – Target-value strategy (order-book aware).
//
// Maintains a target monetary exposure (target_price × target_ratio) for one
// asset using live depth. Deviations are priced at the SECOND book level on
// the relevant side, a conservative "what would it cost to actually fill"
// proxy over the top of book, and order size never exceeds the liquidity
// visible at the first two levels.
//
// Tolerance ("trade_ratio") is either configured, or derived from the venue
// minimum order value (min_order_price / target_value); venues with no
// minimum fall back to mid_price / target_value.
//
// Venues without fractional trading no-op below 0.75 whole units instead of
// rounding up, to avoid spurious tiny fills.

package main

import (
	"context"
	"math"
)

// minimum whole-unit quantity worth signalling on non-fractional venues
const wholeUnitFloor = 0.75

type targetValueStrategy struct {
	runner *StrategyRunner
}

func (s *targetValueStrategy) Name() string { return StrategyTargetValue }

func (s *targetValueStrategy) Execute(ctx context.Context, cfg StrategyConfig, in StrategyInputs) (bool, error) {
	targetValue := cfg.Config.Float("target_price", 0) * cfg.Config.Float("target_ratio", 0)
	if targetValue <= 0 {
		return false, nil
	}
	book := in.Book
	if book == nil || len(book.Asks) < 2 || len(book.Bids) < 2 {
		return false, nil
	}

	tolerance := cfg.Config.Float("trade_ratio", 0)
	if tolerance <= 0 {
		if mop := s.runner.broker.MinOrderPrice(); mop > 0 {
			tolerance = mop / targetValue
		} else {
			tolerance = book.MidPrice() / targetValue
		}
	}
	if tolerance <= 0 {
		return false, nil
	}

	held := 0.0
	if in.Balance != nil {
		held = in.Balance.Quantity
	}

	// Buy side first: deviation at the second ask level.
	askPrice := book.Asks[1].Price
	if askPrice > 0 {
		deviation := (targetValue - held*askPrice) / targetValue
		if deviation >= tolerance {
			need := (targetValue - held*askPrice) / askPrice
			avail := book.Asks[0].Quantity + book.Asks[1].Quantity
			qty := math.Min(need, avail)
			return s.place(ctx, cfg, SideBuy, qty, askPrice)
		}
	}

	// Then the sell side, symmetrically at the second bid level.
	bidPrice := book.Bids[1].Price
	if bidPrice > 0 {
		deviation := (held*bidPrice - targetValue) / targetValue
		if deviation >= tolerance {
			need := (held*bidPrice - targetValue) / bidPrice
			avail := book.Bids[0].Quantity + book.Bids[1].Quantity
			qty := math.Min(math.Min(need, avail), held)
			return s.place(ctx, cfg, SideSell, qty, bidPrice)
		}
	}

	return false, nil
}

// place applies the fractional-trading constraint before handing off.
func (s *targetValueStrategy) place(ctx context.Context, cfg StrategyConfig, side OrderSide, qty, price float64) (bool, error) {
	if qty <= 0 {
		return false, nil
	}
	if !s.runner.broker.SupportsFractional() {
		if qty < wholeUnitFloor {
			return false, nil
		}
		qty = math.Round(qty)
	}
	return s.runner.placeAndRecord(ctx, s.Name(), cfg, side, qty, price)
}

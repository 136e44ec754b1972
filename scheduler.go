// FILE: scheduler.go
// Package main – Daemon scheduler: cron jobs, market-hours strategy loop,
// single-flight guards.
//
// Three recurring jobs, each registered only when its cron expression is
// configured (an absent schedule means the job does not exist for this
// deployment):
//   • balance sync     – compares broker balances to backend assets and logs
//     mismatches; read-only, never auto-corrects
//   • price update     – one batched quote call per venue, each price pushed
//     back to the backend
//   • strategy loop    – bounded loop driving the strategy runner (below)
//
// Jobs run on the cron scheduler's goroutines with SkipIfStillRunning, so a
// firing that lands while the previous run is still going is dropped, not
// queued. The strategy loop adds its own two guards on top:
//   1. a non-blocking mutex (a concurrent firing in this process is dropped)
//   2. a non-blocking advisory file lock (a second daemon process on the same
//      deployment is locked out entirely)
// Both are released via defer so a crash inside the loop cannot leave the
// deployment locked.
//
// Loop shape: on trigger it iterates once per LOOP_INTERVAL_SEC until local
// time passes market close, or it is a non-trading day and TRADABLE_EVERYDAY
// is unset. On daemon startup inside market hours the loop is kicked off
// immediately in a background goroutine so a restart mid-session does not
// wait for the next cron firing. Exit conditions are only checked at
// iteration boundaries; individual broker/gateway calls are timeout-bounded.

package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
)

// balance comparison tolerance; venues report float dust
const balanceEpsilon = 1e-8

type Scheduler struct {
	cfg    Config
	broker Broker
	gw     *GatewayClient
	runner *StrategyRunner

	cron     *cron.Cron
	runMu    sync.Mutex
	fileLock *flock.Flock
	acct     *accountConfigCache

	// indirection for tests; defaults to time.Now
	nowFn func() time.Time
}

func NewScheduler(cfg Config, broker Broker, gw *GatewayClient) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		broker:   broker,
		gw:       gw,
		runner:   NewStrategyRunner(broker, gw),
		cron:     cron.New(),
		fileLock: flock.New(cfg.LockFilePath),
		nowFn:    time.Now,
	}
	s.acct = newAccountConfigCache(cfg.AccountCacheTTL(), func(ctx context.Context) (KV, error) {
		return gw.GetAccountConfig(ctx, cfg.GatewayAccount)
	})
	return s
}

// Start registers the configured jobs and starts the cron scheduler. If the
// current moment is inside market hours, the strategy loop is additionally
// kicked off right away in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		expr string
		run  func()
	}{
		{"balance_sync", s.cfg.BalanceSyncCron, func() { s.syncBalances(ctx) }},
		{"price_update", s.cfg.PriceUpdateCron, func() { s.updatePrices(ctx) }},
		{"strategy", s.cfg.StrategyCron, func() { s.runStrategyLoop(ctx) }},
	}
	cronLog := cron.PrintfLogger(log.Default())
	for _, j := range jobs {
		if strings.TrimSpace(j.expr) == "" {
			log.Printf("[SCHED] job %s has no schedule; not registered", j.name)
			continue
		}
		wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLog)).Then(cron.FuncJob(j.run))
		if _, err := s.cron.AddJob(j.expr, wrapped); err != nil {
			return fmt.Errorf("register %s (%q): %w", j.name, j.expr, err)
		}
		log.Printf("[SCHED] registered %s (%s)", j.name, j.expr)
	}
	s.cron.Start()

	if strings.TrimSpace(s.cfg.StrategyCron) != "" {
		now := s.nowFn()
		if s.tradingDay(now) && s.withinMarketHours(now) {
			log.Printf("[SCHED] startup inside market hours; kicking strategy loop")
			go s.runStrategyLoop(ctx)
		}
	}
	return nil
}

// Stop halts the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// JobCount reports how many jobs were actually registered.
func (s *Scheduler) JobCount() int {
	return len(s.cron.Entries())
}

// --------- balance sync (read-only) ---------

func (s *Scheduler) syncBalances(ctx context.Context) {
	balances, err := s.broker.GetBalances(ctx)
	if err != nil {
		log.Printf("[BALANCE] broker balances: %v", err)
		return
	}
	assets, err := s.gw.ListAssets(ctx, s.cfg.GatewayAccount, "")
	if err != nil {
		log.Printf("[BALANCE] backend assets: %v", err)
		return
	}
	for _, a := range assets {
		if a.Type == "cash" {
			continue
		}
		got := balances[a.Symbol].Quantity
		if math.Abs(got-a.Quantity) > balanceEpsilon {
			log.Printf("[BALANCE] mismatch %s: broker=%s backend=%s",
				a.Symbol, trimDec(got), trimDec(a.Quantity))
			IncBalanceMismatch()
		}
	}
}

// --------- price update ---------

func (s *Scheduler) updatePrices(ctx context.Context) {
	assets, err := s.gw.ListAssets(ctx, s.cfg.GatewayAccount, "")
	if err != nil {
		log.Printf("[PRICE] backend assets: %v", err)
		return
	}
	symbols := distinctTradableSymbols(assets)
	if len(symbols) == 0 {
		return
	}
	prices, err := s.broker.GetCurrentPrices(ctx, symbols)
	if err != nil {
		log.Printf("[PRICE] batch quotes: %v", err)
		return
	}
	for _, sym := range symbols {
		p, ok := prices[sym]
		if !ok || p.CurrentPrice <= 0 {
			log.Printf("[PRICE] no quote for %s; skipped", sym)
			continue
		}
		if err := s.gw.PushPrice(ctx, sym, p); err != nil {
			log.Printf("[PRICE] push %s: %v", sym, err)
			continue
		}
		IncPricePush()
	}
}

func distinctTradableSymbols(assets []Asset) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, a := range assets {
		if a.Type == "cash" || strings.TrimSpace(a.Symbol) == "" {
			continue
		}
		if _, ok := seen[a.Symbol]; ok {
			continue
		}
		seen[a.Symbol] = struct{}{}
		out = append(out, a.Symbol)
	}
	return out
}

// --------- strategy loop ---------

func (s *Scheduler) runStrategyLoop(ctx context.Context) {
	if !s.runMu.TryLock() {
		log.Printf("[LOCK] strategy loop already running in this process; skipped")
		IncLoopSkip("thread_lock")
		return
	}
	defer s.runMu.Unlock()

	locked, err := s.fileLock.TryLock()
	if err != nil {
		log.Printf("[LOCK] %s: %v", s.cfg.LockFilePath, err)
		return
	}
	if !locked {
		log.Printf("[LOCK] another instance holds %s; skipped", s.cfg.LockFilePath)
		IncLoopSkip("file_lock")
		return
	}
	defer func() {
		if err := s.fileLock.Unlock(); err != nil {
			log.Printf("[LOCK] release %s: %v", s.cfg.LockFilePath, err)
		}
	}()

	interval := s.cfg.LoopInterval()
	log.Printf("[SCHED] strategy loop started (interval=%s close=%s)", interval, s.cfg.MarketClose)
	for {
		if ctx.Err() != nil {
			log.Printf("[SCHED] strategy loop stopped: %v", ctx.Err())
			return
		}
		now := s.nowFn()
		if !s.tradingDay(now) {
			log.Printf("[SCHED] non-trading day; strategy loop exiting")
			return
		}
		if s.afterClose(now) {
			log.Printf("[SCHED] past market close (%s); strategy loop exiting", s.cfg.MarketClose)
			return
		}

		if err := s.runStrategyPass(ctx); err != nil {
			// Unrecoverable for this iteration; the next cron firing retries fresh.
			log.Printf("[SCHED] strategy pass failed: %v", err)
			return
		}
		IncLoopIteration()

		select {
		case <-ctx.Done():
			log.Printf("[SCHED] strategy loop stopped: %v", ctx.Err())
			return
		case <-time.After(interval):
		}
	}
}

// runStrategyPass is one loop iteration: stale-order cleanup, fresh balances
// and account config, then one runner dispatch per tradable asset. Per-asset
// failures are logged and skipped; only a failure to list assets aborts.
func (s *Scheduler) runStrategyPass(ctx context.Context) error {
	if pending, err := s.broker.GetPendingOrders(ctx); err != nil {
		log.Printf("[SCHED] list pending orders: %v", err)
	} else {
		for _, o := range pending {
			if ok, err := s.broker.CancelOrder(ctx, o.ID); err != nil {
				log.Printf("[SCHED] cancel stale order %s: %v", o.ID, err)
			} else if ok {
				log.Printf("[SCHED] cancelled stale order %s (%s %s)", o.ID, o.Side, o.Symbol)
			}
		}
	}

	balances, err := s.broker.GetBalances(ctx)
	if err != nil {
		log.Printf("[SCHED] balances: %v (continuing with none)", err)
		balances = map[string]Balance{}
	}

	acctCfg, err := s.acct.Get(ctx, false)
	if err != nil {
		log.Printf("[SCHED] account config: %v (continuing without)", err)
		acctCfg = KV{}
	}

	assets, err := s.gw.ListAssets(ctx, s.cfg.GatewayAccount, "")
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}

	symbols := distinctTradableSymbols(assets)
	prices, err := s.broker.GetCurrentPrices(ctx, symbols)
	if err != nil {
		log.Printf("[SCHED] batch quotes: %v (continuing with none)", err)
		prices = map[string]PriceData{}
	}
	total := portfolioValue(assets, balances, prices)

	for _, a := range assets {
		if a.Type == "cash" {
			continue
		}
		strategyType := a.Meta.Str("strategy_type", "")
		if strategyType == "" {
			continue // asset has no strategy attached
		}
		cfg := StrategyConfig{
			Type:          strategyType,
			AssetID:       a.ID,
			Symbol:        a.Symbol,
			Config:        a.Meta.Sub("config"),
			AccountConfig: acctCfg,
		}
		in := s.buildInputs(ctx, a, balances, prices, total, strategyType)

		placed, err := s.runner.Run(ctx, cfg, in)
		if err != nil {
			log.Printf("[STRAT] %s %s: %v (asset skipped)", strategyType, a.Symbol, err)
			continue
		}
		if placed {
			// A trade may change the account configuration as a side effect;
			// stale config after a trade is unacceptable.
			s.acct.Invalidate()
			s.broker.InvalidateAccountConfig()
		}
	}
	return nil
}

// buildInputs threads the variant-specific extras into the runner.
func (s *Scheduler) buildInputs(ctx context.Context, a Asset, balances map[string]Balance, prices map[string]PriceData, total float64, strategyType string) StrategyInputs {
	in := StrategyInputs{TotalValue: total}

	if p, ok := prices[a.Symbol]; ok && p.CurrentPrice > 0 {
		px := p
		in.Price = &px
	} else if p, err := s.broker.GetCurrentPrice(ctx, a.Symbol); err == nil && p.CurrentPrice > 0 {
		in.Price = p
	}

	bal, ok := balances[a.Symbol]
	if !ok && a.Quantity > 0 {
		// venue reported nothing; fall back to the backend's view
		bal = Balance{Symbol: a.Symbol, Quantity: a.Quantity, AvgPrice: a.AvgPrice}
		ok = true
	}
	if ok {
		if bal.AvgPrice <= 0 && a.AvgPrice > 0 {
			// venues rarely report cost basis; the backend does
			bal.AvgPrice = a.AvgPrice
		}
		in.Balance = &bal
	}

	if in.Price != nil && in.Balance != nil && total > 0 {
		in.CurrentWeight = in.Balance.Quantity * in.Price.CurrentPrice / total
	}

	if strategyType == StrategyTargetValue {
		book, err := s.broker.GetOrderBook(ctx, a.Symbol)
		if err != nil {
			log.Printf("[SCHED] order book %s: %v", a.Symbol, err)
		} else {
			in.Book = book
		}
	}
	return in
}

// portfolioValue sums venue holdings at current prices plus backend cash rows.
func portfolioValue(assets []Asset, balances map[string]Balance, prices map[string]PriceData) float64 {
	total := 0.0
	for _, b := range balances {
		if p, ok := prices[b.Symbol]; ok {
			total += b.Quantity * p.CurrentPrice
		}
	}
	for _, a := range assets {
		if a.Type == "cash" {
			total += a.Quantity
		}
	}
	return total
}

// --------- market-calendar helpers ---------

// tradingDay reports whether the loop may run on this date. Weekends are the
// only non-trading days the daemon knows about; TRADABLE_EVERYDAY overrides
// (crypto venues trade every day).
func (s *Scheduler) tradingDay(t time.Time) bool {
	if s.cfg.TradableEveryday {
		return true
	}
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

func (s *Scheduler) withinMarketHours(t time.Time) bool {
	open, err := parseClock(s.cfg.MarketOpen)
	if err != nil {
		log.Printf("[SCHED] bad MARKET_OPEN %q: %v", s.cfg.MarketOpen, err)
		return false
	}
	closeMin, err := parseClock(s.cfg.MarketClose)
	if err != nil {
		log.Printf("[SCHED] bad MARKET_CLOSE %q: %v", s.cfg.MarketClose, err)
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return m >= open && m < closeMin
}

func (s *Scheduler) afterClose(t time.Time) bool {
	closeMin, err := parseClock(s.cfg.MarketClose)
	if err != nil {
		log.Printf("[SCHED] bad MARKET_CLOSE %q: %v", s.cfg.MarketClose, err)
		return true // fail closed: never trade on a broken close time
	}
	return t.Hour()*60+t.Minute() >= closeMin
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FILE: scheduler_test.go
package main

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// a Wednesday at 10:00, well inside the default market hours
var tradingWednesday = time.Date(2026, time.January, 7, 10, 0, 0, 0, time.UTC)

func schedulerConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		GatewayAccount:     "acc",
		MarketOpen:         "09:00",
		MarketClose:        "15:30",
		LoopIntervalSec:    60,
		AccountCacheTTLSec: 600,
		LockFilePath:       filepath.Join(t.TempDir(), "traderd.lock"),
	}
}

// newSchedulerGateway serves the minimal backend surface one strategy pass
// needs: a single DCA asset, an empty account config, a transaction sink.
func newSchedulerGateway(t *testing.T) *GatewayClient {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/assets", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":1,"symbol":"BTC","name":"Bitcoin","type":"crypto","quantity":0,"avg_price":0,
			 "meta":{"strategy_type":"dca","config":{"monthly_amount":1000000}}}
		]`))
	})
	mux.HandleFunc("/api/accounts/acc/config", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})
	mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return NewGatewayClient(ts.URL, "svc", "pw")
}

func TestSchedulerRegistersOnlyConfiguredJobs(t *testing.T) {
	gw := newSchedulerGateway(t)

	cases := []struct {
		name string
		mut  func(*Config)
		want int
	}{
		{"none", func(c *Config) {}, 0},
		{"price only", func(c *Config) { c.PriceUpdateCron = "0 18 * * *" }, 1},
		{"all three", func(c *Config) {
			c.BalanceSyncCron = "0 17 * * *"
			c.PriceUpdateCron = "0 18 * * *"
			c.StrategyCron = "0 9 * * 1-5"
		}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := schedulerConfig(t)
			tc.mut(&cfg)
			s := NewScheduler(cfg, newFakeBroker(), gw)
			// pin "now" outside market hours so Start never kicks the loop
			s.nowFn = func() time.Time { return tradingWednesday.Add(12 * time.Hour) }

			require.NoError(t, s.Start(context.Background()))
			defer s.Stop()
			assert.Equal(t, tc.want, s.JobCount())
		})
	}
}

func TestSchedulerRejectsBadCronExpression(t *testing.T) {
	cfg := schedulerConfig(t)
	cfg.StrategyCron = "not a cron line"
	s := NewScheduler(cfg, newFakeBroker(), newSchedulerGateway(t))
	require.Error(t, s.Start(context.Background()))
}

func TestStrategyLoopSingleFlightInProcess(t *testing.T) {
	broker := newFakeBroker()
	broker.prices["BTC"] = PriceData{Symbol: "BTC", CurrentPrice: 50000}
	broker.balancesHold = make(chan struct{})
	broker.balancesEntered = make(chan struct{})

	s := NewScheduler(schedulerConfig(t), broker, newSchedulerGateway(t))
	s.nowFn = func() time.Time { return tradingWednesday }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.runStrategyLoop(ctx)
		close(done)
	}()

	// first invocation holds both guards and is parked mid-pass
	select {
	case <-broker.balancesEntered:
	case <-time.After(5 * time.Second):
		t.Fatal("strategy pass never reached the broker")
	}

	// a concurrent firing is dropped without doing any work
	s.runStrategyLoop(ctx)
	assert.Empty(t, broker.placedOrders())

	close(broker.balancesHold)
	require.Eventually(t, func() bool {
		return len(broker.placedOrders()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("strategy loop did not stop on context cancel")
	}
	// exactly one pass ran; the dropped firing added nothing
	assert.Len(t, broker.placedOrders(), 1)
}

func TestStrategyLoopFileLockExcludesSecondInstance(t *testing.T) {
	cfg := schedulerConfig(t)
	gw := newSchedulerGateway(t)

	broker1 := newFakeBroker()
	broker1.prices["BTC"] = PriceData{Symbol: "BTC", CurrentPrice: 50000}
	broker1.balancesHold = make(chan struct{})
	broker1.balancesEntered = make(chan struct{})

	s1 := NewScheduler(cfg, broker1, gw)
	s1.nowFn = func() time.Time { return tradingWednesday }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s1.runStrategyLoop(ctx)
		close(done)
	}()
	select {
	case <-broker1.balancesEntered:
	case <-time.After(5 * time.Second):
		t.Fatal("first instance never reached the broker")
	}

	// second "process": separate scheduler on the same lock file
	broker2 := newFakeBroker()
	broker2.prices["BTC"] = PriceData{Symbol: "BTC", CurrentPrice: 50000}
	s2 := NewScheduler(cfg, broker2, gw)
	s2.nowFn = func() time.Time { return tradingWednesday }

	s2.runStrategyLoop(ctx)
	assert.Empty(t, broker2.placedOrders(), "locked-out instance must not trade")

	close(broker1.balancesHold)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("strategy loop did not stop on context cancel")
	}
}

func TestSkipIfStillRunningDropsOverlappingFiring(t *testing.T) {
	var runs atomic.Int32
	block := make(chan struct{})
	job := cron.FuncJob(func() {
		runs.Add(1)
		<-block
	})
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.PrintfLogger(log.Default()))).Then(job)

	go wrapped.Run()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	// a firing that lands mid-run returns immediately without executing
	wrapped.Run()
	assert.Equal(t, int32(1), runs.Load())
	close(block)
}

// --------- market calendar ---------

func TestTradingDay(t *testing.T) {
	s := &Scheduler{cfg: Config{}}
	saturday := time.Date(2026, time.January, 10, 10, 0, 0, 0, time.UTC)
	sunday := saturday.AddDate(0, 0, 1)

	assert.True(t, s.tradingDay(tradingWednesday))
	assert.False(t, s.tradingDay(saturday))
	assert.False(t, s.tradingDay(sunday))

	s.cfg.TradableEveryday = true
	assert.True(t, s.tradingDay(saturday))
}

func TestMarketHoursBounds(t *testing.T) {
	s := &Scheduler{cfg: Config{MarketOpen: "09:00", MarketClose: "15:30"}}
	day := func(h, m int) time.Time {
		return time.Date(2026, time.January, 7, h, m, 0, 0, time.UTC)
	}

	assert.False(t, s.withinMarketHours(day(8, 59)))
	assert.True(t, s.withinMarketHours(day(9, 0))) // open is inclusive
	assert.True(t, s.withinMarketHours(day(15, 29)))
	assert.False(t, s.withinMarketHours(day(15, 30))) // close is exclusive

	assert.False(t, s.afterClose(day(15, 29)))
	assert.True(t, s.afterClose(day(15, 30)))

	// a broken close time fails closed
	s.cfg.MarketClose = "garbage"
	assert.True(t, s.afterClose(day(10, 0)))
	assert.False(t, s.withinMarketHours(day(10, 0)))
}

func TestParseClock(t *testing.T) {
	m, err := parseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 570, m)

	m, err = parseClock(" 15:30 ")
	require.NoError(t, err)
	assert.Equal(t, 930, m)

	_, err = parseClock("junk")
	require.Error(t, err)
}

// --------- pass helpers ---------

func TestDistinctTradableSymbols(t *testing.T) {
	assets := []Asset{
		{Symbol: "BTC", Type: "crypto"},
		{Symbol: "BTC", Type: "crypto"}, // duplicate
		{Symbol: "KRW", Type: "cash"},
		{Symbol: "", Type: "stock"},
		{Symbol: "AAPL", Type: "stock"},
	}
	assert.Equal(t, []string{"BTC", "AAPL"}, distinctTradableSymbols(assets))
}

func TestPortfolioValue(t *testing.T) {
	assets := []Asset{
		{Symbol: "BTC", Type: "crypto", Quantity: 1},
		{Symbol: "KRW", Type: "cash", Quantity: 500},
	}
	balances := map[string]Balance{
		"BTC":    {Symbol: "BTC", Quantity: 2},
		"NOPRIC": {Symbol: "NOPRIC", Quantity: 9},
	}
	prices := map[string]PriceData{
		"BTC": {Symbol: "BTC", CurrentPrice: 100},
	}
	// 2*100 held at the venue, plus 500 backend cash; unpriced holdings add 0
	assert.InDelta(t, 700.0, portfolioValue(assets, balances, prices), 1e-9)
}

// FILE: metrics.go
// Package main – Prometheus metrics for observability.
//
// Exposes the primary metrics the daemon updates during operation:
//   • traderd_orders_total{broker,side}      – Orders placed per venue/side
//   • traderd_strategy_runs_total{strategy,result} – Runs by outcome (order|noop|error)
//   • traderd_loop_iterations_total          – Strategy loop iterations
//   • traderd_loop_skips_total{reason}       – Skipped firings (thread_lock|file_lock)
//   • traderd_price_pushes_total             – Price updates pushed to the backend
//   • traderd_balance_mismatches_total       – Broker vs backend balance mismatches
//   • traderd_gateway_reauths_total          – Bearer-token re-authentications
//   • traderd_notify_failures_total          – Swallowed webhook failures
//
// These are registered in init() and served by the HTTP handler started in
// main.go at /metrics (Prometheus text exposition format).

package main

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traderd_orders_total",
			Help: "Orders placed",
		},
		[]string{"broker", "side"},
	)

	mtxStrategyRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traderd_strategy_runs_total",
			Help: "Strategy executions by outcome",
		},
		[]string{"strategy", "result"}, // result: order|noop|error
	)

	mtxLoopIterations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "traderd_loop_iterations_total",
			Help: "Strategy loop iterations completed",
		},
	)

	mtxLoopSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traderd_loop_skips_total",
			Help: "Loop firings skipped by a single-flight guard",
		},
		[]string{"reason"}, // thread_lock|file_lock
	)

	mtxPricePushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "traderd_price_pushes_total",
			Help: "Price updates pushed to the backend",
		},
	)

	mtxBalanceMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "traderd_balance_mismatches_total",
			Help: "Balance mismatches between broker and backend",
		},
	)

	mtxGatewayReauths = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "traderd_gateway_reauths_total",
			Help: "Gateway bearer-token re-authentications",
		},
	)

	mtxNotifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "traderd_notify_failures_total",
			Help: "Webhook notification failures (logged and swallowed)",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxOrders, mtxStrategyRuns)
	prometheus.MustRegister(mtxLoopIterations, mtxLoopSkips)
	prometheus.MustRegister(mtxPricePushes, mtxBalanceMismatches)
	prometheus.MustRegister(mtxGatewayReauths, mtxNotifyFailures)
}

// Helper setters (used by other files)
func IncOrderPlaced(broker string, side OrderSide) {
	mtxOrders.WithLabelValues(broker, string(side)).Inc()
}
func IncStrategyRun(strategy, result string) {
	mtxStrategyRuns.WithLabelValues(strategy, result).Inc()
}
func IncLoopIteration()         { mtxLoopIterations.Inc() }
func IncLoopSkip(reason string) { mtxLoopSkips.WithLabelValues(reason).Inc() }
func IncPricePush()             { mtxPricePushes.Inc() }
func IncBalanceMismatch()       { mtxBalanceMismatches.Inc() }
func IncGatewayReauth()         { mtxGatewayReauths.Inc() }
func IncNotifyFailure()         { mtxNotifyFailures.Inc() }

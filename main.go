// FILE: main.go
// Package main – Program entrypoint and HTTP/metrics server.
//
// Boot sequence:
//   1) loadDaemonEnv()            – read .env (no shell exports required)
//   2) cfg := loadConfigFromEnv() – build runtime Config
//   3) wire gateway/broker/scheduler
//   4) start Prometheus /healthz server on cfg.Port
//   5) start the scheduler; the main goroutine blocks until SIGINT/SIGTERM
//
// The daemon is headless: all failure surfaces are logs and metrics.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// ---- Environment & Config ----
	loadDaemonEnv()
	cfg := loadConfigFromEnv()

	// ---- Gateway & broker wiring ----
	gw := NewGatewayClient(cfg.GatewayBaseURL, cfg.GatewayUsername, cfg.GatewayPassword)
	broker, err := newBroker(cfg, gw)
	if err != nil {
		log.Fatalf("broker init: %v", err)
	}
	log.Printf("broker=%s gateway=%s account=%s", broker.Name(), cfg.GatewayBaseURL, cfg.GatewayAccount)

	// ---- HTTP metrics/health ----
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		log.Printf("serving metrics on :%d/metrics", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	// ---- Scheduler ----
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sched := NewScheduler(cfg, broker, gw)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("scheduler: %v", err)
	}

	// The scheduler runs jobs on its own goroutines; the main goroutine just
	// stays alive until a shutdown signal arrives.
	<-ctx.Done()
	log.Println("shutdown")
	sched.Stop()

	// ---- Graceful shutdown for HTTP server ----
	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

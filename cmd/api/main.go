package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AGEPayments/internal/app"
	"AGEPayments/internal/config"
	internalhttp "AGEPayments/internal/http"
	"AGEPayments/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := app.NewLogger()
	slog.SetDefault(logger)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("app init failed: %v", err)
	}
	defer a.Close()
	a.WarmRates(ctx)

	// The api keeps its own rate cache current; the sweep runs in the worker.
	sched := worker.NewScheduler(logger)
	if err := sched.AddRateRefresh(a.Rates, cfg.RefreshInterval()); err != nil {
		log.Fatalf("schedule rate refresh failed: %v", err)
	}
	sched.Start()
	defer sched.Stop(5 * time.Second)

	h := &internalhttp.Handler{
		Checkout:   a.Checkout,
		Reconciler: a.Reconciler,
		Orders:     a.Store,
		Gateways:   a.Gateways,
		Pages: internalhttp.Pages{
			Success: cfg.Checkout.SuccessURL,
			Pending: cfg.Checkout.PendingURL,
			Failure: cfg.Checkout.FailureURL,
		},
		StreamInterval: time.Duration(cfg.Orders.StreamPollSeconds) * time.Second,
		Log:            logger.With("component", "http"),
	}
	if a.Proofs != nil {
		h.Proofs = a.Proofs
	}
	limit := internalhttp.NewIPRateLimit(cfg.RateLimit.StatusRPS, cfg.RateLimit.StatusBurst)
	srv := internalhttp.NewServer(h, limit, a.Store)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening", "addr", cfg.Server.Addr, "gateway", cfg.Gateway.Active, "currency", cfg.Settlement.Currency)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}

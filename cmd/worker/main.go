package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AGEPayments/internal/app"
	"AGEPayments/internal/config"
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

	sw := &worker.Sweeper{
		Orders:      a.Store,
		Reconciler:  a.Reconciler,
		StaleAfter:  time.Duration(cfg.Worker.StaleAfterMinutes) * time.Minute,
		ManualTTL:   cfg.OrderTTL(),
		ProviderTTL: cfg.ProviderTTL(),
		Batch:       cfg.Worker.SweepBatch,
		Log:         logger.With("component", "sweep"),
	}

	sched := worker.NewScheduler(logger)
	if err := sched.AddRateRefresh(a.Rates, cfg.RefreshInterval()); err != nil {
		log.Fatalf("schedule rate refresh failed: %v", err)
	}
	if err := sched.AddSweep(sw, time.Duration(cfg.Worker.SweepIntervalSeconds)*time.Second); err != nil {
		log.Fatalf("schedule sweep failed: %v", err)
	}
	sched.Start()
	logger.Info("worker started", "jobs", sched.Entries())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	sched.Stop(30 * time.Second)
}

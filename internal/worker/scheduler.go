package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"AGEPayments/internal/fx"

	"github.com/robfig/cron/v3"
)

type RateRefresher interface {
	ForceRefresh(ctx context.Context) (fx.Snapshot, error)
}

// Scheduler runs the periodic jobs on a cron. Jobs never overlap with
// themselves: a run that is still going skips the next tick.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{log: logger.With("component", "cron")}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log: logger,
	}
}

// cronLogger routes the cron library's own messages (recovered panics,
// skipped runs) into the structured log.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "err", err)...)
}

func (s *Scheduler) Every(name string, interval time.Duration, timeout time.Duration, job func(ctx context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()
		if err := job(ctx); err != nil {
			s.log.Error("job failed", "job", name, "err", err, "took", time.Since(start))
			return
		}
		s.log.Debug("job done", "job", name, "took", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.log.Info("job scheduled", "job", name, "every", interval)
	return nil
}

// AddRateRefresh keeps the exchange rate cache current.
func (s *Scheduler) AddRateRefresh(r RateRefresher, interval time.Duration) error {
	return s.Every("fx_refresh", interval, time.Minute, func(ctx context.Context) error {
		_, err := r.ForceRefresh(ctx)
		return err
	})
}

func (s *Scheduler) AddSweep(sw *Sweeper, interval time.Duration) error {
	return s.Every("pending_sweep", interval, 5*time.Minute, func(ctx context.Context) error {
		_, err := sw.SweepOnce(ctx)
		return err
	})
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits up to timeout for running jobs to finish.
func (s *Scheduler) Stop(timeout time.Duration) {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(timeout):
		s.log.Warn("scheduler stop timed out, jobs still running")
	}
}

func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

package worker

import (
	"context"
	"log/slog"
	"time"

	"AGEPayments/internal/gateway"
	"AGEPayments/internal/models"
)

type SweepStore interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error)
	HasProof(ctx context.Context, orderID string) (bool, error)
	MarkSwept(ctx context.Context, orderID string) error
}

type OrderReconciler interface {
	Reconcile(ctx context.Context, orderID string) (*models.Order, error)
	Expire(ctx context.Context, orderID, reason string) (*models.Order, error)
	ExpireUnpaid(ctx context.Context, orderID, reason string) (*models.Order, error)
}

// Sweeper is the safety net for lost webhooks and abandoned orders.
type Sweeper struct {
	Orders     SweepStore
	Reconciler OrderReconciler
	// StaleAfter is how long a pending order sits untouched before the
	// sweep looks at it.
	StaleAfter time.Duration
	// ManualTTL is how long an order without a provider charge may wait
	// for a transfer proof before it expires.
	ManualTTL time.Duration
	// ProviderTTL is how long a charged order may stay pending upstream
	// before the sweep expires it. Zero leaves expiry to the provider.
	ProviderTTL time.Duration
	Batch       int
	Now         func() time.Time
	Log         *slog.Logger
}

type SweepStats struct {
	Scanned    int
	Reconciled int
	Settled    int
	Expired    int
	Failed     int
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Sweeper) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func (s *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := s.now()
	orders, err := s.Orders.ListStalePending(ctx, now.Add(-s.StaleAfter), s.Batch)
	if err != nil {
		return stats, err
	}
	for _, order := range orders {
		stats.Scanned++
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		s.sweepOrder(ctx, now, order, &stats)
		// Orders that stay pending rotate to the back of the queue.
		if err := s.Orders.MarkSwept(ctx, order.ID); err != nil {
			s.log().Warn("sweep mark failed", "order_id", order.ID, "err", err)
		}
	}
	if stats.Scanned > 0 {
		s.log().Info("sweep done", "scanned", stats.Scanned, "reconciled", stats.Reconciled, "settled", stats.Settled, "expired", stats.Expired, "failed", stats.Failed)
	}
	return stats, nil
}

func (s *Sweeper) sweepOrder(ctx context.Context, now time.Time, order *models.Order, stats *SweepStats) {
	if hasCharge(order) {
		var (
			updated *models.Order
			err     error
		)
		if s.ProviderTTL > 0 && now.Sub(order.CreatedAt) >= s.ProviderTTL {
			updated, err = s.Reconciler.ExpireUnpaid(ctx, order.ID, "no payment within provider ttl")
		} else {
			updated, err = s.Reconciler.Reconcile(ctx, order.ID)
		}
		if err != nil {
			stats.Failed++
			s.log().Warn("sweep reconcile failed", "order_id", order.ID, "err", err)
			return
		}
		stats.Reconciled++
		switch updated.Status {
		case models.OrderPaid:
			stats.Settled++
		case models.OrderExpired:
			stats.Expired++
		}
		return
	}

	if s.ManualTTL <= 0 || now.Sub(order.CreatedAt) < s.ManualTTL {
		return
	}
	proof, err := s.Orders.HasProof(ctx, order.ID)
	if err != nil {
		stats.Failed++
		s.log().Warn("sweep proof check failed", "order_id", order.ID, "err", err)
		return
	}
	if proof {
		// An operator has to look at it.
		return
	}
	if _, err := s.Reconciler.Expire(ctx, order.ID, "no payment before ttl"); err != nil {
		stats.Failed++
		s.log().Warn("sweep expire failed", "order_id", order.ID, "err", err)
		return
	}
	stats.Expired++
}

func hasCharge(o *models.Order) bool {
	return o.PaymentProvider != "" &&
		o.PaymentProvider != string(gateway.ProviderManual) &&
		o.ProviderTransactionID != nil && *o.ProviderTransactionID != ""
}

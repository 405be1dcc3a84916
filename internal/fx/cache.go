package fx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

type Cache struct {
	Provider Provider
	Stores   []SnapshotStore
	Log      *slog.Logger

	current   atomic.Pointer[Snapshot]
	refreshMu sync.Mutex
}

func NewCache(provider Provider, logger *slog.Logger, stores ...SnapshotStore) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{Provider: provider, Stores: stores, Log: logger}
}

// Rate returns the cached multiplier for currency and the time it was
// fetched. It never calls the provider.
func (c *Cache) Rate(currency string) (decimal.Decimal, time.Time, error) {
	snap := c.current.Load()
	if snap == nil {
		return decimal.Zero, time.Time{}, ErrNoRate
	}
	r, ok := snap.Rate(currency)
	if !ok {
		return decimal.Zero, snap.LastUpdated, fmt.Errorf("%w: %s", ErrNoRate, currency)
	}
	return r, snap.LastUpdated, nil
}

func (c *Cache) Snapshot() (Snapshot, bool) {
	snap := c.current.Load()
	if snap == nil {
		return Snapshot{}, false
	}
	return *snap, true
}

// Warm seeds the cache from the first store that has a snapshot.
func (c *Cache) Warm(ctx context.Context) bool {
	for _, st := range c.Stores {
		snap, err := st.LatestSnapshot(ctx)
		if err != nil {
			c.Log.Warn("fx warm failed", "err", err)
			continue
		}
		if snap == nil {
			continue
		}
		c.current.Store(snap)
		c.Log.Info("fx warmed", "source", snap.Source, "as_of", snap.LastUpdated)
		return true
	}
	return false
}

// ForceRefresh fetches a new snapshot. On failure the previous snapshot is
// kept and returned together with the error so callers can still see what
// is being served.
func (c *Cache) ForceRefresh(ctx context.Context) (Snapshot, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	snap, err := c.Provider.Fetch(ctx)
	if err == nil && len(snap.Rates) == 0 {
		err = fmt.Errorf("%w: provider returned no rates", ErrNoRate)
	}
	if err != nil {
		prev := c.current.Load()
		if prev != nil {
			c.Log.Warn("fx refresh failed, keeping previous rates", "err", err, "as_of", prev.LastUpdated)
			return *prev, err
		}
		c.Log.Error("fx refresh failed and no rates cached", "err", err)
		return Snapshot{}, err
	}
	if snap.LastUpdated.IsZero() {
		snap.LastUpdated = time.Now().UTC()
	}

	c.current.Store(&snap)
	for _, st := range c.Stores {
		if err := st.SaveSnapshot(ctx, snap); err != nil {
			c.Log.Warn("fx snapshot persist failed", "err", err)
		}
	}
	c.Log.Info("fx refreshed", "source", snap.Source, "rates", len(snap.Rates))
	return snap, nil
}

// Fresh is Rate with a staleness limit; maxAge zero accepts any age.
func (c *Cache) Fresh(currency string, maxAge time.Duration, now time.Time) (decimal.Decimal, time.Time, error) {
	r, asOf, err := c.Rate(currency)
	if err != nil {
		return r, asOf, err
	}
	if maxAge > 0 && now.Sub(asOf) > maxAge {
		return r, asOf, fmt.Errorf("%w: as of %s", ErrStaleRate, asOf.Format(time.RFC3339))
	}
	return r, asOf, nil
}

// Package fx keeps the current base-currency exchange rates used to price
// orders in the settlement currency.
package fx

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNoRate    = errors.New("no exchange rate available")
	ErrStaleRate = errors.New("exchange rate is stale")
)

const (
	SourceManual = "manual"
	SourceAPI    = "api"
)

type Snapshot struct {
	Base        string                     `json:"base"`
	Rates       map[string]decimal.Decimal `json:"rates"`
	Source      string                     `json:"source"`
	LastUpdated time.Time                  `json:"lastUpdated"`
}

func (s Snapshot) Rate(currency string) (decimal.Decimal, bool) {
	r, ok := s.Rates[strings.ToUpper(currency)]
	if !ok || !r.IsPositive() {
		return decimal.Zero, false
	}
	return r, true
}

// Provider fetches a fresh snapshot from wherever rates come from.
type Provider interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// SnapshotStore persists snapshots so a restarted process does not start
// empty while the provider is down.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LatestSnapshot(ctx context.Context) (*Snapshot, error)
}

// Convert prices a base-currency amount in the settlement currency,
// rounding half up to the settlement currency's minor unit.
func Convert(amount, rate decimal.Decimal, decimals int32) decimal.Decimal {
	return amount.Mul(rate).Round(decimals)
}

// Invert converts a settlement amount back to the base currency. Checkout
// never charges with it; it exists for audits and reporting.
func Invert(settled, rate decimal.Decimal, decimals int32) decimal.Decimal {
	if rate.IsZero() {
		return decimal.Zero
	}
	return settled.Div(rate).Round(decimals)
}

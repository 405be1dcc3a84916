package services

import (
	"context"
	"encoding/json"
	"time"

	"AGEPayments/internal/gateway"
	"AGEPayments/internal/lock"
	"AGEPayments/internal/models"
	"AGEPayments/internal/notify"

	"github.com/shopspring/decimal"
)

// OrderStore is the slice of *store.Store the order flows need.
type OrderStore interface {
	CreateOrReusePending(ctx context.Context, in models.NewOrder) (*models.Order, bool, error)
	Transition(ctx context.Context, orderID string, from *models.OrderStatus, to models.OrderStatus, metadata json.RawMessage) (*models.Order, bool, error)
	RecordCharge(ctx context.Context, orderID string, rec models.ChargeRecord) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	LatestOrder(ctx context.Context, ref models.PurchasableRef, ownerID string, status models.OrderStatus) (*models.Order, error)
}

type CatalogStore interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	EnsureProject(ctx context.Context, p models.Project) (*models.Project, error)
	ActivateProject(ctx context.Context, projectID, orderID string) (bool, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	GetAffiliate(ctx context.Context, id string) (*models.Affiliate, error)
}

type LicenseStore interface {
	GetLicenseByOrder(ctx context.Context, orderID string) (*models.License, error)
	CreateLicense(ctx context.Context, l *models.License) (bool, error)
	RegenerateKey(ctx context.Context, orderID, key string) (*models.License, error)
}

type CommissionStore interface {
	CreditCommission(ctx context.Context, c *models.CommissionLog) (bool, error)
}

// RateSource is satisfied by *fx.Cache.
type RateSource interface {
	Fresh(currency string, maxAge time.Duration, now time.Time) (decimal.Decimal, time.Time, error)
}

// Gateways is satisfied by *gateway.Registry.
type Gateways interface {
	Active() (gateway.Adapter, error)
	Get(p gateway.Provider) (gateway.Adapter, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string) (lock.Release, error)
}

type Notifier interface {
	OrderPaid(ctx context.Context, r notify.Receipt) error
}

// Settler runs the post-payment effects for an order that just became paid.
type Settler interface {
	OnSettled(ctx context.Context, order *models.Order) []EffectResult
}

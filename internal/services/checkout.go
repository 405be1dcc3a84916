package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"AGEPayments/internal/fx"
	"AGEPayments/internal/gateway"
	"AGEPayments/internal/lock"
	"AGEPayments/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingOwner        = errors.New("missing owner id")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidPurchasable  = errors.New("invalid purchasable")
	ErrPurchasableNotFound = errors.New("purchasable not found")
	ErrCheckoutBusy        = errors.New("checkout already in progress")
)

// amountPlaces matches the scale of orders.amount. Finer amounts would be
// rounded by the database but priced unrounded.
const amountPlaces = 2

type CheckoutRequest struct {
	Purchasable models.PurchasableRef
	OwnerID     string
	Amount      decimal.Decimal
	AffiliateID *string
	// Method selects a direct charge; nil means the provider's hosted page.
	Method    gateway.PaymentMethod
	Customer  gateway.Customer
	ReturnURL string
}

// Handle is what the client needs to pay: a redirect, a token for the
// provider's widget, or in-place instructions.
type Handle struct {
	Provider      gateway.Provider    `json:"provider"`
	Token         string              `json:"token,omitempty"`
	RedirectURL   string              `json:"redirectUrl,omitempty"`
	TransactionID string              `json:"transactionId,omitempty"`
	Instructions  models.Instructions `json:"instructions,omitempty"`
}

type CheckoutResult struct {
	OrderID            string
	Status             models.OrderStatus
	Amount             decimal.Decimal
	SettlementAmount   decimal.Decimal
	SettlementCurrency string
	Handle             Handle
	Reused             bool
	AlreadyPaid        bool
	// Degraded is set when no gateway is configured and the order waits
	// for a manual transfer.
	Degraded bool
}

type CheckoutService struct {
	Orders             OrderStore
	Catalog            CatalogStore
	Rates              RateSource
	Gateways           Gateways
	Locker             Locker
	Retry              gateway.RetryPolicy
	SettlementCurrency string
	Decimals           int32
	MaxStaleness       time.Duration
	Now                func() time.Time
	Log                *slog.Logger
}

func (s *CheckoutService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *CheckoutService) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// NewOrderID returns "ORD" followed by 32 hex chars. It has no dash, so a
// provider transaction id maps back to it unambiguously.
func NewOrderID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return "ORD" + hex.EncodeToString(b[:])
}

// InitiateCheckout prices the purchase, reuses or creates the single
// pending order for it and starts a payment attempt with the active
// gateway. Any failure past order creation leaves the order pending.
func (s *CheckoutService) InitiateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, ErrMissingOwner
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	if !req.Amount.Equal(req.Amount.Round(amountPlaces)) {
		return nil, fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, amountPlaces)
	}
	if req.Purchasable.ID == "" || (req.Purchasable.Kind != models.KindService && req.Purchasable.Kind != models.KindDigital) {
		return nil, ErrInvalidPurchasable
	}
	if req.Method != nil {
		if err := req.Method.Validate(); err != nil {
			return nil, err
		}
	}

	itemName, repeatable, err := s.resolvePurchasable(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.AffiliateID, err = s.resolveAffiliate(ctx, req.AffiliateID); err != nil {
		return nil, err
	}

	if s.Locker != nil {
		release, err := s.Locker.Acquire(ctx, lockKey(req))
		switch {
		case errors.Is(err, lock.ErrHeld):
			return nil, ErrCheckoutBusy
		case err != nil:
			s.log().Warn("checkout lock unavailable", "purchasable", req.Purchasable.ID, "err", err)
		default:
			defer release()
		}
	}

	if !repeatable {
		paid, err := s.Orders.LatestOrder(ctx, req.Purchasable, req.OwnerID, models.OrderPaid)
		if err == nil {
			return resultFor(paid, false, true), nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}

	now := s.now()
	rate, asOf, err := s.Rates.Fresh(s.SettlementCurrency, s.MaxStaleness, now)
	if err != nil {
		return nil, fmt.Errorf("price in %s: %w", s.SettlementCurrency, err)
	}
	settlement := fx.Convert(req.Amount, rate, s.Decimals)

	order, created, err := s.Orders.CreateOrReusePending(ctx, models.NewOrder{
		ID:                 NewOrderID(),
		Purchasable:        req.Purchasable,
		OwnerID:            req.OwnerID,
		CustomerEmail:      req.Customer.Email,
		AffiliateID:        req.AffiliateID,
		Amount:             req.Amount,
		SettlementAmount:   settlement,
		SettlementCurrency: s.SettlementCurrency,
		ExchangeRate:       rate,
		RateAsOf:           asOf,
	})
	if err != nil {
		return nil, err
	}
	logger := s.log().With("order_id", order.ID)

	adapter, err := s.Gateways.Active()
	if errors.Is(err, gateway.ErrNotConfigured) {
		logger.Warn("no payment gateway configured, order waits for manual transfer")
		res := resultFor(order, !created, false)
		res.Handle = Handle{Provider: gateway.ProviderManual}
		res.Degraded = true
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	gwReq := gateway.CheckoutRequest{
		OrderID:       order.ID,
		TransactionID: gateway.NewTransactionID(order.ID, now),
		Amount:        order.SettlementAmount,
		Currency:      order.SettlementCurrency,
		ItemName:      itemName,
		Customer:      req.Customer,
		ReturnURL:     req.ReturnURL,
	}
	policy := s.Retry
	policy.NoRetryOnTimeout = true

	rec := models.ChargeRecord{Provider: string(adapter.Name())}
	if req.Method == nil {
		sess, err := gateway.Retry(ctx, policy, func(ctx context.Context) (*gateway.Session, error) {
			return adapter.CreateHostedCheckout(ctx, gwReq)
		})
		if err != nil {
			logger.Warn("hosted checkout failed", "provider", adapter.Name(), "err", err)
			return nil, fmt.Errorf("checkout %s: %w", order.ID, err)
		}
		rec.ProviderTransactionID = sess.ProviderTransactionID
		rec.CheckoutToken = sess.Token
		rec.CheckoutURL = sess.RedirectURL
		rec.Raw = sess.Raw
	} else {
		charge, err := gateway.Retry(ctx, policy, func(ctx context.Context) (*gateway.ChargeResult, error) {
			return adapter.Charge(ctx, gwReq, req.Method)
		})
		if err != nil {
			logger.Warn("charge failed", "provider", adapter.Name(), "method", req.Method.Kind(), "err", err)
			return nil, fmt.Errorf("checkout %s: %w", order.ID, err)
		}
		rec.Method = string(req.Method.Kind())
		rec.ProviderTransactionID = charge.ProviderTransactionID
		rec.Instructions = charge.Instructions
		rec.CheckoutURL = charge.Instructions.RedirectURL
		rec.Raw = charge.Raw
	}

	updated, err := s.Orders.RecordCharge(ctx, order.ID, rec)
	if errors.Is(err, models.ErrIllegalTransition) && updated != nil {
		// Settled while we were talking to the gateway.
		return resultFor(updated, !created, updated.Status == models.OrderPaid), nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("checkout started", "provider", rec.Provider, "reused", !created, "transaction_id", rec.ProviderTransactionID)
	return resultFor(updated, !created, false), nil
}

// resolvePurchasable checks the thing being bought exists and belongs to
// the buyer. Service projects are created on first checkout. repeatable is
// true for subscription products, which may be bought again after payment.
func (s *CheckoutService) resolvePurchasable(ctx context.Context, req CheckoutRequest) (name string, repeatable bool, err error) {
	switch req.Purchasable.Kind {
	case models.KindService:
		project, err := s.Catalog.GetProject(ctx, req.Purchasable.ID)
		if errors.Is(err, models.ErrNotFound) {
			project, err = s.Catalog.EnsureProject(ctx, models.Project{ID: req.Purchasable.ID, OwnerID: req.OwnerID})
		}
		if err != nil {
			return "", false, err
		}
		if project.OwnerID != req.OwnerID {
			return "", false, ErrPurchasableNotFound
		}
		name = project.Name
		if name == "" {
			name = "Project " + project.ID
		}
		return name, false, nil
	default:
		product, err := s.Catalog.GetProduct(ctx, req.Purchasable.ID)
		if errors.Is(err, models.ErrNotFound) {
			return "", false, ErrPurchasableNotFound
		}
		if err != nil {
			return "", false, err
		}
		return product.Name, product.Type == models.ProductSubscription, nil
	}
}

// resolveAffiliate drops referral ids that name no affiliate. A stale link
// must not block the purchase, it only forfeits the commission.
func (s *CheckoutService) resolveAffiliate(ctx context.Context, id *string) (*string, error) {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil, nil
	}
	aff, err := s.Catalog.GetAffiliate(ctx, *id)
	if errors.Is(err, models.ErrNotFound) {
		s.log().Warn("unknown affiliate on checkout, ignoring", "affiliate_id", *id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load affiliate: %w", err)
	}
	return &aff.ID, nil
}

func lockKey(req CheckoutRequest) string {
	return "checkout:" + string(req.Purchasable.Kind) + ":" + req.Purchasable.ID + ":" + req.OwnerID
}

func resultFor(o *models.Order, reused, alreadyPaid bool) *CheckoutResult {
	res := &CheckoutResult{
		OrderID:            o.ID,
		Status:             o.Status,
		Amount:             o.Amount,
		SettlementAmount:   o.SettlementAmount,
		SettlementCurrency: o.SettlementCurrency,
		Reused:             reused,
		AlreadyPaid:        alreadyPaid,
		Handle: Handle{
			Provider:     gateway.Provider(o.PaymentProvider),
			Instructions: o.Instructions,
		},
	}
	if o.CheckoutToken != nil {
		res.Handle.Token = *o.CheckoutToken
	}
	if o.CheckoutURL != nil {
		res.Handle.RedirectURL = *o.CheckoutURL
	}
	if o.ProviderTransactionID != nil {
		res.Handle.TransactionID = *o.ProviderTransactionID
	}
	return res
}

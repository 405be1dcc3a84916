package services

import (
	"context"
	"errors"
	"fmt"

	"AGEPayments/internal/models"
	"AGEPayments/internal/notify"

	"github.com/shopspring/decimal"
)

type LicenseEffect struct {
	Issuer *LicenseIssuer
}

func (LicenseEffect) Name() string { return "license" }

func (e LicenseEffect) Apply(ctx context.Context, order *models.Order) error {
	_, _, err := e.Issuer.IssueLicense(ctx, order)
	return err
}

type CommissionEffect struct {
	Catalog     CatalogStore
	Commissions CommissionStore
}

func (CommissionEffect) Name() string { return "commission" }

// Apply credits the affiliate their rate of the order's base amount,
// rounded to cents. The log row is unique per order.
func (e CommissionEffect) Apply(ctx context.Context, order *models.Order) error {
	if order.AffiliateID == nil || *order.AffiliateID == "" {
		return nil
	}
	aff, err := e.Catalog.GetAffiliate(ctx, *order.AffiliateID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load affiliate %s: %w", *order.AffiliateID, err)
	}
	if !aff.Rate.IsPositive() {
		return nil
	}
	_, err = e.Commissions.CreditCommission(ctx, &models.CommissionLog{
		AffiliateID: aff.ID,
		OrderID:     order.ID,
		Amount:      CommissionAmount(order, aff),
		Rate:        aff.Rate,
		Status:      models.CommissionPending,
	})
	return err
}

func CommissionAmount(order *models.Order, aff *models.Affiliate) decimal.Decimal {
	return order.Amount.Mul(aff.Rate).Round(2)
}

type ProjectActivationEffect struct {
	Catalog CatalogStore
}

func (ProjectActivationEffect) Name() string { return "project_activation" }

func (e ProjectActivationEffect) Apply(ctx context.Context, order *models.Order) error {
	if order.Purchasable.Kind != models.KindService {
		return nil
	}
	_, err := e.Catalog.ActivateProject(ctx, order.Purchasable.ID, order.ID)
	return err
}

type NotificationEffect struct {
	Notifier Notifier
	Licenses LicenseStore
}

func (NotificationEffect) Name() string { return "notification" }

func (e NotificationEffect) Apply(ctx context.Context, order *models.Order) error {
	if e.Notifier == nil {
		return nil
	}
	r := notify.Receipt{
		OrderID:    order.ID,
		OwnerID:    order.OwnerID,
		Email:      order.CustomerEmail,
		Amount:     order.Amount,
		Settlement: order.SettlementAmount,
		Currency:   order.SettlementCurrency,
	}
	if e.Licenses != nil {
		if lic, err := e.Licenses.GetLicenseByOrder(ctx, order.ID); err == nil {
			r.LicenseKey = lic.Key
		}
	}
	err := e.Notifier.OrderPaid(ctx, r)
	if errors.Is(err, notify.ErrNoRecipient) {
		return nil
	}
	return err
}

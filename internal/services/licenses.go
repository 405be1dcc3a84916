package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"AGEPayments/internal/models"
	"AGEPayments/internal/store"
)

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateLicenseKey returns PREFIX-XXXX-XXXX-XXXX drawn uniformly from
// [A-Z0-9]. Bytes >= 252 are rejected so the modulo has no bias.
func GenerateLicenseKey(prefix string, r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	if prefix == "" {
		prefix = "AGE"
	}
	const groups, groupLen = 3, 4
	out := make([]byte, 0, groups*groupLen)
	buf := make([]byte, 16)
	for len(out) < groups*groupLen {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= 252 {
				continue
			}
			out = append(out, keyAlphabet[int(b)%len(keyAlphabet)])
			if len(out) == groups*groupLen {
				break
			}
		}
	}
	parts := []string{prefix}
	for i := 0; i < groups; i++ {
		parts = append(parts, string(out[i*groupLen:(i+1)*groupLen]))
	}
	return strings.Join(parts, "-"), nil
}

// SubscriptionExpiry adds one billing interval by calendar arithmetic.
// An empty interval means the license never expires.
func SubscriptionExpiry(issued time.Time, interval string) (*time.Time, error) {
	var t time.Time
	switch strings.ToLower(interval) {
	case "":
		return nil, nil
	case "month", "monthly":
		t = issued.AddDate(0, 1, 0)
	case "year", "yearly", "annual":
		t = issued.AddDate(1, 0, 0)
	default:
		return nil, fmt.Errorf("unknown subscription interval %q", interval)
	}
	return &t, nil
}

const keyAttempts = 5

type LicenseIssuer struct {
	Licenses LicenseStore
	Catalog  CatalogStore
	Prefix   string
	Now      func() time.Time
	Random   io.Reader
}

func (i *LicenseIssuer) now() time.Time {
	if i.Now != nil {
		return i.Now().UTC()
	}
	return time.Now().UTC()
}

// IssueLicense creates the license for a paid order once. A second call, or
// a concurrent one, returns the existing license with created=false.
func (i *LicenseIssuer) IssueLicense(ctx context.Context, order *models.Order) (*models.License, bool, error) {
	if existing, err := i.Licenses.GetLicenseByOrder(ctx, order.ID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}

	product, err := i.productFor(ctx, order)
	if err != nil {
		return nil, false, err
	}
	issued := i.now()
	lic := &models.License{
		OrderID:        order.ID,
		ProductID:      product.ID,
		OwnerID:        order.OwnerID,
		Status:         models.LicenseActive,
		MaxActivations: product.MaxActivations,
	}
	if lic.MaxActivations <= 0 {
		lic.MaxActivations = 1
	}
	if product.Type == models.ProductSubscription {
		if lic.ExpiresAt, err = SubscriptionExpiry(issued, product.Interval); err != nil {
			return nil, false, err
		}
	}

	for attempt := 0; attempt < keyAttempts; attempt++ {
		if lic.Key, err = GenerateLicenseKey(i.Prefix, i.Random); err != nil {
			return nil, false, err
		}
		created, err := i.Licenses.CreateLicense(ctx, lic)
		if errors.Is(err, store.ErrDuplicateKey) {
			lic.ID = ""
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if !created {
			existing, err := i.Licenses.GetLicenseByOrder(ctx, order.ID)
			return existing, false, err
		}
		lic.CreatedAt, lic.UpdatedAt = issued, issued
		return lic, true, nil
	}
	return nil, false, fmt.Errorf("issue license for %s: no free key after %d attempts", order.ID, keyAttempts)
}

// Regenerate replaces the key of an order's license and resets its
// activations.
func (i *LicenseIssuer) Regenerate(ctx context.Context, orderID string) (*models.License, error) {
	for attempt := 0; attempt < keyAttempts; attempt++ {
		key, err := GenerateLicenseKey(i.Prefix, i.Random)
		if err != nil {
			return nil, err
		}
		lic, err := i.Licenses.RegenerateKey(ctx, orderID, key)
		if errors.Is(err, store.ErrDuplicateKey) {
			continue
		}
		return lic, err
	}
	return nil, fmt.Errorf("regenerate license for %s: no free key after %d attempts", orderID, keyAttempts)
}

func (i *LicenseIssuer) productFor(ctx context.Context, order *models.Order) (*models.Product, error) {
	productID := order.Purchasable.ID
	if order.Purchasable.Kind == models.KindService {
		project, err := i.Catalog.GetProject(ctx, order.Purchasable.ID)
		if err != nil {
			return nil, fmt.Errorf("load project %s: %w", order.Purchasable.ID, err)
		}
		if project.ProductID == nil || *project.ProductID == "" {
			// Service projects without a catalog product still get a
			// single-seat perpetual license.
			return &models.Product{ID: project.ID, Type: models.ProductOneTime, MaxActivations: 1}, nil
		}
		productID = *project.ProductID
	}
	product, err := i.Catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", productID, err)
	}
	return product, nil
}

package store

import (
	"context"
	"errors"

	"AGEPayments/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const licenseColumns = `id, order_id, key, product_id, owner_id, status, max_activations, current_activations, expires_at, created_at, updated_at`

func scanLicense(row pgx.Row) (*models.License, error) {
	var l models.License
	if err := row.Scan(&l.ID, &l.OrderID, &l.Key, &l.ProductID, &l.OwnerID, &l.Status,
		&l.MaxActivations, &l.CurrentActivations, &l.ExpiresAt, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) GetLicenseByOrder(ctx context.Context, orderID string) (*models.License, error) {
	l, err := scanLicense(s.Pool.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE order_id=$1`, orderID))
	if err != nil {
		return nil, notFound(err)
	}
	return l, nil
}

// CreateLicense inserts the license unless the order already has one.
// created=false means another writer got there first, which is success.
// A collision on the key itself surfaces as ErrDuplicateKey.
func (s *Store) CreateLicense(ctx context.Context, l *models.License) (bool, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = models.LicenseActive
	}
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO licenses (id, order_id, key, product_id, owner_id, status, max_activations, current_activations, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8)
		ON CONFLICT (order_id) DO NOTHING
	`, l.ID, l.OrderID, l.Key, l.ProductID, l.OwnerID, l.Status, l.MaxActivations, l.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err, "licenses_key_key") {
			return false, ErrDuplicateKey
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RegenerateKey swaps the key of an order's license and clears its
// activations.
func (s *Store) RegenerateKey(ctx context.Context, orderID, key string) (*models.License, error) {
	l, err := scanLicense(s.Pool.QueryRow(ctx, `
		UPDATE licenses SET key=$2, current_activations=0, updated_at=now()
		WHERE order_id=$1
		RETURNING `+licenseColumns, orderID, key))
	if err != nil {
		if isUniqueViolation(err, "licenses_key_key") {
			return nil, ErrDuplicateKey
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return l, nil
}

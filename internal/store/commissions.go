package store

import (
	"context"

	"AGEPayments/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreditCommission records the affiliate's cut of an order and moves it into
// their pending balance. Both happen only for the first writer.
func (s *Store) CreditCommission(ctx context.Context, c *models.CommissionLog) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.CommissionPending
	}
	var created bool
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO commission_logs (id, affiliate_id, order_id, amount, rate, status)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (order_id) DO NOTHING
		`, c.ID, c.AffiliateID, c.OrderID, c.Amount, c.Rate, c.Status)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		created = true
		_, err = tx.Exec(ctx, `
			UPDATE affiliates SET balance_pending = balance_pending + $2 WHERE id=$1
		`, c.AffiliateID, c.Amount)
		return err
	})
	return created, err
}

func (s *Store) GetCommissionByOrder(ctx context.Context, orderID string) (*models.CommissionLog, error) {
	var c models.CommissionLog
	err := s.Pool.QueryRow(ctx, `
		SELECT id, affiliate_id, order_id, amount, rate, status, created_at, paid_at
		FROM commission_logs WHERE order_id=$1
	`, orderID).Scan(&c.ID, &c.AffiliateID, &c.OrderID, &c.Amount, &c.Rate, &c.Status, &c.CreatedAt, &c.PaidAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

package store

import (
	"context"
	"encoding/json"

	"AGEPayments/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) AddProof(ctx context.Context, p *models.PaymentProof) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO payment_proofs (id, order_id, object_key, content_type, size)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING created_at
		`, p.ID, p.OrderID, p.ObjectKey, p.ContentType, p.Size).Scan(&p.CreatedAt); err != nil {
			return err
		}
		detail, _ := json.Marshal(map[string]string{"objectKey": p.ObjectKey})
		return insertEvent(ctx, tx, models.OrderEvent{OrderID: p.OrderID, Kind: models.EventProofUploaded, Detail: detail})
	})
}

func (s *Store) ListProofs(ctx context.Context, orderID string) ([]models.PaymentProof, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, order_id, object_key, content_type, size, created_at
		FROM payment_proofs WHERE order_id=$1 ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PaymentProof
	for rows.Next() {
		var p models.PaymentProof
		if err := rows.Scan(&p.ID, &p.OrderID, &p.ObjectKey, &p.ContentType, &p.Size, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasProof reports whether any proof was uploaded for the order.
func (s *Store) HasProof(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_proofs WHERE order_id=$1)`, orderID).Scan(&exists)
	return exists, err
}

package store

import (
	"context"

	"AGEPayments/internal/models"
)

func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := s.Pool.QueryRow(ctx, `
		SELECT id, owner_id, product_id, name, status, order_id, activated_at, created_at
		FROM projects WHERE id=$1
	`, id).Scan(&p.ID, &p.OwnerID, &p.ProductID, &p.Name, &p.Status, &p.OrderID, &p.ActivatedAt, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// EnsureProject creates a draft project for the owner if the id is unused
// and returns whatever row now holds the id.
func (s *Store) EnsureProject(ctx context.Context, p models.Project) (*models.Project, error) {
	if p.Status == "" {
		p.Status = models.ProjectDraft
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO projects (id, owner_id, product_id, name, status)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.OwnerID, p.ProductID, p.Name, p.Status)
	if err != nil {
		return nil, err
	}
	return s.GetProject(ctx, p.ID)
}

// ActivateProject marks a service project live for the order that paid for
// it. Returns false when it was already active.
func (s *Store) ActivateProject(ctx context.Context, projectID, orderID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE projects SET status='active', order_id=$2, activated_at=now()
		WHERE id=$1 AND status<>'active'
	`, projectID, orderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	err := s.Pool.QueryRow(ctx, `
		SELECT id, name, type, interval, max_activations, price FROM products WHERE id=$1
	`, id).Scan(&p.ID, &p.Name, &p.Type, &p.Interval, &p.MaxActivations, &p.Price)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) GetAffiliate(ctx context.Context, id string) (*models.Affiliate, error) {
	var a models.Affiliate
	err := s.Pool.QueryRow(ctx, `
		SELECT id, user_id, rate, balance_pending, balance_paid FROM affiliates WHERE id=$1
	`, id).Scan(&a.ID, &a.UserID, &a.Rate, &a.BalancePending, &a.BalancePaid)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

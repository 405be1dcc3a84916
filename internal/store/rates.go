package store

import (
	"context"
	"encoding/json"
	"errors"

	"AGEPayments/internal/fx"

	"github.com/jackc/pgx/v5"
)

// SaveSnapshot appends a rate snapshot to the history table. It satisfies
// fx.SnapshotStore.
func (s *Store) SaveSnapshot(ctx context.Context, snap fx.Snapshot) error {
	rates, err := json.Marshal(snap.Rates)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO exchange_rates (base, rates, source, last_updated) VALUES ($1,$2,$3,$4)
	`, snap.Base, json.RawMessage(rates), snap.Source, snap.LastUpdated)
	return err
}

func (s *Store) LatestSnapshot(ctx context.Context) (*fx.Snapshot, error) {
	var snap fx.Snapshot
	var rates []byte
	err := s.Pool.QueryRow(ctx, `
		SELECT base, rates, source, last_updated FROM exchange_rates
		ORDER BY last_updated DESC, id DESC LIMIT 1
	`).Scan(&snap.Base, &rates, &snap.Source, &snap.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(rates, &snap.Rates); err != nil {
		return nil, err
	}
	return &snap, nil
}

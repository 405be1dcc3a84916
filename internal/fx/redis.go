package fx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror shares the last good snapshot between API replicas.
type RedisMirror struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
}

func (m RedisMirror) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return m.Client.Set(ctx, m.Key, data, m.TTL).Err()
}

func (m RedisMirror) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	data, err := m.Client.Get(ctx, m.Key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

package services

import (
	"context"
	"fmt"
	"log/slog"

	"AGEPayments/internal/models"
)

// Effect is one downstream consequence of an order becoming paid. Apply
// must be safe to call more than once for the same order.
type Effect interface {
	Name() string
	Apply(ctx context.Context, order *models.Order) error
}

type EffectResult struct {
	Name string
	Err  error
}

// SettlementChain runs its effects in order. A failing effect is logged and
// does not stop the ones after it, and nothing is rolled back.
type SettlementChain struct {
	Effects []Effect
	Log     *slog.Logger
}

func (c *SettlementChain) OnSettled(ctx context.Context, order *models.Order) []EffectResult {
	logger := c.Log
	if logger == nil {
		logger = slog.Default()
	}
	results := make([]EffectResult, 0, len(c.Effects))
	for _, e := range c.Effects {
		err := runEffect(ctx, e, order)
		if err != nil {
			logger.Error("settlement effect failed", "order_id", order.ID, "effect", e.Name(), "err", err)
		} else {
			logger.Info("settlement effect applied", "order_id", order.ID, "effect", e.Name())
		}
		results = append(results, EffectResult{Name: e.Name(), Err: err})
	}
	return results
}

func runEffect(ctx context.Context, e Effect, order *models.Order) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("effect %s panicked: %v", e.Name(), r)
		}
	}()
	return e.Apply(ctx, order)
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"AGEPayments/internal/gateway"
	"AGEPayments/internal/models"
)

// Reconciler folds upstream payment state into local orders. Polling,
// webhooks, the sweep job and operators all end up here, and the store's
// conditional update decides which caller fires the settlement chain.
type Reconciler struct {
	Orders     OrderStore
	Gateways   Gateways
	Settlement Settler
	Retry      gateway.RetryPolicy
	Log        *slog.Logger
}

func (r *Reconciler) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// Reconcile asks the order's provider for its status and applies it.
// Upstream failures are logged and the last known order is returned
// without error so status polling keeps working through outages.
func (r *Reconciler) Reconcile(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := r.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() || order.ProviderTransactionID == nil || *order.ProviderTransactionID == "" {
		return order, nil
	}
	return r.reconcileTransaction(ctx, order, *order.ProviderTransactionID)
}

// currentAttempt reports whether txnID is the attempt on file. A retried
// checkout replaces the transaction id, and the older attempt can still
// report its own expiry or cancellation.
func currentAttempt(order *models.Order, txnID string) bool {
	return order.ProviderTransactionID == nil || *order.ProviderTransactionID == txnID
}

func (r *Reconciler) reconcileTransaction(ctx context.Context, order *models.Order, txnID string) (*models.Order, error) {
	res, ok := r.queryStatus(ctx, order, txnID)
	if !ok {
		return order, nil
	}
	target, ok := res.Status.OrderStatus()
	if !ok {
		return order, nil
	}
	// Only a payment on a superseded attempt counts; its other outcomes say
	// nothing about the attempt the customer is on now.
	if target != models.OrderPaid && !currentAttempt(order, txnID) {
		r.log().Info("ignoring status of superseded attempt", "order_id", order.ID, "transaction_id", txnID, "upstream", res.Status)
		return order, nil
	}
	return r.apply(ctx, order.ID, target, res.Raw)
}

// queryStatus asks the order's provider about txnID. ok is false when there
// is no provider to ask or it could not answer; both are logged.
func (r *Reconciler) queryStatus(ctx context.Context, order *models.Order, txnID string) (*gateway.StatusResult, bool) {
	logger := r.log().With("order_id", order.ID, "provider", order.PaymentProvider)
	if order.PaymentProvider == "" || order.PaymentProvider == string(gateway.ProviderManual) {
		return nil, false
	}
	adapter, err := r.Gateways.Get(gateway.Provider(order.PaymentProvider))
	if err != nil {
		logger.Warn("order provider not configured", "err", err)
		return nil, false
	}
	res, err := gateway.Retry(ctx, r.Retry, func(ctx context.Context) (*gateway.StatusResult, error) {
		return adapter.GetStatus(ctx, txnID)
	})
	if err != nil {
		logger.Warn("status query failed, keeping last known state", "transaction_id", txnID, "status", order.Status, "err", err)
		return nil, false
	}
	return res, true
}

// apply performs the transition and, for the caller that actually moved
// the order into paid, runs the settlement chain.
func (r *Reconciler) apply(ctx context.Context, orderID string, target models.OrderStatus, raw json.RawMessage) (*models.Order, error) {
	updated, applied, err := r.Orders.Transition(ctx, orderID, nil, target, raw)
	if err != nil {
		if errors.Is(err, models.ErrIllegalTransition) {
			current := ""
			if updated != nil {
				current = string(updated.Status)
			}
			r.log().Error("illegal order transition", "order_id", orderID, "status", current, "target", target, "err", err)
		}
		return updated, err
	}
	if applied {
		r.log().Info("order transitioned", "order_id", orderID, "status", target)
		if target == models.OrderPaid && r.Settlement != nil {
			r.Settlement.OnSettled(ctx, updated)
		}
	}
	return updated, nil
}

// HandleNotification processes a verified webhook claim. The claim is never
// trusted on its own: the provider is queried for the transaction it names.
// A claim that contradicts an already terminal order is reported as
// ErrIllegalTransition and the order is returned unchanged.
func (r *Reconciler) HandleNotification(ctx context.Context, n *gateway.Notification) (*models.Order, error) {
	order, err := r.Orders.GetOrder(ctx, n.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		if claimed, ok := n.Status.OrderStatus(); ok && claimed != order.Status {
			r.log().Error("notification contradicts terminal order", "order_id", order.ID, "status", order.Status, "claimed", claimed, "transaction_id", n.TransactionID)
			return order, fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, order.Status, claimed)
		}
		return order, nil
	}
	txnID := n.TransactionID
	if txnID == "" && order.ProviderTransactionID != nil {
		txnID = *order.ProviderTransactionID
	}
	if txnID == "" {
		return order, nil
	}
	// The customer may have paid an earlier attempt's instructions, so the
	// notified transaction is checked even if a newer one is on file. The
	// order it names came from the signed payload.
	return r.reconcileTransaction(ctx, order, txnID)
}

// SettleManually marks a manual-transfer order paid after an operator has
// checked the proof. It follows the same edge rule as Reconcile.
func (r *Reconciler) SettleManually(ctx context.Context, orderID, note string) (*models.Order, error) {
	raw, _ := json.Marshal(map[string]string{"source": "manual", "note": note})
	return r.apply(ctx, orderID, models.OrderPaid, raw)
}

// Cancel abandons a pending order on the owner's request. The provider is
// asked first so a payment that already landed is not thrown away.
func (r *Reconciler) Cancel(ctx context.Context, orderID, ownerID string) (*models.Order, error) {
	order, err := r.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.OwnerID != ownerID {
		return nil, models.ErrNotFound
	}
	order, err = r.Reconcile(ctx, orderID)
	if err != nil {
		return order, err
	}
	if order.Status.IsTerminal() {
		if order.Status == models.OrderCanceled {
			return order, nil
		}
		return order, fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, order.Status, models.OrderCanceled)
	}
	raw, _ := json.Marshal(map[string]string{"source": "owner"})
	return r.apply(ctx, orderID, models.OrderCanceled, raw)
}

// Expire closes a pending order nobody paid for.
func (r *Reconciler) Expire(ctx context.Context, orderID, reason string) (*models.Order, error) {
	raw, _ := json.Marshal(map[string]string{"source": "sweep", "reason": reason})
	return r.apply(ctx, orderID, models.OrderExpired, raw)
}

// ExpireUnpaid closes a provider order whose payment window has passed.
// The provider is asked first: a final answer is applied as is, and the
// order only expires when the provider positively reports it still pending.
// An unreachable provider leaves the order alone for the next sweep.
func (r *Reconciler) ExpireUnpaid(ctx context.Context, orderID, reason string) (*models.Order, error) {
	order, err := r.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return order, nil
	}
	if order.ProviderTransactionID == nil || *order.ProviderTransactionID == "" {
		return r.Expire(ctx, orderID, reason)
	}
	res, ok := r.queryStatus(ctx, order, *order.ProviderTransactionID)
	if !ok {
		return order, nil
	}
	if target, final := res.Status.OrderStatus(); final {
		return r.apply(ctx, order.ID, target, res.Raw)
	}
	return r.Expire(ctx, orderID, reason)
}

// ReplayEffects re-runs the settlement chain for a paid order. Every effect
// is idempotent, so this only fills in what a previous run missed.
func (r *Reconciler) ReplayEffects(ctx context.Context, orderID string) ([]EffectResult, error) {
	order, err := r.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPaid {
		return nil, fmt.Errorf("%w: order %s is %s, not paid", models.ErrIllegalTransition, order.ID, order.Status)
	}
	if r.Settlement == nil {
		return nil, nil
	}
	return r.Settlement.OnSettled(ctx, order), nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"AGEPayments/internal/models"

	"github.com/jackc/pgx/v5"
)

const orderColumns = `
	id, purchasable_kind, purchasable_id, owner_id, customer_email, affiliate_id,
	amount, settlement_amount, settlement_currency, exchange_rate, rate_as_of,
	status, payment_provider, payment_method, provider_transaction_id,
	checkout_token, checkout_url, instructions, payment_metadata, attempts,
	paid_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	var metadata []byte
	err := row.Scan(
		&o.ID,
		&o.Purchasable.Kind,
		&o.Purchasable.ID,
		&o.OwnerID,
		&o.CustomerEmail,
		&o.AffiliateID,
		&o.Amount,
		&o.SettlementAmount,
		&o.SettlementCurrency,
		&o.ExchangeRate,
		&o.RateAsOf,
		&o.Status,
		&o.PaymentProvider,
		&o.PaymentMethod,
		&o.ProviderTransactionID,
		&o.CheckoutToken,
		&o.CheckoutURL,
		&o.Instructions,
		&metadata,
		&o.Attempts,
		&o.PaidAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		o.PaymentMetadata = json.RawMessage(metadata)
	}
	return &o, nil
}

// maxReuseAttempts bounds the insert/select loop when the pending row we
// collided with settles between the two statements.
const maxReuseAttempts = 3

// CreateOrReusePending returns the single live pending order for the
// purchasable and owner, creating it when none exists. A reused order whose
// amount differs is re-priced in place and loses its provider handle.
func (s *Store) CreateOrReusePending(ctx context.Context, in models.NewOrder) (*models.Order, bool, error) {
	for attempt := 0; attempt < maxReuseAttempts; attempt++ {
		var out *models.Order
		var created bool
		err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
			row := tx.QueryRow(ctx, `
				INSERT INTO orders (
					id, purchasable_kind, purchasable_id, owner_id, customer_email, affiliate_id,
					amount, settlement_amount, settlement_currency, exchange_rate, rate_as_of, status
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'pending')
				ON CONFLICT (purchasable_kind, purchasable_id, owner_id) WHERE status='pending' DO NOTHING
				RETURNING `+orderColumns,
				in.ID, in.Purchasable.Kind, in.Purchasable.ID, in.OwnerID, in.CustomerEmail, in.AffiliateID,
				in.Amount, in.SettlementAmount, in.SettlementCurrency, in.ExchangeRate, in.RateAsOf,
			)
			o, err := scanOrder(row)
			if err == nil {
				out, created = o, true
				to := models.OrderPending
				return insertEvent(ctx, tx, models.OrderEvent{OrderID: o.ID, Kind: models.EventCreated, ToStatus: &to, NewAmount: &o.Amount})
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}

			existing, err := scanOrder(tx.QueryRow(ctx, `
				SELECT `+orderColumns+` FROM orders
				WHERE purchasable_kind=$1 AND purchasable_id=$2 AND owner_id=$3 AND status='pending'
				FOR UPDATE
			`, in.Purchasable.Kind, in.Purchasable.ID, in.OwnerID))
			if err != nil {
				return err
			}
			if existing.Amount.Equal(in.Amount) {
				out = existing
				return nil
			}
			reprice, err := scanOrder(tx.QueryRow(ctx, `
				UPDATE orders
				SET amount=$2, settlement_amount=$3, settlement_currency=$4, exchange_rate=$5, rate_as_of=$6,
					affiliate_id=COALESCE($7, affiliate_id),
					provider_transaction_id=NULL, checkout_token=NULL, checkout_url=NULL,
					instructions='{}'::jsonb, updated_at=now()
				WHERE id=$1 AND status='pending'
				RETURNING `+orderColumns,
				existing.ID, in.Amount, in.SettlementAmount, in.SettlementCurrency, in.ExchangeRate, in.RateAsOf, in.AffiliateID,
			))
			if err != nil {
				return err
			}
			out = reprice
			return insertEvent(ctx, tx, models.OrderEvent{
				OrderID:   existing.ID,
				Kind:      models.EventAmountChanged,
				OldAmount: &existing.Amount,
				NewAmount: &reprice.Amount,
			})
		})
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return out, created, nil
	}
	return nil, false, fmt.Errorf("create or reuse pending order: gave up after %d attempts", maxReuseAttempts)
}

// Transition moves an order from one status to another in a single
// conditional update. applied is true only for the caller that made the
// edge; a repeat of the same target is a no-op and anything else is illegal.
func (s *Store) Transition(ctx context.Context, orderID string, from *models.OrderStatus, to models.OrderStatus, metadata json.RawMessage) (*models.Order, bool, error) {
	source := models.OrderPending
	if from != nil {
		source = *from
	}
	if !models.CanTransition(source, to) {
		return nil, false, fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, source, to)
	}
	var meta any
	if len(metadata) > 0 {
		meta = metadata
	}

	var out *models.Order
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx, `
			UPDATE orders
			SET status=$3,
				paid_at=CASE WHEN $3::text='paid' THEN now() ELSE paid_at END,
				payment_metadata=COALESCE($4::jsonb, payment_metadata),
				updated_at=now()
			WHERE id=$1 AND status=$2
			RETURNING `+orderColumns,
			orderID, source, to, meta,
		))
		if err != nil {
			return err
		}
		out = o
		return insertEvent(ctx, tx, models.OrderEvent{OrderID: orderID, Kind: models.EventStatusChanged, FromStatus: &source, ToStatus: &to, Detail: metadata})
	})
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	current, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	if _, err := models.CheckTransition(current.Status, to); err != nil {
		return current, false, err
	}
	if current.Status != to {
		return current, false, fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, current.Status, to)
	}
	return current, false, nil
}

// RecordCharge stores the provider handle of the latest attempt. It only
// applies while the order is still pending.
func (s *Store) RecordCharge(ctx context.Context, orderID string, rec models.ChargeRecord) (*models.Order, error) {
	var method any
	if rec.Method != "" {
		method = rec.Method
	}
	var raw any
	if len(rec.Raw) > 0 {
		raw = rec.Raw
	}
	var out *models.Order
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx, `
			UPDATE orders
			SET payment_provider=$2, payment_method=$3, provider_transaction_id=NULLIF($4,''),
				checkout_token=NULLIF($5,''), checkout_url=NULLIF($6,''), instructions=$7,
				payment_metadata=COALESCE($8::jsonb, payment_metadata),
				attempts=attempts+1, updated_at=now()
			WHERE id=$1 AND status='pending'
			RETURNING `+orderColumns,
			orderID, rec.Provider, method, rec.ProviderTransactionID, rec.CheckoutToken, rec.CheckoutURL, rec.Instructions, raw,
		))
		if err != nil {
			return err
		}
		out = o
		detail, _ := json.Marshal(map[string]string{"provider": rec.Provider, "transactionId": rec.ProviderTransactionID})
		return insertEvent(ctx, tx, models.OrderEvent{OrderID: orderID, Kind: models.EventChargeRecorded, Detail: detail})
	})
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	current, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return current, fmt.Errorf("%w: cannot record charge on %s order", models.ErrIllegalTransition, current.Status)
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := scanOrder(s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

func (s *Store) GetOrderByTransaction(ctx context.Context, providerTransactionID string) (*models.Order, error) {
	o, err := scanOrder(s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE provider_transaction_id=$1`, providerTransactionID))
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

// LatestOrder returns the newest order in the given status for a purchasable
// and owner, or ErrNotFound.
func (s *Store) LatestOrder(ctx context.Context, ref models.PurchasableRef, ownerID string, status models.OrderStatus) (*models.Order, error) {
	o, err := scanOrder(s.Pool.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE purchasable_kind=$1 AND purchasable_id=$2 AND owner_id=$3 AND status=$4
		ORDER BY created_at DESC
		LIMIT 1
	`, ref.Kind, ref.ID, ownerID, status))
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

// ListStalePending returns pending orders neither updated nor swept since
// before cutoff, least recently looked at first.
func (s *Store) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status='pending' AND COALESCE(swept_at, updated_at) < $1
		ORDER BY COALESCE(swept_at, updated_at) ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// MarkSwept records that the sweep looked at a pending order.
func (s *Store) MarkSwept(ctx context.Context, orderID string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE orders SET swept_at=now() WHERE id=$1 AND status='pending'`, orderID)
	return err
}

func (s *Store) ListEvents(ctx context.Context, orderID string) ([]models.OrderEvent, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, order_id, kind, from_status, to_status, old_amount, new_amount, detail, created_at
		FROM order_events WHERE order_id=$1 ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OrderEvent
	for rows.Next() {
		var ev models.OrderEvent
		var detail []byte
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.Kind, &ev.FromStatus, &ev.ToStatus, &ev.OldAmount, &ev.NewAmount, &detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			ev.Detail = json.RawMessage(detail)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

package http

import (
	"context"
	"net/http"
	"time"

	"AGEPayments/internal/models"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type streamEvent struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	PaidAt  string `json:"paidAt,omitempty"`
}

// Stream pushes the order's status over a websocket. The order is
// reconciled every StreamInterval, a frame is sent whenever the status
// changes and the socket closes once the order is terminal.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log().Warn("websocket upgrade failed", "order_id", order.ID, "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Reads only surface the client's close frame.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := h.StreamInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last models.OrderStatus
	for {
		if order.Status != last {
			if err := h.send(conn, order); err != nil {
				return
			}
			last = order.Status
		}
		if order.Status.IsTerminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(order.Status)),
				time.Now().Add(time.Second))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		next, err := h.Reconciler.Reconcile(ctx, order.ID)
		if err != nil {
			h.log().Warn("stream reconcile failed", "order_id", order.ID, "err", err)
			continue
		}
		order = next
	}
}

func (h *Handler) send(conn *websocket.Conn, order *models.Order) error {
	ev := streamEvent{OrderID: order.ID, Status: string(order.Status)}
	if order.PaidAt != nil {
		ev.PaidAt = order.PaidAt.Format(time.RFC3339)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(ev)
}

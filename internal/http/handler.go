package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"AGEPayments/internal/gateway"
	"AGEPayments/internal/models"
	"AGEPayments/internal/proofs"
	"AGEPayments/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

type Checkout interface {
	InitiateCheckout(ctx context.Context, req services.CheckoutRequest) (*services.CheckoutResult, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, orderID string) (*models.Order, error)
	HandleNotification(ctx context.Context, n *gateway.Notification) (*models.Order, error)
	Cancel(ctx context.Context, orderID, ownerID string) (*models.Order, error)
}

type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
}

type GatewayLookup interface {
	Get(p gateway.Provider) (gateway.Adapter, error)
}

type ProofUploader interface {
	Upload(ctx context.Context, orderID string, r io.Reader, size int64, contentType string) (*models.PaymentProof, error)
}

// Pages are the frontend locations the status redirect sends buyers to.
type Pages struct {
	Success string
	Pending string
	Failure string
}

type Handler struct {
	Checkout       Checkout
	Reconciler     Reconciler
	Orders         OrderReader
	Gateways       GatewayLookup
	Proofs         ProofUploader
	Pages          Pages
	StreamInterval time.Duration
	Log            *slog.Logger
}

type checkoutRequest struct {
	PurchasableKind string            `json:"purchasableKind"`
	PurchasableID   string            `json:"purchasableId"`
	Amount          decimal.Decimal   `json:"amount"`
	AffiliateID     *string           `json:"affiliateId,omitempty"`
	Method          string            `json:"method,omitempty"`
	MethodParams    json.RawMessage   `json:"methodParams,omitempty"`
	Customer        *gateway.Customer `json:"customer,omitempty"`
	ReturnURL       string            `json:"returnUrl,omitempty"`
}

type checkoutResponse struct {
	OrderID            string          `json:"orderId"`
	Status             string          `json:"status"`
	Amount             decimal.Decimal `json:"amount"`
	SettlementAmount   decimal.Decimal `json:"settlementAmount"`
	SettlementCurrency string          `json:"settlementCurrency"`
	Payment            services.Handle `json:"payment"`
	Reused             bool            `json:"reused"`
	AlreadyPaid        bool            `json:"alreadyPaid"`
	Degraded           bool            `json:"degraded"`
}

type orderResponse struct {
	OrderID            string               `json:"orderId"`
	Status             string               `json:"status"`
	PurchasableKind    string               `json:"purchasableKind"`
	PurchasableID      string               `json:"purchasableId"`
	Amount             decimal.Decimal      `json:"amount"`
	SettlementAmount   decimal.Decimal      `json:"settlementAmount"`
	SettlementCurrency string               `json:"settlementCurrency"`
	ExchangeRate       decimal.Decimal      `json:"exchangeRate"`
	RateAsOf           string               `json:"rateAsOf"`
	Provider           string               `json:"provider"`
	Method             string               `json:"method,omitempty"`
	TransactionID      string               `json:"transactionId,omitempty"`
	RedirectURL        string               `json:"redirectUrl,omitempty"`
	Instructions       *models.Instructions `json:"instructions,omitempty"`
	PaidAt             string               `json:"paidAt,omitempty"`
	CreatedAt          string               `json:"createdAt"`
}

func (h *Handler) log() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	in := services.CheckoutRequest{
		Purchasable: models.PurchasableRef{Kind: models.OrderKind(strings.ToLower(req.PurchasableKind)), ID: req.PurchasableID},
		OwnerID:     r.Header.Get("X-User-Id"),
		Amount:      req.Amount,
		AffiliateID: req.AffiliateID,
		ReturnURL:   req.ReturnURL,
	}
	if req.Customer != nil {
		in.Customer = *req.Customer
	}
	if req.Method != "" {
		m, err := gateway.ParseMethod(req.Method, req.MethodParams)
		if err != nil {
			writeServiceError(w, err, "invalid payment method")
			return
		}
		in.Method = m
	}

	res, err := h.Checkout.InitiateCheckout(r.Context(), in)
	if err != nil {
		writeServiceError(w, err, "checkout failed")
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{
		OrderID:            res.OrderID,
		Status:             string(res.Status),
		Amount:             res.Amount,
		SettlementAmount:   res.SettlementAmount,
		SettlementCurrency: res.SettlementCurrency,
		Payment:            res.Handle,
		Reused:             res.Reused,
		AlreadyPaid:        res.AlreadyPaid,
		Degraded:           res.Degraded,
	})
}

// Status pulls the provider's view of the order before answering, so a
// buyer returning from a hosted page sees the settled state without
// waiting for the webhook.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	order, err := h.Reconciler.Reconcile(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err, "status check failed")
		return
	}
	if r.URL.Query().Get("mode") == "json" {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(order.Status)})
		return
	}
	http.Redirect(w, r, h.pageFor(order), http.StatusSeeOther)
}

func (h *Handler) pageFor(order *models.Order) string {
	target := h.Pages.Failure
	switch order.Status {
	case models.OrderPaid:
		target = h.Pages.Success
	case models.OrderPending:
		target = h.Pages.Pending
	}
	if target == "" {
		target = "/"
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("orderId", order.ID)
	q.Set("status", string(order.Status))
	u.RawQuery = q.Encode()
	return u.String()
}

// ownedOrder loads the path's order and hides it from anyone but its owner.
func (h *Handler) ownedOrder(w http.ResponseWriter, r *http.Request) (*models.Order, bool) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return nil, false
	}
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return nil, false
	}
	order, err := h.Orders.GetOrder(r.Context(), orderID)
	if err == nil && order.OwnerID != userID {
		err = models.ErrNotFound
	}
	if err != nil {
		writeServiceError(w, err, "get order failed")
		return nil, false
	}
	return order, true
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func toOrderResponse(order *models.Order) orderResponse {
	resp := orderResponse{
		OrderID:            order.ID,
		Status:             string(order.Status),
		PurchasableKind:    string(order.Purchasable.Kind),
		PurchasableID:      order.Purchasable.ID,
		Amount:             order.Amount,
		SettlementAmount:   order.SettlementAmount,
		SettlementCurrency: order.SettlementCurrency,
		ExchangeRate:       order.ExchangeRate,
		RateAsOf:           order.RateAsOf.Format(time.RFC3339),
		Provider:           order.PaymentProvider,
		CreatedAt:          order.CreatedAt.Format(time.RFC3339),
	}
	if order.PaymentMethod != nil {
		resp.Method = *order.PaymentMethod
	}
	if order.ProviderTransactionID != nil {
		resp.TransactionID = *order.ProviderTransactionID
	}
	if order.CheckoutURL != nil {
		resp.RedirectURL = *order.CheckoutURL
	}
	if !order.Instructions.IsZero() {
		ins := order.Instructions
		resp.Instructions = &ins
	}
	if order.PaidAt != nil {
		resp.PaidAt = order.PaidAt.Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) QRCode(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	if order.Instructions.QRString == "" {
		writeError(w, http.StatusNotFound, "order has no qr payment")
		return
	}
	png, err := qrcode.Encode(order.Instructions.QRString, qrcode.Medium, 256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "qr render failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}
	order, err := h.Reconciler.Cancel(r.Context(), orderID, userID)
	if err != nil {
		writeServiceError(w, err, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) UploadProof(w http.ResponseWriter, r *http.Request) {
	if h.Proofs == nil {
		writeServiceError(w, proofs.ErrNotConfigured, "")
		return
	}
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	if order.Status != models.OrderPending {
		writeError(w, http.StatusConflict, "order is "+string(order.Status))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, proofs.MaxSize+1<<20)
	if err := r.ParseMultipartForm(proofs.MaxSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	proof, err := h.Proofs.Upload(r.Context(), order.ID, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		writeServiceError(w, err, "upload failed")
		return
	}
	h.log().Info("payment proof uploaded", "order_id", order.ID, "object", proof.ObjectKey)
	writeJSON(w, http.StatusCreated, map[string]any{"orderId": order.ID, "objectKey": proof.ObjectKey, "size": proof.Size})
}

// Webhook verifies a provider notification and reconciles the order it
// names. Contradicting claims on finished orders are acknowledged with 200
// so the provider stops retrying; the conflict is already logged.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := gateway.Provider(chi.URLParam(r, "provider"))
	adapter, err := h.Gateways.Get(provider)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}
	n, err := adapter.ParseNotification(r)
	if err != nil {
		if errors.Is(err, gateway.ErrBadSignature) {
			h.log().Warn("rejected webhook", "provider", provider, "err", err)
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid notification")
		return
	}
	if n.OrderID == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	order, err := h.Reconciler.HandleNotification(r.Context(), n)
	switch {
	case errors.Is(err, models.ErrIllegalTransition):
		resp := map[string]string{"result": "conflict"}
		if order != nil {
			resp["status"] = string(order.Status)
		}
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case err != nil:
		h.log().Error("webhook processing failed", "provider", provider, "order_id", n.OrderID, "err", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(order.Status)})
	}
}

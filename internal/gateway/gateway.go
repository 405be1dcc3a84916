// Package gateway defines the provider-agnostic contract every payment
// gateway adapter implements, plus the payment method variants they accept.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AGEPayments/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotConfigured       = errors.New("payment gateway not configured")
	ErrUpstreamTimeout     = errors.New("payment gateway timed out")
	ErrUpstreamUnavailable = errors.New("payment gateway unavailable")
	ErrRejected            = errors.New("payment gateway rejected request")
	ErrValidation          = errors.New("invalid payment parameters")
	ErrUnsupportedMethod   = errors.New("unsupported payment method")
	ErrBadSignature        = errors.New("invalid notification signature")
)

type Provider string

const (
	ProviderManual   Provider = "manual"
	ProviderMidtrans Provider = "midtrans"
	ProviderStripe   Provider = "stripe"
)

// Status is the normalized upstream payment state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSettled  Status = "settled"
	StatusDenied   Status = "denied"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// OrderStatus maps an upstream status to the order status it drives.
// Pending has no transition, so ok is false.
func (s Status) OrderStatus() (models.OrderStatus, bool) {
	switch s {
	case StatusSettled:
		return models.OrderPaid, true
	case StatusDenied:
		return models.OrderFailed, true
	case StatusCanceled:
		return models.OrderCanceled, true
	case StatusExpired:
		return models.OrderExpired, true
	}
	return "", false
}

type Customer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type CheckoutRequest struct {
	OrderID       string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	ItemName      string
	Customer      Customer
	ReturnURL     string
}

type Session struct {
	ProviderTransactionID string
	Token                 string
	RedirectURL           string
	Raw                   json.RawMessage
}

type ChargeResult struct {
	ProviderTransactionID string
	Instructions          models.Instructions
	Raw                   json.RawMessage
}

type StatusResult struct {
	Status Status
	Raw    json.RawMessage
}

// Notification is what a verified webhook claims happened.
type Notification struct {
	OrderID       string
	TransactionID string
	Status        Status
	Raw           json.RawMessage
}

type Adapter interface {
	Name() Provider
	CreateHostedCheckout(ctx context.Context, req CheckoutRequest) (*Session, error)
	Charge(ctx context.Context, req CheckoutRequest, method PaymentMethod) (*ChargeResult, error)
	GetStatus(ctx context.Context, providerTransactionID string) (*StatusResult, error)
	ParseNotification(r *http.Request) (*Notification, error)
}

// NewTransactionID derives the per-attempt id sent upstream. Providers
// reject duplicates, so it changes every attempt while the order id stays.
func NewTransactionID(orderID string, now time.Time) string {
	return orderID + "-" + strconv.FormatInt(now.UnixMilli(), 36)
}

// OrderIDFromTransaction reverses NewTransactionID.
func OrderIDFromTransaction(txnID string) string {
	i := strings.LastIndex(txnID, "-")
	if i <= 0 {
		return txnID
	}
	return txnID[:i]
}

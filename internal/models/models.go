package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderPaid     OrderStatus = "paid"
	OrderFailed   OrderStatus = "failed"
	OrderCanceled OrderStatus = "canceled"
	OrderExpired  OrderStatus = "expired"
)

type OrderKind string

const (
	KindService OrderKind = "service"
	KindDigital OrderKind = "digital"
)

// PurchasableRef points at the thing being bought: a project for service
// orders, a product for digital orders.
type PurchasableRef struct {
	Kind OrderKind `json:"kind"`
	ID   string    `json:"id"`
}

type Instructions struct {
	Bank        string `json:"bank,omitempty"`
	VANumber    string `json:"vaNumber,omitempty"`
	PaymentCode string `json:"paymentCode,omitempty"`
	QRString    string `json:"qrString,omitempty"`
	DeeplinkURL string `json:"deeplinkUrl,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

func (i Instructions) IsZero() bool {
	return i == Instructions{}
}

type Order struct {
	ID                    string
	Purchasable           PurchasableRef
	OwnerID               string
	CustomerEmail         string
	AffiliateID           *string
	Amount                decimal.Decimal
	SettlementAmount      decimal.Decimal
	SettlementCurrency    string
	ExchangeRate          decimal.Decimal
	RateAsOf              time.Time
	Status                OrderStatus
	PaymentProvider       string
	PaymentMethod         *string
	ProviderTransactionID *string
	CheckoutToken         *string
	CheckoutURL           *string
	Instructions          Instructions
	PaymentMetadata       json.RawMessage
	Attempts              int
	PaidAt                *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewOrder carries what checkout knows before the store decides between
// creating a row and reusing the live pending one.
type NewOrder struct {
	ID                 string
	Purchasable        PurchasableRef
	OwnerID            string
	CustomerEmail      string
	AffiliateID        *string
	Amount             decimal.Decimal
	SettlementAmount   decimal.Decimal
	SettlementCurrency string
	ExchangeRate       decimal.Decimal
	RateAsOf           time.Time
}

// ChargeRecord is the payment handle persisted after a gateway call.
type ChargeRecord struct {
	Provider              string
	Method                string
	ProviderTransactionID string
	CheckoutToken         string
	CheckoutURL           string
	Instructions          Instructions
	Raw                   json.RawMessage
}

type LicenseStatus string

const (
	LicenseActive  LicenseStatus = "active"
	LicenseRevoked LicenseStatus = "revoked"
)

type License struct {
	ID                 string
	OrderID            string
	Key                string
	ProductID          string
	OwnerID            string
	Status             LicenseStatus
	MaxActivations     int
	CurrentActivations int
	ExpiresAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type CommissionStatus string

const (
	CommissionPending CommissionStatus = "pending"
	CommissionPaid    CommissionStatus = "paid"
)

type CommissionLog struct {
	ID          string
	AffiliateID string
	OrderID     string
	Amount      decimal.Decimal
	Rate        decimal.Decimal
	Status      CommissionStatus
	CreatedAt   time.Time
	PaidAt      *time.Time
}

type Affiliate struct {
	ID             string
	UserID         string
	Rate           decimal.Decimal
	BalancePending decimal.Decimal
	BalancePaid    decimal.Decimal
}

type ProjectStatus string

const (
	ProjectDraft  ProjectStatus = "draft"
	ProjectActive ProjectStatus = "active"
)

type Project struct {
	ID          string
	OwnerID     string
	ProductID   *string
	Name        string
	Status      ProjectStatus
	OrderID     *string
	ActivatedAt *time.Time
	CreatedAt   time.Time
}

type ProductType string

const (
	ProductOneTime      ProductType = "one_time"
	ProductSubscription ProductType = "subscription"
)

type Product struct {
	ID             string
	Name           string
	Type           ProductType
	Interval       string
	MaxActivations int
	Price          decimal.Decimal
}

type OrderEventKind string

const (
	EventCreated        OrderEventKind = "created"
	EventAmountChanged  OrderEventKind = "amount_changed"
	EventChargeRecorded OrderEventKind = "charge_recorded"
	EventStatusChanged  OrderEventKind = "status_changed"
	EventProofUploaded  OrderEventKind = "proof_uploaded"
)

type OrderEvent struct {
	ID         string
	OrderID    string
	Kind       OrderEventKind
	FromStatus *OrderStatus
	ToStatus   *OrderStatus
	OldAmount  *decimal.Decimal
	NewAmount  *decimal.Decimal
	Detail     json.RawMessage
	CreatedAt  time.Time
}

type PaymentProof struct {
	ID          string
	OrderID     string
	ObjectKey   string
	ContentType string
	Size        int64
	CreatedAt   time.Time
}

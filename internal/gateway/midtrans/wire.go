package midtrans

import (
	"encoding/json"
	"fmt"

	"AGEPayments/internal/gateway"
)

type txnDetails struct {
	OrderID     string      `json:"order_id"`
	GrossAmount json.Number `json:"gross_amount"`
}

type item struct {
	ID       string      `json:"id"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
	Name     string      `json:"name"`
}

type customer struct {
	FirstName string `json:"first_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type snapCallbacks struct {
	Finish string `json:"finish"`
}

type snapRequest struct {
	TransactionDetails txnDetails     `json:"transaction_details"`
	ItemDetails        []item         `json:"item_details,omitempty"`
	CustomerDetails    *customer      `json:"customer_details,omitempty"`
	Callbacks          *snapCallbacks `json:"callbacks,omitempty"`
}

type snapResponse struct {
	Token         string   `json:"token"`
	RedirectURL   string   `json:"redirect_url"`
	ErrorMessages []string `json:"error_messages"`
}

type bankTransfer struct {
	Bank string `json:"bank"`
}

type cstore struct {
	Store   string `json:"store"`
	Message string `json:"message,omitempty"`
}

type walletOptions struct {
	EnableCallback bool   `json:"enable_callback,omitempty"`
	CallbackURL    string `json:"callback_url,omitempty"`
}

type qris struct {
	Acquirer string `json:"acquirer,omitempty"`
}

type creditCard struct {
	TokenID        string `json:"token_id"`
	Authentication bool   `json:"authentication"`
}

type chargeRequest struct {
	PaymentType        string         `json:"payment_type"`
	TransactionDetails txnDetails     `json:"transaction_details"`
	ItemDetails        []item         `json:"item_details,omitempty"`
	CustomerDetails    *customer      `json:"customer_details,omitempty"`
	BankTransfer       *bankTransfer  `json:"bank_transfer,omitempty"`
	CStore             *cstore        `json:"cstore,omitempty"`
	GoPay              *walletOptions `json:"gopay,omitempty"`
	ShopeePay          *walletOptions `json:"shopeepay,omitempty"`
	QRIS               *qris          `json:"qris,omitempty"`
	CreditCard         *creditCard    `json:"credit_card,omitempty"`
}

type vaNumber struct {
	Bank     string `json:"bank"`
	VANumber string `json:"va_number"`
}

type action struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

type chargeResponse struct {
	StatusCode        string     `json:"status_code"`
	StatusMessage     string     `json:"status_message"`
	TransactionID     string     `json:"transaction_id"`
	OrderID           string     `json:"order_id"`
	TransactionStatus string     `json:"transaction_status"`
	FraudStatus       string     `json:"fraud_status"`
	VANumbers         []vaNumber `json:"va_numbers"`
	PermataVANumber   string     `json:"permata_va_number"`
	PaymentCode       string     `json:"payment_code"`
	QRString          string     `json:"qr_string"`
	Actions           []action   `json:"actions"`
	RedirectURL       string     `json:"redirect_url"`
}

type statusResponse struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	GrossAmount       string `json:"gross_amount"`
}

type notification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	PaymentType       string `json:"payment_type"`
}

func transactionDetails(req gateway.CheckoutRequest) txnDetails {
	return txnDetails{
		OrderID:     req.TransactionID,
		GrossAmount: json.Number(req.Amount.String()),
	}
}

func itemDetails(req gateway.CheckoutRequest) []item {
	if req.ItemName == "" {
		return nil
	}
	name := req.ItemName
	if len(name) > 50 {
		name = name[:50]
	}
	return []item{{ID: req.OrderID, Price: json.Number(req.Amount.String()), Quantity: 1, Name: name}}
}

func customerDetails(c gateway.Customer) *customer {
	if c == (gateway.Customer{}) {
		return nil
	}
	return &customer{FirstName: c.Name, Email: c.Email, Phone: c.Phone}
}

// buildCharge serializes one method variant into its Core API shape.
func buildCharge(req gateway.CheckoutRequest, method gateway.PaymentMethod) (chargeRequest, error) {
	out := chargeRequest{
		TransactionDetails: transactionDetails(req),
		ItemDetails:        itemDetails(req),
		CustomerDetails:    customerDetails(req.Customer),
	}
	if method == nil {
		return out, fmt.Errorf("%w: payment method is required", gateway.ErrValidation)
	}
	if err := method.Validate(); err != nil {
		return out, err
	}
	switch m := method.(type) {
	case gateway.BankTransfer:
		out.PaymentType = "bank_transfer"
		out.BankTransfer = &bankTransfer{Bank: m.Bank}
	case gateway.ConvenienceStore:
		out.PaymentType = "cstore"
		out.CStore = &cstore{Store: m.Store, Message: m.Message}
	case gateway.EWallet:
		out.PaymentType = m.Wallet
		if m.Wallet == "gopay" {
			out.GoPay = &walletOptions{EnableCallback: true, CallbackURL: m.CallbackURL}
		} else {
			out.ShopeePay = &walletOptions{CallbackURL: m.CallbackURL}
		}
	case gateway.QRIS:
		out.PaymentType = "qris"
		if m.Acquirer != "" {
			out.QRIS = &qris{Acquirer: m.Acquirer}
		}
	case gateway.Card:
		out.PaymentType = "credit_card"
		out.CreditCard = &creditCard{TokenID: m.TokenID, Authentication: m.Authenticate}
	default:
		return out, fmt.Errorf("%w: %s", gateway.ErrUnsupportedMethod, method.Kind())
	}
	return out, nil
}

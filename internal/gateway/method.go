package gateway

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

type MethodKind string

const (
	MethodBankTransfer     MethodKind = "bank_transfer"
	MethodConvenienceStore MethodKind = "cstore"
	MethodEWallet          MethodKind = "ewallet"
	MethodQRIS             MethodKind = "qris"
	MethodCard             MethodKind = "card"
)

// PaymentMethod is a closed set: only the variants in this file implement
// it, and each carries exactly the fields its method needs.
type PaymentMethod interface {
	Kind() MethodKind
	Validate() error
	isPaymentMethod()
}

type BankTransfer struct {
	Bank string `json:"bank"`
}

type ConvenienceStore struct {
	Store   string `json:"store"`
	Message string `json:"message"`
}

type EWallet struct {
	Wallet      string `json:"wallet"`
	CallbackURL string `json:"callbackUrl"`
}

type QRIS struct {
	Acquirer string `json:"acquirer"`
}

type Card struct {
	TokenID      string `json:"tokenId"`
	Authenticate bool   `json:"authenticate"`
}

func (BankTransfer) Kind() MethodKind     { return MethodBankTransfer }
func (ConvenienceStore) Kind() MethodKind { return MethodConvenienceStore }
func (EWallet) Kind() MethodKind          { return MethodEWallet }
func (QRIS) Kind() MethodKind             { return MethodQRIS }
func (Card) Kind() MethodKind             { return MethodCard }

func (BankTransfer) isPaymentMethod()     {}
func (ConvenienceStore) isPaymentMethod() {}
func (EWallet) isPaymentMethod()          {}
func (QRIS) isPaymentMethod()             {}
func (Card) isPaymentMethod()             {}

var (
	knownBanks   = map[string]bool{"bca": true, "bni": true, "bri": true, "permata": true, "cimb": true}
	knownStores  = map[string]bool{"indomaret": true, "alfamart": true}
	knownWallets = map[string]bool{"gopay": true, "shopeepay": true}
)

func (m BankTransfer) Validate() error {
	if !knownBanks[m.Bank] {
		return fmt.Errorf("%w: unknown bank %q", ErrValidation, m.Bank)
	}
	return nil
}

func (m ConvenienceStore) Validate() error {
	if !knownStores[m.Store] {
		return fmt.Errorf("%w: unknown store %q", ErrValidation, m.Store)
	}
	if len(m.Message) > 20 {
		return fmt.Errorf("%w: store message longer than 20 chars", ErrValidation)
	}
	return nil
}

func (m EWallet) Validate() error {
	if !knownWallets[m.Wallet] {
		return fmt.Errorf("%w: unknown wallet %q", ErrValidation, m.Wallet)
	}
	u, err := url.Parse(m.CallbackURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: wallet callback url must be absolute", ErrValidation)
	}
	return nil
}

func (m QRIS) Validate() error {
	if m.Acquirer != "" && !knownWallets[m.Acquirer] && m.Acquirer != "airpay shopee" {
		return fmt.Errorf("%w: unknown qris acquirer %q", ErrValidation, m.Acquirer)
	}
	return nil
}

func (m Card) Validate() error {
	if strings.TrimSpace(m.TokenID) == "" {
		return fmt.Errorf("%w: card token is required", ErrValidation)
	}
	return nil
}

// ParseMethod decodes the variant named by kind from its JSON parameters.
func ParseMethod(kind string, params json.RawMessage) (PaymentMethod, error) {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	var m PaymentMethod
	var err error
	switch MethodKind(strings.ToLower(strings.TrimSpace(kind))) {
	case MethodBankTransfer:
		var v BankTransfer
		err = json.Unmarshal(params, &v)
		v.Bank = strings.ToLower(v.Bank)
		m = v
	case MethodConvenienceStore:
		var v ConvenienceStore
		err = json.Unmarshal(params, &v)
		v.Store = strings.ToLower(v.Store)
		m = v
	case MethodEWallet:
		var v EWallet
		err = json.Unmarshal(params, &v)
		v.Wallet = strings.ToLower(v.Wallet)
		m = v
	case MethodQRIS:
		var v QRIS
		err = json.Unmarshal(params, &v)
		v.Acquirer = strings.ToLower(v.Acquirer)
		m = v
	case MethodCard:
		var v Card
		err = json.Unmarshal(params, &v)
		m = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Package stripehosted adapts Stripe Checkout Sessions and PaymentIntents
// to the gateway contract.
package stripehosted

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"AGEPayments/internal/gateway"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/webhook"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// APIURL overrides the Stripe API base, used against stripe-mock.
	APIURL     string
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
}

type Adapter struct {
	sessions      *session.Client
	intents       *paymentintent.Client
	webhookSecret string
	successURL    string
	cancelURL     string
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("%w: stripe secret key is empty", gateway.ErrNotConfigured)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		// Retries are owned by the checkout and reconcile paths.
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	return &Adapter{
		sessions:      &session.Client{B: backend, Key: cfg.SecretKey},
		intents:       &paymentintent.Client{B: backend, Key: cfg.SecretKey},
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}, nil
}

func (a *Adapter) Name() gateway.Provider { return gateway.ProviderStripe }

func (a *Adapter) CreateHostedCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.Session, error) {
	success := req.ReturnURL
	if success == "" {
		success = a.successURL
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.OrderID),
		SuccessURL:        stripe.String(success),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(MinorUnits(req.Amount, req.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(itemName(req)),
				},
			},
		}},
	}
	if a.cancelURL != "" {
		params.CancelURL = stripe.String(a.cancelURL)
	}
	if req.Customer.Email != "" {
		params.CustomerEmail = stripe.String(req.Customer.Email)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.TransactionID)
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("transaction_id", req.TransactionID)

	cs, err := a.sessions.New(params)
	if err != nil {
		return nil, classify(err)
	}
	raw, _ := json.Marshal(cs)
	return &gateway.Session{
		ProviderTransactionID: cs.ID,
		Token:                 cs.ID,
		RedirectURL:           cs.URL,
		Raw:                   raw,
	}, nil
}

// Charge confirms a PaymentIntent server-side. Only cards exist here; the
// regional methods belong to the hosted page.
func (a *Adapter) Charge(ctx context.Context, req gateway.CheckoutRequest, method gateway.PaymentMethod) (*gateway.ChargeResult, error) {
	card, ok := method.(gateway.Card)
	if !ok {
		kind := "none"
		if method != nil {
			kind = string(method.Kind())
		}
		return nil, fmt.Errorf("%w: stripe direct charge supports card only, got %s", gateway.ErrUnsupportedMethod, kind)
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(MinorUnits(req.Amount, req.Currency)),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod:      stripe.String(card.TokenID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	if req.ReturnURL != "" {
		params.ReturnURL = stripe.String(req.ReturnURL)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.TransactionID)
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("transaction_id", req.TransactionID)

	pi, err := a.intents.New(params)
	if err != nil {
		return nil, classify(err)
	}
	raw, _ := json.Marshal(pi)
	res := &gateway.ChargeResult{ProviderTransactionID: pi.ID, Raw: raw}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		res.Instructions.RedirectURL = pi.NextAction.RedirectToURL.URL
	}
	return res, nil
}

func (a *Adapter) GetStatus(ctx context.Context, providerTransactionID string) (*gateway.StatusResult, error) {
	switch {
	case strings.HasPrefix(providerTransactionID, "cs_"):
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		cs, err := a.sessions.Get(providerTransactionID, params)
		if err != nil {
			return nil, classify(err)
		}
		raw, _ := json.Marshal(cs)
		return &gateway.StatusResult{Status: SessionStatus(cs.Status, cs.PaymentStatus), Raw: raw}, nil
	case strings.HasPrefix(providerTransactionID, "pi_"):
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		pi, err := a.intents.Get(providerTransactionID, params)
		if err != nil {
			return nil, classify(err)
		}
		raw, _ := json.Marshal(pi)
		return &gateway.StatusResult{Status: IntentStatus(pi.Status), Raw: raw}, nil
	default:
		return nil, fmt.Errorf("%w: unknown stripe object id %q", gateway.ErrValidation, providerTransactionID)
	}
}

// ParseNotification checks the Stripe-Signature header and extracts the
// order the event refers to. Events we do not act on come back pending.
func (a *Adapter) ParseNotification(r *http.Request) (*gateway.Notification, error) {
	if a.webhookSecret == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret is empty", gateway.ErrNotConfigured)
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		return nil, err
	}
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), a.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrBadSignature, err)
	}
	return notificationFromEvent(event, payload)
}

func notificationFromEvent(event stripe.Event, payload []byte) (*gateway.Notification, error) {
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event without data", gateway.ErrValidation)
	}
	n := &gateway.Notification{Raw: payload, Status: gateway.StatusPending}
	switch {
	case strings.HasPrefix(string(event.Type), "checkout.session."):
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrValidation, err)
		}
		n.OrderID = cs.ClientReferenceID
		if n.OrderID == "" {
			n.OrderID = cs.Metadata["order_id"]
		}
		n.TransactionID = cs.ID
		n.Status = SessionStatus(cs.Status, cs.PaymentStatus)
		if event.Type == "checkout.session.async_payment_failed" {
			n.Status = gateway.StatusDenied
		}
	case strings.HasPrefix(string(event.Type), "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrValidation, err)
		}
		n.OrderID = pi.Metadata["order_id"]
		n.TransactionID = pi.ID
		n.Status = IntentStatus(pi.Status)
		if event.Type == "payment_intent.payment_failed" {
			n.Status = gateway.StatusDenied
		}
	default:
		return nil, fmt.Errorf("%w: unhandled event type %s", gateway.ErrValidation, event.Type)
	}
	if n.OrderID == "" {
		return nil, fmt.Errorf("%w: event %s carries no order id", gateway.ErrValidation, event.ID)
	}
	return n, nil
}

func SessionStatus(status stripe.CheckoutSessionStatus, payment stripe.CheckoutSessionPaymentStatus) gateway.Status {
	switch status {
	case stripe.CheckoutSessionStatusComplete:
		if payment == stripe.CheckoutSessionPaymentStatusPaid || payment == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
			return gateway.StatusSettled
		}
		return gateway.StatusPending
	case stripe.CheckoutSessionStatusExpired:
		return gateway.StatusExpired
	default:
		return gateway.StatusPending
	}
}

func IntentStatus(status stripe.PaymentIntentStatus) gateway.Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return gateway.StatusSettled
	case stripe.PaymentIntentStatusCanceled:
		return gateway.StatusCanceled
	default:
		return gateway.StatusPending
	}
}

var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true,
	"mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true,
	"xof": true, "xpf": true,
}

// MinorUnits converts a decimal amount into the integer Stripe expects.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

func itemName(req gateway.CheckoutRequest) string {
	if req.ItemName != "" {
		return req.ItemName
	}
	return "Order " + req.OrderID
}

func classify(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		msg := se.Msg
		if se.HTTPStatusCode == 0 {
			return fmt.Errorf("%w: %s", gateway.ErrUpstreamUnavailable, msg)
		}
		if se.Type == stripe.ErrorTypeCard {
			return fmt.Errorf("%w: %s", gateway.ErrRejected, msg)
		}
		return gateway.ClassifyHTTPStatus(se.HTTPStatusCode, msg)
	}
	return gateway.ClassifyTransport(err)
}

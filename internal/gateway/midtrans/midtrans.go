// Package midtrans is the Snap/Core API adapter for the Indonesian
// gateway. It speaks plain JSON over HTTP with basic auth on the server key.
package midtrans

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"AGEPayments/internal/gateway"
	"AGEPayments/internal/models"
)

const (
	DefaultSnapURL = "https://app.sandbox.midtrans.com"
	DefaultAPIURL  = "https://api.sandbox.midtrans.com"
)

type Config struct {
	ServerKey string
	SnapURL   string
	APIURL    string
	FinishURL string
	Timeout   time.Duration
}

type Client struct {
	serverKey string
	snapURL   string
	apiURL    string
	finishURL string
	client    *http.Client
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ServerKey) == "" {
		return nil, fmt.Errorf("%w: midtrans server key is empty", gateway.ErrNotConfigured)
	}
	if cfg.SnapURL == "" {
		cfg.SnapURL = DefaultSnapURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		serverKey: cfg.ServerKey,
		snapURL:   strings.TrimRight(cfg.SnapURL, "/"),
		apiURL:    strings.TrimRight(cfg.APIURL, "/"),
		finishURL: cfg.FinishURL,
		client:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) Name() gateway.Provider { return gateway.ProviderMidtrans }

func (c *Client) CreateHostedCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.Session, error) {
	body := snapRequest{
		TransactionDetails: transactionDetails(req),
		ItemDetails:        itemDetails(req),
		CustomerDetails:    customerDetails(req.Customer),
	}
	finish := req.ReturnURL
	if finish == "" {
		finish = c.finishURL
	}
	if finish != "" {
		body.Callbacks = &snapCallbacks{Finish: finish}
	}
	var resp snapResponse
	raw, err := c.postJSON(ctx, c.snapURL+"/snap/v1/transactions", body, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("%w: snap response without token: %s", gateway.ErrRejected, strings.Join(resp.ErrorMessages, "; "))
	}
	return &gateway.Session{
		ProviderTransactionID: req.TransactionID,
		Token:                 resp.Token,
		RedirectURL:           resp.RedirectURL,
		Raw:                   raw,
	}, nil
}

func (c *Client) Charge(ctx context.Context, req gateway.CheckoutRequest, method gateway.PaymentMethod) (*gateway.ChargeResult, error) {
	body, err := buildCharge(req, method)
	if err != nil {
		return nil, err
	}
	var resp chargeResponse
	raw, err := c.postJSON(ctx, c.apiURL+"/v2/charge", body, &resp)
	if err != nil {
		return nil, err
	}
	if err := bodyStatusError(resp.StatusCode, resp.StatusMessage); err != nil {
		return nil, err
	}
	txn := resp.OrderID
	if txn == "" {
		txn = req.TransactionID
	}
	return &gateway.ChargeResult{
		ProviderTransactionID: txn,
		Instructions:          instructionsFrom(resp),
		Raw:                   raw,
	}, nil
}

func (c *Client) GetStatus(ctx context.Context, providerTransactionID string) (*gateway.StatusResult, error) {
	endpoint := c.apiURL + "/v2/" + url.PathEscape(providerTransactionID) + "/status"
	var resp statusResponse
	raw, err := c.getJSON(ctx, endpoint, &resp)
	if err != nil {
		return nil, err
	}
	// An unknown transaction is one the customer has not paid into yet.
	if resp.StatusCode == "404" {
		return &gateway.StatusResult{Status: gateway.StatusPending, Raw: raw}, nil
	}
	if err := bodyStatusError(resp.StatusCode, resp.StatusMessage); err != nil {
		return nil, err
	}
	return &gateway.StatusResult{
		Status: MapStatus(resp.TransactionStatus, resp.FraudStatus),
		Raw:    raw,
	}, nil
}

// ParseNotification verifies the HTTP notification signature and decodes
// what it claims. Callers still confirm through GetStatus.
func (c *Client) ParseNotification(r *http.Request) (*gateway.Notification, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var n notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrValidation, err)
	}
	if n.OrderID == "" {
		return nil, fmt.Errorf("%w: notification without order_id", gateway.ErrValidation)
	}
	if !VerifySignature(c.serverKey, n.OrderID, n.StatusCode, n.GrossAmount, n.SignatureKey) {
		return nil, gateway.ErrBadSignature
	}
	return &gateway.Notification{
		OrderID:       gateway.OrderIDFromTransaction(n.OrderID),
		TransactionID: n.OrderID,
		Status:        MapStatus(n.TransactionStatus, n.FraudStatus),
		Raw:           raw,
	}, nil
}

// MapStatus normalizes transaction_status and fraud_status.
func MapStatus(transactionStatus, fraudStatus string) gateway.Status {
	switch strings.ToLower(transactionStatus) {
	case "settlement":
		return gateway.StatusSettled
	case "capture":
		if strings.EqualFold(fraudStatus, "accept") || fraudStatus == "" {
			return gateway.StatusSettled
		}
		return gateway.StatusPending
	case "deny", "failure":
		return gateway.StatusDenied
	case "cancel":
		return gateway.StatusCanceled
	case "expire":
		return gateway.StatusExpired
	default:
		return gateway.StatusPending
	}
}

func Signature(serverKey, orderID, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func VerifySignature(serverKey, orderID, statusCode, grossAmount, got string) bool {
	want := Signature(serverKey, orderID, statusCode, grossAmount)
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(got))) == 1
}

func (c *Client) postJSON(ctx context.Context, endpoint string, in, out any) (json.RawMessage, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) (json.RawMessage, error) {
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.serverKey, "")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, gateway.ClassifyTransport(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gateway.ClassifyTransport(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, gateway.ClassifyHTTPStatus(resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", gateway.ErrUpstreamUnavailable, err)
	}
	return body, nil
}

// bodyStatusError reads the status_code Core API embeds in 200 responses.
func bodyStatusError(code, msg string) error {
	if code == "" || code[0] == '2' {
		return nil
	}
	var n int
	if _, err := fmt.Sscanf(code, "%d", &n); err != nil {
		return fmt.Errorf("%w: status %s %s", gateway.ErrRejected, code, msg)
	}
	return gateway.ClassifyHTTPStatus(n, msg)
}

func instructionsFrom(resp chargeResponse) models.Instructions {
	var ins models.Instructions
	if len(resp.VANumbers) > 0 {
		ins.Bank = resp.VANumbers[0].Bank
		ins.VANumber = resp.VANumbers[0].VANumber
	}
	if resp.PermataVANumber != "" {
		ins.Bank = "permata"
		ins.VANumber = resp.PermataVANumber
	}
	ins.PaymentCode = resp.PaymentCode
	ins.QRString = resp.QRString
	for _, a := range resp.Actions {
		switch a.Name {
		case "deeplink-redirect":
			ins.DeeplinkURL = a.URL
		case "generate-qr-code":
			if ins.RedirectURL == "" {
				ins.RedirectURL = a.URL
			}
		}
	}
	if resp.RedirectURL != "" {
		ins.RedirectURL = resp.RedirectURL
	}
	return ins
}

// Package notify tells customers their payment went through.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/wneessen/go-mail"
)

var ErrNoRecipient = errors.New("receipt has no recipient")

type Receipt struct {
	OrderID    string
	OwnerID    string
	Email      string
	ItemName   string
	Amount     decimal.Decimal
	Settlement decimal.Decimal
	Currency   string
	LicenseKey string
}

func (r Receipt) Subject() string {
	return "Payment received for order " + r.OrderID
}

func (r Receipt) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thanks, your payment for %s was received.\n\n", r.itemName())
	fmt.Fprintf(&b, "Order:  %s\n", r.OrderID)
	fmt.Fprintf(&b, "Amount: USD %s (%s %s)\n", r.Amount.StringFixed(2), r.Currency, r.Settlement.String())
	if r.LicenseKey != "" {
		fmt.Fprintf(&b, "License key: %s\n", r.LicenseKey)
	}
	return b.String()
}

func (r Receipt) itemName() string {
	if r.ItemName == "" {
		return "your order"
	}
	return r.ItemName
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTP struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp host and from address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTP{cfg: cfg}, nil
}

func (s *SMTP) OrderPaid(ctx context.Context, r Receipt) error {
	if r.Email == "" {
		return ErrNoRecipient
	}
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return err
	}
	if err := msg.To(r.Email); err != nil {
		return err
	}
	msg.Subject(r.Subject())
	msg.SetBodyString(mail.TypeTextPlain, r.Body())

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// Log writes receipts to the logger instead of sending them.
type Log struct {
	Logger *slog.Logger
}

func (l Log) OrderPaid(ctx context.Context, r Receipt) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "order paid receipt", "order_id", r.OrderID, "owner_id", r.OwnerID, "email", r.Email, "license", r.LicenseKey != "")
	return nil
}

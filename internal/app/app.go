// Package app wires the configured stores, gateways and services shared by
// the api, worker and settlectl binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"AGEPayments/internal/config"
	"AGEPayments/internal/db"
	"AGEPayments/internal/fx"
	"AGEPayments/internal/gateway"
	"AGEPayments/internal/gateway/midtrans"
	"AGEPayments/internal/gateway/stripehosted"
	"AGEPayments/internal/lock"
	"AGEPayments/internal/notify"
	"AGEPayments/internal/proofs"
	"AGEPayments/internal/services"
	"AGEPayments/internal/store"

	"github.com/redis/go-redis/v9"
)

type App struct {
	Config     *config.Config
	Log        *slog.Logger
	Pool       *db.Pool
	Store      *store.Store
	Redis      *redis.Client
	Rates      *fx.Cache
	Gateways   *gateway.Registry
	Checkout   *services.CheckoutService
	Reconciler *services.Reconciler
	Licenses   *services.LicenseIssuer
	// Proofs is nil when no object storage is configured.
	Proofs *proofs.Storage
}

func NewLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = NewLogger()
	}
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	st := store.New(pool)
	a := &App{Config: cfg, Log: logger, Pool: pool, Store: st}

	snapshotStores := []fx.SnapshotStore{st}
	var locker services.Locker = lock.Noop{}
	if cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing without lock and rate mirror", "addr", cfg.Redis.Addr, "err", err)
			_ = a.Redis.Close()
			a.Redis = nil
		} else {
			snapshotStores = append([]fx.SnapshotStore{fx.RedisMirror{Client: a.Redis, Key: cfg.FX.RedisKey, TTL: 2 * cfg.MaxStaleness()}}, snapshotStores...)
			locker = lock.NewRedsync(a.Redis, time.Duration(cfg.Orders.LockTTLSeconds)*time.Second, logger)
		}
	}

	a.Rates = fx.NewCache(rateProvider(cfg), logger.With("component", "fx"), snapshotStores...)
	a.Gateways = gateway.NewRegistry(gateway.Provider(cfg.Gateway.Active), adapters(cfg, logger)...)

	retry := gateway.RetryPolicy{
		Attempts: cfg.Gateway.MaxAttempts,
		Backoff:  200 * time.Millisecond,
		Timeout:  cfg.GatewayTimeout(),
	}
	a.Licenses = &services.LicenseIssuer{Licenses: st, Catalog: st, Prefix: cfg.Licenses.Prefix}

	var notifier services.Notifier = notify.Log{Logger: logger}
	if cfg.SMTP.Host != "" {
		smtp, err := notify.NewSMTP(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			logger.Warn("smtp disabled", "err", err)
		} else {
			notifier = smtp
		}
	}

	chain := &services.SettlementChain{
		Effects: []services.Effect{
			services.LicenseEffect{Issuer: a.Licenses},
			services.CommissionEffect{Catalog: st, Commissions: st},
			services.ProjectActivationEffect{Catalog: st},
			services.NotificationEffect{Notifier: notifier, Licenses: st},
		},
		Log: logger.With("component", "settlement"),
	}

	a.Checkout = &services.CheckoutService{
		Orders:             st,
		Catalog:            st,
		Rates:              a.Rates,
		Gateways:           a.Gateways,
		Locker:             locker,
		Retry:              retry,
		SettlementCurrency: cfg.Settlement.Currency,
		Decimals:           cfg.Settlement.Decimals,
		MaxStaleness:       cfg.MaxStaleness(),
		Log:                logger.With("component", "checkout"),
	}
	a.Reconciler = &services.Reconciler{
		Orders:     st,
		Gateways:   a.Gateways,
		Settlement: chain,
		Retry:      retry,
		Log:        logger.With("component", "reconcile"),
	}

	storage, err := proofs.NewMinio(ctx, proofs.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	}, st)
	switch {
	case errors.Is(err, proofs.ErrNotConfigured):
		logger.Info("proof storage not configured")
	case err != nil:
		logger.Warn("proof storage disabled", "err", err)
	default:
		a.Proofs = storage
	}
	return a, nil
}

// WarmRates loads the last persisted snapshot and then asks the provider
// for a fresh one. Failing both only means checkout refuses to price.
func (a *App) WarmRates(ctx context.Context) {
	a.Rates.Warm(ctx)
	if _, err := a.Rates.ForceRefresh(ctx); err != nil {
		a.Log.Warn("initial rate refresh failed", "err", err)
	}
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	a.Pool.Close()
}

func rateProvider(cfg *config.Config) fx.Provider {
	if cfg.FX.Provider == fx.SourceAPI {
		return fx.NewHTTPProvider(cfg.FX.APIURL, cfg.Settlement.BaseCurrency, cfg.GatewayTimeout())
	}
	return fx.ManualProvider{Base: cfg.Settlement.BaseCurrency, Rates: cfg.FX.ManualRates}
}

// adapters builds every gateway that has credentials; the registry decides
// which one new checkouts use. Orders started on another gateway can still
// be reconciled after a switch.
func adapters(cfg *config.Config, logger *slog.Logger) []gateway.Adapter {
	var out []gateway.Adapter
	mt, err := midtrans.New(midtrans.Config{
		ServerKey: cfg.Gateway.Midtrans.ServerKey,
		SnapURL:   cfg.Gateway.Midtrans.SnapURL,
		APIURL:    cfg.Gateway.Midtrans.APIURL,
		FinishURL: cfg.Gateway.Midtrans.FinishURL,
		Timeout:   cfg.GatewayTimeout(),
	})
	if err == nil {
		out = append(out, mt)
	} else if !errors.Is(err, gateway.ErrNotConfigured) {
		logger.Warn("midtrans disabled", "err", err)
	}
	sa, err := stripehosted.New(stripehosted.Config{
		SecretKey:     cfg.Gateway.Stripe.SecretKey,
		WebhookSecret: cfg.Gateway.Stripe.WebhookSecret,
		APIURL:        cfg.Gateway.Stripe.APIURL,
		SuccessURL:    cfg.Gateway.Stripe.SuccessURL,
		CancelURL:     cfg.Gateway.Stripe.CancelURL,
		Timeout:       cfg.GatewayTimeout(),
	})
	if err == nil {
		out = append(out, sa)
	} else if !errors.Is(err, gateway.ErrNotConfigured) {
		logger.Warn("stripe disabled", "err", err)
	}
	return out
}

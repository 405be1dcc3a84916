package services

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"AGEPayments/internal/gateway"
	"AGEPayments/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store    *memStore
	adapter  *fakeAdapter
	settler  *countingSettler
	notifier *recordingNotifier
	checkout *CheckoutService
	recon    *Reconciler
	issuer   *LicenseIssuer
}

func newHarness(t *testing.T, gateways Gateways) *harness {
	t.Helper()
	st := newMemStore()
	adapter := &fakeAdapter{}
	if gateways == nil {
		gateways = gateway.NewRegistry(gateway.ProviderMidtrans, adapter)
	}
	issuer := &LicenseIssuer{Licenses: st, Catalog: st, Prefix: "AGE"}
	notifier := &recordingNotifier{}
	chain := &SettlementChain{Effects: []Effect{
		LicenseEffect{Issuer: issuer},
		CommissionEffect{Catalog: st, Commissions: st},
		ProjectActivationEffect{Catalog: st},
		NotificationEffect{Notifier: notifier, Licenses: st},
	}}
	settler := &countingSettler{inner: chain}
	retry := gateway.RetryPolicy{Attempts: 3, Backoff: time.Millisecond, Timeout: time.Second}
	return &harness{
		store:    st,
		adapter:  adapter,
		settler:  settler,
		notifier: notifier,
		issuer:   issuer,
		checkout: &CheckoutService{
			Orders:             st,
			Catalog:            st,
			Rates:              fixedRates{rate: decimal.NewFromInt(15000), asOf: time.Now().UTC()},
			Gateways:           gateways,
			Retry:              retry,
			SettlementCurrency: "IDR",
			Decimals:           0,
		},
		recon: &Reconciler{Orders: st, Gateways: gateways, Settlement: settler, Retry: retry},
	}
}

func serviceRequest(owner string) CheckoutRequest {
	return CheckoutRequest{
		Purchasable: models.PurchasableRef{Kind: models.KindService, ID: "proj-1"},
		OwnerID:     owner,
		Amount:      decimal.NewFromInt(100),
		Customer:    gateway.Customer{Email: "buyer@example.com"},
	}
}

func TestCheckout_ServiceOrderSettlesEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^ORD[0-9a-f]{32}$`), res.OrderID)
	assert.Equal(t, models.OrderPending, res.Status)
	assert.True(t, res.SettlementAmount.Equal(decimal.NewFromInt(1500000)), res.SettlementAmount.String())
	assert.Equal(t, gateway.ProviderMidtrans, res.Handle.Provider)
	assert.NotEmpty(t, res.Handle.RedirectURL)
	assert.Equal(t, res.OrderID, gateway.OrderIDFromTransaction(res.Handle.TransactionID))

	h.adapter.GetStatusFunc = func(ctx context.Context, txn string) (*gateway.StatusResult, error) {
		return &gateway.StatusResult{Status: gateway.StatusSettled}, nil
	}
	order, err := h.recon.Reconcile(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, order.Status)
	assert.NotNil(t, order.PaidAt)

	lic, err := h.store.GetLicenseByOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 1, lic.MaxActivations)
	assert.Regexp(t, regexp.MustCompile(`^AGE-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`), lic.Key)
	assert.Nil(t, lic.ExpiresAt)

	project, err := h.store.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectActive, project.Status)
	require.NotNil(t, project.OrderID)
	assert.Equal(t, res.OrderID, *project.OrderID)

	require.Len(t, h.notifier.receipts, 1)
	assert.Equal(t, lic.Key, h.notifier.receipts[0].LicenseKey)
	assert.Equal(t, "buyer@example.com", h.notifier.receipts[0].Email)
}

func TestCheckout_RapidDoubleSubmitKeepsOnePendingOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
			if assert.NoError(t, err) {
				ids[i] = res.OrderID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, h.store.pendingCount())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestCheckout_ReuseRepricesOnAmountChange(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)

	req := serviceRequest("user-1")
	req.Amount = decimal.NewFromInt(120)
	second, err := h.checkout.InitiateCheckout(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, second.Reused)
	assert.True(t, second.Amount.Equal(decimal.NewFromInt(120)))
	assert.True(t, second.SettlementAmount.Equal(decimal.NewFromInt(1800000)))
	assert.NotEqual(t, first.Handle.TransactionID, second.Handle.TransactionID)
}

func TestCheckout_AlreadyPaidReturnsExistingOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)
	_, err = h.recon.SettleManually(ctx, first.OrderID, "bank statement 42")
	require.NoError(t, err)

	again, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)
	assert.True(t, again.AlreadyPaid)
	assert.Equal(t, first.OrderID, again.OrderID)
	assert.Equal(t, int32(1), h.adapter.hostedCalls.Load())
}

func TestCheckout_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	req := serviceRequest("")
	_, err := h.checkout.InitiateCheckout(ctx, req)
	assert.ErrorIs(t, err, ErrMissingOwner)

	req = serviceRequest("user-1")
	req.Amount = decimal.Zero
	_, err = h.checkout.InitiateCheckout(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	req = serviceRequest("user-1")
	req.Purchasable = models.PurchasableRef{Kind: models.KindDigital, ID: "missing"}
	_, err = h.checkout.InitiateCheckout(ctx, req)
	assert.ErrorIs(t, err, ErrPurchasableNotFound)

	h.store.projects["proj-2"] = &models.Project{ID: "proj-2", OwnerID: "someone-else"}
	req = serviceRequest("user-1")
	req.Purchasable.ID = "proj-2"
	_, err = h.checkout.InitiateCheckout(ctx, req)
	assert.ErrorIs(t, err, ErrPurchasableNotFound)
}

func TestCheckout_AmountPrecision(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	req := serviceRequest("user-1")
	req.Amount = decimal.RequireFromString("10.005")
	_, err := h.checkout.InitiateCheckout(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Zero(t, h.store.pendingCount())

	req.Amount = decimal.RequireFromString("10.500")
	res, err := h.checkout.InitiateCheckout(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.SettlementAmount.Equal(decimal.NewFromInt(157500)), res.SettlementAmount.String())
}

func TestCheckout_UnknownAffiliateIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	req := serviceRequest("user-1")
	stale := "aff-gone"
	req.AffiliateID = &stale
	res, err := h.checkout.InitiateCheckout(ctx, req)
	require.NoError(t, err)

	order, err := h.store.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Nil(t, order.AffiliateID)

	h.store.affiliates["aff-1"] = &models.Affiliate{ID: "aff-1", Rate: decimal.RequireFromString("0.1")}
	known := "aff-1"
	req = serviceRequest("user-1")
	req.Purchasable.ID = "proj-2"
	req.AffiliateID = &known
	res, err = h.checkout.InitiateCheckout(ctx, req)
	require.NoError(t, err)
	order, err = h.store.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	require.NotNil(t, order.AffiliateID)
	assert.Equal(t, "aff-1", *order.AffiliateID)
}

func TestCheckout_GatewayRejectionLeavesOrderPending(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.adapter.ChargeFunc = func(ctx context.Context, req gateway.CheckoutRequest, m gateway.PaymentMethod) (*gateway.ChargeResult, error) {
		return nil, gateway.ErrValidation
	}

	req := serviceRequest("user-1")
	req.Method = gateway.BankTransfer{Bank: "bca"}
	_, err := h.checkout.InitiateCheckout(ctx, req)
	assert.ErrorIs(t, err, gateway.ErrValidation)
	assert.Equal(t, 1, h.store.pendingCount())
	assert.Equal(t, int32(1), h.adapter.chargeCalls.Load())

	h.adapter.ChargeFunc = nil
	res, err := h.checkout.InitiateCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "8800123", res.Handle.Instructions.VANumber)
}

func TestCheckout_ChargeTimeoutIsNotRetried(t *testing.T) {
	h := newHarness(t, nil)
	h.adapter.ChargeFunc = func(ctx context.Context, req gateway.CheckoutRequest, m gateway.PaymentMethod) (*gateway.ChargeResult, error) {
		return nil, gateway.ErrUpstreamTimeout
	}
	req := serviceRequest("user-1")
	req.Method = gateway.QRIS{}
	_, err := h.checkout.InitiateCheckout(context.Background(), req)
	assert.ErrorIs(t, err, gateway.ErrUpstreamTimeout)
	assert.Equal(t, int32(1), h.adapter.chargeCalls.Load())
}

func TestCheckout_NoGatewayDegradesToManual(t *testing.T) {
	h := newHarness(t, gateway.NewRegistry(gateway.ProviderManual))
	res, err := h.checkout.InitiateCheckout(context.Background(), serviceRequest("user-1"))
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, gateway.ProviderManual, res.Handle.Provider)
	assert.Equal(t, models.OrderPending, res.Status)
}

func TestCheckout_StaleRateRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.checkout.Rates = fixedRates{err: errors.New("exchange rate is stale")}
	_, err := h.checkout.InitiateCheckout(context.Background(), serviceRequest("user-1"))
	assert.Error(t, err)
	assert.Equal(t, 0, h.store.pendingCount())
}

func TestReconcile_PaidOrderIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)
	h.adapter.GetStatusFunc = func(ctx context.Context, txn string) (*gateway.StatusResult, error) {
		return &gateway.StatusResult{Status: gateway.StatusSettled}, nil
	}

	_, err = h.recon.Reconcile(ctx, res.OrderID)
	require.NoError(t, err)
	calls := h.adapter.statusCalls.Load()

	order, err := h.recon.Reconcile(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, order.Status)
	assert.Equal(t, calls, h.adapter.statusCalls.Load(), "terminal orders are not queried upstream")
	assert.Equal(t, int32(1), h.settler.calls.Load())
	assert.Len(t, h.store.licenses, 1)
}

func TestReconcile_ConcurrentSettlementRunsEffectsOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.store.affiliates["aff-1"] = &models.Affiliate{ID: "aff-1", Rate: decimal.RequireFromString("0.15")}
	affiliate := "aff-1"
	req := serviceRequest("user-1")
	req.AffiliateID = &affiliate

	res, err := h.checkout.InitiateCheckout(ctx, req)
	require.NoError(t, err)
	h.adapter.GetStatusFunc = func(ctx context.Context, txn string) (*gateway.StatusResult, error) {
		return &gateway.StatusResult{Status: gateway.StatusSettled}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := h.recon.Reconcile(ctx, res.OrderID)
			assert.NoError(t, err)
			assert.Equal(t, models.OrderPaid, order.Status)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.settler.calls.Load())
	assert.Len(t, h.store.licenses, 1)
	require.Len(t, h.store.commissions, 1)
	c := h.store.commissions[res.OrderID]
	assert.True(t, c.Amount.Equal(decimal.RequireFromString("15.00")), c.Amount.String())
	assert.True(t, h.store.affiliates["aff-1"].BalancePending.Equal(decimal.RequireFromString("15")))
}

func TestReconcile_StatusTimeoutKeepsPending(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)
	h.adapter.GetStatusFunc = func(ctx context.Context, txn string) (*gateway.StatusResult, error) {
		return nil, gateway.ErrUpstreamTimeout
	}

	order, err := h.recon.Reconcile(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.Equal(t, int32(3), h.adapter.statusCalls.Load())
	assert.Equal(t, int32(0), h.settler.calls.Load())
}

func TestReconcile_UpstreamCanceledAndDenied(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)
	h.adapter.GetStatusFunc = func(ctx context.Context, txn string) (*gateway.StatusResult, error) {
		return &gateway.StatusResult{Status: gateway.StatusDenied}, nil
	}
	order, err := h.recon.Reconcile(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, order.Status)
	assert.Empty(t, h.store.licenses)
}

func TestHandleNotification_LateSettlementOnCanceledOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)

	order, err := h.recon.Cancel(ctx, res.OrderID, "user-1")
	require.NoError(t, err)
	require.Equal(t, models.OrderCanceled, order.Status)

	h.adapter.GetStatusFunc = func(ctx context.Context, txn string) (*gateway.StatusResult, error) {
		return &gateway.StatusResult{Status: gateway.StatusSettled}, nil
	}
	order, err = h.recon.HandleNotification(ctx, &gateway.Notification{
		OrderID:       res.OrderID,
		TransactionID: res.Handle.TransactionID,
		Status:        gateway.StatusSettled,
	})
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
	assert.Equal(t, models.OrderCanceled, order.Status)
	assert.Empty(t, h.store.licenses)
}

func TestHandleNotification_ConfirmsUpstream(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)

	// The claim alone does not settle: upstream still says pending.
	order, err := h.recon.HandleNotification(ctx, &gateway.Notification{OrderID: res.OrderID, TransactionID: res.Handle.TransactionID, Status: gateway.StatusSettled})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)

	var queried string
	h.adapter.GetStatusFunc = func(ctx context.Context, txn string) (*gateway.StatusResult, error) {
		queried = txn
		return &gateway.StatusResult{Status: gateway.StatusSettled}, nil
	}
	older := res.OrderID + "-old"
	order, err = h.recon.HandleNotification(ctx, &gateway.Notification{OrderID: res.OrderID, TransactionID: older, Status: gateway.StatusSettled})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, order.Status)
	assert.Equal(t, older, queried)
}

func TestHandleNotification_SupersededAttemptOnlySettles(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h.checkout.Now = func() time.Time { return clock }

	first, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	second, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)
	require.Equal(t, first.OrderID, second.OrderID)
	require.NotEqual(t, first.Handle.TransactionID, second.Handle.TransactionID)

	upstream := map[string]gateway.Status{
		first.Handle.TransactionID:  gateway.StatusExpired,
		second.Handle.TransactionID: gateway.StatusPending,
	}
	h.adapter.GetStatusFunc = func(ctx context.Context, txn string) (*gateway.StatusResult, error) {
		return &gateway.StatusResult{Status: upstream[txn]}, nil
	}

	for _, st := range []gateway.Status{gateway.StatusExpired, gateway.StatusCanceled, gateway.StatusDenied} {
		upstream[first.Handle.TransactionID] = st
		order, err := h.recon.HandleNotification(ctx, &gateway.Notification{OrderID: first.OrderID, TransactionID: first.Handle.TransactionID, Status: st})
		require.NoError(t, err)
		assert.Equal(t, models.OrderPending, order.Status, st)
	}

	// The same outcome on the attempt on file does end the order.
	upstream[second.Handle.TransactionID] = gateway.StatusExpired
	order, err := h.recon.HandleNotification(ctx, &gateway.Notification{OrderID: second.OrderID, TransactionID: second.Handle.TransactionID, Status: gateway.StatusExpired})
	require.NoError(t, err)
	assert.Equal(t, models.OrderExpired, order.Status)
}

func TestHandleNotification_SupersededAttemptPaymentSettles(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h.checkout.Now = func() time.Time { return clock }

	first, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	_, err = h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)

	h.adapter.GetStatusFunc = func(ctx context.Context, txn string) (*gateway.StatusResult, error) {
		if txn == first.Handle.TransactionID {
			return &gateway.StatusResult{Status: gateway.StatusSettled}, nil
		}
		return &gateway.StatusResult{Status: gateway.StatusPending}, nil
	}
	order, err := h.recon.HandleNotification(ctx, &gateway.Notification{OrderID: first.OrderID, TransactionID: first.Handle.TransactionID, Status: gateway.StatusSettled})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, order.Status)
	assert.Equal(t, int32(1), h.settler.calls.Load())
}

func TestExpireUnpaid(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name     string
		upstream gateway.Status
		err      error
		want     models.OrderStatus
	}{
		{"never opened", gateway.StatusPending, nil, models.OrderExpired},
		{"paid at the last minute", gateway.StatusSettled, nil, models.OrderPaid},
		{"denied upstream", gateway.StatusDenied, nil, models.OrderFailed},
		{"provider unreachable", "", gateway.ErrUpstreamUnavailable, models.OrderPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			res, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
			require.NoError(t, err)
			h.adapter.GetStatusFunc = func(ctx context.Context, txn string) (*gateway.StatusResult, error) {
				if tc.err != nil {
					return nil, tc.err
				}
				return &gateway.StatusResult{Status: tc.upstream}, nil
			}

			order, err := h.recon.ExpireUnpaid(ctx, res.OrderID, "no payment within provider ttl")
			require.NoError(t, err)
			assert.Equal(t, tc.want, order.Status)
		})
	}
}

func TestExpireUnpaid_TerminalOrderUntouched(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)
	_, err = h.recon.SettleManually(ctx, res.OrderID, "statement")
	require.NoError(t, err)
	calls := h.adapter.statusCalls.Load()

	order, err := h.recon.ExpireUnpaid(ctx, res.OrderID, "ttl")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, order.Status)
	assert.Equal(t, calls, h.adapter.statusCalls.Load())
}

func TestCancel_ChecksOwnerAndUpstream(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)

	_, err = h.recon.Cancel(ctx, res.OrderID, "intruder")
	assert.ErrorIs(t, err, models.ErrNotFound)

	h.adapter.GetStatusFunc = func(ctx context.Context, txn string) (*gateway.StatusResult, error) {
		return &gateway.StatusResult{Status: gateway.StatusSettled}, nil
	}
	order, err := h.recon.Cancel(ctx, res.OrderID, "user-1")
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
	assert.Equal(t, models.OrderPaid, order.Status)
}

func TestReplayEffects(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res, err := h.checkout.InitiateCheckout(ctx, serviceRequest("user-1"))
	require.NoError(t, err)

	_, err = h.recon.ReplayEffects(ctx, res.OrderID)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	_, err = h.recon.SettleManually(ctx, res.OrderID, "ok")
	require.NoError(t, err)
	results, err := h.recon.ReplayEffects(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.NoError(t, r.Err, r.Name)
	}
	assert.Len(t, h.store.licenses, 1)
}

func TestLicense_MonthlySubscriptionExpiry(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	issued := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	h.issuer.Now = func() time.Time { return issued }
	h.store.products["prod-sub"] = &models.Product{ID: "prod-sub", Name: "AGE Cloud", Type: models.ProductSubscription, Interval: "month", MaxActivations: 3}

	order := &models.Order{ID: "ORDsub", Purchasable: models.PurchasableRef{Kind: models.KindDigital, ID: "prod-sub"}, OwnerID: "user-1", Status: models.OrderPaid}
	lic, created, err := h.issuer.IssueLicense(ctx, order)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, lic.ExpiresAt)
	assert.Equal(t, issued.AddDate(0, 1, 0), *lic.ExpiresAt)
	assert.Equal(t, 3, lic.MaxActivations)

	again, created, err := h.issuer.IssueLicense(ctx, order)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, lic.Key, again.Key)
}

func TestLicense_Regenerate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.store.licenses["ORD1"] = &models.License{OrderID: "ORD1", Key: "AGE-AAAA-AAAA-AAAA", CurrentActivations: 2}

	lic, err := h.issuer.Regenerate(ctx, "ORD1")
	require.NoError(t, err)
	assert.NotEqual(t, "AGE-AAAA-AAAA-AAAA", lic.Key)
	assert.Equal(t, 0, lic.CurrentActivations)

	_, err = h.issuer.Regenerate(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGenerateLicenseKey_RejectsBiasedBytes(t *testing.T) {
	src := append(bytes.Repeat([]byte{255}, 4), bytes.Repeat([]byte{0, 1, 35, 36}, 8)...)
	key, err := GenerateLicenseKey("AGE", bytes.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "AGE-AB9A-AB9A-AB9A", key)
}

func TestSubscriptionExpiry(t *testing.T) {
	issued := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	exp, err := SubscriptionExpiry(issued, "year")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 3, 15, 0, 0, 0, 0, time.UTC), *exp)

	exp, err = SubscriptionExpiry(issued, "")
	require.NoError(t, err)
	assert.Nil(t, exp)

	_, err = SubscriptionExpiry(issued, "fortnight")
	assert.Error(t, err)
}

type panicEffect struct{}

func (panicEffect) Name() string { return "boom" }
func (panicEffect) Apply(ctx context.Context, o *models.Order) error {
	panic("effect exploded")
}

type failingEffect struct{}

func (failingEffect) Name() string { return "fail" }
func (failingEffect) Apply(ctx context.Context, o *models.Order) error {
	return errors.New("downstream unavailable")
}

func TestSettlementChain_IsolatesFailures(t *testing.T) {
	st := newMemStore()
	st.projects["proj-1"] = &models.Project{ID: "proj-1", OwnerID: "user-1"}
	chain := &SettlementChain{Effects: []Effect{
		panicEffect{},
		failingEffect{},
		ProjectActivationEffect{Catalog: st},
	}}
	order := &models.Order{ID: "ORD1", Purchasable: models.PurchasableRef{Kind: models.KindService, ID: "proj-1"}}

	results := chain.OnSettled(context.Background(), order)
	require.Len(t, results, 3)
	assert.ErrorContains(t, results[0].Err, "panicked")
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, models.ProjectActive, st.projects["proj-1"].Status)
}

func TestCommissionAmountRounding(t *testing.T) {
	order := &models.Order{Amount: decimal.RequireFromString("19.99")}
	aff := &models.Affiliate{Rate: decimal.RequireFromString("0.15")}
	assert.Equal(t, "3", CommissionAmount(order, aff).String())
	assert.Equal(t, "3.00", CommissionAmount(order, aff).StringFixed(2))
}

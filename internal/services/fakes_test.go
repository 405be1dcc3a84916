package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"AGEPayments/internal/gateway"
	"AGEPayments/internal/models"
	"AGEPayments/internal/notify"

	"github.com/shopspring/decimal"
)

// memStore mirrors the SQL semantics of store.Store: one pending order per
// purchasable and owner, conditional transitions, unique license and
// commission rows per order.
type memStore struct {
	mu          sync.Mutex
	orders      map[string]*models.Order
	projects    map[string]*models.Project
	products    map[string]*models.Product
	affiliates  map[string]*models.Affiliate
	licenses    map[string]*models.License
	commissions map[string]*models.CommissionLog
	seq         int
}

func newMemStore() *memStore {
	return &memStore{
		orders:      map[string]*models.Order{},
		projects:    map[string]*models.Project{},
		products:    map[string]*models.Product{},
		affiliates:  map[string]*models.Affiliate{},
		licenses:    map[string]*models.License{},
		commissions: map[string]*models.CommissionLog{},
	}
}

func clone(o *models.Order) *models.Order {
	c := *o
	return &c
}

func (m *memStore) CreateOrReusePending(ctx context.Context, in models.NewOrder) (*models.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Status == models.OrderPending && o.Purchasable == in.Purchasable && o.OwnerID == in.OwnerID {
			if !o.Amount.Equal(in.Amount) {
				o.Amount = in.Amount
				o.SettlementAmount = in.SettlementAmount
				o.ExchangeRate = in.ExchangeRate
				o.RateAsOf = in.RateAsOf
				o.ProviderTransactionID, o.CheckoutToken, o.CheckoutURL = nil, nil, nil
				o.Instructions = models.Instructions{}
			}
			return clone(o), false, nil
		}
	}
	m.seq++
	now := time.Now().UTC().Add(time.Duration(m.seq) * time.Millisecond)
	o := &models.Order{
		ID:                 in.ID,
		Purchasable:        in.Purchasable,
		OwnerID:            in.OwnerID,
		CustomerEmail:      in.CustomerEmail,
		AffiliateID:        in.AffiliateID,
		Amount:             in.Amount,
		SettlementAmount:   in.SettlementAmount,
		SettlementCurrency: in.SettlementCurrency,
		ExchangeRate:       in.ExchangeRate,
		RateAsOf:           in.RateAsOf,
		Status:             models.OrderPending,
		PaymentProvider:    string(gateway.ProviderManual),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	m.orders[o.ID] = o
	return clone(o), true, nil
}

func (m *memStore) Transition(ctx context.Context, orderID string, from *models.OrderStatus, to models.OrderStatus, metadata json.RawMessage) (*models.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, false, models.ErrNotFound
	}
	source := models.OrderPending
	if from != nil {
		source = *from
	}
	if o.Status == source && models.CanTransition(source, to) {
		o.Status = to
		if to == models.OrderPaid {
			now := time.Now().UTC()
			o.PaidAt = &now
		}
		if len(metadata) > 0 {
			o.PaymentMetadata = metadata
		}
		return clone(o), true, nil
	}
	if _, err := models.CheckTransition(o.Status, to); err != nil {
		return clone(o), false, err
	}
	return clone(o), false, nil
}

func (m *memStore) RecordCharge(ctx context.Context, orderID string, rec models.ChargeRecord) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if o.Status != models.OrderPending {
		return clone(o), fmt.Errorf("%w: cannot record charge on %s order", models.ErrIllegalTransition, o.Status)
	}
	o.PaymentProvider = rec.Provider
	if rec.Method != "" {
		method := rec.Method
		o.PaymentMethod = &method
	}
	txn, token, url := rec.ProviderTransactionID, rec.CheckoutToken, rec.CheckoutURL
	o.ProviderTransactionID, o.CheckoutToken, o.CheckoutURL = &txn, &token, &url
	o.Instructions = rec.Instructions
	o.Attempts++
	return clone(o), nil
}

func (m *memStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return clone(o), nil
}

func (m *memStore) LatestOrder(ctx context.Context, ref models.PurchasableRef, ownerID string, status models.OrderStatus) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Order
	for _, o := range m.orders {
		if o.Purchasable == ref && o.OwnerID == ownerID && o.Status == status {
			if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
				latest = o
			}
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	return clone(latest), nil
}

func (m *memStore) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if o.Status == models.OrderPending {
			n++
		}
	}
	return n
}

func (m *memStore) setStatus(orderID string, s models.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[orderID].Status = s
}

func (m *memStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *memStore) EnsureProject(ctx context.Context, p models.Project) (*models.Project, error) {
	m.mu.Lock()
	if _, ok := m.projects[p.ID]; !ok {
		if p.Status == "" {
			p.Status = models.ProjectDraft
		}
		m.projects[p.ID] = &p
	}
	m.mu.Unlock()
	return m.GetProject(ctx, p.ID)
}

func (m *memStore) ActivateProject(ctx context.Context, projectID, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok || p.Status == models.ProjectActive {
		return false, nil
	}
	now := time.Now().UTC()
	p.Status, p.OrderID, p.ActivatedAt = models.ProjectActive, &orderID, &now
	return true, nil
}

func (m *memStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *memStore) GetAffiliate(ctx context.Context, id string) (*models.Affiliate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.affiliates[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (m *memStore) GetLicenseByOrder(ctx context.Context, orderID string) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.licenses[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *l
	return &c, nil
}

func (m *memStore) CreateLicense(ctx context.Context, l *models.License) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.licenses[l.OrderID]; ok {
		return false, nil
	}
	c := *l
	m.licenses[l.OrderID] = &c
	return true, nil
}

func (m *memStore) RegenerateKey(ctx context.Context, orderID, key string) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.licenses[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	l.Key, l.CurrentActivations = key, 0
	c := *l
	return &c, nil
}

func (m *memStore) CreditCommission(ctx context.Context, c *models.CommissionLog) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.commissions[c.OrderID]; ok {
		return false, nil
	}
	cp := *c
	m.commissions[c.OrderID] = &cp
	if a, ok := m.affiliates[c.AffiliateID]; ok {
		a.BalancePending = a.BalancePending.Add(c.Amount)
	}
	return true, nil
}

type fixedRates struct {
	rate decimal.Decimal
	asOf time.Time
	err  error
}

func (f fixedRates) Fresh(currency string, maxAge time.Duration, now time.Time) (decimal.Decimal, time.Time, error) {
	return f.rate, f.asOf, f.err
}

type fakeAdapter struct {
	name          gateway.Provider
	hostedCalls   atomic.Int32
	chargeCalls   atomic.Int32
	statusCalls   atomic.Int32
	HostedFunc    func(ctx context.Context, req gateway.CheckoutRequest) (*gateway.Session, error)
	ChargeFunc    func(ctx context.Context, req gateway.CheckoutRequest, m gateway.PaymentMethod) (*gateway.ChargeResult, error)
	GetStatusFunc func(ctx context.Context, txn string) (*gateway.StatusResult, error)
}

func (a *fakeAdapter) Name() gateway.Provider {
	if a.name == "" {
		return gateway.ProviderMidtrans
	}
	return a.name
}

func (a *fakeAdapter) CreateHostedCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.Session, error) {
	a.hostedCalls.Add(1)
	if a.HostedFunc != nil {
		return a.HostedFunc(ctx, req)
	}
	return &gateway.Session{ProviderTransactionID: req.TransactionID, Token: "tok-" + req.TransactionID, RedirectURL: "https://pay.example/" + req.TransactionID}, nil
}

func (a *fakeAdapter) Charge(ctx context.Context, req gateway.CheckoutRequest, m gateway.PaymentMethod) (*gateway.ChargeResult, error) {
	a.chargeCalls.Add(1)
	if a.ChargeFunc != nil {
		return a.ChargeFunc(ctx, req, m)
	}
	return &gateway.ChargeResult{ProviderTransactionID: req.TransactionID, Instructions: models.Instructions{Bank: "bca", VANumber: "8800123"}}, nil
}

func (a *fakeAdapter) GetStatus(ctx context.Context, txn string) (*gateway.StatusResult, error) {
	a.statusCalls.Add(1)
	if a.GetStatusFunc != nil {
		return a.GetStatusFunc(ctx, txn)
	}
	return &gateway.StatusResult{Status: gateway.StatusPending}, nil
}

func (a *fakeAdapter) ParseNotification(r *http.Request) (*gateway.Notification, error) {
	return nil, gateway.ErrBadSignature
}

type countingSettler struct {
	inner Settler
	calls atomic.Int32
}

func (c *countingSettler) OnSettled(ctx context.Context, o *models.Order) []EffectResult {
	c.calls.Add(1)
	return c.inner.OnSettled(ctx, o)
}

type recordingNotifier struct {
	mu       sync.Mutex
	receipts []notify.Receipt
}

func (n *recordingNotifier) OrderPaid(ctx context.Context, r notify.Receipt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, r)
	return nil
}

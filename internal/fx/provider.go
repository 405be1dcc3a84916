package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ManualProvider struct {
	Base  string
	Rates map[string]float64
}

func (p ManualProvider) Fetch(ctx context.Context) (Snapshot, error) {
	rates := make(map[string]decimal.Decimal, len(p.Rates))
	for code, v := range p.Rates {
		rates[strings.ToUpper(code)] = decimal.NewFromFloat(v)
	}
	return Snapshot{
		Base:        p.Base,
		Rates:       rates,
		Source:      SourceManual,
		LastUpdated: time.Now().UTC(),
	}, nil
}

// HTTPProvider reads an open exchange-rate style document:
//
//	{"result":"success","base_code":"USD","time_last_update_unix":1700000000,"rates":{"IDR":15000}}
type HTTPProvider struct {
	URL    string
	Base   string
	client *http.Client
}

func NewHTTPProvider(url, base string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{URL: url, Base: base, client: &http.Client{Timeout: timeout}}
}

type rateDocument struct {
	Result             string                     `json:"result"`
	BaseCode           string                     `json:"base_code"`
	TimeLastUpdateUnix int64                      `json:"time_last_update_unix"`
	Rates              map[string]decimal.Decimal `json:"rates"`
}

func (p *HTTPProvider) Fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return Snapshot{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return Snapshot{}, fmt.Errorf("rate api http status %d: %s", resp.StatusCode, msg)
		}
		return Snapshot{}, fmt.Errorf("rate api http status %d", resp.StatusCode)
	}

	var doc rateDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Snapshot{}, err
	}
	if doc.Result != "" && doc.Result != "success" {
		return Snapshot{}, fmt.Errorf("rate api result %q", doc.Result)
	}
	if p.Base != "" && doc.BaseCode != "" && !strings.EqualFold(doc.BaseCode, p.Base) {
		return Snapshot{}, fmt.Errorf("rate api base %s, want %s", doc.BaseCode, p.Base)
	}

	rates := make(map[string]decimal.Decimal, len(doc.Rates))
	for code, v := range doc.Rates {
		rates[strings.ToUpper(code)] = v
	}
	updated := time.Now().UTC()
	if doc.TimeLastUpdateUnix > 0 {
		updated = time.Unix(doc.TimeLastUpdateUnix, 0).UTC()
	}
	return Snapshot{
		Base:        strings.ToUpper(doc.BaseCode),
		Rates:       rates,
		Source:      SourceAPI,
		LastUpdated: updated,
	}, nil
}

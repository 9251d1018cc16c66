package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"smartflow/config"
)

func testOracle(url string) *Oracle {
	return NewOracle(config.PricingConfig{
		InfoAPIURL: url,
		CacheTTL:   30 * time.Second,
		StaleGrace: 5 * time.Minute,
	})
}

func TestPriceFetchAndCache(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"BTC":"65000.5","ETH":"3200"}`))
	}))
	defer server.Close()

	o := testOracle(server.URL)

	price, ok := o.Price(context.Background(), "BTC")
	if !ok || price != 65000.5 {
		t.Fatalf("expected 65000.5, got %f ok=%v", price, ok)
	}

	// Second asset from the same batch: no extra round trip
	price, ok = o.Price(context.Background(), "ETH")
	if !ok || price != 3200 {
		t.Fatalf("expected 3200, got %f ok=%v", price, ok)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected 1 fetch, got %d", hits)
	}
}

func TestPricePushedMids(t *testing.T) {
	o := testOracle("http://unreachable.invalid")
	o.SetMids(map[string]float64{"SOL": 150})

	price, ok := o.Price(context.Background(), "SOL")
	if !ok || price != 150 {
		t.Errorf("pushed mid should be served from cache, got %f ok=%v", price, ok)
	}
}

func TestPriceStaleFallback(t *testing.T) {
	o := testOracle("http://unreachable.invalid")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base
	o.SetClock(func() time.Time { return now })

	o.SetMids(map[string]float64{"BTC": 65000})

	// Fresh cache expired, fetch fails, stale grace still covers it
	now = base.Add(2 * time.Minute)
	price, ok := o.Price(context.Background(), "BTC")
	if !ok || price != 65000 {
		t.Errorf("expected stale price 65000 within grace, got %f ok=%v", price, ok)
	}

	// Beyond the grace window the oracle must admit it has no price
	now = base.Add(10 * time.Minute)
	if _, ok := o.Price(context.Background(), "BTC"); ok {
		t.Error("expected no price after stale grace lapsed")
	}
}

func TestPriceUnknownAsset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"BTC":"65000"}`))
	}))
	defer server.Close()

	o := testOracle(server.URL)
	if _, ok := o.Price(context.Background(), "DOGE"); ok {
		t.Error("unknown asset should not resolve to a price")
	}
}

// Package pricing resolves asset prices for USD valuation. Fresh prices come
// from the venue's mid-price feed; batch fetches are collapsed with
// singleflight and a short-TTL cache, with a bounded stale fallback when the
// price source is down.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"smartflow/cache"
	"smartflow/config"
)

type stalePrice struct {
	price float64
	at    time.Time
}

// Oracle caches mid prices and answers point-in-time valuations
type Oracle struct {
	infoURL    string
	client     *http.Client
	cache      *cache.TTLCache
	group      singleflight.Group
	staleGrace time.Duration
	now        func() time.Time

	staleMu sync.RWMutex
	stale   map[string]stalePrice
}

// NewOracle creates a price oracle from configuration
func NewOracle(cfg config.PricingConfig) *Oracle {
	return &Oracle{
		infoURL:    cfg.InfoAPIURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		cache:      cache.NewTTLCache(cfg.CacheTTL, 4096),
		staleGrace: cfg.StaleGrace,
		now:        time.Now,
		stale:      make(map[string]stalePrice),
	}
}

// SetMids installs a full mid-price snapshot, typically pushed by the live
// trade tape. Pushed prices refresh the cache without an HTTP round trip.
func (o *Oracle) SetMids(mids map[string]float64) {
	now := o.now()
	o.staleMu.Lock()
	for asset, price := range mids {
		o.cache.Set(asset, price)
		o.stale[asset] = stalePrice{price: price, at: now}
	}
	o.staleMu.Unlock()
}

// Price returns the current price for an asset. The second return is false
// when no fresh price exists and the stale fallback window has also lapsed;
// callers must treat that as "cannot value", not as zero.
func (o *Oracle) Price(ctx context.Context, asset string) (float64, bool) {
	if v, ok := o.cache.Get(asset); ok {
		return v.(float64), true
	}

	// Collapse concurrent misses into one batch fetch
	_, err, _ := o.group.Do("allMids", func() (interface{}, error) {
		mids, err := o.fetchAllMids(ctx)
		if err != nil {
			return nil, err
		}
		o.SetMids(mids)
		return nil, nil
	})
	if err == nil {
		if v, ok := o.cache.Get(asset); ok {
			return v.(float64), true
		}
	} else {
		log.Printf("⚠️  Price fetch failed: %v", err)
	}

	// Stale fallback: a recent price beats no price for valuation purposes
	o.staleMu.RLock()
	entry, ok := o.stale[asset]
	o.staleMu.RUnlock()
	if ok && o.now().Sub(entry.at) <= o.staleGrace {
		return entry.price, true
	}
	return 0, false
}

// fetchAllMids pulls the full mid-price map from the venue info endpoint
func (o *Oracle) fetchAllMids(ctx context.Context) (map[string]float64, error) {
	body, err := json.Marshal(map[string]string{"type": "allMids"})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.infoURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build price request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price endpoint returned status %d", resp.StatusCode)
	}

	var raw map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	mids := make(map[string]float64, len(raw))
	for asset, s := range raw {
		price, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		mids[asset] = price
	}
	return mids, nil
}

// SetClock replaces the oracle clock, for tests
func (o *Oracle) SetClock(now func() time.Time) {
	o.now = now
	o.cache.SetClock(now)
}

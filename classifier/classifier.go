// Package classifier resolves whether an address belongs to a custodian
// (exchange deposit wallet, custody vault). Resolution cascades through a hot
// in-memory cache, persisted positives, a persisted negative cache, then the
// configured remote providers; results are written back so each address is
// resolved remotely at most once per TTL.
package classifier

import (
	"context"
	"log"
	"strings"
	"time"

	"smartflow/cache"
	"smartflow/config"
	"smartflow/database"
)

// Result is a positive custodian classification
type Result struct {
	Custodian  string  `json:"custodian"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Provider is one remote classification tier. A (nil, nil) return is a
// definitive "not a custodian" from that tier; an error is a soft failure and
// the cascade continues.
type Provider interface {
	Name() string
	Classify(ctx context.Context, network, address string) (*Result, error)
}

// Store persists classification results between runs
type Store interface {
	GetPositive(network, address string) (*database.AddressClassification, error)
	UpsertPositive(c *database.AddressClassification) error
	GetNegative(network, address string, now time.Time) (bool, error)
	UpsertNegative(network, address string, expiresAt time.Time) error
}

// Classifier runs the classification cascade
type Classifier struct {
	providers   []Provider
	store       Store
	hot         *cache.TTLCache
	negativeTTL time.Duration
	now         func() time.Time
}

// hot-cache sentinel for addresses known to not be custodians
type negativeMarker struct{}

// New builds a classifier with the provider tiers enabled by configuration
func New(cfg config.ClassifierConfig, store Store) *Classifier {
	var providers []Provider
	if cfg.LabelsAPIKey != "" {
		providers = append(providers, newLabelsProvider(cfg.LabelsAPIURL, cfg.LabelsAPIKey))
	}
	if cfg.ExplorerAPIKey != "" {
		providers = append(providers, newExplorerProvider(cfg.ExplorerAPIURL, cfg.ExplorerAPIKey))
	}
	if cfg.HeuristicEnabled {
		providers = append(providers, &heuristicProvider{})
	}
	log.Printf("✅ Classifier initialized with %d provider tiers", len(providers))

	return &Classifier{
		providers:   providers,
		store:       store,
		hot:         cache.NewTTLCache(cfg.HotCacheTTL, 16384),
		negativeTTL: cfg.NegativeTTL,
		now:         time.Now,
	}
}

// Classify resolves an address. The bool reports whether a custodian was
// found; on false the result is always nil.
func (c *Classifier) Classify(ctx context.Context, network, address string) (*Result, bool) {
	address = strings.ToLower(address)
	key := network + ":" + address

	// Tier 1: hot cache, positive or negative
	if v, ok := c.hot.Get(key); ok {
		if res, ok := v.(*Result); ok {
			return res, true
		}
		return nil, false
	}

	// Tier 2: persisted positives
	if row, err := c.store.GetPositive(network, address); err != nil {
		log.Printf("⚠️  Classifier: positive lookup failed for %s: %v", key, err)
	} else if row != nil {
		res := &Result{Custodian: row.Custodian, Confidence: row.Confidence, Source: row.Source}
		c.hot.Set(key, res)
		return res, true
	}

	// Tier 3: persisted negative cache short-circuits remote providers
	if hit, err := c.store.GetNegative(network, address, c.now()); err != nil {
		log.Printf("⚠️  Classifier: negative lookup failed for %s: %v", key, err)
	} else if hit {
		c.hot.Set(key, negativeMarker{})
		return nil, false
	}

	// Tier 4+: remote providers, in configured order
	softFailed := false
	for _, p := range c.providers {
		res, err := p.Classify(ctx, network, address)
		if err != nil {
			softFailed = true
			log.Printf("⚠️  Classifier: %s failed for %s: %v", p.Name(), key, err)
			continue
		}
		if res == nil {
			continue
		}
		res.Source = p.Name()
		c.hot.Set(key, res)
		if err := c.store.UpsertPositive(&database.AddressClassification{
			Network:    network,
			Address:    address,
			Custodian:  res.Custodian,
			Confidence: res.Confidence,
			Source:     res.Source,
		}); err != nil {
			log.Printf("⚠️  Classifier: positive write-back failed for %s: %v", key, err)
		}
		return res, true
	}

	// Only cache a negative when every tier answered; a provider outage must
	// not poison the address for the whole negative TTL
	if !softFailed {
		if err := c.store.UpsertNegative(network, address, c.now().Add(c.negativeTTL)); err != nil {
			log.Printf("⚠️  Classifier: negative write-back failed for %s: %v", key, err)
		}
		c.hot.Set(key, negativeMarker{})
	}
	return nil, false
}

// SetClock replaces the classifier clock, for tests
func (c *Classifier) SetClock(now func() time.Time) {
	c.now = now
	c.hot.SetClock(now)
}

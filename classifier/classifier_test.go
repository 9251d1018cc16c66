package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"smartflow/cache"
	"smartflow/database"
)

type stubStore struct {
	positives map[string]*database.AddressClassification
	negatives map[string]time.Time

	positiveWrites int
	negativeWrites int
}

func newStubStore() *stubStore {
	return &stubStore{
		positives: make(map[string]*database.AddressClassification),
		negatives: make(map[string]time.Time),
	}
}

func (s *stubStore) GetPositive(network, address string) (*database.AddressClassification, error) {
	return s.positives[network+":"+address], nil
}

func (s *stubStore) UpsertPositive(c *database.AddressClassification) error {
	s.positiveWrites++
	s.positives[c.Network+":"+c.Address] = c
	return nil
}

func (s *stubStore) GetNegative(network, address string, now time.Time) (bool, error) {
	expiry, ok := s.negatives[network+":"+address]
	return ok && now.Before(expiry), nil
}

func (s *stubStore) UpsertNegative(network, address string, expiresAt time.Time) error {
	s.negativeWrites++
	s.negatives[network+":"+address] = expiresAt
	return nil
}

type stubProvider struct {
	name   string
	result *Result
	err    error
	calls  int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Classify(ctx context.Context, network, address string) (*Result, error) {
	p.calls++
	return p.result, p.err
}

func testClassifier(store Store, providers ...Provider) *Classifier {
	return &Classifier{
		providers:   providers,
		store:       store,
		hot:         cache.NewTTLCache(10*time.Minute, 1024),
		negativeTTL: 7 * 24 * time.Hour,
		now:         time.Now,
	}
}

func TestClassifyPositiveWriteBack(t *testing.T) {
	store := newStubStore()
	provider := &stubProvider{name: "labels_api", result: &Result{Custodian: "Binance", Confidence: 0.9}}
	c := testClassifier(store, provider)

	res, ok := c.Classify(context.Background(), "ethereum", "0xDEP")
	if !ok || res.Custodian != "Binance" {
		t.Fatalf("expected Binance, got %+v ok=%v", res, ok)
	}
	if store.positiveWrites != 1 {
		t.Errorf("expected positive write-back, got %d writes", store.positiveWrites)
	}

	// Second lookup is served from the hot cache
	c.Classify(context.Background(), "ethereum", "0xdep")
	if provider.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", provider.calls)
	}
}

func TestClassifyNegativeCacheShortCircuits(t *testing.T) {
	store := newStubStore()
	store.negatives["ethereum:0xabc"] = time.Now().Add(time.Hour)
	provider := &stubProvider{name: "labels_api", result: &Result{Custodian: "Binance"}}
	c := testClassifier(store, provider)

	if _, ok := c.Classify(context.Background(), "ethereum", "0xabc"); ok {
		t.Fatal("negative-cached address must not classify")
	}
	if provider.calls != 0 {
		t.Errorf("negative cache must short-circuit providers, got %d calls", provider.calls)
	}
}

func TestClassifyFullMissWritesNegative(t *testing.T) {
	store := newStubStore()
	c := testClassifier(store, &stubProvider{name: "labels_api"}, &stubProvider{name: "explorer_api"})

	if _, ok := c.Classify(context.Background(), "ethereum", "0xabc"); ok {
		t.Fatal("expected no classification")
	}
	if store.negativeWrites != 1 {
		t.Errorf("full miss should write the negative cache, got %d writes", store.negativeWrites)
	}
}

func TestClassifyProviderErrorSkipsNegativeWrite(t *testing.T) {
	store := newStubStore()
	failing := &stubProvider{name: "labels_api", err: errors.New("rate limited")}
	fallback := &stubProvider{name: "explorer_api", result: &Result{Custodian: "Coinbase", Confidence: 0.8}}
	c := testClassifier(store, failing, fallback)

	// Soft failure cascades to the next tier
	res, ok := c.Classify(context.Background(), "ethereum", "0xdep")
	if !ok || res.Custodian != "Coinbase" {
		t.Fatalf("expected fallback tier result, got %+v ok=%v", res, ok)
	}

	// A miss while a provider is erroring must not be cached as negative
	fallback.result = nil
	if _, ok := c.Classify(context.Background(), "ethereum", "0xother"); ok {
		t.Fatal("expected no classification")
	}
	if store.negativeWrites != 0 {
		t.Errorf("provider outage must not poison the negative cache, got %d writes", store.negativeWrites)
	}
}

func TestClassifyPersistedPositive(t *testing.T) {
	store := newStubStore()
	store.positives["ethereum:0xdep"] = &database.AddressClassification{
		Network: "ethereum", Address: "0xdep", Custodian: "OKX", Confidence: 0.9, Source: "labels_api",
	}
	provider := &stubProvider{name: "labels_api"}
	c := testClassifier(store, provider)

	res, ok := c.Classify(context.Background(), "ethereum", "0xDEP")
	if !ok || res.Custodian != "OKX" {
		t.Fatalf("expected persisted positive, got %+v ok=%v", res, ok)
	}
	if provider.calls != 0 {
		t.Errorf("persisted positive must not hit providers, got %d calls", provider.calls)
	}
}

func TestHeuristicMatchesOnlyKnownHotWallets(t *testing.T) {
	p := &heuristicProvider{}

	res, err := p.Classify(context.Background(), "ethereum", "0x28C6c06298d514Db089934071355E5743bf21d60")
	if err != nil || res == nil {
		t.Fatalf("known hot wallet must classify, got %+v err=%v", res, err)
	}
	if res.Confidence != 0.3 {
		t.Errorf("heuristic confidence must stay low, got %f", res.Confidence)
	}

	// An address merely sharing the allowlist entry's leading bytes is not
	// the hot wallet
	res, err = p.Classify(context.Background(), "ethereum", "0x28c6c06298d514db089934071355e5743bf21d61")
	if err != nil || res != nil {
		t.Errorf("near-miss address must stay unclassified, got %+v err=%v", res, err)
	}
}

package tracker

import (
	"context"
	"math"
	"testing"
	"time"

	"smartflow/classifier"
	"smartflow/config"
	"smartflow/database"
	"smartflow/stream"
)

type stubRegistry struct {
	entities map[string]database.TrackedEntity
}

func (r *stubRegistry) Contains(address string) bool {
	_, ok := r.entities[address]
	return ok
}

func (r *stubRegistry) Metadata(address string) (database.TrackedEntity, bool) {
	e, ok := r.entities[address]
	return e, ok
}

type stubOracle struct {
	prices map[string]float64
}

func (o *stubOracle) Price(ctx context.Context, asset string) (float64, bool) {
	p, ok := o.prices[asset]
	return p, ok
}

type stubClassifier struct {
	custodians map[string]string
	calls      int
}

func (c *stubClassifier) Classify(ctx context.Context, network, address string) (*classifier.Result, bool) {
	c.calls++
	name, ok := c.custodians[address]
	if !ok {
		return nil, false
	}
	return &classifier.Result{Custodian: name, Confidence: 0.9}, true
}

func testFlowConfig() config.FlowConfig {
	return config.FlowConfig{
		MinDepositUSD:     1_000_000,
		NoiseThresholdPct: 1.0,
		DebounceWindow:    2 * time.Second,
	}
}

func newTestTracker() (*Tracker, *stubClassifier) {
	reg := &stubRegistry{entities: map[string]database.TrackedEntity{
		"0xtrader": {ID: 1, Address: "0xtrader"},
	}}
	oracle := &stubOracle{prices: map[string]float64{"BTC": 100, "USDC": 1}}
	cls := &stubClassifier{custodians: map[string]string{"0xbinance": "Binance"}}
	return New(reg, oracle, cls, testFlowConfig()), cls
}

func fill(address, asset string, qty, price float64, sourceID string) stream.RawActivityEvent {
	return stream.RawActivityEvent{
		Source:    "trade_tape",
		Kind:      stream.KindFill,
		Asset:     asset,
		Address:   address,
		Quantity:  qty,
		Price:     price,
		Timestamp: time.Now(),
		SourceID:  sourceID,
	}
}

func TestOpenLong(t *testing.T) {
	tr, _ := newTestTracker()

	u := tr.Process(context.Background(), fill("0xtrader", "BTC", 10, 100, "t1"))
	if u == nil {
		t.Fatal("expected an update")
	}
	if u.Event.Action != ActionOpenLong {
		t.Errorf("expected open_long, got %s", u.Event.Action)
	}
	if u.Position.Size != 10 || u.Position.AvgEntryPrice != 100 {
		t.Errorf("expected size 10 @ 100, got %f @ %f", u.Position.Size, u.Position.AvgEntryPrice)
	}
	if u.Event.NewSide != "long" || u.Event.OldSize != 0 {
		t.Errorf("unexpected event fields: %+v", u.Event)
	}
}

func TestReduceLongRealizesPnl(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Process(context.Background(), fill("0xtrader", "BTC", 10, 100, "t1"))

	u := tr.Process(context.Background(), fill("0xtrader", "BTC", -2, 120, "t2"))
	if u == nil {
		t.Fatal("expected an update")
	}
	if u.Event.Action != ActionReduceLong {
		t.Errorf("expected reduce_long, got %s", u.Event.Action)
	}
	// Average entry holds on a reduce; 2 closed at +20 realizes +40
	if u.Position.AvgEntryPrice != 100 {
		t.Errorf("avg entry must hold at 100 on reduce, got %f", u.Position.AvgEntryPrice)
	}
	if math.Abs(u.Position.RealizedPnl-40) > 1e-9 {
		t.Errorf("expected realized pnl +40, got %f", u.Position.RealizedPnl)
	}
	if u.Position.Size != 8 {
		t.Errorf("expected size 8, got %f", u.Position.Size)
	}
}

func TestAddLongBlendsAvgEntry(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Process(context.Background(), fill("0xtrader", "BTC", 10, 100, "t1"))

	u := tr.Process(context.Background(), fill("0xtrader", "BTC", 10, 120, "t2"))
	if u.Event.Action != ActionAddLong {
		t.Errorf("expected add_long, got %s", u.Event.Action)
	}
	if math.Abs(u.Position.AvgEntryPrice-110) > 1e-9 {
		t.Errorf("expected blended avg 110, got %f", u.Position.AvgEntryPrice)
	}
}

func TestCloseLongFlattens(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Process(context.Background(), fill("0xtrader", "BTC", 10, 100, "t1"))

	u := tr.Process(context.Background(), fill("0xtrader", "BTC", -10, 90, "t2"))
	if u.Event.Action != ActionCloseLong {
		t.Errorf("expected close_long, got %s", u.Event.Action)
	}
	if u.Position.Size != 0 || u.Position.AvgEntryPrice != 0 {
		t.Errorf("flat position must reset size and avg entry, got %f @ %f",
			u.Position.Size, u.Position.AvgEntryPrice)
	}
	if math.Abs(u.Position.RealizedPnl-(-100)) > 1e-9 {
		t.Errorf("expected realized pnl -100, got %f", u.Position.RealizedPnl)
	}
	if tr.PositionCount() != 0 {
		t.Errorf("book should drop flat positions, have %d", tr.PositionCount())
	}
}

func TestFlipSetsAvgToCrossingFill(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Process(context.Background(), fill("0xtrader", "BTC", 10, 100, "t1"))

	u := tr.Process(context.Background(), fill("0xtrader", "BTC", -15, 110, "t2"))
	if u.Event.Action != ActionFlipLong {
		t.Errorf("expected flip_long_to_short, got %s", u.Event.Action)
	}
	if u.Position.Size != -5 {
		t.Errorf("expected size -5, got %f", u.Position.Size)
	}
	if u.Position.AvgEntryPrice != 110 {
		t.Errorf("flip must reset avg entry to the crossing fill price, got %f", u.Position.AvgEntryPrice)
	}
	// The 10 long closed at +10 each
	if math.Abs(u.Position.RealizedPnl-100) > 1e-9 {
		t.Errorf("expected realized pnl +100, got %f", u.Position.RealizedPnl)
	}
	if u.Event.NewSide != "short" {
		t.Errorf("expected short side, got %s", u.Event.NewSide)
	}
}

func TestNoiseSuppression(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Process(context.Background(), fill("0xtrader", "BTC", 1000, 100, "t1"))

	// 0.5% add: below the 1% threshold, book updates silently
	if u := tr.Process(context.Background(), fill("0xtrader", "BTC", 5, 100, "t2")); u != nil {
		t.Errorf("sub-threshold add should be suppressed, got %s", u.Event.Action)
	}

	// The suppressed fill still moved the book
	u := tr.Process(context.Background(), fill("0xtrader", "BTC", -1005, 100, "t3"))
	if u == nil || u.Event.Action != ActionCloseLong {
		t.Fatalf("expected close_long of the full 1005, got %+v", u)
	}
	if u.Event.OldSize != 1005 {
		t.Errorf("suppressed fill must still update the book, old size %f", u.Event.OldSize)
	}
}

func TestUntrackedAddressIgnored(t *testing.T) {
	tr, _ := newTestTracker()
	if u := tr.Process(context.Background(), fill("0xstranger", "BTC", 10, 100, "t1")); u != nil {
		t.Errorf("untracked address must not produce updates, got %+v", u)
	}
}

func TestWarmStartPreservesPositions(t *testing.T) {
	tr, _ := newTestTracker()
	tr.LoadPositions([]database.Position{
		{EntityID: 1, Asset: "BTC", Size: 10, AvgEntryPrice: 100},
	})

	// After a restart a buy on an open position is an add, not an open
	u := tr.Process(context.Background(), fill("0xtrader", "BTC", 10, 120, "t1"))
	if u == nil || u.Event.Action != ActionAddLong {
		t.Fatalf("expected add_long on warmed position, got %+v", u)
	}
}

func transfer(from, to, asset string, qty float64, sourceID string) stream.RawActivityEvent {
	return stream.RawActivityEvent{
		Source:    "evm:ethereum",
		Kind:      stream.KindTransfer,
		Network:   "ethereum",
		Asset:     asset,
		From:      from,
		To:        to,
		Quantity:  qty,
		Timestamp: time.Now(),
		SourceID:  sourceID,
	}
}

func TestDepositQualifies(t *testing.T) {
	tr, _ := newTestTracker()

	u := tr.Process(context.Background(), transfer("0xtrader", "0xbinance", "USDC", 2_000_000, "0xtx1"))
	if u == nil {
		t.Fatal("expected a deposit update")
	}
	if u.Event.Action != ActionDeposit {
		t.Errorf("expected deposit, got %s", u.Event.Action)
	}
	if u.Event.DeltaUsd != 2_000_000 {
		t.Errorf("expected $2M, got %f", u.Event.DeltaUsd)
	}
	if u.Position != nil {
		t.Error("deposits must not carry a position snapshot")
	}
}

func TestDepositBelowThresholdSkipsClassifier(t *testing.T) {
	tr, cls := newTestTracker()

	u := tr.Process(context.Background(), transfer("0xtrader", "0xbinance", "USDC", 500_000, "0xtx1"))
	if u != nil {
		t.Fatalf("sub-threshold transfer must not qualify, got %+v", u)
	}
	if cls.calls != 0 {
		t.Errorf("USD gate must run before classification, got %d classifier calls", cls.calls)
	}
}

func TestDepositToNonCustodianIgnored(t *testing.T) {
	tr, _ := newTestTracker()
	if u := tr.Process(context.Background(), transfer("0xtrader", "0xfriend", "USDC", 2_000_000, "0xtx1")); u != nil {
		t.Errorf("transfer to a non-custodian is not a deposit, got %+v", u)
	}
}

func TestCustodianToCustodianSuppressed(t *testing.T) {
	tr, cls := newTestTracker()
	cls.custodians["0xtrader"] = "Binance"

	if u := tr.Process(context.Background(), transfer("0xtrader", "0xbinance", "USDC", 2_000_000, "0xtx1")); u != nil {
		t.Errorf("custodian-to-custodian shuffle must be suppressed, got %+v", u)
	}
}

func TestTransferWithoutPriceSkipped(t *testing.T) {
	tr, _ := newTestTracker()
	if u := tr.Process(context.Background(), transfer("0xtrader", "0xbinance", "UNPRICED", 2_000_000, "0xtx1")); u != nil {
		t.Errorf("unpriceable transfer must be skipped, got %+v", u)
	}
}

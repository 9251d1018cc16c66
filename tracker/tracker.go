// Package tracker turns raw activity into flow updates. It owns the in-memory
// position book for all tracked entities: fills drive a per-(entity, asset)
// state machine that classifies each change into an action, and qualifying
// on-chain transfers become deposit events. Process is called from a single
// consumer goroutine; the book is not safe for concurrent mutation.
package tracker

import (
	"context"
	"log"
	"math"

	"smartflow/classifier"
	"smartflow/config"
	"smartflow/database"
	"smartflow/stream"
)

// Flow actions
const (
	ActionOpenLong    = "open_long"
	ActionOpenShort   = "open_short"
	ActionCloseLong   = "close_long"
	ActionCloseShort  = "close_short"
	ActionFlipLong    = "flip_long_to_short"
	ActionFlipShort   = "flip_short_to_long"
	ActionAddLong     = "add_long"
	ActionReduceLong  = "reduce_long"
	ActionAddShort    = "add_short"
	ActionReduceShort = "reduce_short"
	ActionDeposit     = "deposit"
)

// Position sizes below this are treated as flat
const flatEpsilon = 1e-9

// EntityLookup answers tracked-entity membership queries
type EntityLookup interface {
	Contains(address string) bool
	Metadata(address string) (database.TrackedEntity, bool)
}

// PriceSource values an asset in USD
type PriceSource interface {
	Price(ctx context.Context, asset string) (float64, bool)
}

// AddressClassifier resolves custodian addresses
type AddressClassifier interface {
	Classify(ctx context.Context, network, address string) (*classifier.Result, bool)
}

// Update is one meaningful flow change: the event to persist and fan out,
// plus the refreshed position snapshot. Position is nil for deposits; a
// Position with Size 0 means the row should be removed.
type Update struct {
	Event    database.FlowEvent
	Position *database.Position
}

type posKey struct {
	entityID int64
	asset    string
}

// Tracker is the flow state machine
type Tracker struct {
	registry   EntityLookup
	oracle     PriceSource
	classifier AddressClassifier
	cfg        config.FlowConfig
	positions  map[posKey]*database.Position
}

// New creates a tracker with an empty position book
func New(reg EntityLookup, oracle PriceSource, cls AddressClassifier, cfg config.FlowConfig) *Tracker {
	return &Tracker{
		registry:   reg,
		oracle:     oracle,
		classifier: cls,
		cfg:        cfg,
		positions:  make(map[posKey]*database.Position),
	}
}

// LoadPositions warms the book from persisted snapshots, so restarts do not
// misread the first fill of an open position as an open
func (t *Tracker) LoadPositions(positions []database.Position) {
	for i := range positions {
		p := positions[i]
		t.positions[posKey{p.EntityID, p.Asset}] = &p
	}
	log.Printf("✅ Position book warmed with %d open positions", len(positions))
}

// PositionCount returns the number of open positions in the book
func (t *Tracker) PositionCount() int {
	return len(t.positions)
}

// Process applies one raw event and returns the resulting update, or nil when
// the event is untracked, noise, or otherwise suppressed.
func (t *Tracker) Process(ctx context.Context, ev stream.RawActivityEvent) *Update {
	switch ev.Kind {
	case stream.KindFill:
		return t.processFill(ev)
	case stream.KindTransfer:
		return t.processTransfer(ctx, ev)
	default:
		return nil
	}
}

func (t *Tracker) processFill(ev stream.RawActivityEvent) *Update {
	entity, ok := t.registry.Metadata(ev.Address)
	if !ok {
		return nil
	}

	key := posKey{entity.ID, ev.Asset}
	pos := t.positions[key]

	var oldSize, oldAvg, realized float64
	if pos != nil {
		oldSize, oldAvg, realized = pos.Size, pos.AvgEntryPrice, pos.RealizedPnl
	}

	newSize := oldSize + ev.Quantity
	if math.Abs(newSize) < flatEpsilon {
		newSize = 0
	}

	action := classifyAction(oldSize, newSize)
	if action == "" {
		return nil
	}

	// Realized PnL on the portion that closed against the old position
	if oldSize != 0 && ev.Quantity != 0 && !sameSign(ev.Quantity, oldSize) {
		closed := math.Min(math.Abs(ev.Quantity), math.Abs(oldSize))
		realized += closed * (ev.Price - oldAvg) * sign(oldSize)
	}

	// Average entry price: reset on open and flip, blend on add, hold on reduce
	newAvg := oldAvg
	switch action {
	case ActionOpenLong, ActionOpenShort, ActionFlipLong, ActionFlipShort:
		newAvg = ev.Price
	case ActionAddLong, ActionAddShort:
		newAvg = (math.Abs(oldSize)*oldAvg + math.Abs(ev.Quantity)*ev.Price) / math.Abs(newSize)
	case ActionCloseLong, ActionCloseShort:
		newAvg = 0
	}

	updated := &database.Position{
		EntityID:      entity.ID,
		Asset:         ev.Asset,
		Size:          newSize,
		AvgEntryPrice: newAvg,
		RealizedPnl:   realized,
		UpdatedAt:     ev.Timestamp,
	}
	if newSize == 0 {
		delete(t.positions, key)
	} else {
		t.positions[key] = updated
	}

	// Rebalancing noise: adds and reduces below the threshold share of the
	// existing position update the book but emit nothing
	if action == ActionAddLong || action == ActionAddShort ||
		action == ActionReduceLong || action == ActionReduceShort {
		if math.Abs(ev.Quantity)/math.Abs(oldSize)*100 < t.cfg.NoiseThresholdPct {
			return nil
		}
	}

	return &Update{
		Event: database.FlowEvent{
			OccurredAt:    ev.Timestamp,
			EntityID:      entity.ID,
			EntityAddress: entity.Address,
			Asset:         ev.Asset,
			Action:        action,
			DeltaSize:     ev.Quantity,
			DeltaUsd:      ev.Quantity * ev.Price,
			OldSize:       oldSize,
			OldUsd:        oldSize * ev.Price,
			NewSize:       newSize,
			NewUsd:        newSize * ev.Price,
			NewSide:       sideOf(newSize),
			FillPrice:     ev.Price,
			AvgEntryPrice: newAvg,
			SourceID:      ev.SourceID,
			Source:        ev.Source,
		},
		Position: updated,
	}
}

// processTransfer qualifies a transfer as a custodial deposit. The USD gate
// runs before classification so small transfers never trigger remote lookups.
func (t *Tracker) processTransfer(ctx context.Context, ev stream.RawActivityEvent) *Update {
	entity, ok := t.registry.Metadata(ev.From)
	if !ok {
		return nil
	}

	price, ok := t.oracle.Price(ctx, ev.Asset)
	if !ok {
		log.Printf("⚠️  Skipping transfer %s: no price for %s", ev.SourceID, ev.Asset)
		return nil
	}
	usd := ev.Quantity * price
	if usd < t.cfg.MinDepositUSD {
		return nil
	}

	dest, isCustodian := t.classifier.Classify(ctx, ev.Network, ev.To)
	if !isCustodian {
		return nil
	}
	// Custodian-to-custodian movement is an internal shuffle, not a deposit
	if _, srcIsCustodian := t.classifier.Classify(ctx, ev.Network, ev.From); srcIsCustodian {
		return nil
	}

	log.Printf("🐋 Deposit detected: %s -> %s (%s), %.2f %s",
		ev.From, ev.To, dest.Custodian, ev.Quantity, ev.Asset)

	return &Update{
		Event: database.FlowEvent{
			OccurredAt:    ev.Timestamp,
			EntityID:      entity.ID,
			EntityAddress: entity.Address,
			Asset:         ev.Asset,
			Action:        ActionDeposit,
			DeltaSize:     ev.Quantity,
			DeltaUsd:      usd,
			NewSide:       "flat",
			FillPrice:     price,
			SourceID:      ev.SourceID,
			Source:        ev.Source,
		},
	}
}

// classifyAction names the transition from oldSize to newSize, or returns ""
// when nothing changed
func classifyAction(oldSize, newSize float64) string {
	switch {
	case oldSize == 0 && newSize > 0:
		return ActionOpenLong
	case oldSize == 0 && newSize < 0:
		return ActionOpenShort
	case oldSize > 0 && newSize == 0:
		return ActionCloseLong
	case oldSize < 0 && newSize == 0:
		return ActionCloseShort
	case oldSize > 0 && newSize < 0:
		return ActionFlipLong
	case oldSize < 0 && newSize > 0:
		return ActionFlipShort
	case oldSize > 0 && newSize > oldSize:
		return ActionAddLong
	case oldSize > 0 && newSize < oldSize:
		return ActionReduceLong
	case oldSize < 0 && newSize < oldSize:
		return ActionAddShort
	case oldSize < 0 && newSize > oldSize:
		return ActionReduceShort
	}
	return ""
}

func sideOf(size float64) string {
	switch {
	case size > 0:
		return "long"
	case size < 0:
		return "short"
	}
	return "flat"
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func sameSign(a, b float64) bool {
	return (a > 0) == (b > 0)
}

package aggregator

import (
	"context"
	"math"
	"testing"
	"time"

	"smartflow/database"
	"smartflow/tracker"
)

func update(entityID int64, asset, action string, delta, fillPrice, newSize float64) *tracker.Update {
	return &tracker.Update{
		Event: database.FlowEvent{
			OccurredAt: time.Now(),
			EntityID:   entityID,
			Asset:      asset,
			Action:     action,
			DeltaSize:  delta,
			DeltaUsd:   delta * fillPrice,
			NewSize:    newSize,
			NewSide:    "long",
			FillPrice:  fillPrice,
		},
		Position: &database.Position{EntityID: entityID, Asset: asset, Size: newSize},
	}
}

func TestDebounceMergesBurst(t *testing.T) {
	a := New(50 * time.Millisecond)

	// Three partial fills of one order land within the window
	a.Offer(update(1, "BTC", tracker.ActionOpenLong, 4, 100, 4))
	a.Offer(update(1, "BTC", tracker.ActionAddLong, 4, 102, 8))
	a.Offer(update(1, "BTC", tracker.ActionAddLong, 2, 105, 10))

	select {
	case u := <-a.Updates():
		if u.Event.DeltaSize != 10 {
			t.Errorf("expected merged delta 10, got %f", u.Event.DeltaSize)
		}
		// One open of the combined size, not three events
		if u.Event.Action != tracker.ActionOpenLong {
			t.Errorf("expected open_long, got %s", u.Event.Action)
		}
		if u.Event.NewSize != 10 || u.Position.Size != 10 {
			t.Errorf("expected end state 10, got event %f pos %f", u.Event.NewSize, u.Position.Size)
		}
		// Size-weighted: (4*100 + 4*102 + 2*105) / 10 = 101.8
		if math.Abs(u.Event.FillPrice-101.8) > 1e-9 {
			t.Errorf("expected weighted fill 101.8, got %f", u.Event.FillPrice)
		}
	case <-time.After(time.Second):
		t.Fatal("debounced update never flushed")
	}
}

func TestDebounceSeparatesDirections(t *testing.T) {
	a := New(50 * time.Millisecond)

	a.Offer(update(1, "BTC", tracker.ActionAddLong, 10, 100, 20))
	a.Offer(update(1, "BTC", tracker.ActionReduceLong, -10, 100, 10))

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case u := <-a.Updates():
			got = append(got, u.Event.Action)
		case <-time.After(time.Second):
			t.Fatalf("expected 2 flushes, got %d", len(got))
		}
	}
	// Buys and sells in one window must not cancel into silence
	if len(got) != 2 {
		t.Fatalf("expected both directions to flush, got %v", got)
	}
}

func TestDebounceSeparatesEntities(t *testing.T) {
	a := New(50 * time.Millisecond)

	a.Offer(update(1, "BTC", tracker.ActionOpenLong, 5, 100, 5))
	a.Offer(update(2, "BTC", tracker.ActionOpenLong, 7, 100, 7))

	seen := map[int64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case u := <-a.Updates():
			seen[u.Event.EntityID] = true
		case <-time.After(time.Second):
			t.Fatal("missing flush")
		}
	}
	if !seen[1] || !seen[2] {
		t.Errorf("expected flushes for both entities, got %v", seen)
	}
}

func TestStopFlushesPending(t *testing.T) {
	a := New(time.Hour)

	a.Offer(update(1, "BTC", tracker.ActionOpenLong, 5, 100, 5))
	a.Stop()

	select {
	case u, ok := <-a.Updates():
		if !ok {
			t.Fatal("channel closed before the pending update flushed")
		}
		if u.Event.DeltaSize != 5 {
			t.Errorf("expected pending update, got %+v", u.Event)
		}
	default:
		t.Fatal("Stop must flush pending updates")
	}

	if _, ok := <-a.Updates(); ok {
		t.Error("channel should be closed after Stop")
	}
}

func TestDeduperWindow(t *testing.T) {
	d := NewDeduper(nil, 5*time.Second)
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := &database.FlowEvent{EntityID: 1, Asset: "BTC", Action: "open_long", OccurredAt: ts}

	if !d.ShouldNotify(context.Background(), ev) {
		t.Fatal("first notification must pass")
	}
	if d.ShouldNotify(context.Background(), ev) {
		t.Error("duplicate within the window must be suppressed")
	}

	// A retried delivery can merge into a different action; the same
	// entity/asset/second is still the same notification
	other := &database.FlowEvent{EntityID: 1, Asset: "BTC", Action: "add_long", OccurredAt: ts}
	if d.ShouldNotify(context.Background(), other) {
		t.Error("same entity/asset/second must be suppressed regardless of action")
	}

	// A different asset in the same second is a distinct notification
	eth := &database.FlowEvent{EntityID: 1, Asset: "ETH", Action: "open_long", OccurredAt: ts}
	if !d.ShouldNotify(context.Background(), eth) {
		t.Error("distinct asset must not be suppressed")
	}
}

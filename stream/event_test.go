package stream

import (
	"math"
	"testing"
	"time"
)

func TestMatchTransfersSimple(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	deltas := map[string]float64{
		"alice": -1000,
		"bob":   1000,
	}

	events := matchTransfers("evm:ethereum", "ethereum", "0xabc", "USDC", deltas, ts)
	if len(events) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(events))
	}
	ev := events[0]
	if ev.From != "alice" || ev.To != "bob" {
		t.Errorf("wrong legs: %s -> %s", ev.From, ev.To)
	}
	if ev.Quantity != 1000 {
		t.Errorf("expected quantity 1000, got %f", ev.Quantity)
	}
	if ev.SourceID != "0xabc" || ev.Kind != KindTransfer {
		t.Errorf("unexpected event metadata: %+v", ev)
	}
}

func TestMatchTransfersMultiLeg(t *testing.T) {
	// Two senders funding one receiver: both legs must surface, and the
	// larger sender is matched first.
	deltas := map[string]float64{
		"s1":   -700,
		"s2":   -300,
		"dest": 1000,
	}

	events := matchTransfers("solana", "solana", "sig1", "USDC", deltas, time.Now())
	if len(events) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(events))
	}
	if events[0].From != "s1" || events[0].Quantity != 700 {
		t.Errorf("first leg should be s1/700, got %s/%f", events[0].From, events[0].Quantity)
	}
	if events[1].From != "s2" || events[1].Quantity != 300 {
		t.Errorf("second leg should be s2/300, got %s/%f", events[1].From, events[1].Quantity)
	}

	var total float64
	for _, ev := range events {
		if ev.To != "dest" {
			t.Errorf("unexpected receiver %s", ev.To)
		}
		total += ev.Quantity
	}
	if total != 1000 {
		t.Errorf("legs should sum to 1000, got %f", total)
	}
}

func TestMatchTransfersIgnoresDust(t *testing.T) {
	deltas := map[string]float64{
		"a": -1e-12,
		"b": 1e-12,
	}
	if events := matchTransfers("evm:ethereum", "ethereum", "0x1", "USDT", deltas, time.Now()); len(events) != 0 {
		t.Errorf("dust deltas should produce no transfers, got %d", len(events))
	}
}

func TestParseHexAmount(t *testing.T) {
	// 1,000,000 raw units of a 6-decimal token = 1.0
	amount, ok := parseHexAmount("0xf4240", 6)
	if !ok {
		t.Fatal("parse failed")
	}
	if math.Abs(amount-1.0) > 1e-9 {
		t.Errorf("expected 1.0, got %f", amount)
	}

	if _, ok := parseHexAmount("0xzz", 6); ok {
		t.Error("garbage hex should not parse")
	}
	if _, ok := parseHexAmount("0x", 6); ok {
		t.Error("empty hex should not parse")
	}
}

func TestTopicToAddress(t *testing.T) {
	topic := "0x000000000000000000000000A0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	want := "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	if got := topicToAddress(topic); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

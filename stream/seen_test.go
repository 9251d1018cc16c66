package stream

import (
	"fmt"
	"testing"
)

func TestSeenSetObserve(t *testing.T) {
	s := NewSeenSet(10)

	if !s.Observe("tx1") {
		t.Fatal("first observation should be new")
	}
	if s.Observe("tx1") {
		t.Error("second observation of same id should be a duplicate")
	}
}

func TestSeenSetEvictsOldest(t *testing.T) {
	s := NewSeenSet(3)

	s.Observe("a")
	s.Observe("b")
	s.Observe("c")
	s.Observe("d") // evicts "a"

	if !s.Observe("a") {
		t.Error("evicted id should read as new again")
	}
	if s.Observe("d") {
		t.Error("recent id should still be a duplicate")
	}
}

func TestSeenSetBounded(t *testing.T) {
	s := NewSeenSet(100)
	for i := 0; i < 10_000; i++ {
		s.Observe(fmt.Sprintf("tx%d", i))
	}
	if len(s.set) > 100 {
		t.Errorf("set grew past capacity: %d", len(s.set))
	}
}

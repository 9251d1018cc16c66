package registry

import (
	"errors"
	"testing"

	"smartflow/database"
)

type stubSource struct {
	entities []database.TrackedEntity
	err      error
}

func (s *stubSource) GetTopEntities(metric string, limit int) ([]database.TrackedEntity, error) {
	return s.entities, s.err
}

func TestRefreshAndLookup(t *testing.T) {
	src := &stubSource{entities: []database.TrackedEntity{
		{ID: 1, Address: "0xAAA", Rank: 1},
		{ID: 2, Address: "0xbbb", Rank: 2},
	}}
	r := New(src, 100, "pnl_30d")

	changed, err := r.Refresh()
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if !changed {
		t.Error("first refresh should report a membership change")
	}

	// Lookups are case-insensitive
	if !r.Contains("0xaaa") || !r.Contains("0xAAA") {
		t.Error("expected 0xaaa to be tracked")
	}
	if r.Contains("0xccc") {
		t.Error("0xccc should not be tracked")
	}

	meta, ok := r.Metadata("0xBBB")
	if !ok || meta.ID != 2 {
		t.Errorf("metadata lookup failed: ok=%v meta=%+v", ok, meta)
	}
}

func TestRefreshUnchangedMembership(t *testing.T) {
	src := &stubSource{entities: []database.TrackedEntity{{ID: 1, Address: "0xaaa"}}}
	r := New(src, 100, "pnl_30d")

	r.Refresh()
	changed, err := r.Refresh()
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if changed {
		t.Error("identical membership should not report a change")
	}
}

func TestRefreshEmptySourceSucceedsWithZeroSize(t *testing.T) {
	r := New(&stubSource{}, 100, "pnl_30d")

	// An empty-but-reachable source is not a refresh error; callers that
	// cannot run without entities check Size instead
	if _, err := r.Refresh(); err != nil {
		t.Fatalf("refresh of empty source must succeed, got %v", err)
	}
	if r.Size() != 0 {
		t.Errorf("expected size 0, got %d", r.Size())
	}
}

func TestFailedRefreshKeepsPreviousSet(t *testing.T) {
	src := &stubSource{entities: []database.TrackedEntity{{ID: 1, Address: "0xaaa"}}}
	r := New(src, 100, "pnl_30d")
	r.Refresh()

	src.err = errors.New("db down")
	if _, err := r.Refresh(); err == nil {
		t.Fatal("expected refresh error")
	}

	if !r.Contains("0xaaa") {
		t.Error("failed refresh must keep the previous registry in effect")
	}
	if r.Size() != 1 {
		t.Errorf("expected size 1, got %d", r.Size())
	}
}

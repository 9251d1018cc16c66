package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"smartflow/database"
)

type captureWriter struct {
	entities []database.TrackedEntity
}

func (w *captureWriter) UpsertEntities(entities []database.TrackedEntity) error {
	w.entities = entities
	return nil
}

const leaderboardFixture = `{
	"leaderboardRows": [
		{
			"ethAddress": "0xAAA",
			"displayName": "whale one",
			"windowPerformances": [
				["day", {"pnl": "100", "roi": "0.01", "vlm": "50000"}],
				["month", {"pnl": "5000000", "roi": "0.4", "vlm": "900000000"}]
			]
		},
		{
			"ethAddress": "0xBBB",
			"displayName": "",
			"windowPerformances": [
				["month", {"pnl": "9000000", "roi": "0.2", "vlm": "100000000"}]
			]
		},
		{
			"ethAddress": "0xCCC",
			"displayName": "",
			"windowPerformances": [
				["day", {"pnl": "1", "roi": "0.1", "vlm": "10"}]
			]
		}
	]
}`

func TestLeaderboardLoad(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(leaderboardFixture))
	}))
	defer server.Close()

	writer := &captureWriter{}
	loader := NewLeaderboardLoader(server.URL, "pnl_30d", 100, writer)

	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	// 0xCCC has no month window and is dropped; 0xBBB outranks 0xAAA on pnl
	if len(writer.entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(writer.entities))
	}
	if writer.entities[0].Address != "0xbbb" || writer.entities[0].Rank != 1 {
		t.Errorf("expected 0xbbb at rank 1, got %s rank %d",
			writer.entities[0].Address, writer.entities[0].Rank)
	}
	if writer.entities[1].Pnl30d != 5000000 {
		t.Errorf("expected parsed pnl 5000000, got %f", writer.entities[1].Pnl30d)
	}
}

func TestLeaderboardTopNAndMetric(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(leaderboardFixture))
	}))
	defer server.Close()

	writer := &captureWriter{}
	loader := NewLeaderboardLoader(server.URL, "roi_30d", 1, writer)

	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(writer.entities) != 1 {
		t.Fatalf("expected top 1, got %d", len(writer.entities))
	}
	// By ROI 0xAAA (0.4) beats 0xBBB (0.2)
	if writer.entities[0].Address != "0xaaa" {
		t.Errorf("expected 0xaaa by roi, got %s", writer.entities[0].Address)
	}
}

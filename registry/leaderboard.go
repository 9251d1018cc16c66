package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"smartflow/database"
)

// EntityWriter persists refreshed entity rankings
type EntityWriter interface {
	UpsertEntities(entities []database.TrackedEntity) error
}

// LeaderboardLoader syncs tracked_entities from the venue's trader
// leaderboard. It ranks by the configured metric over the 30-day window and
// writes the top N; the registry then picks the new ranking up on its next
// refresh.
type LeaderboardLoader struct {
	url    string
	metric string
	topN   int
	writer EntityWriter
	client *http.Client
}

// NewLeaderboardLoader creates a leaderboard loader
func NewLeaderboardLoader(url, metric string, topN int, writer EntityWriter) *LeaderboardLoader {
	return &LeaderboardLoader{
		url:    url,
		metric: metric,
		topN:   topN,
		writer: writer,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// leaderboard wire format: per-row window performances keyed by window name,
// with numeric fields encoded as strings
type leaderboardResponse struct {
	Rows []leaderboardRow `json:"leaderboardRows"`
}

type leaderboardRow struct {
	Address     string               `json:"ethAddress"`
	DisplayName string               `json:"displayName"`
	Windows     [][2]json.RawMessage `json:"windowPerformances"`
}

type windowPerformance struct {
	Pnl string `json:"pnl"`
	Roi string `json:"roi"`
	Vlm string `json:"vlm"`
}

// Load fetches the leaderboard and upserts the top-N entities by metric
func (l *LeaderboardLoader) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build leaderboard request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("leaderboard request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("leaderboard endpoint returned status %d", resp.StatusCode)
	}

	var body leaderboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode leaderboard: %w", err)
	}

	entities := make([]database.TrackedEntity, 0, len(body.Rows))
	for _, row := range body.Rows {
		if row.Address == "" {
			continue
		}
		perf, ok := monthWindow(row.Windows)
		if !ok {
			continue
		}
		entities = append(entities, database.TrackedEntity{
			Address:   strings.ToLower(row.Address),
			Label:     row.DisplayName,
			Pnl30d:    parseNumeric(perf.Pnl),
			Roi30d:    parseNumeric(perf.Roi),
			Volume30d: parseNumeric(perf.Vlm),
			UpdatedAt: time.Now().UTC(),
		})
	}

	sort.Slice(entities, func(i, j int) bool {
		return l.metricOf(entities[i]) > l.metricOf(entities[j])
	})
	if len(entities) > l.topN {
		entities = entities[:l.topN]
	}
	for i := range entities {
		entities[i].Rank = i + 1
	}

	if err := l.writer.UpsertEntities(entities); err != nil {
		return fmt.Errorf("leaderboard upsert failed: %w", err)
	}
	log.Printf("📋 Leaderboard synced: %d entities ranked by %s", len(entities), l.metric)
	return nil
}

func (l *LeaderboardLoader) metricOf(e database.TrackedEntity) float64 {
	switch l.metric {
	case "roi_30d":
		return e.Roi30d
	case "volume_30d":
		return e.Volume30d
	}
	return e.Pnl30d
}

// monthWindow picks the 30-day performance entry out of the window list
func monthWindow(windows [][2]json.RawMessage) (windowPerformance, bool) {
	for _, pair := range windows {
		var name string
		if err := json.Unmarshal(pair[0], &name); err != nil || name != "month" {
			continue
		}
		var perf windowPerformance
		if err := json.Unmarshal(pair[1], &perf); err != nil {
			return windowPerformance{}, false
		}
		return perf, true
	}
	return windowPerformance{}, false
}

func parseNumeric(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

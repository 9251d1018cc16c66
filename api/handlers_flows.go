package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleGetFlows returns recent flow events, optionally filtered by asset.
// Query params: asset, hours (lookback, default 24), limit (default 100)
func (s *Server) handleGetFlows(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	hours := getIntParam(r, "hours", 24, intPtr(1), intPtr(720))
	limit := getIntParam(r, "limit", 100, intPtr(1), intPtr(1000))

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	events, err := s.repo.Flows.GetRecent(asset, since, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load flow events", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// handleGetEntities returns the currently tracked entity set
func (s *Server) handleGetEntities(w http.ResponseWriter, r *http.Request) {
	limit := getIntParam(r, "limit", 100, intPtr(1), intPtr(1000))
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = "pnl_30d"
	}

	entities, err := s.repo.Entities.GetTopEntities(metric, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load entities", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entities)
}

// handleGetPositions returns all open position snapshots
func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.repo.Positions.GetAll()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load positions", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

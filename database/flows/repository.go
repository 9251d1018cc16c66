package flows

import (
	"fmt"
	"time"

	models "smartflow/database/models_pkg"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles database operations for flow events
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new flows repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Insert appends a flow event. Retried deliveries of the same
// (entity, asset, source_id, action) are absorbed by the unique index;
// the returned bool reports whether a new row was actually written.
func (r *Repository) Insert(tx *gorm.DB, ev *models.FlowEvent) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ev)
	if res.Error != nil {
		return false, fmt.Errorf("Insert: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetRecent retrieves the latest flow events, optionally filtered by asset
func (r *Repository) GetRecent(asset string, since time.Time, limit int) ([]models.FlowEvent, error) {
	query := r.db.Order("occurred_at DESC")
	if asset != "" {
		query = query.Where("asset = ?", asset)
	}
	if !since.IsZero() {
		query = query.Where("occurred_at >= ?", since)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []models.FlowEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("GetRecent: %w", err)
	}
	return events, nil
}

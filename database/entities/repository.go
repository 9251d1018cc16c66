package entities

import (
	"fmt"
	"strings"

	models "smartflow/database/models_pkg"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Metrics accepted as a leaderboard ranking column. Anything else falls back
// to pnl_30d so a typo in config cannot become a SQL injection vector.
var rankingColumns = map[string]string{
	"pnl_30d":    "pnl_30d",
	"roi_30d":    "roi_30d",
	"volume_30d": "volume_30d",
}

// Repository handles database operations for tracked entities
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new entities repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetTopEntities loads the top-N entities ranked by the given metric
func (r *Repository) GetTopEntities(metric string, limit int) ([]models.TrackedEntity, error) {
	column, ok := rankingColumns[metric]
	if !ok {
		column = "pnl_30d"
	}

	var entities []models.TrackedEntity
	err := r.db.Order(column + " DESC").Limit(limit).Find(&entities).Error
	if err != nil {
		return nil, fmt.Errorf("GetTopEntities: %w", err)
	}
	return entities, nil
}

// GetByAddress retrieves one entity by address (case-insensitive)
func (r *Repository) GetByAddress(address string) (*models.TrackedEntity, error) {
	var entity models.TrackedEntity
	err := r.db.Where("address = ?", strings.ToLower(address)).First(&entity).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetByAddress: %w", err)
	}
	return &entity, nil
}

// UpsertEntities writes a batch of entities, replacing rank and metrics on conflict
func (r *Repository) UpsertEntities(entities []models.TrackedEntity) error {
	if len(entities) == 0 {
		return nil
	}
	for i := range entities {
		entities[i].Address = strings.ToLower(entities[i].Address)
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"rank", "pnl_30d", "roi_30d", "volume_30d", "label", "updated_at"}),
	}).Create(&entities).Error
	if err != nil {
		return fmt.Errorf("UpsertEntities: %w", err)
	}
	return nil
}

// Count returns the number of tracked entities
func (r *Repository) Count() (int64, error) {
	var count int64
	if err := r.db.Model(&models.TrackedEntity{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return count, nil
}

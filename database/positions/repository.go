package positions

import (
	"fmt"

	models "smartflow/database/models_pkg"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles database operations for position snapshots
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new positions repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetAll loads every stored position snapshot, used to warm the tracker on startup
func (r *Repository) GetAll() ([]models.Position, error) {
	var positions []models.Position
	if err := r.db.Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("GetAll: %w", err)
	}
	return positions, nil
}

// Upsert writes a position snapshot, replacing the previous row for (entity, asset)
func (r *Repository) Upsert(tx *gorm.DB, p *models.Position) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_id"}, {Name: "asset"}},
		DoUpdates: clause.AssignmentColumns([]string{"size", "avg_entry_price", "realized_pnl", "updated_at"}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

// Delete removes the snapshot row for a flattened position
func (r *Repository) Delete(tx *gorm.DB, entityID int64, asset string) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.Where("entity_id = ? AND asset = ?", entityID, asset).
		Delete(&models.Position{}).Error
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

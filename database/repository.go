package database

import (
	"fmt"

	"gorm.io/gorm"

	"smartflow/database/classifications"
	"smartflow/database/entities"
	"smartflow/database/flows"
	models "smartflow/database/models_pkg"
	"smartflow/database/positions"
)

// Repository is the facade over the per-domain repositories. Components take
// the whole facade or one of its members depending on how much surface they need.
type Repository struct {
	db *Database

	Entities        *entities.Repository
	Positions       *positions.Repository
	Flows           *flows.Repository
	Classifications *classifications.Repository
}

// NewRepository creates the repository facade
func NewRepository(db *Database) *Repository {
	gdb := db.DB()
	return &Repository{
		db:              db,
		Entities:        entities.NewRepository(gdb),
		Positions:       positions.NewRepository(gdb),
		Flows:           flows.NewRepository(gdb),
		Classifications: classifications.NewRepository(gdb),
	}
}

// InitSchema performs auto-migration and creates the supporting indexes
func (r *Repository) InitSchema() error {
	fmt.Println("🔄 Starting database schema initialization...")

	err := r.db.db.AutoMigrate(
		&TrackedEntity{},
		&Position{},
		&FlowEvent{},
		&AddressClassification{},
		&NegativeClassification{},
		&FlowWebhook{},
		&FlowWebhookLog{},
	)
	if err != nil {
		return WrapDBError("InitSchema.AutoMigrate", err)
	}

	// Query-path indexes AutoMigrate does not derive from tags
	r.db.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_flow_events_entity_asset_time
		ON flow_events (entity_id, asset, occurred_at DESC)
	`)
	r.db.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_flow_events_asset_time
		ON flow_events (asset, occurred_at DESC)
	`)

	fmt.Println("✅ Database schema initialization completed successfully")
	return nil
}

// Transaction runs fn inside a single database transaction
func (r *Repository) Transaction(fn func(tx *gorm.DB) error) error {
	return r.db.db.Transaction(fn)
}

// GetActiveWebhooks loads every enabled webhook registration
func (r *Repository) GetActiveWebhooks() ([]FlowWebhook, error) {
	var hooks []FlowWebhook
	if err := r.db.db.Where("is_active = ?", true).Find(&hooks).Error; err != nil {
		return nil, WrapDBError("GetActiveWebhooks", err)
	}
	return hooks, nil
}

// GetWebhooks loads every webhook registration, active or not
func (r *Repository) GetWebhooks() ([]FlowWebhook, error) {
	var hooks []FlowWebhook
	if err := r.db.db.Order("id").Find(&hooks).Error; err != nil {
		return nil, WrapDBError("GetWebhooks", err)
	}
	return hooks, nil
}

// SaveWebhook creates or updates a webhook registration
func (r *Repository) SaveWebhook(hook *FlowWebhook) error {
	if err := r.db.db.Save(hook).Error; err != nil {
		return WrapDBError("SaveWebhook", err)
	}
	return nil
}

// DeleteWebhook removes a webhook registration
func (r *Repository) DeleteWebhook(id int) error {
	if err := r.db.db.Delete(&FlowWebhook{}, id).Error; err != nil {
		return WrapDBError("DeleteWebhook", err)
	}
	return nil
}

// SaveWebhookLog records a webhook delivery attempt
func (r *Repository) SaveWebhookLog(entry *models.FlowWebhookLog) error {
	if err := r.db.db.Create(entry).Error; err != nil {
		return WrapDBError("SaveWebhookLog", err)
	}
	return nil
}

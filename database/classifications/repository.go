package classifications

import (
	"fmt"
	"strings"
	"time"

	models "smartflow/database/models_pkg"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles database operations for address classifications
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new classifications repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetPositive retrieves a persisted positive classification, or nil when the
// address has never resolved to a custodian
func (r *Repository) GetPositive(network, address string) (*models.AddressClassification, error) {
	var c models.AddressClassification
	err := r.db.Where("network = ? AND address = ?", network, strings.ToLower(address)).First(&c).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetPositive: %w", err)
	}
	return &c, nil
}

// UpsertPositive writes back a positive result. The most recently known
// custodian label wins unless the new one is empty.
func (r *Repository) UpsertPositive(c *models.AddressClassification) error {
	c.Address = strings.ToLower(c.Address)

	existing, err := r.GetPositive(c.Network, c.Address)
	if err != nil {
		return err
	}
	if existing != nil && c.Custodian == "" {
		c.Custodian = existing.Custodian
	}

	err = r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "network"}, {Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"custodian", "confidence", "source", "updated_at"}),
	}).Create(c).Error
	if err != nil {
		return fmt.Errorf("UpsertPositive: %w", err)
	}
	return nil
}

// GetNegative reports whether an unexpired negative-cache row exists
func (r *Repository) GetNegative(network, address string, now time.Time) (bool, error) {
	var c models.NegativeClassification
	err := r.db.Where("network = ? AND address = ? AND expires_at > ?",
		network, strings.ToLower(address), now).First(&c).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("GetNegative: %w", err)
	}
	return true, nil
}

// UpsertNegative records a definitive negative result with an expiry
func (r *Repository) UpsertNegative(network, address string, expiresAt time.Time) error {
	row := &models.NegativeClassification{
		Network:   network,
		Address:   strings.ToLower(address),
		ExpiresAt: expiresAt,
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "network"}, {Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("UpsertNegative: %w", err)
	}
	return nil
}

// PurgeExpiredNegatives removes negative-cache rows past their expiry
func (r *Repository) PurgeExpiredNegatives(now time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ?", now).Delete(&models.NegativeClassification{})
	if res.Error != nil {
		return 0, fmt.Errorf("PurgeExpiredNegatives: %w", res.Error)
	}
	return res.RowsAffected, nil
}

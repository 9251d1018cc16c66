// Package database provides database connection management for the smartflow
// tracking system.
//
// This package includes:
//   - Database connection management using GORM and PostgreSQL
//   - Schema initialization with idempotent-write indexes
//   - A repository facade composing the per-domain repositories
//
// Key Concepts:
//   - Composite primary key (entity_id, asset) for position snapshots
//   - Unique index on (entity_id, asset, source_id, action) so retried flow
//     event writes are no-ops instead of duplicates
//   - Time-bounded negative classification rows for the lookup cascade
//
// Data Models:
//
//	All data models (TrackedEntity, Position, FlowEvent, etc.) are defined in
//	the models_pkg package to avoid circular import dependencies.
package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	models "smartflow/database/models_pkg"
)

// Database holds the GORM database connection and provides access to the underlying DB instance.
// It serves as the central connection point for all database operations in the application.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM database instance for direct access when needed.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect establishes database connection using GORM
func Connect(host string, port int, dbname, user, password string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Silent logging for production
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ============================================================================
// Type Aliases
// ============================================================================

// These type aliases let callers import types from the database package
// directly instead of reaching into models_pkg.

type TrackedEntity = models.TrackedEntity
type Position = models.Position
type FlowEvent = models.FlowEvent
type AddressClassification = models.AddressClassification
type NegativeClassification = models.NegativeClassification
type FlowWebhook = models.FlowWebhook
type FlowWebhookLog = models.FlowWebhookLog

package db

import (
	"fmt"

	"github.com/echolog/echolog-server/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// Migrate creates or updates all tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Recording{},
		&models.Transcription{},
		&models.Analysis{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}

// OpenMemory opens a migrated in-memory SQLite database. The pool is pinned to
// one connection because each SQLite memory connection is a separate database.
func OpenMemory() (*gorm.DB, error) {
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: newGormLogger()})
	if errOpen != nil {
		return nil, fmt.Errorf("db: open memory: %w", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return nil, fmt.Errorf("db: memory handle: %w", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := Migrate(conn); errMigrate != nil {
		return nil, errMigrate
	}
	return conn, nil
}

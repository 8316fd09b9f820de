// Package database owns schema migration for the waiter-call store.
package database

import (
	"fmt"

	"github.com/yeremiapane/waiter-call/models"
	"gorm.io/gorm"
)

// Models lists every persisted type in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Table{},
		&models.Call{},
		&models.TableSilence{},
		&models.DeviceToken{},
	}
}

// Migrate brings the schema up to date.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeremiapane/waiter-call/apperrors"
	"github.com/yeremiapane/waiter-call/models"
)

// forUpdate takes a row lock where the dialect supports it. SQLite
// serializes writers on its own.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func findTable(db *gorm.DB, scope Scope, tableID uint) (*models.Table, error) {
	var table models.Table
	err := scope.tenant(db, "business_id").First(&table, tableID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("table %d not found", tableID)
	}
	if err != nil {
		return nil, fmt.Errorf("load table %d: %w", tableID, err)
	}
	return &table, nil
}

// findCall loads a call in the scope's business. Calls of other businesses
// are reported as missing, never as forbidden.
func findCall(db *gorm.DB, scope Scope, callID uint) (*models.Call, error) {
	var call models.Call
	err := scope.tenant(db, "business_id").First(&call, callID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("call %d not found", callID)
	}
	if err != nil {
		return nil, fmt.Errorf("load call %d: %w", callID, err)
	}
	return &call, nil
}

func findWaiter(db *gorm.DB, scope Scope, userID uint) (*models.User, error) {
	var user models.User
	err := scope.tenant(db, "business_id").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("waiter %d not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	return &user, nil
}

// waiterName is best effort; it only feeds event snapshots.
func waiterName(db *gorm.DB, userID uint) string {
	var user models.User
	if err := db.Select("name").First(&user, userID).Error; err != nil {
		return ""
	}
	return user.Name
}

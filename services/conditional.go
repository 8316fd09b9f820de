package services

import (
	"fmt"

	"gorm.io/gorm"
)

// ConditionalUpdate applies updates to the row identified by id only while
// the expected column values still hold (compare-and-swap at row level).
// It reports whether the row was changed; false means a concurrent writer got
// there first or the expectation never held.
func ConditionalUpdate(db *gorm.DB, model interface{}, id uint, expect map[string]interface{}, updates map[string]interface{}) (bool, error) {
	q := db.Model(model).Where("id = ?", id)
	for column, value := range expect {
		if value == nil {
			q = q.Where(column + " IS NULL")
			continue
		}
		q = q.Where(column+" = ?", value)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("conditional update: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

package models

import "time"

// Table is a physical table of a business. ActiveWaiterID is exclusive:
// at most one waiter holds a table at a time.
type Table struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	BusinessID           uint       `gorm:"not null;index:idx_tables_business_number,unique" json:"business_id"`
	Number               int        `gorm:"not null;index:idx_tables_business_number,unique" json:"number"`
	NotificationsEnabled bool       `gorm:"not null" json:"notifications_enabled"`
	ActiveWaiterID       *uint      `gorm:"index" json:"active_waiter_id"`
	ActiveWaiter         *User      `gorm:"foreignKey:ActiveWaiterID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"active_waiter,omitempty"`
	WaiterAssignedAt     *time.Time `json:"waiter_assigned_at"`
	CreatedAt            time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"not null" json:"updated_at"`
}

// IsAssigned reports whether a waiter currently holds the table.
func (t *Table) IsAssigned() bool {
	return t.ActiveWaiterID != nil
}

// IsAssignedTo reports whether the given waiter currently holds the table.
func (t *Table) IsAssignedTo(waiterID uint) bool {
	return t.ActiveWaiterID != nil && *t.ActiveWaiterID == waiterID
}

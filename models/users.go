package models

import "time"

// Roles carried in the access token.
const (
	RoleAdmin  = "admin"
	RoleWaiter = "waiter"
)

type User struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	BusinessID uint       `gorm:"not null;index" json:"business_id"`
	Name       string     `gorm:"type:varchar(255);not null" json:"name"`
	Email      string     `gorm:"type:varchar(255);unique;not null" json:"email"`
	Password   string     `gorm:"type:varchar(255);not null" json:"-"`
	Role       string     `gorm:"type:varchar(20);not null" json:"role"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsActiveWaiter reports whether the user can hold tables.
func (u *User) IsActiveWaiter() bool {
	return u.Role == RoleWaiter && u.ArchivedAt == nil
}

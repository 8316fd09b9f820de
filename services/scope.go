package services

import (
	"time"

	"github.com/yeremiapane/waiter-call/models"
	"gorm.io/gorm"
)

// Principal roles that never appear in a token.
const (
	// RoleTable is an unauthenticated table client.
	RoleTable = "table"
	// RoleSystem is background work such as the shift sweep.
	RoleSystem = "system"
)

// Scope is the explicit tenant context every operation runs under.
type Scope struct {
	BusinessID uint
	UserID     uint
	Role       string
}

// TableScope is used by the public QR entry point. It is bound to the table's
// own business once the table is loaded.
func TableScope() Scope {
	return Scope{Role: RoleTable}
}

// SystemScope acts on behalf of the service inside one business.
func SystemScope(businessID uint) Scope {
	return Scope{BusinessID: businessID, Role: RoleSystem}
}

func (s Scope) IsAdmin() bool  { return s.Role == models.RoleAdmin }
func (s Scope) IsWaiter() bool { return s.Role == models.RoleWaiter }
func (s Scope) IsSystem() bool { return s.Role == RoleSystem }

// canManage reports whether the scope may act on another user's tables.
func (s Scope) canManage() bool { return s.IsAdmin() || s.IsSystem() }

// tenant restricts a query to the scope's business. A table scope that is
// not bound yet is unrestricted.
func (s Scope) tenant(db *gorm.DB, column string) *gorm.DB {
	if s.BusinessID == 0 {
		return db
	}
	return db.Where(column+" = ?", s.BusinessID)
}

// Clock abstracts time for the services.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock { return systemClock{} }

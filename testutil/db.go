// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeremiapane/waiter-call/database"
	"github.com/yeremiapane/waiter-call/models"
)

// NewDB opens a private in-memory SQLite database with the schema migrated.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// :memory: is per connection
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// Clock is a settable time source.
type Clock struct {
	T time.Time
}

// NewClock starts a clock at a fixed UTC instant.
func NewClock() *Clock {
	return &Clock{T: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time { return c.T }

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// SeedWaiter inserts an active waiter with password "secret123".
func SeedWaiter(t testing.TB, db *gorm.DB, businessID uint, name, email string) models.User {
	t.Helper()
	return seedUser(t, db, businessID, name, email, models.RoleWaiter)
}

// SeedAdmin inserts an admin with password "secret123".
func SeedAdmin(t testing.TB, db *gorm.DB, businessID uint, email string) models.User {
	t.Helper()
	return seedUser(t, db, businessID, "Admin", email, models.RoleAdmin)
}

func seedUser(t testing.TB, db *gorm.DB, businessID uint, name, email, role string) models.User {
	hashed, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	user := models.User{
		BusinessID: businessID,
		Name:       name,
		Email:      email,
		Password:   string(hashed),
		Role:       role,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

// SeedTable inserts a table with notifications enabled.
func SeedTable(t testing.TB, db *gorm.DB, businessID uint, number int) models.Table {
	t.Helper()
	table := models.Table{BusinessID: businessID, Number: number, NotificationsEnabled: true}
	require.NoError(t, db.Create(&table).Error)
	return table
}

// AssignTable sets the assignee directly, bypassing the registry.
func AssignTable(t testing.TB, db *gorm.DB, table *models.Table, waiterID uint, at time.Time) {
	t.Helper()
	table.ActiveWaiterID = &waiterID
	table.WaiterAssignedAt = &at
	require.NoError(t, db.Model(table).Updates(map[string]interface{}{
		"active_waiter_id":   waiterID,
		"waiter_assigned_at": at,
	}).Error)
}

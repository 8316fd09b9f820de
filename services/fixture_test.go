package services

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeremiapane/waiter-call/models"
	"github.com/yeremiapane/waiter-call/testutil"
)

type fixture struct {
	db          *gorm.DB
	clock       *testutil.Clock
	events      *testutil.Recorder
	calls       *CallService
	silences    *SilenceService
	assignments *AssignmentService
	staff       *StaffService
	dashboard   *DashboardService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	f := &fixture{
		db:     testutil.NewDB(t),
		clock:  testutil.NewClock(),
		events: &testutil.Recorder{},
	}
	f.calls = NewCallService(f.db, f.clock, f.events, log)
	f.silences = NewSilenceService(f.db, f.clock, f.events, log)
	f.assignments = NewAssignmentService(f.db, f.clock, f.calls, f.events, log)
	f.staff = NewStaffService(f.db, f.clock, f.assignments, log)
	f.dashboard = NewDashboardService(f.db, f.clock)
	return f
}

// assignedTable seeds a table held by waiter.
func (f *fixture) assignedTable(t *testing.T, waiter models.User, number int) models.Table {
	t.Helper()
	table := testutil.SeedTable(t, f.db, waiter.BusinessID, number)
	testutil.AssignTable(t, f.db, &table, waiter.ID, f.clock.Now())
	return table
}

func scopeOf(u models.User) Scope {
	return Scope{BusinessID: u.BusinessID, UserID: u.ID, Role: u.Role}
}

// interceptUpdate runs before and after (either may be nil) around the first
// UPDATE issued against table, inside that statement's transaction. It lets a
// test play a concurrent writer at an exact point of a compare-and-swap.
func interceptUpdate(t *testing.T, db *gorm.DB, table string, before, after func(tx *gorm.DB)) {
	t.Helper()
	var beforeDone, afterDone bool
	cb := db.Callback().Update()
	require.NoError(t, cb.Before("gorm:update").Register("test:before_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table != table || beforeDone {
			return
		}
		beforeDone = true
		if before != nil {
			before(tx.Session(&gorm.Session{NewDB: true}))
		}
	}))
	require.NoError(t, cb.After("gorm:update").Register("test:after_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table != table || !beforeDone || afterDone {
			return
		}
		afterDone = true
		if after != nil {
			after(tx.Session(&gorm.Session{NewDB: true}))
		}
	}))
}

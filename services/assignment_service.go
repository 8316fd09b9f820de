package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/yeremiapane/waiter-call/apperrors"
	"github.com/yeremiapane/waiter-call/fanout"
	"github.com/yeremiapane/waiter-call/models"
)

// MaxBulkTables caps the ids of one bulk assignment request.
const MaxBulkTables = 50

// Unassign reasons, logged with the cascade.
const (
	ReasonManual   = "manual"
	ReasonLogout   = "logout"
	ReasonShiftEnd = "shift_end"
	ReasonArchived = "archived"
)

// BulkResult is the independent outcome for one table of a bulk request.
type BulkResult struct {
	TableID   uint           `json:"table_id"`
	OK        bool           `json:"ok"`
	ErrorKind apperrors.Kind `json:"error_kind,omitempty"`
	Message   string         `json:"message,omitempty"`
	Table     *models.Table  `json:"table,omitempty"`
}

// AssignmentService is the table assignment registry. A table has at most one
// active waiter, and releasing a table first cancels its pending calls.
type AssignmentService struct {
	db     *gorm.DB
	clock  Clock
	calls  *CallService
	events fanout.Publisher
	log    *logrus.Logger
}

func NewAssignmentService(db *gorm.DB, clock Clock, calls *CallService, events fanout.Publisher, log *logrus.Logger) *AssignmentService {
	return &AssignmentService{db: db, clock: clock, calls: calls, events: events, log: log}
}

// Assign gives the table to waiterID. Waiters can only assign themselves.
// Assigning a table the waiter already holds is a no-op.
func (s *AssignmentService) Assign(ctx context.Context, scope Scope, tableID, waiterID uint) (*models.Table, error) {
	if !scope.canManage() && waiterID != scope.UserID {
		return nil, apperrors.Forbidden("waiters can only assign tables to themselves")
	}
	db := s.db.WithContext(ctx)

	waiter, err := findWaiter(db, scope, waiterID)
	if err != nil {
		return nil, err
	}
	if !waiter.IsActiveWaiter() {
		return nil, apperrors.PreconditionFailed("user %d is not an active waiter", waiterID)
	}
	table, err := findTable(db, scope, tableID)
	if err != nil {
		return nil, err
	}
	if table.IsAssignedTo(waiterID) {
		return table, nil
	}
	if table.IsAssigned() {
		return nil, assignedConflict(table)
	}

	now := s.clock.Now()
	for attempt := 0; ; attempt++ {
		ok, err := ConditionalUpdate(db, &models.Table{}, table.ID,
			map[string]interface{}{"active_waiter_id": nil},
			map[string]interface{}{"active_waiter_id": waiterID, "waiter_assigned_at": now})
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		// lost the race; report whoever won
		current, err := findTable(db, scope, tableID)
		if err != nil {
			return nil, err
		}
		if current.IsAssignedTo(waiterID) {
			return current, nil
		}
		if current.IsAssigned() || attempt > 0 {
			return nil, assignedConflict(current)
		}
		// the winner already released it; one more try
	}
	table.ActiveWaiterID = &waiterID
	table.WaiterAssignedAt = &now

	s.log.WithFields(logrus.Fields{"table_id": table.ID, "waiter_id": waiterID}).Info("table assigned")
	s.events.Publish(fanout.AssignmentEvent(fanout.EventTableAssigned, *table, waiterID, waiter.Name, now))
	return table, nil
}

// Unassign releases the table. Its pending calls are cancelled before the
// assignee is cleared so no call is left without a waiter.
func (s *AssignmentService) Unassign(ctx context.Context, scope Scope, tableID uint) (*models.Table, error) {
	return s.unassign(ctx, scope, tableID, ReasonManual)
}

func (s *AssignmentService) unassign(ctx context.Context, scope Scope, tableID uint, reason string) (*models.Table, error) {
	db := s.db.WithContext(ctx)
	table, err := findTable(db, scope, tableID)
	if err != nil {
		return nil, err
	}
	if !table.IsAssigned() {
		return nil, apperrors.PreconditionFailed("table %d has no active waiter", table.Number)
	}
	if !scope.canManage() && !table.IsAssignedTo(scope.UserID) {
		return nil, apperrors.Forbidden("table %d is not assigned to you", table.Number)
	}
	waiterID := *table.ActiveWaiterID

	cancelled, err := s.calls.cancelPending(db, table)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	ok, err := ConditionalUpdate(db, &models.Table{}, table.ID,
		map[string]interface{}{"active_waiter_id": waiterID},
		map[string]interface{}{"active_waiter_id": nil, "waiter_assigned_at": nil})
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := findTable(db, scope, tableID)
		if err != nil {
			return nil, err
		}
		if !current.IsAssigned() {
			return current, nil
		}
		return nil, assignedConflict(current)
	}
	table.ActiveWaiterID = nil
	table.WaiterAssignedAt = nil

	s.log.WithFields(logrus.Fields{
		"table_id":        table.ID,
		"waiter_id":       waiterID,
		"reason":          reason,
		"cancelled_calls": len(cancelled),
	}).Info("table unassigned")
	s.events.Publish(fanout.AssignmentEvent(fanout.EventTableUnassigned, *table, waiterID, waiterName(db, waiterID), now))
	return table, nil
}

// AssignMany assigns each table independently to the scope's user.
func (s *AssignmentService) AssignMany(ctx context.Context, scope Scope, tableIDs []uint) ([]BulkResult, error) {
	return s.bulk(tableIDs, func(id uint) (*models.Table, error) {
		return s.Assign(ctx, scope, id, scope.UserID)
	})
}

// UnassignMany releases each table independently.
func (s *AssignmentService) UnassignMany(ctx context.Context, scope Scope, tableIDs []uint) ([]BulkResult, error) {
	return s.bulk(tableIDs, func(id uint) (*models.Table, error) {
		return s.Unassign(ctx, scope, id)
	})
}

func (s *AssignmentService) bulk(tableIDs []uint, fn func(uint) (*models.Table, error)) ([]BulkResult, error) {
	if len(tableIDs) == 0 {
		return nil, apperrors.Validation("table_ids must not be empty")
	}
	if len(tableIDs) > MaxBulkTables {
		return nil, apperrors.Validation("at most %d tables per request", MaxBulkTables)
	}

	seen := make(map[uint]struct{}, len(tableIDs))
	results := make([]BulkResult, 0, len(tableIDs))
	for _, id := range tableIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		table, err := fn(id)
		if err != nil {
			res := BulkResult{TableID: id, ErrorKind: apperrors.KindOf(err), Message: err.Error()}
			if res.ErrorKind == "" {
				// infrastructure failures keep their detail in the log only
				s.log.WithField("table_id", id).WithError(err).Error("bulk assignment failed")
				res.Message = "internal error"
			}
			results = append(results, res)
			continue
		}
		results = append(results, BulkResult{TableID: id, OK: true, Table: table})
	}
	return results, nil
}

// UnassignWaiter releases every table the waiter holds. It runs on logout,
// at the end of a shift and when the waiter is archived.
func (s *AssignmentService) UnassignWaiter(ctx context.Context, scope Scope, waiterID uint, reason string) (int, error) {
	if !scope.canManage() && waiterID != scope.UserID {
		return 0, apperrors.Forbidden("cannot release another waiter's tables")
	}
	var tables []models.Table
	if err := scope.tenant(s.db.WithContext(ctx), "business_id").
		Where("active_waiter_id = ?", waiterID).
		Find(&tables).Error; err != nil {
		return 0, fmt.Errorf("load tables of waiter %d: %w", waiterID, err)
	}

	released := 0
	for _, t := range tables {
		if _, err := s.unassign(ctx, scope, t.ID, reason); err != nil {
			if apperrors.Is(err, apperrors.KindPreconditionFailed) {
				continue
			}
			return released, err
		}
		released++
	}
	return released, nil
}

// ExpireShifts releases tables held longer than maxAge.
func (s *AssignmentService) ExpireShifts(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-maxAge)
	var tables []models.Table
	if err := s.db.WithContext(ctx).
		Where("active_waiter_id IS NOT NULL AND waiter_assigned_at < ?", cutoff).
		Find(&tables).Error; err != nil {
		return 0, fmt.Errorf("load expired assignments: %w", err)
	}

	released := 0
	for _, t := range tables {
		_, err := s.unassign(ctx, SystemScope(t.BusinessID), t.ID, ReasonShiftEnd)
		switch {
		case err == nil:
			released++
		case apperrors.Is(err, apperrors.KindPreconditionFailed):
			// released concurrently
		default:
			return released, err
		}
	}
	return released, nil
}

// WaiterTables returns the tables the scope's user holds.
func (s *AssignmentService) WaiterTables(ctx context.Context, scope Scope) ([]models.Table, error) {
	var tables []models.Table
	err := scope.tenant(s.db.WithContext(ctx), "business_id").
		Where("active_waiter_id = ?", scope.UserID).
		Order("number ASC").
		Find(&tables).Error
	if err != nil {
		return nil, fmt.Errorf("load waiter tables: %w", err)
	}
	return tables, nil
}

func assignedConflict(table *models.Table) *apperrors.Error {
	if !table.IsAssigned() {
		return apperrors.Conflict("table %d changed while assigning, try again", table.Number)
	}
	return apperrors.Conflict("table %d is already assigned to another waiter", table.Number).
		With(apperrors.DetailCurrentWaiterID, *table.ActiveWaiterID)
}

package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/yeremiapane/waiter-call/apperrors"
	"github.com/yeremiapane/waiter-call/fanout"
	"github.com/yeremiapane/waiter-call/models"
)

// DedupWindow is how long a pending call blocks a new one from the same table.
const DedupWindow = 30 * time.Second

const maxMessageLength = 500

// History filters.
const (
	HistoryHour     = "hour"
	HistoryToday    = "today"
	HistoryHistoric = "historic"
)

// CreateCallInput is what a table client (or an internal trigger) sends.
type CreateCallInput struct {
	Message   string
	Urgency   models.Urgency
	Source    string
	ClientIP  string
	UserAgent string
}

// CallView is a call with its derived timings.
type CallView struct {
	models.Call
	TableNumber         int      `json:"table_number"`
	ResponseTimeSeconds *float64 `json:"response_time_seconds"`
	TotalTimeSeconds    *float64 `json:"total_time_seconds"`
}

// NewCallView derives response and total time from the timestamps.
func NewCallView(call models.Call) CallView {
	v := CallView{Call: call}
	if call.Table != nil {
		v.TableNumber = call.Table.Number
	}
	if d := call.ResponseTime(); d != nil {
		secs := d.Seconds()
		v.ResponseTimeSeconds = &secs
	}
	if d := call.TotalTime(); d != nil {
		secs := d.Seconds()
		v.TotalTimeSeconds = &secs
	}
	return v
}

// HistoryPage is one page of a waiter's call history.
type HistoryPage struct {
	Calls      []CallView `json:"calls"`
	Filter     string     `json:"filter"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	Total      int64      `json:"total"`
	TotalPages int        `json:"total_pages"`
}

// CallService is the call state machine:
//
//	pending -> acknowledged -> completed
//	pending -> cancelled
//
// Every transition is a conditional update on the expected prior status.
type CallService struct {
	db     *gorm.DB
	clock  Clock
	events fanout.Publisher
	log    *logrus.Logger
}

func NewCallService(db *gorm.DB, clock Clock, events fanout.Publisher, log *logrus.Logger) *CallService {
	return &CallService{db: db, clock: clock, events: events, log: log}
}

// Create opens a pending call for the table's current waiter. The checks run
// in order: notifications enabled, waiter assigned, not silenced, no pending
// duplicate in the dedup window, rate limit (which silences the table).
func (s *CallService) Create(ctx context.Context, scope Scope, tableID uint, in CreateCallInput) (*models.Call, error) {
	if in.Urgency == "" {
		in.Urgency = models.UrgencyNormal
	}
	if !in.Urgency.Valid() {
		return nil, apperrors.Validation("urgency must be one of low, normal, high")
	}
	in.Message = strings.TrimSpace(in.Message)
	if err := checkText("message", in.Message, maxMessageLength); err != nil {
		return nil, err
	}
	if in.Source == "" {
		in.Source = models.CallSourceQR
	}

	now := s.clock.Now()
	var (
		call        models.Call
		table       *models.Table
		autoSilence *models.TableSilence
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		table, err = findTable(forUpdate(tx), scope, tableID)
		if err != nil {
			return err
		}
		if !table.NotificationsEnabled {
			return apperrors.PreconditionFailed("notifications are disabled for table %d", table.Number)
		}
		if !table.IsAssigned() {
			return apperrors.PreconditionFailed("no waiter is assigned to table %d, please call a waiter manually", table.Number)
		}

		active, err := activeSilence(tx, table.ID, now)
		if err != nil {
			return err
		}
		if active != nil {
			return silencedError(active, now)
		}

		var existing models.Call
		res := tx.Where("table_id = ? AND status = ? AND called_at > ?",
			table.ID, models.CallStatusPending, now.Add(-DedupWindow)).
			Order("called_at DESC").
			Limit(1).
			Find(&existing)
		if res.Error != nil {
			return fmt.Errorf("check duplicate call: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return apperrors.Conflict("a call for this table is already pending").
				With(apperrors.DetailExistingCallID, existing.ID).
				With("existing_call", NewCallView(existing))
		}

		recent, err := recentCallCount(tx, table.ID, now)
		if err != nil {
			return err
		}
		if observed := recent + 1; observed >= RateLimitCalls {
			silence := newAutoSilence(table, observed, now)
			if err := tx.Create(&silence).Error; err != nil {
				return fmt.Errorf("create automatic silence: %w", err)
			}
			autoSilence = &silence
			// commit the silence, the caller still gets RateLimited
			return nil
		}

		call = models.Call{
			BusinessID: table.BusinessID,
			TableID:    table.ID,
			WaiterID:   *table.ActiveWaiterID,
			Status:     models.CallStatusPending,
			Message:    in.Message,
			Urgency:    in.Urgency,
			CalledAt:   now,
			Source:     in.Source,
			ClientIP:   in.ClientIP,
			UserAgent:  in.UserAgent,
		}
		if err := tx.Create(&call).Error; err != nil {
			return fmt.Errorf("create call: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if autoSilence != nil {
		s.log.WithFields(logrus.Fields{
			"table_id":   table.ID,
			"call_count": autoSilence.CallCount,
		}).Warn("table silenced automatically")
		s.events.Publish(fanout.SilenceEvent(fanout.EventTableSilenced, *autoSilence, *table, now))
		return nil, silencedError(autoSilence, now).With(apperrors.DetailCallCount, autoSilence.CallCount)
	}

	s.log.WithFields(logrus.Fields{
		"call_id":   call.ID,
		"table_id":  table.ID,
		"waiter_id": call.WaiterID,
		"urgency":   call.Urgency,
	}).Info("call created")
	s.events.Publish(fanout.CallEvent(fanout.EventCallCreated, call, *table, waiterName(s.db, call.WaiterID), now))
	return &call, nil
}

// Acknowledge moves the waiter's own pending call to acknowledged.
func (s *CallService) Acknowledge(ctx context.Context, scope Scope, callID uint) (*models.Call, error) {
	db := s.db.WithContext(ctx)
	call, err := findCall(db, scope, callID)
	if err != nil {
		return nil, err
	}
	if call.WaiterID != scope.UserID {
		return nil, apperrors.Forbidden("call %d belongs to another waiter", call.ID)
	}
	if call.Status != models.CallStatusPending {
		return nil, statusConflict(call, "acknowledge")
	}

	now := s.clock.Now()
	if err := s.acknowledge(db, scope, call, now); err != nil {
		return nil, err
	}
	s.publish(db, fanout.EventCallAcknowledged, *call, now)
	return call, nil
}

// Complete finishes the waiter's own call, acknowledging it first when it is
// still pending.
func (s *CallService) Complete(ctx context.Context, scope Scope, callID uint) (*models.Call, error) {
	db := s.db.WithContext(ctx)
	call, err := findCall(db, scope, callID)
	if err != nil {
		return nil, err
	}
	if call.WaiterID != scope.UserID {
		return nil, apperrors.Forbidden("call %d belongs to another waiter", call.ID)
	}
	if call.Status != models.CallStatusPending && call.Status != models.CallStatusAcknowledged {
		return nil, statusConflict(call, "complete")
	}

	now := s.clock.Now()
	if call.Status == models.CallStatusPending {
		acked, err := s.swapAcknowledged(db, call, now)
		if err != nil {
			return nil, err
		}
		if acked {
			s.publish(db, fanout.EventCallAcknowledged, *call, now)
		} else {
			// acknowledged meanwhile; completing it is still legal
			current, err := findCall(db, scope, call.ID)
			if err != nil {
				return nil, err
			}
			if current.Status != models.CallStatusAcknowledged || current.WaiterID != scope.UserID {
				return nil, statusConflict(current, "complete")
			}
			call = current
		}
	}

	ok, err := ConditionalUpdate(db, &models.Call{}, call.ID,
		map[string]interface{}{"status": models.CallStatusAcknowledged},
		map[string]interface{}{"status": models.CallStatusCompleted, "completed_at": now})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.reloadConflict(db, scope, call.ID, "complete")
	}
	call.Status = models.CallStatusCompleted
	call.CompletedAt = &now

	s.log.WithFields(logrus.Fields{"call_id": call.ID, "waiter_id": call.WaiterID}).Info("call completed")
	s.publish(db, fanout.EventCallCompleted, *call, now)
	return call, nil
}

// acknowledge applies pending -> acknowledged, reporting a lost race as
// Conflict.
func (s *CallService) acknowledge(db *gorm.DB, scope Scope, call *models.Call, now time.Time) error {
	ok, err := s.swapAcknowledged(db, call, now)
	if err != nil {
		return err
	}
	if !ok {
		return s.reloadConflict(db, scope, call.ID, "acknowledge")
	}
	return nil
}

// swapAcknowledged is the pending -> acknowledged compare-and-swap. call is
// updated only when the swap wins.
func (s *CallService) swapAcknowledged(db *gorm.DB, call *models.Call, now time.Time) (bool, error) {
	ok, err := ConditionalUpdate(db, &models.Call{}, call.ID,
		map[string]interface{}{"status": models.CallStatusPending},
		map[string]interface{}{"status": models.CallStatusAcknowledged, "acknowledged_at": now})
	if err != nil || !ok {
		return false, err
	}
	call.Status = models.CallStatusAcknowledged
	call.AcknowledgedAt = &now
	return true, nil
}

// cancelPending cancels every pending call of the table. System only: used by
// the unassign cascade. Calls that moved on concurrently are left alone.
func (s *CallService) cancelPending(db *gorm.DB, table *models.Table) ([]models.Call, error) {
	var pending []models.Call
	if err := db.Where("table_id = ? AND status = ?", table.ID, models.CallStatusPending).
		Find(&pending).Error; err != nil {
		return nil, fmt.Errorf("load pending calls for table %d: %w", table.ID, err)
	}

	now := s.clock.Now()
	cancelled := make([]models.Call, 0, len(pending))
	for _, call := range pending {
		ok, err := ConditionalUpdate(db, &models.Call{}, call.ID,
			map[string]interface{}{"status": models.CallStatusPending},
			map[string]interface{}{"status": models.CallStatusCancelled, "cancelled_at": now})
		if err != nil {
			return cancelled, err
		}
		if !ok {
			continue
		}
		call.Status = models.CallStatusCancelled
		call.CancelledAt = &now
		cancelled = append(cancelled, call)
		s.events.Publish(fanout.CallEvent(fanout.EventCallCancelled, call, *table, waiterName(db, call.WaiterID), now))
	}
	return cancelled, nil
}

// Get returns a call of a table, for clients polling after a missed event.
func (s *CallService) Get(ctx context.Context, scope Scope, tableID, callID uint) (*CallView, error) {
	var call models.Call
	res := scope.tenant(s.db.WithContext(ctx), "business_id").
		Preload("Table").
		Where("id = ? AND table_id = ?", callID, tableID).
		Limit(1).
		Find(&call)
	if res.Error != nil {
		return nil, fmt.Errorf("load call %d: %w", callID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.NotFound("call %d not found", callID)
	}
	view := NewCallView(call)
	return &view, nil
}

// ListPending returns the waiter's pending calls, oldest first.
func (s *CallService) ListPending(ctx context.Context, scope Scope) ([]CallView, error) {
	var calls []models.Call
	err := scope.tenant(s.db.WithContext(ctx), "business_id").
		Preload("Table").
		Where("waiter_id = ? AND status = ?", scope.UserID, models.CallStatusPending).
		Order("called_at ASC").
		Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("list pending calls: %w", err)
	}
	return toViews(calls), nil
}

// History pages through the waiter's calls. filter is hour, today (default)
// or historic (everything before today).
func (s *CallService) History(ctx context.Context, scope Scope, filter string, page, limit int) (*HistoryPage, error) {
	if filter == "" {
		filter = HistoryToday
	}
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = 20
	}
	if page < 1 {
		return nil, apperrors.Validation("page must be at least 1")
	}
	if limit < 1 || limit > 100 {
		return nil, apperrors.Validation("limit must be between 1 and 100")
	}

	now := s.clock.Now()
	q := scope.tenant(s.db.WithContext(ctx).Model(&models.Call{}), "business_id").
		Where("waiter_id = ?", scope.UserID)
	switch filter {
	case HistoryHour:
		q = q.Where("called_at >= ?", now.Add(-time.Hour))
	case HistoryToday:
		q = q.Where("called_at >= ?", startOfDay(now))
	case HistoryHistoric:
		q = q.Where("called_at < ?", startOfDay(now))
	default:
		return nil, apperrors.Validation("filter must be one of hour, today, historic")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}
	var calls []models.Call
	if err := q.Preload("Table").
		Order("called_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&calls).Error; err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	return &HistoryPage{
		Calls:      toViews(calls),
		Filter:     filter,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	}, nil
}

func (s *CallService) publish(db *gorm.DB, typ fanout.EventType, call models.Call, now time.Time) {
	table, err := findTable(db, Scope{}, call.TableID)
	if err != nil {
		s.log.WithField("call_id", call.ID).WithError(err).Warn("event snapshot without table")
		table = &models.Table{ID: call.TableID, BusinessID: call.BusinessID}
	}
	s.events.Publish(fanout.CallEvent(typ, call, *table, waiterName(db, call.WaiterID), now))
}

func (s *CallService) reloadConflict(db *gorm.DB, scope Scope, callID uint, action string) error {
	current, err := findCall(db, scope, callID)
	if err != nil {
		return err
	}
	return statusConflict(current, action)
}

func statusConflict(call *models.Call, action string) *apperrors.Error {
	return apperrors.Conflict("cannot %s a call that is %s", action, call.Status).
		With(apperrors.DetailCurrentStatus, string(call.Status))
}

func toViews(calls []models.Call) []CallView {
	views := make([]CallView, 0, len(calls))
	for _, c := range calls {
		views = append(views, NewCallView(c))
	}
	return views
}

// checkText limits free text by characters, not bytes.
func checkText(field, value string, max int) error {
	if !utf8.ValidString(value) {
		return apperrors.Validation("%s must be valid UTF-8", field)
	}
	if utf8.RuneCountInString(value) > max {
		return apperrors.Validation("%s must be at most %d characters", field, max)
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

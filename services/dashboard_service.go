package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/yeremiapane/waiter-call/apperrors"
	"github.com/yeremiapane/waiter-call/models"
)

// Response grades by average acknowledge latency.
const (
	GradeExcellent        = "Excellent"
	GradeGood             = "Good"
	GradeRegular          = "Regular"
	GradeNeedsImprovement = "Needs improvement"
)

// WaiterDashboard summarizes a waiter's day.
type WaiterDashboard struct {
	WaiterID          uint     `json:"waiter_id"`
	ActiveTables      int      `json:"active_tables"`
	TodayTotal        int      `json:"today_total"`
	TodayCompleted    int      `json:"today_completed"`
	Pending           int      `json:"pending"`
	LastHourCalls     int      `json:"last_hour_calls"`
	LastHourCompleted int      `json:"last_hour_completed"`
	CompletionRate    float64  `json:"completion_rate"`
	EfficiencyScore   int      `json:"efficiency_score"`
	AvgResponseSecs   *float64 `json:"avg_response_seconds"`
	ResponseGrade     *string  `json:"response_grade"`
}

// TableStatus is one of the waiter's tables with its call pressure.
type TableStatus struct {
	Table             models.Table         `json:"table"`
	PendingCalls      int                  `json:"pending_calls"`
	OldestPendingAt   *time.Time           `json:"oldest_pending_at"`
	OldestWaitMinutes float64              `json:"oldest_wait_minutes"`
	OldestUrgency     models.Urgency       `json:"oldest_urgency,omitempty"`
	Silenced          bool                 `json:"silenced"`
	Silence           *models.TableSilence `json:"silence,omitempty"`
	Priority          int                  `json:"priority"`
}

type DashboardService struct {
	db    *gorm.DB
	clock Clock
}

func NewDashboardService(db *gorm.DB, clock Clock) *DashboardService {
	return &DashboardService{db: db, clock: clock}
}

// Dashboard aggregates today's calls of the scope's waiter. Days are UTC.
func (s *DashboardService) Dashboard(ctx context.Context, scope Scope) (*WaiterDashboard, error) {
	now := s.clock.Now()
	db := scope.tenant(s.db.WithContext(ctx), "business_id")

	var today []models.Call
	if err := db.Where("waiter_id = ? AND called_at >= ?", scope.UserID, startOfDay(now)).
		Find(&today).Error; err != nil {
		return nil, fmt.Errorf("load today's calls: %w", err)
	}
	var activeTables int64
	if err := scope.tenant(s.db.WithContext(ctx).Model(&models.Table{}), "business_id").
		Where("active_waiter_id = ?", scope.UserID).
		Count(&activeTables).Error; err != nil {
		return nil, fmt.Errorf("count active tables: %w", err)
	}

	d := &WaiterDashboard{
		WaiterID:     scope.UserID,
		ActiveTables: int(activeTables),
		TodayTotal:   len(today),
	}
	hourAgo := now.Add(-time.Hour)
	var latency time.Duration
	acked := 0
	for _, c := range today {
		switch c.Status {
		case models.CallStatusCompleted:
			d.TodayCompleted++
		case models.CallStatusPending:
			d.Pending++
		}
		if c.CalledAt.After(hourAgo) {
			d.LastHourCalls++
		}
		if c.CompletedAt != nil && c.CompletedAt.After(hourAgo) {
			d.LastHourCompleted++
		}
		if rt := c.ResponseTime(); rt != nil {
			latency += *rt
			acked++
		}
	}

	rate := 1.0
	if d.TodayTotal > 0 {
		rate = float64(d.TodayCompleted) / float64(d.TodayTotal)
	}
	d.CompletionRate = math.Round(rate*1000) / 10
	d.EfficiencyScore = EfficiencyScore(d.TodayTotal, d.TodayCompleted, d.Pending)
	if acked > 0 {
		avg := latency / time.Duration(acked)
		secs := avg.Seconds()
		grade := ResponseGrade(avg)
		d.AvgResponseSecs = &secs
		d.ResponseGrade = &grade
	}
	return d, nil
}

// TableStatuses lists the waiter's tables, highest priority first.
func (s *DashboardService) TableStatuses(ctx context.Context, scope Scope) ([]TableStatus, error) {
	now := s.clock.Now()
	db := s.db.WithContext(ctx)

	var tables []models.Table
	if err := scope.tenant(db, "business_id").
		Where("active_waiter_id = ?", scope.UserID).
		Order("number ASC").
		Find(&tables).Error; err != nil {
		return nil, fmt.Errorf("load waiter tables: %w", err)
	}

	statuses := make([]TableStatus, 0, len(tables))
	for _, t := range tables {
		var pending []models.Call
		if err := db.Where("table_id = ? AND status = ?", t.ID, models.CallStatusPending).
			Order("called_at ASC").
			Find(&pending).Error; err != nil {
			return nil, fmt.Errorf("load pending calls of table %d: %w", t.ID, err)
		}
		silence, err := activeSilence(db, t.ID, now)
		if err != nil {
			return nil, err
		}

		st := TableStatus{
			Table:        t,
			PendingCalls: len(pending),
			Silenced:     silence != nil,
			Silence:      silence,
		}
		if len(pending) > 0 {
			oldest := pending[0]
			st.OldestPendingAt = &oldest.CalledAt
			st.OldestWaitMinutes = now.Sub(oldest.CalledAt).Minutes()
			st.OldestUrgency = oldest.Urgency
		}
		st.Priority = Priority(st.PendingCalls, st.OldestWaitMinutes, st.OldestUrgency)
		statuses = append(statuses, st)
	}

	sort.SliceStable(statuses, func(i, j int) bool {
		return statuses[i].Priority > statuses[j].Priority
	})
	return statuses, nil
}

// BusinessOverview is the admin view of a business for the current UTC day.
type BusinessOverview struct {
	Tables          int             `json:"tables"`
	AssignedTables  int             `json:"assigned_tables"`
	SilencedTables  int             `json:"silenced_tables"`
	PendingCalls    int             `json:"pending_calls"`
	TodayCalls      int             `json:"today_calls"`
	TodayCompleted  int             `json:"today_completed"`
	TodayCancelled  int             `json:"today_cancelled"`
	AvgResponseSecs *float64        `json:"avg_response_seconds"`
	Waiters         []WaiterSummary `json:"waiters"`
}

// WaiterSummary is one active waiter in the overview.
type WaiterSummary struct {
	WaiterID       uint   `json:"waiter_id"`
	Name           string `json:"name"`
	ActiveTables   int    `json:"active_tables"`
	Pending        int    `json:"pending"`
	TodayCompleted int    `json:"today_completed"`
}

// Overview aggregates tables, calls and waiters of the admin's business.
func (s *DashboardService) Overview(ctx context.Context, scope Scope) (*BusinessOverview, error) {
	if !scope.canManage() {
		return nil, apperrors.Forbidden("only admins can see the business overview")
	}
	now := s.clock.Now()
	db := s.db.WithContext(ctx)

	var waiters []models.User
	if err := scope.tenant(db, "business_id").
		Where("role = ? AND archived_at IS NULL", models.RoleWaiter).
		Order("name ASC").
		Find(&waiters).Error; err != nil {
		return nil, fmt.Errorf("load waiters: %w", err)
	}
	o := &BusinessOverview{Waiters: make([]WaiterSummary, 0, len(waiters))}
	byID := make(map[uint]*WaiterSummary, len(waiters))
	for _, w := range waiters {
		o.Waiters = append(o.Waiters, WaiterSummary{WaiterID: w.ID, Name: w.Name})
	}
	for i := range o.Waiters {
		byID[o.Waiters[i].WaiterID] = &o.Waiters[i]
	}

	var tables []models.Table
	if err := scope.tenant(db, "business_id").Find(&tables).Error; err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	o.Tables = len(tables)
	for _, t := range tables {
		if t.ActiveWaiterID != nil {
			o.AssignedTables++
			if w, ok := byID[*t.ActiveWaiterID]; ok {
				w.ActiveTables++
			}
		}
		silence, err := activeSilence(db, t.ID, now)
		if err != nil {
			return nil, err
		}
		if silence != nil {
			o.SilencedTables++
		}
	}

	var pending []models.Call
	if err := scope.tenant(db, "business_id").
		Where("status = ?", models.CallStatusPending).
		Find(&pending).Error; err != nil {
		return nil, fmt.Errorf("load pending calls: %w", err)
	}
	o.PendingCalls = len(pending)
	for _, c := range pending {
		if w, ok := byID[c.WaiterID]; ok {
			w.Pending++
		}
	}

	var today []models.Call
	if err := scope.tenant(db, "business_id").
		Where("called_at >= ?", startOfDay(now)).
		Find(&today).Error; err != nil {
		return nil, fmt.Errorf("load today's calls: %w", err)
	}
	var latency time.Duration
	acked := 0
	for _, c := range today {
		o.TodayCalls++
		switch c.Status {
		case models.CallStatusCompleted:
			o.TodayCompleted++
			if w, ok := byID[c.WaiterID]; ok {
				w.TodayCompleted++
			}
		case models.CallStatusCancelled:
			o.TodayCancelled++
		}
		if rt := c.ResponseTime(); rt != nil {
			latency += *rt
			acked++
		}
	}
	if acked > 0 {
		secs := (latency / time.Duration(acked)).Seconds()
		o.AvgResponseSecs = &secs
	}
	return o, nil
}

// EfficiencyScore is the completion rate in percent minus five points per
// pending call (at most 30), clamped to 0..100. No calls counts as 100%.
func EfficiencyScore(total, completed, pending int) int {
	rate := 1.0
	if total > 0 {
		rate = float64(completed) / float64(total)
	}
	penalty := math.Min(float64(pending*5), 30)
	return clamp(int(math.Round(rate*100-penalty)), 0, 100)
}

// ResponseGrade buckets an average acknowledge latency.
func ResponseGrade(avg time.Duration) string {
	switch {
	case avg <= 2*time.Minute:
		return GradeExcellent
	case avg <= 5*time.Minute:
		return GradeGood
	case avg <= 10*time.Minute:
		return GradeRegular
	default:
		return GradeNeedsImprovement
	}
}

// Priority ranks a table 0..10 from its pending calls, the age of the oldest
// one and that call's urgency.
func Priority(pending int, oldestWaitMinutes float64, urgency models.Urgency) int {
	if pending == 0 {
		return 0
	}
	bonus := 0.0
	switch urgency {
	case models.UrgencyHigh:
		bonus = 5
	case models.UrgencyLow:
		bonus = -2
	}
	score := float64(pending*3) + oldestWaitMinutes/2 + bonus
	return clamp(int(math.Round(score)), 0, 10)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/yeremiapane/waiter-call/apperrors"
	"github.com/yeremiapane/waiter-call/fanout"
	"github.com/yeremiapane/waiter-call/models"
)

// Abuse guard limits.
const (
	RateWindow            = 10 * time.Minute
	RateLimitCalls        = 3
	AutoSilenceMinutes    = 10
	DefaultSilenceMinutes = 30
	MinSilenceMinutes     = 1
	MaxSilenceMinutes     = 120
)

const maxNotesLength = 500

// SilenceService is the abuse guard: rolling call counter plus manual and
// automatic table silences.
type SilenceService struct {
	db     *gorm.DB
	clock  Clock
	events fanout.Publisher
	log    *logrus.Logger
}

func NewSilenceService(db *gorm.DB, clock Clock, events fanout.Publisher, log *logrus.Logger) *SilenceService {
	return &SilenceService{db: db, clock: clock, events: events, log: log}
}

// Silence creates a manual silence. minutes == 0 means the default.
func (s *SilenceService) Silence(ctx context.Context, scope Scope, tableID uint, minutes int, notes string) (*models.TableSilence, error) {
	if minutes == 0 {
		minutes = DefaultSilenceMinutes
	}
	if minutes < MinSilenceMinutes || minutes > MaxSilenceMinutes {
		return nil, apperrors.Validation("duration_minutes must be between %d and %d", MinSilenceMinutes, MaxSilenceMinutes)
	}
	notes = strings.TrimSpace(notes)
	if err := checkText("notes", notes, maxNotesLength); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var (
		silence models.TableSilence
		table   *models.Table
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		table, err = findTable(forUpdate(tx), scope, tableID)
		if err != nil {
			return err
		}
		if err := authorizeTableOwner(scope, table); err != nil {
			return err
		}
		active, err := activeSilence(tx, table.ID, now)
		if err != nil {
			return err
		}
		if active != nil {
			return alreadySilenced(active, now)
		}

		silence = models.TableSilence{
			BusinessID:      table.BusinessID,
			TableID:         table.ID,
			Reason:          models.SilenceReasonManual,
			SilencedBy:      &scope.UserID,
			SilencedAt:      now,
			DurationMinutes: minutes,
			Notes:           notes,
		}
		if err := tx.Create(&silence).Error; err != nil {
			return fmt.Errorf("create silence: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"table_id": table.ID,
		"user_id":  scope.UserID,
		"minutes":  minutes,
	}).Info("table silenced manually")
	s.events.Publish(fanout.SilenceEvent(fanout.EventTableSilenced, silence, *table, now))
	return &silence, nil
}

// Unsilence lifts the active manual silence. Automatic silences only expire.
func (s *SilenceService) Unsilence(ctx context.Context, scope Scope, tableID uint) (*models.TableSilence, error) {
	now := s.clock.Now()
	db := s.db.WithContext(ctx)

	table, err := findTable(db, scope, tableID)
	if err != nil {
		return nil, err
	}
	if err := authorizeTableOwner(scope, table); err != nil {
		return nil, err
	}
	active, err := activeSilence(db, table.ID, now)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, apperrors.NotFound("table %d is not silenced", table.Number)
	}
	if active.Reason == models.SilenceReasonAutomatic {
		return nil, apperrors.Conflict("automatic silences cannot be lifted early").
			With(apperrors.DetailReason, active.Reason).
			With(apperrors.DetailRemainingSeconds, remainingSeconds(active, now))
	}

	ok, err := ConditionalUpdate(db, &models.TableSilence{}, active.ID,
		map[string]interface{}{"unsilenced_at": nil},
		map[string]interface{}{"unsilenced_at": now})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("table %d is not silenced", table.Number)
	}
	active.UnsilencedAt = &now

	s.log.WithFields(logrus.Fields{"table_id": table.ID, "user_id": scope.UserID}).Info("table unsilenced")
	s.events.Publish(fanout.SilenceEvent(fanout.EventTableUnsilenced, *active, *table, now))
	return active, nil
}

// Active returns the table's active silence, or nil.
func (s *SilenceService) Active(ctx context.Context, scope Scope, tableID uint) (*models.TableSilence, error) {
	db := s.db.WithContext(ctx)
	table, err := findTable(db, scope, tableID)
	if err != nil {
		return nil, err
	}
	return activeSilence(db, table.ID, s.clock.Now())
}

// IsActive reports whether the table is currently silenced.
func (s *SilenceService) IsActive(ctx context.Context, scope Scope, tableID uint) (bool, error) {
	active, err := s.Active(ctx, scope, tableID)
	return active != nil, err
}

// activeSilence finds a silence with silenced_at + duration > now and no
// unsilenced_at. Candidates are bounded by the longest allowed duration.
func activeSilence(db *gorm.DB, tableID uint, now time.Time) (*models.TableSilence, error) {
	var candidates []models.TableSilence
	err := db.Where("table_id = ? AND unsilenced_at IS NULL AND silenced_at > ?",
		tableID, now.Add(-MaxSilenceMinutes*time.Minute)).
		Order("silenced_at DESC").
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("load silences for table %d: %w", tableID, err)
	}
	for i := range candidates {
		if candidates[i].IsActive(now) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// recentCallCount counts calls of the table in the trailing rate window.
func recentCallCount(db *gorm.DB, tableID uint, now time.Time) (int64, error) {
	var count int64
	err := db.Model(&models.Call{}).
		Where("table_id = ? AND called_at > ?", tableID, now.Add(-RateWindow)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count recent calls for table %d: %w", tableID, err)
	}
	return count, nil
}

func newAutoSilence(table *models.Table, observed int64, now time.Time) models.TableSilence {
	return models.TableSilence{
		BusinessID:      table.BusinessID,
		TableID:         table.ID,
		Reason:          models.SilenceReasonAutomatic,
		SilencedAt:      now,
		DurationMinutes: AutoSilenceMinutes,
		CallCount:       int(observed),
		Notes:           fmt.Sprintf("%d calls within %d minutes", observed, int(RateWindow.Minutes())),
	}
}

// silencedError is what a table client sees while silenced.
func silencedError(active *models.TableSilence, now time.Time) *apperrors.Error {
	secs := remainingSeconds(active, now)
	mins := int(math.Ceil(float64(secs) / 60))
	return apperrors.RateLimited("table is temporarily silenced, try again in %d minutes", mins).
		With(apperrors.DetailReason, active.Reason).
		With(apperrors.DetailRemainingSeconds, secs).
		With(apperrors.DetailRemainingMinutes, mins)
}

func alreadySilenced(active *models.TableSilence, now time.Time) *apperrors.Error {
	return apperrors.Conflict("table is already silenced").
		With(apperrors.DetailReason, active.Reason).
		With(apperrors.DetailRemainingSeconds, remainingSeconds(active, now))
}

func remainingSeconds(active *models.TableSilence, now time.Time) int {
	return int(math.Ceil(active.RemainingTime(now).Seconds()))
}

// authorizeTableOwner allows admins and the table's current waiter.
func authorizeTableOwner(scope Scope, table *models.Table) error {
	if scope.canManage() || table.IsAssignedTo(scope.UserID) {
		return nil
	}
	return apperrors.Forbidden("table %d is not assigned to you", table.Number)
}

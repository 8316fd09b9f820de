package models

import "time"

// Silence reasons.
const (
	SilenceReasonManual    = "manual"
	SilenceReasonAutomatic = "automatic"
)

// TableSilence suppresses new calls from a table for a while. Automatic
// silences only expire with time; manual ones can also be lifted.
type TableSilence struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	BusinessID      uint       `gorm:"not null;index" json:"business_id"`
	TableID         uint       `gorm:"not null;index:idx_silences_table_at" json:"table_id"`
	Table           *Table     `gorm:"foreignKey:TableID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Reason          string     `gorm:"type:varchar(20);not null" json:"reason"`
	SilencedBy      *uint      `json:"silenced_by"`
	SilencedAt      time.Time  `gorm:"not null;index:idx_silences_table_at" json:"silenced_at"`
	DurationMinutes int        `gorm:"not null" json:"duration_minutes"`
	CallCount       int        `gorm:"not null;default:0" json:"call_count"`
	Notes           string     `gorm:"type:varchar(500)" json:"notes"`
	UnsilencedAt    *time.Time `json:"unsilenced_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (TableSilence) TableName() string {
	return "table_silences"
}

// ExpiresAt is silenced_at + duration.
func (s *TableSilence) ExpiresAt() time.Time {
	return s.SilencedAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// IsActive reports whether the silence still blocks calls at now.
func (s *TableSilence) IsActive(now time.Time) bool {
	return s.UnsilencedAt == nil && s.ExpiresAt().After(now)
}

// RemainingTime is max(0, expiry - now).
func (s *TableSilence) RemainingTime(now time.Time) time.Duration {
	if rem := s.ExpiresAt().Sub(now); rem > 0 {
		return rem
	}
	return 0
}

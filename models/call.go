package models

import "time"

// CallStatus is the lifecycle state of a waiter call.
type CallStatus string

const (
	CallStatusPending      CallStatus = "pending"
	CallStatusAcknowledged CallStatus = "acknowledged"
	CallStatusCompleted    CallStatus = "completed"
	CallStatusCancelled    CallStatus = "cancelled"
)

// IsFinal reports whether no further transition is possible.
func (s CallStatus) IsFinal() bool {
	return s == CallStatusCompleted || s == CallStatusCancelled
}

// Urgency of a call as chosen by the table client.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Valid reports whether u is a known urgency.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh:
		return true
	}
	return false
}

// Call sources.
const (
	CallSourceQR       = "qr"
	CallSourceInternal = "internal"
)

// Call is one waiter-summon request. Rows are never deleted; they are the
// history the dashboard aggregates over.
type Call struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	BusinessID     uint       `gorm:"not null;index" json:"business_id"`
	TableID        uint       `gorm:"not null;index:idx_calls_table_called" json:"table_id"`
	Table          *Table     `gorm:"foreignKey:TableID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"table,omitempty"`
	WaiterID       uint       `gorm:"not null;index:idx_calls_waiter_status" json:"waiter_id"`
	Status         CallStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_calls_waiter_status" json:"status"`
	Message        string     `gorm:"type:varchar(500)" json:"message"`
	Urgency        Urgency    `gorm:"type:varchar(10);not null;default:'normal'" json:"urgency"`
	CalledAt       time.Time  `gorm:"not null;index:idx_calls_table_called" json:"called_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	CancelledAt    *time.Time `json:"cancelled_at"`
	Source         string     `gorm:"type:varchar(20);not null;default:'qr'" json:"source"`
	ClientIP       string     `gorm:"type:varchar(64)" json:"-"`
	UserAgent      string     `gorm:"type:varchar(255)" json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ResponseTime is acknowledged_at - called_at, or nil before acknowledgement.
func (c *Call) ResponseTime() *time.Duration {
	if c.AcknowledgedAt == nil {
		return nil
	}
	d := c.AcknowledgedAt.Sub(c.CalledAt)
	return &d
}

// TotalTime is completed_at - called_at, or nil before completion.
func (c *Call) TotalTime() *time.Duration {
	if c.CompletedAt == nil {
		return nil
	}
	d := c.CompletedAt.Sub(c.CalledAt)
	return &d
}

package models

import "time"

// Push platforms a device can register for.
const (
	PlatformFCM      = "fcm"
	PlatformShoutrrr = "shoutrrr"
)

// DeviceToken is a push destination registered by a waiter.
type DeviceToken struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index:idx_device_user_token,unique" json:"user_id"`
	User       User      `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Platform   string    `gorm:"type:varchar(20);not null" json:"platform"`
	Token      string    `gorm:"type:varchar(512);not null;index:idx_device_user_token,unique" json:"token"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

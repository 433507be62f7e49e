// Package domain defines the persistence models for users and push tokens.
// These types are mapped with GORM and form the core data layer of the
// push notification backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Device classes accepted for a push token. The set is closed; anything else
// is rejected at registration time.
const (
	DevicePhoneIOS     = "phone-ios"
	DevicePhoneAndroid = "phone-android"
	DeviceWeb          = "web"
)

// ValidDeviceType reports whether s is one of the accepted device classes.
func ValidDeviceType(s string) bool {
	switch s {
	case DevicePhoneIOS, DevicePhoneAndroid, DeviceWeb:
		return true
	}
	return false
}

// UserPreferences are account-level notification switches, distinct from
// the per-token TokenPreferences: they express whether the person wants
// notifications at all, not whether one device should vibrate.
type UserPreferences struct {
	NotificationsEnabled bool `json:"notifications_enabled" gorm:"not null;default:true"`
	EmailUpdates         bool `json:"email_updates"         gorm:"not null;default:true"`
}

// User represents an account able to authenticate and own push tokens.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Username / Email: unique login identifiers.
//   - PasswordHash: bcrypt hash; never serialized.
//   - LastLogin / LoginCount: login bookkeeping.
//   - IsActive: soft account switch; inactive users cannot log in.
type User struct {
	ID           string          `json:"id"         gorm:"type:char(36);primaryKey"`
	Username     string          `json:"username"   gorm:"type:varchar(64);not null;uniqueIndex"`
	Email        string          `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash string          `json:"-"          gorm:"type:varchar(255);not null"`
	FirstName    string          `json:"first_name" gorm:"type:varchar(64)"`
	LastName     string          `json:"last_name"  gorm:"type:varchar(64)"`
	IsActive     bool            `json:"is_active"  gorm:"not null;default:true"`
	Preferences  UserPreferences `json:"preferences" gorm:"embedded;embeddedPrefix:pref_"`
	LastLogin    *time.Time      `json:"last_login,omitempty"`
	LoginCount   int64           `json:"login_count" gorm:"not null;default:0"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    gorm.DeletedAt  `json:"-"          gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// DeviceInfo is free-form metadata about the device behind a push token.
// All fields are optional and purely informational.
type DeviceInfo struct {
	Brand      string `json:"brand,omitempty"       gorm:"type:varchar(64)"`
	ModelName  string `json:"model_name,omitempty"  gorm:"type:varchar(64)"`
	OSVersion  string `json:"os_version,omitempty"  gorm:"type:varchar(32)"`
	AppVersion string `json:"app_version,omitempty" gorm:"type:varchar(32)"`
}

// TokenPreferences are per-token delivery switches. Each is independently
// settable; defaults allow everything.
type TokenPreferences struct {
	AllowNotifications bool `json:"allow_notifications" gorm:"not null;default:true"`
	AllowSound         bool `json:"allow_sound"         gorm:"not null;default:true"`
	AllowVibration     bool `json:"allow_vibration"     gorm:"not null;default:true"`
}

// PushToken represents one registered device-delivery endpoint.
//
// The push address (Token) is globally unique: re-registering the same
// address updates the existing row instead of creating a duplicate. A row
// with IsActive=false must never be selected as a send target; rows are
// deactivated rather than deleted.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: owning user identifier; opaque string, not an enforced FK.
//   - Token: provider push address (ExponentPushToken[...]); unique.
//   - DeviceType: one of the Device* constants.
//   - LastUsed: bumped on every registration; drives inactivity cleanup.
//   - LastNotificationSent: set when a send is accepted by the gateway.
//   - NotificationCount: monotonic count of gateway-accepted sends.
type PushToken struct {
	ID                   string           `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID               string           `json:"user_id"     gorm:"type:varchar(64);not null;index:idx_user_active,priority:1"`
	Token                string           `json:"token"       gorm:"type:varchar(255);not null;uniqueIndex"`
	DeviceType           string           `json:"device_type" gorm:"type:varchar(16);not null;index:idx_device_active,priority:1;check:device_type IN ('phone-ios','phone-android','web')"`
	DeviceInfo           DeviceInfo       `json:"device_info" gorm:"embedded;embeddedPrefix:device_"`
	IsActive             bool             `json:"is_active"   gorm:"not null;default:true;index:idx_user_active,priority:2;index:idx_device_active,priority:2"`
	LastUsed             time.Time        `json:"last_used"   gorm:"not null;index"`
	LastNotificationSent *time.Time       `json:"last_notification_sent,omitempty"`
	NotificationCount    int64            `json:"notification_count" gorm:"not null;default:0"`
	Preferences          TokenPreferences `json:"preferences" gorm:"embedded;embeddedPrefix:pref_"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// TableName returns the database table name for PushToken.
func (PushToken) TableName() string { return "push_tokens" }

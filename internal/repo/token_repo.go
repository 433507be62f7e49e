// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the push-token registry: upsert-by-
// address registration, active-token resolution queries used by the
// dispatch engine, liveness transitions, and send bookkeeping.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - Lookups return gorm.ErrRecordNotFound (aliased as ErrNotFound) when a
//     row is missing.
//   - Targeted mutations (RecordSend, UpdateTokenPreferences) return
//     ErrNotFound when they affect zero rows, because their callers need to
//     distinguish existence.
//   - DeactivateToken is deliberately idempotent: deactivating an unknown
//     or already-inactive address is not an error.
//
// Concurrency:
//   - UpsertToken relies on the UNIQUE constraint on the token column plus
//     an ON CONFLICT clause, so concurrent registrations of the same
//     address cannot create duplicates (no check-then-act race).
//   - RecordSend increments the counter inside the UPDATE statement
//     (read-modify-write never leaves the database), so concurrent sends
//     touching the same token cannot lose increments.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mkaroulis/go-push-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// UpsertToken inserts a push token row keyed on the address, or updates the
// existing row in place when the address is already registered: ownership,
// device class, and metadata take the new values, liveness is reset to
// active, and last_used is bumped to now. The persisted row is returned.
//
// Validation of the address and device class happens in the service layer;
// this function only persists.
func UpsertToken(ctx context.Context, db *gorm.DB, userID, token, deviceType string, info domain.DeviceInfo) (*domain.PushToken, error) {
	now := time.Now().UTC()
	row := &domain.PushToken{
		ID:         uuid.NewString(),
		UserID:     userID,
		Token:      token,
		DeviceType: deviceType,
		DeviceInfo: info,
		IsActive:   true,
		LastUsed:   now,
		Preferences: domain.TokenPreferences{
			AllowNotifications: true,
			AllowSound:         true,
			AllowVibration:     true,
		},
		CreatedAt: now,
	}

	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "token"}},
			DoUpdates: clause.Assignments(map[string]any{
				"user_id":            userID,
				"device_type":        deviceType,
				"device_brand":       info.Brand,
				"device_model_name":  info.ModelName,
				"device_os_version":  info.OSVersion,
				"device_app_version": info.AppVersion,
				"is_active":          true,
				"last_used":          now,
				"updated_at":         now,
			}),
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}

	// On conflict the generated ID above never hit the table; reload the
	// authoritative row by its unique address.
	return GetTokenByValue(ctx, db, token)
}

// GetTokenByValue fetches a single token row by its address, or ErrNotFound.
func GetTokenByValue(ctx context.Context, db *gorm.DB, token string) (*domain.PushToken, error) {
	var row domain.PushToken
	err := db.WithContext(ctx).Where("token = ?", token).First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindActiveTokensByUser returns every active token owned by userID.
// Unknown users simply yield an empty slice.
func FindActiveTokensByUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.PushToken, error) {
	var out []domain.PushToken
	err := db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// FindActiveTokensByUsers returns the union of active tokens across the
// given users. Addresses are unique at the storage layer, so the result
// contains no duplicate addresses.
func FindActiveTokensByUsers(ctx context.Context, db *gorm.DB, userIDs []string) ([]domain.PushToken, error) {
	if len(userIDs) == 0 {
		return []domain.PushToken{}, nil
	}
	var out []domain.PushToken
	err := db.WithContext(ctx).
		Where("user_id IN ? AND is_active = ?", userIDs, true).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// FindAllActiveTokens returns every active token in the registry.
func FindAllActiveTokens(ctx context.Context, db *gorm.DB) ([]domain.PushToken, error) {
	var out []domain.PushToken
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// FindActiveTokensByDeviceType returns every active token of one device
// class.
func FindActiveTokensByDeviceType(ctx context.Context, db *gorm.DB, deviceType string) ([]domain.PushToken, error) {
	var out []domain.PushToken
	err := db.WithContext(ctx).
		Where("device_type = ? AND is_active = ?", deviceType, true).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// CountTokensByUser returns the total number of token rows (active or not)
// owned by userID, for pagination.
func CountTokensByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.PushToken{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListTokensByUserPage returns a page of userID's token rows, most recently
// used first.
func ListTokensByUserPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.PushToken, error) {
	var out []domain.PushToken
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_used desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeactivateToken clears the liveness flag of the given address. It is
// idempotent: deactivating an unknown or already-inactive address affects
// zero rows and is not an error. The found report lets callers that care
// about existence surface NotFound themselves.
func DeactivateToken(ctx context.Context, db *gorm.DB, token string) (found bool, err error) {
	res := db.WithContext(ctx).
		Model(&domain.PushToken{}).
		Where("token = ? AND is_active = ?", token, true).
		Update("is_active", false)
	return res.RowsAffected > 0, res.Error
}

// RecordSend bumps the notification counter and last-sent timestamp of the
// given address after a gateway-accepted send. The increment happens inside
// the UPDATE so concurrent dispatches cannot lose counts. Returns
// ErrNotFound when the address is unknown.
func RecordSend(ctx context.Context, db *gorm.DB, token string) error {
	res := db.WithContext(ctx).
		Model(&domain.PushToken{}).
		Where("token = ?", token).
		Updates(map[string]any{
			"notification_count":     gorm.Expr("notification_count + 1"),
			"last_notification_sent": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTokenPreferences replaces the per-token delivery preferences of the
// given address. Returns ErrNotFound when the address is unknown.
func UpdateTokenPreferences(ctx context.Context, db *gorm.DB, token string, prefs domain.TokenPreferences) error {
	res := db.WithContext(ctx).
		Model(&domain.PushToken{}).
		Where("token = ?", token).
		Updates(map[string]any{
			"pref_allow_notifications": prefs.AllowNotifications,
			"pref_allow_sound":         prefs.AllowSound,
			"pref_allow_vibration":     prefs.AllowVibration,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CleanupInactiveTokens deactivates every active token whose last_used is
// strictly older than now minus the given number of days, returning how
// many rows were deactivated. The sweep is a single UPDATE statement, so it
// is safe to run concurrently with registration and dispatch, and running
// it twice in a row deactivates nothing the second time.
func CleanupInactiveTokens(ctx context.Context, db *gorm.DB, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res := db.WithContext(ctx).
		Model(&domain.PushToken{}).
		Where("is_active = ? AND last_used < ?", true, cutoff).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}

// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User
// model: account creation, login lookups, and login bookkeeping.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mkaroulis/go-push-backend/internal/domain"
)

// ErrDuplicateUser indicates the username or email is already registered.
var ErrDuplicateUser = errors.New("username or email already registered")

// CreateUser inserts a new account row with a UUID primary key. Emails are
// stored lowercased. Unique violations on username or email surface as
// ErrDuplicateUser.
func CreateUser(ctx context.Context, db *gorm.DB, username, email, passwordHash, firstName, lastName string) (*domain.User, error) {
	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        strings.ToLower(email),
		PasswordHash: passwordHash,
		FirstName:    firstName,
		LastName:     lastName,
		IsActive:     true,
		Preferences: domain.UserPreferences{
			NotificationsEnabled: true,
			EmailUpdates:         true,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}
	return u, nil
}

// GetUser fetches an account by ID, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByLogin fetches an active account by email or username. Email
// comparison is case-insensitive (stored lowercased); usernames match
// exactly. Returns ErrNotFound when no active account matches.
func FindUserByLogin(ctx context.Context, db *gorm.DB, emailOrUsername string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("(email = ? OR username = ?) AND is_active = ?",
			strings.ToLower(emailOrUsername), emailOrUsername, true).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// RecordLogin bumps the login counter and last-login timestamp. The
// increment happens inside the UPDATE statement.
func RecordLogin(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"login_count": gorm.Expr("login_count + 1"),
			"last_login":  time.Now().UTC(),
		}).Error
}

// UpdateUserProfile replaces the editable account fields. Empty names are
// left untouched; a nil prefs keeps the stored preferences. Returns
// ErrNotFound when the account does not exist.
func UpdateUserProfile(ctx context.Context, db *gorm.DB, id, firstName, lastName string, prefs *domain.UserPreferences) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}

	if firstName != "" {
		u.FirstName = firstName
	}
	if lastName != "" {
		u.LastName = lastName
	}
	if prefs != nil {
		u.Preferences = *prefs
	}

	// Updates with a map so false preference values are not skipped as
	// zero values.
	err := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"first_name":                 u.FirstName,
			"last_name":                  u.LastName,
			"pref_notifications_enabled": u.Preferences.NotificationsEnabled,
			"pref_email_updates":         u.Preferences.EmailUpdates,
		}).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdatePassword replaces the stored password hash. Returns ErrNotFound
// when the account does not exist.
func UpdatePassword(ctx context.Context, db *gorm.DB, id, passwordHash string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Update("password_hash", passwordHash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

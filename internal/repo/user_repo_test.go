package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mkaroulis/go-push-backend/internal/domain"
)

func newUserRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("user_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestCreateUser_Success_LowercasesEmail(t *testing.T) {
	db := newUserRepoDB(t)

	u, err := CreateUser(context.Background(), db, "alice", "Alice@Example.COM", "hash", "Alice", "Doe")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" || u.Username != "alice" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.Email != "alice@example.com" {
		t.Fatalf("email = %q, want lowercased", u.Email)
	}
	if !u.IsActive {
		t.Fatalf("new account should be active")
	}
	if !u.Preferences.NotificationsEnabled || !u.Preferences.EmailUpdates {
		t.Fatalf("default preferences should allow everything: %+v", u.Preferences)
	}
}

func TestCreateUser_DuplicateUsernameOrEmail(t *testing.T) {
	db := newUserRepoDB(t)
	ctx := context.Background()

	if _, err := CreateUser(ctx, db, "alice", "alice@example.com", "hash", "", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := CreateUser(ctx, db, "alice", "other@example.com", "hash", "", ""); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("duplicate username err = %v, want ErrDuplicateUser", err)
	}
	if _, err := CreateUser(ctx, db, "bob", "ALICE@example.com", "hash", "", ""); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("duplicate email err = %v, want ErrDuplicateUser", err)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	db := newUserRepoDB(t)
	_, err := GetUser(context.Background(), db, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFindUserByLogin_MatchesEmailAndUsername(t *testing.T) {
	db := newUserRepoDB(t)
	ctx := context.Background()

	seeded, err := CreateUser(ctx, db, "alice", "alice@example.com", "hash", "", "")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	byName, err := FindUserByLogin(ctx, db, "alice")
	if err != nil || byName.ID != seeded.ID {
		t.Fatalf("by username = %v, %v", byName, err)
	}
	byEmail, err := FindUserByLogin(ctx, db, "ALICE@Example.com")
	if err != nil || byEmail.ID != seeded.ID {
		t.Fatalf("by email = %v, %v", byEmail, err)
	}
	if _, err := FindUserByLogin(ctx, db, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown login err = %v, want ErrNotFound", err)
	}
}

func TestFindUserByLogin_SkipsInactiveAccounts(t *testing.T) {
	db := newUserRepoDB(t)
	ctx := context.Background()

	u, err := CreateUser(ctx, db, "alice", "alice@example.com", "hash", "", "")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := db.Model(&domain.User{}).Where("id = ?", u.ID).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := FindUserByLogin(ctx, db, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inactive account err = %v, want ErrNotFound", err)
	}
}

func TestRecordLogin_IncrementsCounter(t *testing.T) {
	db := newUserRepoDB(t)
	ctx := context.Background()

	u, err := CreateUser(ctx, db, "alice", "alice@example.com", "hash", "", "")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := RecordLogin(ctx, db, u.ID); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}
	if err := RecordLogin(ctx, db, u.ID); err != nil {
		t.Fatalf("RecordLogin again: %v", err)
	}

	got, err := GetUser(ctx, db, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.LoginCount != 2 {
		t.Fatalf("LoginCount = %d, want 2", got.LoginCount)
	}
	if got.LastLogin == nil {
		t.Fatalf("LastLogin not set")
	}
}

func TestUpdateUserProfile_PartialUpdate(t *testing.T) {
	db := newUserRepoDB(t)
	ctx := context.Background()

	u, err := CreateUser(ctx, db, "alice", "alice@example.com", "hash", "Alice", "Doe")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Only the last name changes; first name and preferences stay put.
	if _, err := UpdateUserProfile(ctx, db, u.ID, "", "Smith", nil); err != nil {
		t.Fatalf("UpdateUserProfile: %v", err)
	}
	got, err := GetUser(ctx, db, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.FirstName != "Alice" || got.LastName != "Smith" {
		t.Fatalf("names = %q %q, want Alice Smith", got.FirstName, got.LastName)
	}
	if !got.Preferences.NotificationsEnabled || !got.Preferences.EmailUpdates {
		t.Fatalf("preferences must survive a name-only update: %+v", got.Preferences)
	}

	// Preferences replacement persists false values.
	prefs := domain.UserPreferences{NotificationsEnabled: false, EmailUpdates: true}
	if _, err := UpdateUserProfile(ctx, db, u.ID, "", "", &prefs); err != nil {
		t.Fatalf("UpdateUserProfile prefs: %v", err)
	}
	got, err = GetUser(ctx, db, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Preferences != prefs {
		t.Fatalf("preferences = %+v, want %+v", got.Preferences, prefs)
	}
}

func TestUpdateUserProfile_UnknownAccount(t *testing.T) {
	db := newUserRepoDB(t)
	if _, err := UpdateUserProfile(context.Background(), db, "nope", "A", "B", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdatePassword(t *testing.T) {
	db := newUserRepoDB(t)
	ctx := context.Background()

	u, err := CreateUser(ctx, db, "alice", "alice@example.com", "old-hash", "", "")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := UpdatePassword(ctx, db, u.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	got, err := GetUser(ctx, db, u.ID)
	if err != nil || got.PasswordHash != "new-hash" {
		t.Fatalf("hash = %q, %v", got.PasswordHash, err)
	}
	if err := UpdatePassword(ctx, db, "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown account err = %v, want ErrNotFound", err)
	}
}

package services

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
	"github.com/mkaroulis/go-push-backend/internal/repo"
)

// dbUserRepo backs the UserRepo contract with the real repository functions
// so these tests exercise the full service-to-storage path.
type dbUserRepo struct{}

func (dbUserRepo) CreateUser(ctx context.Context, db *gorm.DB, username, email, passwordHash, firstName, lastName string) (*domain.User, error) {
	return repo.CreateUser(ctx, db, username, email, passwordHash, firstName, lastName)
}

func (dbUserRepo) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

func (dbUserRepo) FindUserByLogin(ctx context.Context, db *gorm.DB, emailOrUsername string) (*domain.User, error) {
	return repo.FindUserByLogin(ctx, db, emailOrUsername)
}

func (dbUserRepo) RecordLogin(ctx context.Context, db *gorm.DB, id string) error {
	return repo.RecordLogin(ctx, db, id)
}

func (dbUserRepo) UpdateUserProfile(ctx context.Context, db *gorm.DB, id, firstName, lastName string, prefs *domain.UserPreferences) (*domain.User, error) {
	return repo.UpdateUserProfile(ctx, db, id, firstName, lastName, prefs)
}

func (dbUserRepo) UpdatePassword(ctx context.Context, db *gorm.DB, id, passwordHash string) error {
	return repo.UpdatePassword(ctx, db, id, passwordHash)
}

func newAuthDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("auth_test_%d.db", time.Now().UnixNano()))
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

func newAuthService(t *testing.T) *AuthService {
	t.Helper()
	return NewAuthService(newAuthDB(t), dbUserRepo{}, []byte("test-secret"), time.Hour)
}

func TestAuthRegister_Success_HashesPassword(t *testing.T) {
	svc := newAuthService(t)

	u, err := svc.Register(context.Background(), "alice", "alice@example.com", "s3cretpass", "Alice", "Doe")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.ID == "" || u.Username != "alice" {
		t.Fatalf("user = %+v", u)
	}
	if u.PasswordHash == "" || u.PasswordHash == "s3cretpass" {
		t.Fatalf("password stored unhashed: %q", u.PasswordHash)
	}
}

func TestAuthRegister_BlankFieldsAndDuplicates(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()

	for _, c := range []struct{ username, email, password string }{
		{"", "a@example.com", "p"},
		{"alice", "", "p"},
		{"alice", "a@example.com", ""},
	} {
		if _, err := svc.Register(ctx, c.username, c.email, c.password, "", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("register %+v: err = %v, want ErrInvalidCredentials", c, err)
		}
	}

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "s3cretpass", "", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "other@example.com", "s3cretpass", "", ""); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate err = %v, want ErrUserExists", err)
	}
}

func TestAuthLogin_IssuesVerifiableToken(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()

	seeded, err := svc.Register(ctx, "alice", "alice@example.com", "s3cretpass", "", "")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	token, user, err := svc.Login(ctx, "alice", "s3cretpass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" || user == nil || user.ID != seeded.ID {
		t.Fatalf("token=%q user=%+v", token, user)
	}

	claims, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Subject != seeded.ID || claims.Username != "alice" || claims.Email != "alice@example.com" {
		t.Fatalf("claims = %+v", claims)
	}

	// Login by email (any case) works too, and bumps the counter.
	if _, _, err := svc.Login(ctx, "ALICE@Example.com", "s3cretpass"); err != nil {
		t.Fatalf("login by email: %v", err)
	}
	u, err := svc.Profile(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if u.LoginCount != 2 {
		t.Fatalf("LoginCount = %d, want 2", u.LoginCount)
	}
}

func TestAuthLogin_WrongPasswordAndUnknownUser(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "s3cretpass", "", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Both failure modes collapse onto the same error.
	if _, _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody", "s3cretpass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v", err)
	}
}

func TestAuthVerifyToken_RejectsTampering(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "s3cretpass", "", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	token, _, err := svc.Login(ctx, "alice", "s3cretpass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := svc.VerifyToken(token + "x"); err == nil {
		t.Fatalf("tampered token accepted")
	}
	if _, err := svc.VerifyToken("not-a-jwt"); err == nil {
		t.Fatalf("garbage token accepted")
	}

	// A token signed with a different secret is rejected.
	other := NewAuthService(svc.DB, dbUserRepo{}, []byte("other-secret"), time.Hour)
	if _, err := other.VerifyToken(token); err == nil {
		t.Fatalf("token verified across secrets")
	}
}

func TestAuthVerifyToken_RejectsExpired(t *testing.T) {
	db := newAuthDB(t)
	svc := NewAuthService(db, dbUserRepo{}, []byte("test-secret"), -time.Minute)
	// NewAuthService coerces non-positive TTLs to the default; force the
	// expired window directly.
	svc.TokenTTL = -time.Minute
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "s3cretpass", "", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	token, _, err := svc.Login(ctx, "alice", "s3cretpass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.VerifyToken(token); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestAuthUpdateProfile(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "alice@example.com", "s3cretpass", "Alice", "Doe")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	prefs := domain.UserPreferences{NotificationsEnabled: false, EmailUpdates: true}
	got, err := svc.UpdateProfile(ctx, u.ID, "  Alicia ", "", &prefs)
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if got.FirstName != "Alicia" || got.LastName != "Doe" {
		t.Fatalf("names = %q %q, want trimmed first name and untouched last name", got.FirstName, got.LastName)
	}
	if got.Preferences != prefs {
		t.Fatalf("preferences = %+v, want %+v", got.Preferences, prefs)
	}

	if _, err := svc.UpdateProfile(ctx, "nope", "A", "B", nil); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user err = %v, want ErrUserNotFound", err)
	}
}

func TestAuthProfile_NotFound(t *testing.T) {
	svc := newAuthService(t)
	if _, err := svc.Profile(context.Background(), "nope"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestAuthChangePassword(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "alice@example.com", "oldpassword", "", "")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := svc.ChangePassword(ctx, u.ID, "wrong", "newpassword"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current err = %v", err)
	}
	if err := svc.ChangePassword(ctx, u.ID, "oldpassword", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty next err = %v", err)
	}
	if err := svc.ChangePassword(ctx, "nope", "oldpassword", "newpassword"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user err = %v", err)
	}

	if err := svc.ChangePassword(ctx, u.ID, "oldpassword", "newpassword"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice", "oldpassword"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted")
	}
	if _, _, err := svc.Login(ctx, "alice", "newpassword"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

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

func newIdemDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("idem_test_%d.db", time.Now().UnixNano()))
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
	if err := db.AutoMigrate(&domain.Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestCreateAndGetIdempotency_RoundTrip(t *testing.T) {
	db := newIdemDB(t)
	ctx := context.Background()

	outcome := domain.DispatchOutcome{Success: true, SentCount: 42, ErrorCount: 3, TotalTargeted: 45}
	rec, err := CreateIdempotency(ctx, db, "u1", "send-all", "key-1", 200, outcome, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.ID == "" || rec.Status != 200 || rec.Outcome != outcome {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetIdempotency(ctx, db, "u1", "send-all", "key-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("GetIdempotency: %v", err)
	}
	if got.ID != rec.ID || got.Outcome != outcome {
		t.Fatalf("got %+v, want persisted record", got)
	}
}

func TestGetIdempotency_ScopedByUserAndRoute(t *testing.T) {
	db := newIdemDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := CreateIdempotency(ctx, db, "u1", "send", "key-1", 200, domain.DispatchOutcome{Success: true, SentCount: 1, TotalTargeted: 1}, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Same key under another user or another scope is a fresh request.
	if _, err := GetIdempotency(ctx, db, "u2", "send", "key-1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other user err = %v, want ErrNotFound", err)
	}
	if _, err := GetIdempotency(ctx, db, "u1", "send-all", "key-1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other scope err = %v, want ErrNotFound", err)
	}
	if _, err := GetIdempotency(ctx, db, "u1", "send", "key-1", now); err != nil {
		t.Fatalf("matching tuple: %v", err)
	}
}

func TestGetIdempotency_EmptyKeyAndExpiry(t *testing.T) {
	db := newIdemDB(t)
	ctx := context.Background()

	if _, err := GetIdempotency(ctx, db, "u1", "send", "  ", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank key err = %v, want ErrNotFound", err)
	}

	if _, err := CreateIdempotency(ctx, db, "u1", "send", "key-1", 200, domain.DispatchOutcome{Success: true, SentCount: 1, TotalTargeted: 1}, time.Minute); err != nil {
		t.Fatalf("seed: %v", err)
	}
	past := time.Now().UTC().Add(2 * time.Minute)
	if _, err := GetIdempotency(ctx, db, "u1", "send", "key-1", past); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record err = %v, want ErrNotFound", err)
	}
}

func TestCreateIdempotency_DuplicateTuple(t *testing.T) {
	db := newIdemDB(t)
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, "u1", "send", "key-1", 200, domain.DispatchOutcome{Success: true, SentCount: 1, TotalTargeted: 1}, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "u1", "send", "key-1", 200, domain.DispatchOutcome{Success: true, SentCount: 9, TotalTargeted: 9}, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate err = %v, want ErrDuplicate", err)
	}
	// Different key in the same scope is fine.
	if _, err := CreateIdempotency(ctx, db, "u1", "send", "key-2", 200, domain.DispatchOutcome{Success: true, SentCount: 1, TotalTargeted: 1}, time.Hour); err != nil {
		t.Fatalf("second key: %v", err)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mkaroulis/go-push-backend/internal/domain"
	"github.com/mkaroulis/go-push-backend/internal/expo"
	"github.com/mkaroulis/go-push-backend/internal/repo"
	"github.com/mkaroulis/go-push-backend/internal/services"
)

func newDispatchDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("push_replay_test_%d.db", time.Now().UnixNano()))
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
	if err := db.AutoMigrate(&domain.PushToken{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// dbTokenResolver backs the dispatch engine with the real repository so these
// tests run the handler, service, and storage layers together.
type dbTokenResolver struct{}

func (dbTokenResolver) FindActiveTokensByUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.PushToken, error) {
	return repo.FindActiveTokensByUser(ctx, db, userID)
}

func (dbTokenResolver) FindActiveTokensByUsers(ctx context.Context, db *gorm.DB, userIDs []string) ([]domain.PushToken, error) {
	return repo.FindActiveTokensByUsers(ctx, db, userIDs)
}

func (dbTokenResolver) FindAllActiveTokens(ctx context.Context, db *gorm.DB) ([]domain.PushToken, error) {
	return repo.FindAllActiveTokens(ctx, db)
}

func (dbTokenResolver) FindActiveTokensByDeviceType(ctx context.Context, db *gorm.DB, deviceType string) ([]domain.PushToken, error) {
	return repo.FindActiveTokensByDeviceType(ctx, db, deviceType)
}

func (dbTokenResolver) RecordSend(ctx context.Context, db *gorm.DB, token string) error {
	return repo.RecordSend(ctx, db, token)
}

func (dbTokenResolver) DeactivateToken(ctx context.Context, db *gorm.DB, token string) (bool, error) {
	return repo.DeactivateToken(ctx, db, token)
}

// partialGateway accepts the first message of each call and throttles the
// rest, counting calls so replays can prove the gateway stayed idle.
type partialGateway struct {
	calls int
}

func (g *partialGateway) SendBatch(_ context.Context, msgs []expo.Message) ([]expo.Ticket, error) {
	g.calls++
	out := make([]expo.Ticket, len(msgs))
	for i := range msgs {
		if i == 0 {
			out[i] = expo.Ticket{Status: expo.TicketOK, ID: fmt.Sprintf("receipt-%d", i)}
			continue
		}
		out[i] = expo.Ticket{
			Status:  expo.TicketError,
			Message: "rate exceeded",
			Details: &expo.TicketDetails{Error: string(expo.ReasonMessageRateExceeded)},
		}
	}
	return out, nil
}

func seedActiveToken(t *testing.T, db *gorm.DB, userID, address string) {
	t.Helper()
	if _, err := repo.UpsertToken(context.Background(), db, userID, address, domain.DevicePhoneIOS, domain.DeviceInfo{}); err != nil {
		t.Fatalf("seed token %s: %v", address, err)
	}
}

func TestSend_Replay_EchoesFullEnvelope(t *testing.T) {
	db := newDispatchDB(t)
	gw := &partialGateway{}
	h := New(stubAuthSvc{}, stubTokenSvc{}, services.NewDispatchService(db, dbTokenResolver{}, gw))
	r := newTestRouter(h)

	seedActiveToken(t, db, "u1", "ExponentPushToken[replay-1]")
	seedActiveToken(t, db, "u1", "ExponentPushToken[replay-2]")

	hdr := map[string]string{"X-User-ID": "admin", "Idempotency-Key": "retry-1"}
	body := `{"user_id":"u1","title":"hi","body":"there"}`

	// First call: one accepted, one throttled.
	w := doJSON(r, http.MethodPost, "/api/v1/notifications/send", body, hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("first send: %d %s", w.Code, w.Body.String())
	}
	var first services.DispatchResult
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !first.Success || first.SentCount != 1 || first.ErrorCount != 1 || first.TotalTargeted != 2 {
		t.Fatalf("unexpected first envelope: %+v", first)
	}
	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.calls)
	}

	// Replay: same envelope, including the failure counts, and no new
	// gateway traffic.
	w = doJSON(r, http.MethodPost, "/api/v1/notifications/send", body, hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("replay: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay not marked: %v", w.Header())
	}
	var replay services.DispatchResult
	if err := json.Unmarshal(w.Body.Bytes(), &replay); err != nil {
		t.Fatalf("json: %v", err)
	}
	if replay.Success != first.Success ||
		replay.SentCount != first.SentCount ||
		replay.ErrorCount != first.ErrorCount ||
		replay.TotalTargeted != first.TotalTargeted {
		t.Fatalf("replay envelope %+v, want %+v", replay, first)
	}
	if gw.calls != 1 {
		t.Fatalf("replay reached the gateway: calls = %d", gw.calls)
	}
}

func TestSend_Replay_ScopedByUser(t *testing.T) {
	db := newDispatchDB(t)
	gw := &partialGateway{}
	h := New(stubAuthSvc{}, stubTokenSvc{}, services.NewDispatchService(db, dbTokenResolver{}, gw))
	r := newTestRouter(h)

	seedActiveToken(t, db, "u1", "ExponentPushToken[scoped-1]")

	body := `{"user_id":"u1","title":"hi","body":"there"}`
	if w := doJSON(r, http.MethodPost, "/api/v1/notifications/send", body,
		map[string]string{"X-User-ID": "admin-a", "Idempotency-Key": "k"}); w.Code != http.StatusOK {
		t.Fatalf("first send: %d", w.Code)
	}

	// A different caller with the same key is a fresh request.
	w := doJSON(r, http.MethodPost, "/api/v1/notifications/send", body,
		map[string]string{"X-User-ID": "admin-b", "Idempotency-Key": "k"})
	if w.Code != http.StatusOK {
		t.Fatalf("second send: %d", w.Code)
	}
	if w.Header().Get("Idempotency-Replayed") == "true" {
		t.Fatalf("cross-user replay must not trigger")
	}
	if gw.calls != 2 {
		t.Fatalf("gateway calls = %d, want 2", gw.calls)
	}
}

func TestSend_IdempotencyTTL_Configurable(t *testing.T) {
	db := newDispatchDB(t)
	h := New(stubAuthSvc{}, stubTokenSvc{}, services.NewDispatchService(db, dbTokenResolver{}, &partialGateway{}))
	h.IdempotencyTTL = time.Hour
	r := newTestRouter(h)

	seedActiveToken(t, db, "u1", "ExponentPushToken[ttl-1]")

	w := doJSON(r, http.MethodPost, "/api/v1/notifications/send",
		`{"user_id":"u1","title":"hi","body":"there"}`,
		map[string]string{"X-User-ID": "admin", "Idempotency-Key": "short-lived"})
	if w.Code != http.StatusOK {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}

	ctx := context.Background()
	if _, err := repo.GetIdempotency(ctx, db, "admin", "send", "short-lived",
		time.Now().UTC().Add(30*time.Minute)); err != nil {
		t.Fatalf("record should be alive inside the TTL: %v", err)
	}
	if _, err := repo.GetIdempotency(ctx, db, "admin", "send", "short-lived",
		time.Now().UTC().Add(2*time.Hour)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("record should expire after the TTL, got %v", err)
	}
}

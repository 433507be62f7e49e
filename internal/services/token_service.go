// Package services – TokenService
//
// This file implements the TokenService, which manages the lifecycle of
// push-token registrations. It validates addresses and device classes
// before anything reaches storage, and coordinates repository operations
// for registration (upsert), listing, preference updates, deactivation,
// the inactivity cleanup sweep, and registry statistics.
//
// Service-level errors (e.g., ErrInvalidPushToken) are returned for
// predictable cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/mkaroulis/go-push-backend/internal/domain"
	"github.com/mkaroulis/go-push-backend/internal/expo"
	"github.com/mkaroulis/go-push-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCleanupDays is the inactivity threshold applied when a cleanup
// request does not name one.
const DefaultCleanupDays = 30

// TokenRepo defines the repository contract required by TokenService.
// Implementations are responsible for persistence of push-token records.
type TokenRepo interface {
	// UpsertToken inserts or updates-in-place keyed on address.
	UpsertToken(ctx context.Context, db *gorm.DB, userID, token, deviceType string, info domain.DeviceInfo) (*domain.PushToken, error)

	// DeactivateToken clears liveness; idempotent, reports existence.
	DeactivateToken(ctx context.Context, db *gorm.DB, token string) (bool, error)

	// UpdateTokenPreferences replaces per-token delivery preferences.
	UpdateTokenPreferences(ctx context.Context, db *gorm.DB, token string, prefs domain.TokenPreferences) error

	// CountTokensByUser returns the total token rows for pagination.
	CountTokensByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListTokensByUserPage returns a page of a user's token rows.
	ListTokensByUserPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.PushToken, error)

	// CleanupInactiveTokens deactivates stale rows and returns the count.
	CleanupInactiveTokens(ctx context.Context, db *gorm.DB, days int) (int64, error)

	// AggregateTokenStats computes registry-wide statistics.
	AggregateTokenStats(ctx context.Context, db *gorm.DB) (*repo.TokenStats, error)
}

// TokenService provides registration-side operations on the token registry.
type TokenService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the token repository used by this service.
	Repo TokenRepo
}

// NewTokenService constructs a TokenService.
func NewTokenService(db *gorm.DB, r TokenRepo) *TokenService {
	return &TokenService{DB: db, Repo: r}
}

// Register validates and upserts a push token. Re-registering a known
// address updates ownership, device class, and metadata, reactivates the
// row, and bumps last-used; it never creates a duplicate.
func (s *TokenService) Register(ctx context.Context, userID, token, deviceType string, info domain.DeviceInfo) (*domain.PushToken, error) {
	tr := otel.Tracer("services/TokenService")
	ctx, span := tr.Start(ctx, "Register",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("device.type", deviceType),
		),
	)
	defer span.End()

	if !expo.IsPushToken(token) {
		return nil, ErrInvalidPushToken
	}
	if !domain.ValidDeviceType(deviceType) {
		return nil, ErrInvalidDeviceType
	}
	return s.Repo.UpsertToken(ctx, s.DB, userID, token, deviceType, info)
}

// ListPage returns a page of a user's token rows and the total count.
// It applies defaults for invalid page/pageSize.
func (s *TokenService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.PushToken, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountTokensByUser(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.PushToken{}, 0, nil
	}

	items, err := s.Repo.ListTokensByUserPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Deactivate retires an address on explicit request. Unlike the engine's
// reconciliation path, the caller here named a specific address, so an
// unknown one surfaces as ErrTokenNotFound.
func (s *TokenService) Deactivate(ctx context.Context, token string) error {
	found, err := s.Repo.DeactivateToken(ctx, s.DB, token)
	if err != nil {
		return err
	}
	if !found {
		return ErrTokenNotFound
	}
	return nil
}

// UpdatePreferences replaces the delivery preferences of one address.
func (s *TokenService) UpdatePreferences(ctx context.Context, token string, prefs domain.TokenPreferences) error {
	err := s.Repo.UpdateTokenPreferences(ctx, s.DB, token, prefs)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrTokenNotFound
	}
	return err
}

// Cleanup deactivates every active token unused for longer than days.
// A non-positive days falls back to DefaultCleanupDays. The sweep is
// externally triggered (cron-like); there is no internal timer.
func (s *TokenService) Cleanup(ctx context.Context, days int) (int64, error) {
	tr := otel.Tracer("services/TokenService")
	ctx, span := tr.Start(ctx, "Cleanup",
		trace.WithAttributes(attribute.Int("days", days)),
	)
	defer span.End()

	if days <= 0 {
		days = DefaultCleanupDays
	}
	return s.Repo.CleanupInactiveTokens(ctx, s.DB, days)
}

// Stats returns the aggregate registry statistics.
func (s *TokenService) Stats(ctx context.Context) (*repo.TokenStats, error) {
	return s.Repo.AggregateTokenStats(ctx, s.DB)
}

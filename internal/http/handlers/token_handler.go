// Push-token registry HTTP handlers.
//
// This file exposes REST endpoints for push-token lifecycle:
//   - POST   /notifications/token               (register or refresh a token)
//   - GET    /notifications/tokens/{userId}     (list a user's active tokens, paginated)
//   - DELETE /notifications/token               (deactivate a token)
//   - PUT    /notifications/token/preferences   (update notification preferences)
//   - GET    /notifications/stats               (registry aggregates)
//   - POST   /notifications/cleanup             (deactivate stale tokens)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkaroulis/go-push-backend/internal/domain"
	"github.com/mkaroulis/go-push-backend/internal/repo"
	"github.com/mkaroulis/go-push-backend/internal/services"
	"github.com/mkaroulis/go-push-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// TokenService defines push-token registry operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type TokenService interface {
	// Register stores or refreshes a push token for a user.
	Register(ctx context.Context, userID, token, deviceType string, info domain.DeviceInfo) (*domain.PushToken, error)
	// ListPage returns a page of a user's active tokens and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.PushToken, int64, error)
	// Deactivate marks a token inactive by its address.
	Deactivate(ctx context.Context, token string) error
	// UpdatePreferences replaces the notification preferences of a token.
	UpdatePreferences(ctx context.Context, token string, prefs domain.TokenPreferences) error
	// Cleanup deactivates tokens unused for the given number of days.
	Cleanup(ctx context.Context, days int) (int64, error)
	// Stats returns registry-wide aggregates.
	Stats(ctx context.Context) (*repo.TokenStats, error)
}

// DispatchService defines notification fan-out operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type DispatchService interface {
	// Dispatch fans one notification out to every token selected by target.
	Dispatch(ctx context.Context, target services.Target, n services.Notification) (*services.DispatchResult, error)
}

// AuthService defines account operations consumed by HTTP handlers.
type AuthService interface {
	Register(ctx context.Context, username, email, password, firstName, lastName string) (*domain.User, error)
	Login(ctx context.Context, emailOrUsername, password string) (token string, user *domain.User, err error)
	Profile(ctx context.Context, userID string) (*domain.User, error)
	UpdateProfile(ctx context.Context, userID, firstName, lastName string, prefs *domain.UserPreferences) (*domain.User, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for accounts, the token registry, and
// dispatch. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	authSvc     AuthService
	tokenSvc    TokenService
	dispatchSvc DispatchService

	// CleanupDays is the sweep window applied when a cleanup request does
	// not name one. New sets services.DefaultCleanupDays; the router
	// overrides it with the configured value.
	CleanupDays int

	// IdempotencyTTL bounds how long a stored send envelope can be
	// replayed. New sets 24h; the router overrides it with the configured
	// value.
	IdempotencyTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(authSvc AuthService, tokenSvc TokenService, dispatchSvc DispatchService) *Handlers {
	return &Handlers{
		authSvc:        authSvc,
		tokenSvc:       tokenSvc,
		dispatchSvc:    dispatchSvc,
		CleanupDays:    services.DefaultCleanupDays,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "anonymous". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "anonymous"
}

//
// DTOs
//

// RegisterTokenRequest is the JSON payload for registering a push token.
type RegisterTokenRequest struct {
	// Token is the push-token address issued to the device.
	Token string `json:"token" binding:"required" example:"ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]"`
	// DeviceType is one of "phone-ios", "phone-android", "web".
	DeviceType string `json:"device_type" binding:"required" example:"phone-ios"`
	// DeviceInfo optionally describes the registering device.
	DeviceInfo domain.DeviceInfo `json:"device_info"`
}

// RegisterTokenResponse is the JSON envelope for a stored token record.
type RegisterTokenResponse struct {
	Token *domain.PushToken `json:"token"`
}

// DeleteTokenRequest is the JSON payload for deactivating a push token.
type DeleteTokenRequest struct {
	Token string `json:"token" binding:"required" example:"ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]"`
}

// UpdatePreferencesRequest is the JSON payload for replacing the
// notification preferences stored on a token.
type UpdatePreferencesRequest struct {
	Token       string                  `json:"token" binding:"required"`
	Preferences domain.TokenPreferences `json:"preferences"`
}

// ListTokensResponse contains a page of push tokens and pagination metadata.
type ListTokensResponse struct {
	Tokens     []domain.PushToken `json:"tokens"`
	Pagination Pagination         `json:"pagination"`
}

// CleanupRequest is the JSON payload for the stale-token sweep. Days <= 0
// selects the service default window.
type CleanupRequest struct {
	Days int `json:"days" example:"30"`
}

// CleanupResponse reports how many tokens a sweep deactivated.
type CleanupResponse struct {
	Deactivated int64 `json:"deactivated"`
	Days        int   `json:"days"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// clampPagination parses page/page_size from query parameters, applies sane
// defaults and caps, and returns the validated (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// RegisterToken godoc
// @ID          registerToken
// @Summary     Register a push token
// @Description Stores or refreshes a push token for the authenticated user.
// @Description Re-registering an existing token re-activates it and moves it
// @Description to the calling user; the registry never stores duplicates.
// @Tags        Tokens
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.RegisterTokenRequest  true  "Token payload"
// @Success     200  {object}  handlers.RegisterTokenResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid token or device type"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notifications/token [post]
func (h *Handlers) RegisterToken(c *gin.Context) {
	ctx := c.Request.Context()

	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "token and device_type required")
		return
	}

	rec, err := h.tokenSvc.Register(ctx, userID(c), strings.TrimSpace(req.Token), req.DeviceType, req.DeviceInfo)
	if err != nil {
		switch err {
		case services.ErrInvalidPushToken:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid push token format")
		case services.ErrInvalidDeviceType:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "device_type must be one of phone-ios, phone-android, web")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeRegisterFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, RegisterTokenResponse{Token: rec})
}

// ListTokens godoc
// @ID          listTokens
// @Summary     List a user's active push tokens
// @Tags        Tokens
// @Produce     json
// @Security    BearerAuth
// @Param       userId     path   string  true  "User ID"
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListTokensResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notifications/tokens/{userId} [get]
func (h *Handlers) ListTokens(c *gin.Context) {
	ctx := c.Request.Context()
	uid := c.Param("userId")
	if uid == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "userId required")
		return
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.tokenSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListTokensResponse{
		Tokens: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// DeleteToken godoc
// @ID          deleteToken
// @Summary     Deactivate a push token
// @Description Marks the token inactive so it is excluded from future dispatch.
// @Description The record is kept for audit; the operation is idempotent from
// @Description the caller's perspective but reports 404 for unknown tokens.
// @Tags        Tokens
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.DeleteTokenRequest  true  "Token address"
// @Success     204  "Deactivated"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Token not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notifications/token [delete]
func (h *Handlers) DeleteToken(c *gin.Context) {
	ctx := c.Request.Context()

	var req DeleteTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "token required")
		return
	}

	if err := h.tokenSvc.Deactivate(ctx, strings.TrimSpace(req.Token)); err != nil {
		switch err {
		case services.ErrTokenNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "token not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	noContent(c)
}

// UpdatePreferences godoc
// @ID          updateTokenPreferences
// @Summary     Update notification preferences for a token
// @Tags        Tokens
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.UpdatePreferencesRequest  true  "Preferences payload"
// @Success     204  "Updated"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Token not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notifications/token/preferences [put]
func (h *Handlers) UpdatePreferences(c *gin.Context) {
	ctx := c.Request.Context()

	var req UpdatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "token required")
		return
	}

	if err := h.tokenSvc.UpdatePreferences(ctx, strings.TrimSpace(req.Token), req.Preferences); err != nil {
		switch err {
		case services.ErrTokenNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "token not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	noContent(c)
}

// TokenStats godoc
// @ID          tokenStats
// @Summary     Registry aggregates
// @Description Returns totals, a per-device breakdown of active tokens, and
// @Description the count of tokens used within the last seven days.
// @Tags        Tokens
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  repo.TokenStats
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notifications/stats [get]
func (h *Handlers) TokenStats(c *gin.Context) {
	stats, err := h.tokenSvc.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, stats)
}

// CleanupTokens godoc
// @ID          cleanupTokens
// @Summary     Deactivate stale push tokens
// @Description Sweeps tokens whose last use is older than the given window
// @Description (default: the configured CLEANUP_DAYS) and marks them inactive.
// @Tags        Tokens
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.CleanupRequest  false  "Sweep window"
// @Success     200  {object}  handlers.CleanupResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notifications/cleanup [post]
func (h *Handlers) CleanupTokens(c *gin.Context) {
	ctx := c.Request.Context()

	var req CleanupRequest
	// Body is optional; ignore bind errors from an empty body.
	_ = c.ShouldBindJSON(&req)

	days := req.Days
	if days <= 0 {
		days = h.CleanupDays
	}
	if days <= 0 {
		days = services.DefaultCleanupDays
	}

	n, err := h.tokenSvc.Cleanup(ctx, days)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCleanupFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, CleanupResponse{Deactivated: n, Days: days})
}

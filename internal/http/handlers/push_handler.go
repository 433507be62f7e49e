// Dispatch HTTP handlers.
//
// This file exposes REST endpoints for notification fan-out:
//   - POST /notifications/send            (one user)
//   - POST /notifications/send-multiple   (an explicit set of users)
//   - POST /notifications/send-all        (every user with an active token)
//   - POST /notifications/send-by-device  (every active token of one device class)
//
// Handlers are transport-thin:
//   - validate & normalize inputs
//   - delegate to the application service (DispatchService)
//   - implement idempotency semantics for safe retries
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (user, endpoint scope, key), the handler returns the
// recorded envelope and sets `Idempotency-Replayed: true` instead of fanning
// the notification out a second time.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkaroulis/go-push-backend/internal/domain"
	"github.com/mkaroulis/go-push-backend/internal/http/middleware"
	"github.com/mkaroulis/go-push-backend/internal/repo"
	"github.com/mkaroulis/go-push-backend/internal/services"
)

//
// DTOs
//

// NotificationBody carries the notification content shared by all dispatch
// payloads. Sound, ChannelID, and Priority fall back to provider defaults
// when empty; Badge, Subtitle, and CategoryID are forwarded only when set.
type NotificationBody struct {
	Title      string         `json:"title" binding:"required,min=1" example:"Weekly digest"`
	Body       string         `json:"body" binding:"required,min=1" example:"3 new items are waiting for you"`
	Data       map[string]any `json:"data"`
	Sound      string         `json:"sound" example:"default"`
	Badge      *int           `json:"badge"`
	ChannelID  string         `json:"channel_id"`
	Subtitle   string         `json:"subtitle"`
	CategoryID string         `json:"category_id"`
	Priority   string         `json:"priority" example:"high"`
	TTL        int            `json:"ttl"`
}

// SendRequest targets a single user.
type SendRequest struct {
	UserID string `json:"user_id" binding:"required" example:"user-123"`
	NotificationBody
}

// SendMultipleRequest targets an explicit set of users.
type SendMultipleRequest struct {
	UserIDs []string `json:"user_ids" binding:"required,min=1"`
	NotificationBody
}

// SendAllRequest targets every user with an active token.
type SendAllRequest struct {
	NotificationBody
}

// SendByDeviceRequest targets every active token of one device class.
type SendByDeviceRequest struct {
	DeviceType string `json:"device_type" binding:"required" example:"phone-android"`
	NotificationBody
}

// notification converts the transport payload into the service-level shape.
func (b NotificationBody) notification() services.Notification {
	return services.Notification{
		Title:      strings.TrimSpace(b.Title),
		Body:       strings.TrimSpace(b.Body),
		Data:       b.Data,
		Sound:      b.Sound,
		Badge:      b.Badge,
		ChannelID:  b.ChannelID,
		Subtitle:   b.Subtitle,
		CategoryID: b.CategoryID,
		Priority:   b.Priority,
		TTL:        b.TTL,
	}
}

//
// Handlers
//

// Send godoc
// @ID          sendNotification
// @Summary     Send a notification to one user
// @Description Fans the notification out to every active token registered for
// @Description the user. Per-token delivery failures are reported in the result
// @Description counts; tokens the provider reports as unregistered are
// @Description deactivated automatically.
// @Tags        Dispatch
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body  body  handlers.SendRequest  true  "Notification payload"
// @Success     200  {object}  services.DispatchResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     502  {object}  handlers.ErrorResponse  "Push gateway unreachable"
// @Router      /notifications/send [post]
func (h *Handlers) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id, title and body required")
		return
	}
	h.dispatch(c, services.ByUser(req.UserID), req.NotificationBody)
}

// SendMultiple godoc
// @ID          sendNotificationMultiple
// @Summary     Send a notification to a set of users
// @Description Resolves the union of the users' active tokens (duplicates are
// @Description targeted once) and fans the notification out in provider-sized
// @Description batches.
// @Tags        Dispatch
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body  body  handlers.SendMultipleRequest  true  "Notification payload"
// @Success     200  {object}  services.DispatchResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     502  {object}  handlers.ErrorResponse  "Push gateway unreachable"
// @Router      /notifications/send-multiple [post]
func (h *Handlers) SendMultiple(c *gin.Context) {
	var req SendMultipleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_ids, title and body required")
		return
	}
	h.dispatch(c, services.ByUsers(req.UserIDs), req.NotificationBody)
}

// SendAll godoc
// @ID          sendNotificationAll
// @Summary     Broadcast a notification to every active token
// @Tags        Dispatch
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body  body  handlers.SendAllRequest  true  "Notification payload"
// @Success     200  {object}  services.DispatchResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     502  {object}  handlers.ErrorResponse  "Push gateway unreachable"
// @Router      /notifications/send-all [post]
func (h *Handlers) SendAll(c *gin.Context) {
	var req SendAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title and body required")
		return
	}
	h.dispatch(c, services.AllUsers(), req.NotificationBody)
}

// SendByDevice godoc
// @ID          sendNotificationByDevice
// @Summary     Send a notification to every active token of one device class
// @Tags        Dispatch
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body  body  handlers.SendByDeviceRequest  true  "Notification payload"
// @Success     200  {object}  services.DispatchResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     502  {object}  handlers.ErrorResponse  "Push gateway unreachable"
// @Router      /notifications/send-by-device [post]
func (h *Handlers) SendByDevice(c *gin.Context) {
	var req SendByDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "device_type, title and body required")
		return
	}
	h.dispatch(c, services.ByDeviceType(req.DeviceType), req.NotificationBody)
}

// dispatch runs the shared dispatch flow: idempotent replay, service call,
// error translation, and best-effort idempotency recording.
func (h *Handlers) dispatch(c *gin.Context, target services.Target, body NotificationBody) {
	ctx := c.Request.Context()
	currentUser := userID(c)
	scope := dispatchScope(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey == "" {
		idemKey = strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
	}
	if idemKey != "" {
		if svc, okSvc := h.dispatchSvc.(*services.DispatchService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, currentUser, scope, idemKey, time.Now().UTC()); err == nil && rec != nil {
				c.Header("Idempotency-Replayed", "true")
				// Echo the recorded envelope verbatim; dropping the error
				// counts would make a partial failure replay as a clean
				// success.
				ok(c, rec.Status, services.DispatchResult{
					Success:       rec.Outcome.Success,
					SentCount:     rec.Outcome.SentCount,
					ErrorCount:    rec.Outcome.ErrorCount,
					TotalTargeted: rec.Outcome.TotalTargeted,
				})
				return
			}
		}
	}

	res, err := h.dispatchSvc.Dispatch(ctx, target, body.notification())
	if err != nil {
		switch err {
		case services.ErrEmptyNotification:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title and body required")
		case services.ErrInvalidDeviceType:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "device_type must be one of phone-ios, phone-android, web")
		case services.ErrGatewayUnavailable:
			fail(c, http.StatusBadGateway, ErrCodeGatewayUnavailable, "push gateway unreachable")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, okSvc := h.dispatchSvc.(*services.DispatchService); okSvc && svc.DB != nil {
			ttl := h.IdempotencyTTL
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}
			_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, scope, idemKey, http.StatusOK, domain.DispatchOutcome{
				Success:       res.Success,
				SentCount:     res.SentCount,
				ErrorCount:    res.ErrorCount,
				TotalTargeted: res.TotalTargeted,
			}, ttl)
		}
	}

	ok(c, http.StatusOK, res)
}

// dispatchScope names the endpoint family for idempotency records: the final
// segment of the matched route (e.g., "send-all").
func dispatchScope(c *gin.Context) string {
	p := c.FullPath()
	if p == "" {
		p = c.Request.URL.Path
	}
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}

// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/mkaroulis/go-push-backend/internal/config"
	"github.com/mkaroulis/go-push-backend/internal/domain"
	"github.com/mkaroulis/go-push-backend/internal/expo"
	"github.com/mkaroulis/go-push-backend/internal/http/handlers"
	"github.com/mkaroulis/go-push-backend/internal/http/middleware"
	"github.com/mkaroulis/go-push-backend/internal/repo"
	"github.com/mkaroulis/go-push-backend/internal/services"
)

// tokenRepoShim adapts the repository free functions to the interfaces
// expected by TokenService (services.TokenRepo) and DispatchService
// (services.TokenResolver). This keeps services decoupled from the concrete
// repo package while reusing existing functions.
type tokenRepoShim struct{}

// The shim must satisfy both service contracts; a missing proxy method is a
// build error here instead of a surprise at the injection site.
var (
	_ services.TokenRepo     = tokenRepoShim{}
	_ services.TokenResolver = tokenRepoShim{}
	_ services.UserRepo      = userRepoShim{}
)

// UpsertToken proxies repo.UpsertToken.
func (tokenRepoShim) UpsertToken(ctx context.Context, db *gorm.DB, userID, token, deviceType string, info domain.DeviceInfo) (*domain.PushToken, error) {
	return repo.UpsertToken(ctx, db, userID, token, deviceType, info)
}

// DeactivateToken proxies repo.DeactivateToken.
func (tokenRepoShim) DeactivateToken(ctx context.Context, db *gorm.DB, token string) (bool, error) {
	return repo.DeactivateToken(ctx, db, token)
}

// UpdateTokenPreferences proxies repo.UpdateTokenPreferences.
func (tokenRepoShim) UpdateTokenPreferences(ctx context.Context, db *gorm.DB, token string, prefs domain.TokenPreferences) error {
	return repo.UpdateTokenPreferences(ctx, db, token, prefs)
}

// CountTokensByUser proxies repo.CountTokensByUser (pagination support).
func (tokenRepoShim) CountTokensByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountTokensByUser(ctx, db, userID)
}

// ListTokensByUserPage proxies repo.ListTokensByUserPage (pagination support).
func (tokenRepoShim) ListTokensByUserPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.PushToken, error) {
	return repo.ListTokensByUserPage(ctx, db, userID, offset, limit)
}

// CleanupInactiveTokens proxies repo.CleanupInactiveTokens.
func (tokenRepoShim) CleanupInactiveTokens(ctx context.Context, db *gorm.DB, days int) (int64, error) {
	return repo.CleanupInactiveTokens(ctx, db, days)
}

// AggregateTokenStats proxies repo.AggregateTokenStats.
func (tokenRepoShim) AggregateTokenStats(ctx context.Context, db *gorm.DB) (*repo.TokenStats, error) {
	return repo.AggregateTokenStats(ctx, db)
}

// FindActiveTokensByUser proxies repo.FindActiveTokensByUser.
func (tokenRepoShim) FindActiveTokensByUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.PushToken, error) {
	return repo.FindActiveTokensByUser(ctx, db, userID)
}

// FindActiveTokensByUsers proxies repo.FindActiveTokensByUsers.
func (tokenRepoShim) FindActiveTokensByUsers(ctx context.Context, db *gorm.DB, userIDs []string) ([]domain.PushToken, error) {
	return repo.FindActiveTokensByUsers(ctx, db, userIDs)
}

// FindAllActiveTokens proxies repo.FindAllActiveTokens.
func (tokenRepoShim) FindAllActiveTokens(ctx context.Context, db *gorm.DB) ([]domain.PushToken, error) {
	return repo.FindAllActiveTokens(ctx, db)
}

// FindActiveTokensByDeviceType proxies repo.FindActiveTokensByDeviceType.
func (tokenRepoShim) FindActiveTokensByDeviceType(ctx context.Context, db *gorm.DB, deviceType string) ([]domain.PushToken, error) {
	return repo.FindActiveTokensByDeviceType(ctx, db, deviceType)
}

// RecordSend proxies repo.RecordSend (dispatch reconciliation).
func (tokenRepoShim) RecordSend(ctx context.Context, db *gorm.DB, token string) error {
	return repo.RecordSend(ctx, db, token)
}

// userRepoShim adapts the account repository free functions to the
// services.UserRepo contract consumed by AuthService.
type userRepoShim struct{}

// CreateUser proxies repo.CreateUser.
func (userRepoShim) CreateUser(ctx context.Context, db *gorm.DB, username, email, passwordHash, firstName, lastName string) (*domain.User, error) {
	return repo.CreateUser(ctx, db, username, email, passwordHash, firstName, lastName)
}

// GetUser proxies repo.GetUser.
func (userRepoShim) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

// FindUserByLogin proxies repo.FindUserByLogin.
func (userRepoShim) FindUserByLogin(ctx context.Context, db *gorm.DB, emailOrUsername string) (*domain.User, error) {
	return repo.FindUserByLogin(ctx, db, emailOrUsername)
}

// RecordLogin proxies repo.RecordLogin.
func (userRepoShim) RecordLogin(ctx context.Context, db *gorm.DB, id string) error {
	return repo.RecordLogin(ctx, db, id)
}

// UpdateUserProfile proxies repo.UpdateUserProfile.
func (userRepoShim) UpdateUserProfile(ctx context.Context, db *gorm.DB, id, firstName, lastName string, prefs *domain.UserPreferences) (*domain.User, error) {
	return repo.UpdateUserProfile(ctx, db, id, firstName, lastName, prefs)
}

// UpdatePassword proxies repo.UpdatePassword.
func (userRepoShim) UpdatePassword(ctx context.Context, db *gorm.DB, id, passwordHash string) error {
	return repo.UpdatePassword(ctx, db, id, passwordHash)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// gateway may be nil, in which case an expo.Client is built from cfg; tests
// inject a fake to avoid network traffic.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with token/PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, gateway services.PushGateway, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key", // project-specific sensitive header example
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// Compress responses; /metrics stays uncompressed for Prometheus scrapes.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (opt-in)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))
	}

	// Dependency injection: services ← repo/db/gateway
	if gateway == nil {
		gateway = expo.NewClient(cfg.Expo.PushURL, cfg.Expo.AccessToken,
			expo.WithBatchSize(cfg.Expo.BatchSize))
	}
	authSvc := services.NewAuthService(db, userRepoShim{}, []byte(cfg.JWT.Secret), cfg.JWT.TokenTTL)
	tokenSvc := services.NewTokenService(db, tokenRepoShim{})
	dispatchSvc := services.NewDispatchService(db, tokenRepoShim{}, gateway)
	h := handlers.New(authSvc, tokenSvc, dispatchSvc)
	if cfg.CleanupDays > 0 {
		h.CleanupDays = cfg.CleanupDays
	}
	if cfg.IdempotencyTTL > 0 {
		h.IdempotencyTTL = cfg.IdempotencyTTL
	}

	requireAuth := middleware.RequireAuth(func(tok string) (string, error) {
		claims, err := authSvc.VerifyToken(tok)
		if err != nil {
			return "", err
		}
		return claims.Subject, nil
	})

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Accounts
		auth := api.Group("/auth")
		auth.POST("/register", h.RegisterUser)
		auth.POST("/login", h.Login)
		auth.GET("/profile", requireAuth, h.Profile)
		auth.PUT("/profile", requireAuth, h.UpdateProfile)
		auth.PUT("/change-password", requireAuth, h.ChangePassword)

		// Token registry + dispatch
		n := api.Group("/notifications", requireAuth)
		n.POST("/token", h.RegisterToken)
		n.GET("/tokens/:userId", h.ListTokens)
		n.DELETE("/token", h.DeleteToken)
		n.PUT("/token/preferences", h.UpdatePreferences)
		n.GET("/stats", h.TokenStats)
		n.POST("/cleanup", h.CleanupTokens)
		n.POST("/send", h.Send)
		n.POST("/send-multiple", h.SendMultiple)
		n.POST("/send-all", h.SendAll)
		n.POST("/send-by-device", h.SendByDevice)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// Account HTTP handlers.
//
// This file exposes REST endpoints for accounts and sessions:
//   - POST /auth/register         (create account)
//   - POST /auth/login            (issue bearer token)
//   - GET  /auth/profile          (current account)
//   - PUT  /auth/profile          (update names and preferences)
//   - PUT  /auth/change-password  (rotate password)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mkaroulis/go-push-backend/internal/domain"
	"github.com/mkaroulis/go-push-backend/internal/services"
)

//
// DTOs
//

// RegisterRequest is the JSON payload for creating an account.
type RegisterRequest struct {
	Username  string `json:"username" binding:"required,min=3,max=50" example:"mina"`
	Email     string `json:"email" binding:"required,email" example:"mina@example.com"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name" binding:"max=100"`
	LastName  string `json:"last_name" binding:"max=100"`
}

// LoginRequest is the JSON payload for opening a session. Username also
// accepts the account email.
type LoginRequest struct {
	Username string `json:"username" binding:"required" example:"mina"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse is the JSON envelope for register and login results. The
// bearer token is present only on login.
type AuthResponse struct {
	Token string       `json:"token,omitempty"`
	User  *domain.User `json:"user"`
}

// UpdateProfileRequest is the JSON payload for editing the account profile.
// Empty names are left untouched; preferences replace the stored set only
// when present.
type UpdateProfileRequest struct {
	FirstName   string                  `json:"first_name" binding:"max=100"`
	LastName    string                  `json:"last_name" binding:"max=100"`
	Preferences *domain.UserPreferences `json:"preferences"`
}

// ChangePasswordRequest is the JSON payload for rotating a password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

//
// Handlers
//

// RegisterUser godoc
// @ID          registerUser
// @Summary     Create an account
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.RegisterRequest  true  "Account payload"
// @Success     201  {object}  handlers.AuthResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Username or email taken"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/register [post]
func (h *Handlers) RegisterUser(c *gin.Context) {
	ctx := c.Request.Context()

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username, email and password required")
		return
	}

	u, err := h.authSvc.Register(ctx,
		strings.TrimSpace(req.Username),
		strings.TrimSpace(req.Email),
		req.Password,
		strings.TrimSpace(req.FirstName),
		strings.TrimSpace(req.LastName),
	)
	if err != nil {
		switch err {
		case services.ErrUserExists:
			fail(c, http.StatusConflict, ErrCodeConflict, "username or email already registered")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusCreated, AuthResponse{User: u})
}

// Login godoc
// @ID          login
// @Summary     Open a session
// @Description Verifies credentials and returns a bearer token valid for the
// @Description configured session lifetime. Username also accepts the account
// @Description email.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
// @Success     200  {object}  handlers.AuthResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid credentials"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	ctx := c.Request.Context()

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username and password required")
		return
	}

	token, u, err := h.authSvc.Login(ctx, strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		switch err {
		case services.ErrInvalidCredentials:
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid credentials")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, AuthResponse{Token: token, User: u})
}

// Profile godoc
// @ID          profile
// @Summary     Current account
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.AuthResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Account not found"
// @Router      /auth/profile [get]
func (h *Handlers) Profile(c *gin.Context) {
	u, err := h.authSvc.Profile(c.Request.Context(), userID(c))
	if err != nil {
		switch err {
		case services.ErrUserNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "account not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, AuthResponse{User: u})
}

// UpdateProfile godoc
// @ID          updateProfile
// @Summary     Update the account profile
// @Description Replaces the editable account fields: first and last name when
// @Description non-empty, and the notification preferences when present.
// @Description Login identifiers and the password never change through this
// @Description endpoint.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.UpdateProfileRequest  true  "Profile payload"
// @Success     200  {object}  handlers.AuthResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Account not found"
// @Router      /auth/profile [put]
func (h *Handlers) UpdateProfile(c *gin.Context) {
	ctx := c.Request.Context()

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid profile payload")
		return
	}

	u, err := h.authSvc.UpdateProfile(ctx, userID(c),
		strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName), req.Preferences)
	if err != nil {
		switch err {
		case services.ErrUserNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "account not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, AuthResponse{User: u})
}

// ChangePassword godoc
// @ID          changePassword
// @Summary     Rotate the account password
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.ChangePasswordRequest  true  "Password payload"
// @Success     204  "Rotated"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Wrong current password"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/change-password [put]
func (h *Handlers) ChangePassword(c *gin.Context) {
	ctx := c.Request.Context()

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "current_password and new_password required")
		return
	}

	if err := h.authSvc.ChangePassword(ctx, userID(c), req.CurrentPassword, req.NewPassword); err != nil {
		switch err {
		case services.ErrInvalidCredentials:
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "current password does not match")
		case services.ErrUserNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "account not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	noContent(c)
}

// Package services – AuthService
//
// This file implements account registration and the credential-check-then-
// issue-bearer-token flow. Passwords are stored as bcrypt hashes; logins
// accept either email or username and yield a signed HS256 JWT that the
// auth middleware later verifies. The dispatch core never interprets the
// bearer token; it only ever sees the user identifier extracted from it.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/mkaroulis/go-push-backend/internal/domain"
	"github.com/mkaroulis/go-push-backend/internal/repo"
)

// DefaultTokenTTL is the bearer-token lifetime applied when none is
// configured.
const DefaultTokenTTL = 7 * 24 * time.Hour

// Claims is the JWT claim set issued at login.
type Claims struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// UserRepo defines the repository contract required by AuthService.
// Implementations are responsible for persistence of account records.
type UserRepo interface {
	// CreateUser inserts a new account row.
	CreateUser(ctx context.Context, db *gorm.DB, username, email, passwordHash, firstName, lastName string) (*domain.User, error)

	// GetUser fetches an account by ID.
	GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error)

	// FindUserByLogin fetches an active account by email or username.
	FindUserByLogin(ctx context.Context, db *gorm.DB, emailOrUsername string) (*domain.User, error)

	// RecordLogin bumps login bookkeeping.
	RecordLogin(ctx context.Context, db *gorm.DB, id string) error

	// UpdateUserProfile replaces the editable account fields.
	UpdateUserProfile(ctx context.Context, db *gorm.DB, id, firstName, lastName string, prefs *domain.UserPreferences) (*domain.User, error)

	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, db *gorm.DB, id, passwordHash string) error
}

// AuthService owns account lifecycle and bearer-token issuance.
type AuthService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Users is the account repository used by this service.
	Users UserRepo
	// Secret signs and verifies bearer tokens.
	Secret []byte
	// TokenTTL caps bearer-token lifetime; zero means DefaultTokenTTL.
	TokenTTL time.Duration
}

// NewAuthService constructs an AuthService.
func NewAuthService(db *gorm.DB, users UserRepo, secret []byte, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &AuthService{DB: db, Users: users, Secret: secret, TokenTTL: ttl}
}

// Register creates an account with a bcrypt-hashed password. Username and
// email collisions surface as ErrUserExists.
func (s *AuthService) Register(ctx context.Context, username, email, password, firstName, lastName string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u, err := s.Users.CreateUser(ctx, s.DB, username, email, string(hash), firstName, lastName)
	if errors.Is(err, repo.ErrDuplicateUser) {
		return nil, ErrUserExists
	}
	return u, err
}

// Login checks credentials against the stored hash and issues a bearer
// token. Missing accounts and wrong passwords both yield
// ErrInvalidCredentials so callers cannot probe which identifiers exist.
func (s *AuthService) Login(ctx context.Context, emailOrUsername, password string) (token string, user *domain.User, err error) {
	u, err := s.Users.FindUserByLogin(ctx, s.DB, strings.TrimSpace(emailOrUsername))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err = s.issueToken(u)
	if err != nil {
		return "", nil, err
	}

	// Best effort; a failed bump must not fail the login.
	_ = s.Users.RecordLogin(ctx, s.DB, u.ID)

	return token, u, nil
}

// Profile returns the account for the given user id.
func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.Users.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// UpdateProfile replaces the editable account fields: names when non-empty
// and the notification preferences when provided. Login identifiers and the
// password never change through this path.
func (s *AuthService) UpdateProfile(ctx context.Context, userID, firstName, lastName string, prefs *domain.UserPreferences) (*domain.User, error) {
	u, err := s.Users.UpdateUserProfile(ctx, s.DB, userID,
		strings.TrimSpace(firstName), strings.TrimSpace(lastName), prefs)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// ChangePassword swaps the stored hash after verifying the current
// password.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.Users.GetUser(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	if next == "" {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.Users.UpdatePassword(ctx, s.DB, userID, string(hash))
}

// VerifyToken parses and validates a bearer token, returning its claims.
func (s *AuthService) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return s.Secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// issueToken signs an HS256 JWT for the user.
func (s *AuthService) issueToken(u *domain.User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Email:    u.Email,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
}

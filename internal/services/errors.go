// Package services defines the business logic for accounts, token
// registration, and notification dispatch. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

// Registration and token errors.
var (
	// ErrInvalidPushToken is returned when an address does not match the
	// provider's push-token grammar.
	ErrInvalidPushToken = errors.New("invalid push token format")

	// ErrInvalidDeviceType is returned when a device class is outside the
	// accepted enumeration.
	ErrInvalidDeviceType = errors.New("device type must be phone-ios, phone-android, or web")

	// ErrTokenNotFound indicates that the requested push token is not
	// registered.
	ErrTokenNotFound = errors.New("push token not found")
)

// Dispatch errors.
var (
	// ErrEmptyNotification is returned when a send request is missing its
	// required title or body.
	ErrEmptyNotification = errors.New("notification title and body are required")

	// ErrGatewayUnavailable is returned when the push gateway could not be
	// contacted at all (as opposed to per-message delivery failures).
	ErrGatewayUnavailable = errors.New("push gateway unavailable")
)

// Account errors.
var (
	// ErrUserExists is returned when the username or email is already
	// registered.
	ErrUserExists = errors.New("username or email already registered")

	// ErrUserNotFound indicates that the requested account does not exist
	// or is inactive.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials is returned on a failed login or password
	// change. It deliberately does not distinguish a missing account from
	// a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

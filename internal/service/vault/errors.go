package vault

import "errors"

var (
	ErrNotConnected       = errors.New("calendar is not connected")
	ErrReconnectRequired  = errors.New("calendar authorization was revoked; reconnect required")
	ErrInvalidState       = errors.New("invalid or expired authorization state")
	ErrNoRefreshToken     = errors.New("provider did not return a refresh token")
	ErrNotConfigured      = errors.New("calendar integration is not configured")
	ErrAuthorizationError = errors.New("calendar authorization failed")
)

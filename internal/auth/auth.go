package auth

import (
	"context"
	"errors"
)

var (
	ErrMissingKey      = errors.New("missing device key")
	ErrInvalidKey      = errors.New("invalid device key")
	ErrRevokedKey      = errors.New("device key revoked")
	ErrAuthUnavailable = errors.New("auth backend unavailable")
)

// DeviceContext holds the authenticated device's identity.
type DeviceContext struct {
	KeyID string
	Label string
}

// Authenticator validates a presented device key and returns the device
// context. Implementations must treat an unknown or mismatched key as
// ErrInvalidKey — never fail open.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*DeviceContext, error)
}

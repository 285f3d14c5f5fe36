package auth

import (
	"context"
)

// Strategy resolves an inbound request into the identity the call runs as.
// Implementations exist per Mode; the returned Identity seeds cache keys.
type Strategy interface {
	Mode() Mode
	Resolve(ctx context.Context, req Request) (Identity, error)
}

// TokenValidator verifies a bearer token and extracts the identity claims the
// delegated flow needs. Failures must wrap ErrValidationFailed.
type TokenValidator interface {
	Validate(ctx context.Context, rawToken string) (*ParsedIdentity, error)
}

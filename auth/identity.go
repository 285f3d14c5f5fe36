package auth

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how calls are authenticated against Azure.
type Mode string

const (
	// ModeApplication runs every call as the service's own identity.
	ModeApplication Mode = "application"
	// ModeDelegated exchanges the caller's token on-behalf-of the user.
	ModeDelegated Mode = "delegated"
)

func (m Mode) String() string { return string(m) }

// ParseMode parses an auth mode, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeApplication:
		return ModeApplication, nil
	case ModeDelegated:
		return ModeDelegated, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAuthMode, s)
	}
}

// Identity is the resolved context a call runs as. It is created per request
// and never mutated afterwards.
type Identity interface {
	Mode() Mode
}

// ApplicationIdentity is the fixed service identity. All application-mode
// calls share it.
type ApplicationIdentity struct{}

func (ApplicationIdentity) Mode() Mode { return ModeApplication }

func (ApplicationIdentity) String() string { return "application" }

// DelegatedIdentity is an end user authenticated by a validated bearer token.
type DelegatedIdentity struct {
	TenantID     string
	UserObjectID string
	// RawToken is the validated assertion used for the on-behalf-of exchange.
	// It must never be logged.
	RawToken  string
	ExpiresAt time.Time
}

func (*DelegatedIdentity) Mode() Mode { return ModeDelegated }

func (d *DelegatedIdentity) String() string {
	return fmt.Sprintf("delegated(tenant=%s, user=%s)", d.TenantID, d.UserObjectID)
}

// GoString keeps the raw token out of %#v output.
func (d *DelegatedIdentity) GoString() string { return d.String() }

// ParsedIdentity holds the claims extracted from a validated token.
type ParsedIdentity struct {
	TenantID     string
	UserObjectID string
	ExpiresAt    time.Time
	Claims       map[string]interface{}
}

// Request is an inbound authentication request, one variant per mode.
type Request interface {
	Mode() Mode
}

// ApplicationRequest asks to run as the service identity.
type ApplicationRequest struct{}

func (ApplicationRequest) Mode() Mode { return ModeApplication }

// DelegatedRequest carries the caller's bearer token.
type DelegatedRequest struct {
	AccessToken string
}

func (DelegatedRequest) Mode() Mode { return ModeDelegated }

func (r DelegatedRequest) String() string { return "delegated request" }

func (r DelegatedRequest) GoString() string { return r.String() }

// NewRequest maps a transport-level token (possibly empty) onto the request
// variant the configured mode expects. Application mode ignores the token.
func NewRequest(mode Mode, accessToken string) (Request, error) {
	switch mode {
	case ModeApplication:
		return ApplicationRequest{}, nil
	case ModeDelegated:
		token := strings.TrimSpace(accessToken)
		if token == "" {
			return nil, ErrMissingToken
		}
		return DelegatedRequest{AccessToken: token}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAuthMode, mode)
	}
}

// BearerToken extracts the token from an Authorization header value.
// It returns "" if the header is not a bearer credential.
func BearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

package auth

import (
	"context"
	"fmt"

	"github.com/stephnangue/azgraph/logger"
)

// ApplicationStrategy resolves every application request to the shared
// service identity.
type ApplicationStrategy struct{}

func (ApplicationStrategy) Mode() Mode { return ModeApplication }

func (ApplicationStrategy) Resolve(_ context.Context, req Request) (Identity, error) {
	if _, ok := req.(ApplicationRequest); !ok {
		return nil, &AuthenticationError{Err: fmt.Errorf("%w: expected application request, got %s", ErrModeMismatch, modeOf(req))}
	}
	return ApplicationIdentity{}, nil
}

// DelegatedStrategy validates the caller's token and turns its claims into a
// DelegatedIdentity.
type DelegatedStrategy struct {
	validator TokenValidator
	logger    logger.Logger
}

// NewDelegatedStrategy creates a strategy backed by validator.
func NewDelegatedStrategy(validator TokenValidator, log logger.Logger) *DelegatedStrategy {
	if log == nil {
		log = logger.Nop()
	}
	return &DelegatedStrategy{
		validator: validator,
		logger:    log.WithSubsystem("strategy"),
	}
}

func (*DelegatedStrategy) Mode() Mode { return ModeDelegated }

func (s *DelegatedStrategy) Resolve(ctx context.Context, req Request) (Identity, error) {
	dr, ok := req.(DelegatedRequest)
	if !ok {
		return nil, &AuthenticationError{Err: fmt.Errorf("%w: expected delegated request, got %s", ErrModeMismatch, modeOf(req))}
	}
	if dr.AccessToken == "" {
		return nil, &AuthenticationError{Err: ErrMissingToken}
	}

	parsed, err := s.validator.Validate(ctx, dr.AccessToken)
	if err != nil {
		s.logger.Debug("token rejected", logger.Err(err))
		return nil, &AuthenticationError{Err: err}
	}

	return &DelegatedIdentity{
		TenantID:     parsed.TenantID,
		UserObjectID: parsed.UserObjectID,
		RawToken:     dr.AccessToken,
		ExpiresAt:    parsed.ExpiresAt,
	}, nil
}

// NewStrategy returns the strategy for mode. validator is required for
// delegated mode and ignored otherwise.
func NewStrategy(mode Mode, validator TokenValidator, log logger.Logger) (Strategy, error) {
	switch mode {
	case ModeApplication:
		return ApplicationStrategy{}, nil
	case ModeDelegated:
		if validator == nil {
			return nil, ConfigError("validator", "delegated mode requires a token validator")
		}
		return NewDelegatedStrategy(validator, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAuthMode, mode)
	}
}

func modeOf(req Request) string {
	if req == nil {
		return "nil"
	}
	return req.Mode().String()
}

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	parsed *ParsedIdentity
	err    error
	calls  int
	seen   string
}

func (f *fakeValidator) Validate(_ context.Context, raw string) (*ParsedIdentity, error) {
	f.calls++
	f.seen = raw
	return f.parsed, f.err
}

func TestApplicationStrategy_Resolve(t *testing.T) {
	id, err := ApplicationStrategy{}.Resolve(context.Background(), ApplicationRequest{})
	require.NoError(t, err)
	assert.Equal(t, ModeApplication, id.Mode())
	assert.Equal(t, ApplicationIdentity{}, id)
}

func TestApplicationStrategy_RejectsDelegatedRequest(t *testing.T) {
	_, err := ApplicationStrategy{}.Resolve(context.Background(), DelegatedRequest{AccessToken: "tok"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.ErrorIs(t, err, ErrModeMismatch)
}

func TestDelegatedStrategy_Resolve(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	v := &fakeValidator{parsed: &ParsedIdentity{TenantID: "t1", UserObjectID: "u1", ExpiresAt: exp}}
	s := NewDelegatedStrategy(v, nil)

	id, err := s.Resolve(context.Background(), DelegatedRequest{AccessToken: "raw-token"})
	require.NoError(t, err)

	d, ok := id.(*DelegatedIdentity)
	require.True(t, ok)
	assert.Equal(t, "t1", d.TenantID)
	assert.Equal(t, "u1", d.UserObjectID)
	assert.Equal(t, "raw-token", d.RawToken)
	assert.Equal(t, exp, d.ExpiresAt)
	assert.Equal(t, "raw-token", v.seen)
}

func TestDelegatedStrategy_WrapsValidationFailure(t *testing.T) {
	v := &fakeValidator{err: NewValidationError("missing required claims", nil)}
	s := NewDelegatedStrategy(v, nil)

	_, err := s.Resolve(context.Background(), DelegatedRequest{AccessToken: "secret-looking-token"})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, "authentication failed: token validation failed: missing required claims", err.Error())
	assert.NotContains(t, err.Error(), "secret-looking-token")
}

func TestDelegatedStrategy_MissingToken(t *testing.T) {
	v := &fakeValidator{}
	s := NewDelegatedStrategy(v, nil)

	_, err := s.Resolve(context.Background(), DelegatedRequest{})
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.Zero(t, v.calls)
}

func TestDelegatedStrategy_RejectsApplicationRequest(t *testing.T) {
	s := NewDelegatedStrategy(&fakeValidator{}, nil)
	_, err := s.Resolve(context.Background(), ApplicationRequest{})
	assert.ErrorIs(t, err, ErrModeMismatch)
}

func TestNewStrategy(t *testing.T) {
	tests := []struct {
		name      string
		mode      Mode
		validator TokenValidator
		wantErr   error
		wantMode  Mode
	}{
		{name: "application", mode: ModeApplication, wantMode: ModeApplication},
		{name: "delegated", mode: ModeDelegated, validator: &fakeValidator{}, wantMode: ModeDelegated},
		{name: "delegated without validator", mode: ModeDelegated, wantErr: ErrConfigurationInvalid},
		{name: "unknown", mode: Mode("federated"), wantErr: ErrUnknownAuthMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStrategy(tt.mode, tt.validator, nil)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, s.Mode())
		})
	}
}

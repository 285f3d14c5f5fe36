package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	capjwt "github.com/hashicorp/cap/jwt"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/go-secure-stdlib/strutil"

	"github.com/stephnangue/azgraph/auth"
	"github.com/stephnangue/azgraph/helper"
	"github.com/stephnangue/azgraph/logger"
)

const (
	DefaultClockSkew         = 300 * time.Second
	DefaultKeyCacheMaxAge    = 24 * time.Hour
	DefaultRequestsPerMinute = 10

	jwksURLTemplate = "https://login.microsoftonline.com/%s/discovery/v2.0/keys"
	issuerTemplate  = "https://sts.windows.net/%s/"
)

// Config configures token validation for one Entra ID tenant.
type Config struct {
	TenantID string
	ClientID string
	// Audience defaults to ClientID.
	Audience string
	// Issuer defaults to the v1 issuer of TenantID.
	Issuer string
	// JWKSURL defaults to the tenant's v2 discovery keys endpoint.
	JWKSURL string

	ClockSkew         time.Duration
	KeyCacheMaxAge    time.Duration
	RequestsPerMinute int

	// HTTPClient fetches the JWKS. A default retrying client is built when nil.
	HTTPClient *retryablehttp.Client
	// Now overrides the validation clock.
	Now func() time.Time
}

// Validator validates Entra ID access tokens presented by delegated callers.
type Validator struct {
	tenantID  string
	expected  capjwt.Expected
	keySet    *KeySet
	validator *capjwt.Validator
	logger    logger.Logger
}

var _ auth.TokenValidator = (*Validator)(nil)

// NewValidator applies defaults to cfg and prepares the key set. It does not
// contact the identity platform.
func NewValidator(cfg Config, log logger.Logger) (*Validator, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithSubsystem("jwt")

	if cfg.TenantID == "" {
		return nil, auth.ConfigError("AZURE_TENANT_ID", "tenant id is required for token validation")
	}
	if cfg.ClientID == "" && cfg.Audience == "" {
		return nil, auth.ConfigError("JWT_AUDIENCE", "an audience or client id is required for token validation")
	}
	if cfg.ClockSkew < 0 {
		return nil, auth.ConfigError("JWT_CLOCK_TOLERANCE", "must not be negative")
	}
	if cfg.KeyCacheMaxAge == 0 {
		cfg.KeyCacheMaxAge = DefaultKeyCacheMaxAge
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}

	audience := cfg.Audience
	if audience == "" {
		audience = cfg.ClientID
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = fmt.Sprintf(issuerTemplate, cfg.TenantID)
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = fmt.Sprintf(jwksURLTemplate, cfg.TenantID)
	}

	client := cfg.HTTPClient
	if client == nil {
		var err error
		client, _, err = helper.NewRetryableClient(helper.DefaultHTTPClientConfig(), log.WithSubsystem("jwks"))
		if err != nil {
			return nil, fmt.Errorf("failed to create jwks http client: %w", err)
		}
	}

	keySet, err := NewKeySet(jwksURL, client, cfg.KeyCacheMaxAge, cfg.RequestsPerMinute, log.WithSubsystem("jwks"))
	if err != nil {
		return nil, auth.ConfigError("JWT_CACHE_MAX_AGE", "%v", err)
	}

	validator, err := capjwt.NewValidator(keySet)
	if err != nil {
		return nil, fmt.Errorf("failed to create jwt validator: %w", err)
	}

	return &Validator{
		tenantID: cfg.TenantID,
		expected: capjwt.Expected{
			Issuer:            issuer,
			Audiences:         strutil.RemoveDuplicates(strings.Split(audience, ","), false),
			SigningAlgorithms: []capjwt.Alg{capjwt.RS256},
			ClockSkewLeeway:   cfg.ClockSkew,
			Now:               cfg.Now,
		},
		keySet:    keySet,
		validator: validator,
		logger:    log,
	}, nil
}

// Validate checks signature, issuer, audience and expiry, then extracts the
// tenant, object id and expiry claims.
func (v *Validator) Validate(ctx context.Context, rawToken string) (*auth.ParsedIdentity, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, auth.NewValidationError("empty token", nil)
	}

	claims, err := v.validator.Validate(ctx, rawToken, v.expected)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, auth.NewValidationError("invalid token", err)
	}

	oid := extractClaim(claims, "oid")
	tid := extractClaim(claims, "tid")
	exp, hasExp := extractExpiry(claims)
	if oid == "" || tid == "" || !hasExp {
		return nil, auth.NewValidationError("missing required claims", nil)
	}

	if tid != v.tenantID {
		v.logger.Debug("token issued for another tenant", logger.String("tid", tid))
		return nil, auth.NewValidationError("token tenant does not match the configured tenant", nil)
	}

	return &auth.ParsedIdentity{
		TenantID:     tid,
		UserObjectID: oid,
		ExpiresAt:    exp,
		Claims:       claims,
	}, nil
}

// KeySet exposes the underlying key set, mostly for diagnostics.
func (v *Validator) KeySet() *KeySet {
	return v.keySet
}

// Close releases the key cache.
func (v *Validator) Close() {
	v.keySet.Close()
}

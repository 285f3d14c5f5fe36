package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/stephnangue/azgraph/auth"
	"github.com/stephnangue/azgraph/auth/jwt"
	"github.com/stephnangue/azgraph/clientcache"
	"github.com/stephnangue/azgraph/config"
	"github.com/stephnangue/azgraph/credential"
	"github.com/stephnangue/azgraph/logger"
)

// ClientProvider authenticates inbound requests and hands out cached
// downstream clients for the resolved identity.
type ClientProvider[C any, O any] struct {
	mode     auth.Mode
	strategy auth.Strategy
	manager  *clientcache.Manager[C, O]
	closers  []func()
	logger   logger.Logger
}

// Components are the mode-specific parts of a ClientProvider.
type Components[C any, O any] struct {
	Strategy     auth.Strategy
	Credentials  credential.Provider
	Factory      clientcache.ClientFactory[C, O]
	Cache        clientcache.Config
	CacheOptions []clientcache.Option
	// Closers run on Close after the cache is drained.
	Closers []func()
}

// New wires the credential provider, strategy and cache for cfg.AuthMode.
func New[C any, O any](ctx context.Context, cfg *config.Config, factory clientcache.ClientFactory[C, O], log logger.Logger) (*ClientProvider[C, O], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, auth.ConfigError("config", "is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	parts := Components[C, O]{
		Factory: factory,
		Cache:   CacheConfig(cfg),
	}

	switch cfg.AuthMode {
	case auth.ModeApplication:
		parts.Credentials = credential.NewApplicationProvider(cfg.TenantID, log)
		parts.Strategy = auth.ApplicationStrategy{}

	case auth.ModeDelegated:
		validator, err := jwt.NewValidator(jwt.Config{
			TenantID:          cfg.TenantID,
			ClientID:          cfg.ClientID,
			Audience:          cfg.JWTAudience,
			Issuer:            cfg.JWTIssuer,
			JWKSURL:           cfg.JWKSURL,
			ClockSkew:         cfg.JWTClockTolerance,
			KeyCacheMaxAge:    cfg.JWTCacheMaxAge,
			RequestsPerMinute: cfg.JWKSRequestsPerMinute,
		}, log)
		if err != nil {
			return nil, err
		}
		creds, err := credential.NewDelegatedProvider(credential.DelegatedConfig{
			ClientID:            cfg.ClientID,
			ClientSecret:        cfg.ClientSecret,
			CertificatePath:     cfg.ClientCertificatePath,
			CertificatePassword: cfg.ClientCertificatePassword,
		}, log)
		if err != nil {
			validator.Close()
			return nil, err
		}
		parts.Credentials = creds
		parts.Strategy = auth.NewDelegatedStrategy(validator, log)
		parts.Closers = append(parts.Closers, validator.Close)

	default:
		return nil, fmt.Errorf("%w: %q", auth.ErrUnknownAuthMode, cfg.AuthMode)
	}

	return Assemble(parts, log)
}

// Assemble builds a ClientProvider from explicit components.
func Assemble[C any, O any](parts Components[C, O], log logger.Logger) (*ClientProvider[C, O], error) {
	if log == nil {
		log = logger.Nop()
	}
	if parts.Strategy == nil || parts.Credentials == nil {
		return nil, auth.ConfigError("provider", "strategy and credential provider are required")
	}
	if parts.Strategy.Mode() != parts.Credentials.Mode() {
		return nil, fmt.Errorf("%w: strategy serves %s but credentials serve %s",
			auth.ErrModeMismatch, parts.Strategy.Mode(), parts.Credentials.Mode())
	}

	manager, err := clientcache.NewManager[C, O](parts.Cache, parts.Credentials, parts.Factory, log, parts.CacheOptions...)
	if err != nil {
		for _, c := range parts.Closers {
			c()
		}
		return nil, err
	}

	mode := parts.Strategy.Mode()
	log.Info("client provider ready", logger.String("auth_mode", string(mode)))

	return &ClientProvider[C, O]{
		mode:     mode,
		strategy: parts.Strategy,
		manager:  manager,
		closers:  parts.Closers,
		logger:   log.WithSubsystem("provider"),
	}, nil
}

// CacheConfig maps the cache settings of cfg.
func CacheConfig(cfg *config.Config) clientcache.Config {
	return clientcache.Config{
		KeyPrefix:             cfg.CacheKeyPrefix,
		ClientSlidingTTL:      cfg.ClientSlidingTTL,
		ClientMaxSize:         cfg.ClientMaxSize,
		CredentialSlidingTTL:  cfg.CredentialSlidingTTL,
		CredentialMaxSize:     cfg.CredentialMaxSize,
		CredentialAbsoluteTTL: cfg.CredentialAbsoluteTTL,
	}
}

// Mode returns the auth mode the provider serves.
func (p *ClientProvider[C, O]) Mode() auth.Mode { return p.mode }

// NewRequest maps a bearer token (possibly empty) to a request for this
// provider's mode.
func (p *ClientProvider[C, O]) NewRequest(accessToken string) (auth.Request, error) {
	req, err := auth.NewRequest(p.mode, accessToken)
	if err != nil {
		return nil, &auth.AuthenticationError{Err: err}
	}
	return req, nil
}

// GetClient authenticates req and returns the cached client of its identity.
func (p *ClientProvider[C, O]) GetClient(ctx context.Context, req auth.Request, opts O) (C, error) {
	identity, err := p.strategy.Resolve(ctx, req)
	if err != nil {
		var zero C
		return zero, err
	}
	return p.manager.GetClient(ctx, identity, opts)
}

// Invalidate authenticates req and drops the client cached for it.
func (p *ClientProvider[C, O]) Invalidate(ctx context.Context, req auth.Request, opts O) (bool, error) {
	identity, err := p.strategy.Resolve(ctx, req)
	if err != nil {
		return false, err
	}
	return p.manager.Invalidate(ctx, identity, opts), nil
}

// Clear flushes both cache tiers.
func (p *ClientProvider[C, O]) Clear() {
	p.manager.Clear()
}

// Stats reports cache statistics.
func (p *ClientProvider[C, O]) Stats() clientcache.Stats {
	return p.manager.Stats()
}

// Close drains the cache, then releases validator resources.
func (p *ClientProvider[C, O]) Close(ctx context.Context) error {
	var errs *multierror.Error
	if err := p.manager.Close(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, c := range p.closers {
		c()
	}
	p.logger.Debug("client provider closed")
	return errs.ErrorOrNil()
}

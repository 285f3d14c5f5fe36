package clientcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/stephnangue/azgraph/auth"
	"github.com/stephnangue/azgraph/credential"
	"github.com/stephnangue/azgraph/logger"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultKeyPrefix             = "azgraph"
	DefaultClientSlidingTTL      = 45 * time.Minute
	DefaultClientMaxSize         = 100
	DefaultCredentialSlidingTTL  = 45 * time.Minute
	DefaultCredentialMaxSize     = 100
	DefaultCredentialAbsoluteTTL = 8 * time.Hour
	DefaultDisposeTimeout        = 30 * time.Second
)

// Config sizes the two tiers.
type Config struct {
	KeyPrefix             string
	ClientSlidingTTL      time.Duration
	ClientMaxSize         int
	CredentialSlidingTTL  time.Duration
	CredentialMaxSize     int
	CredentialAbsoluteTTL time.Duration
	DisposeTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.ClientSlidingTTL <= 0 {
		c.ClientSlidingTTL = DefaultClientSlidingTTL
	}
	if c.ClientMaxSize <= 0 {
		c.ClientMaxSize = DefaultClientMaxSize
	}
	if c.CredentialSlidingTTL <= 0 {
		c.CredentialSlidingTTL = DefaultCredentialSlidingTTL
	}
	if c.CredentialMaxSize <= 0 {
		c.CredentialMaxSize = DefaultCredentialMaxSize
	}
	if c.CredentialAbsoluteTTL <= 0 {
		c.CredentialAbsoluteTTL = DefaultCredentialAbsoluteTTL
	}
	if c.DisposeTimeout <= 0 {
		c.DisposeTimeout = DefaultDisposeTimeout
	}
	return c
}

// Option customizes a Manager.
type Option func(*options)

type options struct {
	now           func() time.Time
	keyComponents KeyComponentsFunc
}

// WithClock replaces time.Now for ceiling checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithKeyComponents overrides the per-mode key derivation.
func WithKeyComponents(fn KeyComponentsFunc) Option {
	return func(o *options) { o.keyComponents = fn }
}

type credentialEntry struct {
	id                string
	credential        *credential.Credential
	absoluteExpiresAt time.Time
}

type clientEntry[C any] struct {
	client       C
	credentialID string
	// notAfter is inherited from the credential the client was built from.
	notAfter time.Time
}

// Manager caches downstream credentials and the clients built on them, one
// manager per auth mode. Concurrent misses on the same key share one build.
type Manager[C any, O any] struct {
	config        Config
	mode          auth.Mode
	provider      credential.Provider
	factory       ClientFactory[C, O]
	fingerprinter Fingerprinter[O]
	keyComponents KeyComponentsFunc
	now           func() time.Time

	credentials *tier[*credentialEntry]
	clients     *tier[*clientEntry[C]]

	credentialFlights singleflight.Group
	clientFlights     singleflight.Group

	pendingCredentials atomic.Int64
	pendingClients     atomic.Int64

	disposals sync.WaitGroup
	metrics   *Metrics
	logger    logger.Logger
}

// NewManager builds a manager for provider.Mode().
func NewManager[C any, O any](cfg Config, provider credential.Provider, factory ClientFactory[C, O], log logger.Logger, opts ...Option) (*Manager[C, O], error) {
	if provider == nil {
		return nil, auth.ConfigError("credential provider", "is required")
	}
	if factory == nil {
		return nil, auth.ConfigError("client factory", "is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	mode := provider.Mode()
	if o.keyComponents == nil {
		fn, err := KeyComponentsFor(mode)
		if err != nil {
			return nil, err
		}
		o.keyComponents = fn
	}

	cfg = cfg.withDefaults()
	m := &Manager[C, O]{
		config:        cfg,
		mode:          mode,
		provider:      provider,
		factory:       factory,
		keyComponents: o.keyComponents,
		now:           o.now,
		metrics:       newMetrics(mode),
		logger: log.WithSubsystem("clientcache").WithFields(
			logger.String("auth_mode", string(mode)),
		),
	}
	if fp, ok := any(factory).(Fingerprinter[O]); ok {
		m.fingerprinter = fp
	}

	m.credentials = newTier(tierCredential, cfg.CredentialMaxSize, cfg.CredentialSlidingTTL, m.onCredentialEvict)
	m.clients = newTier(tierClient, cfg.ClientMaxSize, cfg.ClientSlidingTTL, m.onClientEvict)

	m.logger.Debug("client cache initialized",
		logger.Int("client_max_size", cfg.ClientMaxSize),
		logger.Duration("client_sliding_ttl", cfg.ClientSlidingTTL),
		logger.Int("credential_max_size", cfg.CredentialMaxSize),
		logger.Duration("credential_sliding_ttl", cfg.CredentialSlidingTTL),
		logger.Duration("credential_absolute_ttl", cfg.CredentialAbsoluteTTL),
	)
	return m, nil
}

// Mode returns the auth mode this manager serves.
func (m *Manager[C, O]) Mode() auth.Mode { return m.mode }

// Metrics exposes the manager's counters.
func (m *Manager[C, O]) Metrics() *Metrics { return m.metrics }

// GetCredential returns the cached credential for identity, creating it if
// missing or past its absolute ceiling.
func (m *Manager[C, O]) GetCredential(ctx context.Context, identity auth.Identity) (*credential.Credential, error) {
	entry, err := m.credentialEntry(ctx, identity)
	if err != nil {
		return nil, err
	}
	return entry.credential, nil
}

// GetClient returns the cached client for identity and opts. A miss resolves
// the credential through the credential tier and calls the factory.
func (m *Manager[C, O]) GetClient(ctx context.Context, identity auth.Identity, opts O) (C, error) {
	var zero C

	credKey, err := m.credentialKey(identity)
	if err != nil {
		return zero, err
	}
	key := clientKey(credKey, m.fingerprint(opts))

	if entry, ok := m.liveClient(key); ok {
		m.metrics.increment(tierClient, eventHit)
		return entry.client, nil
	}
	m.metrics.increment(tierClient, eventMiss)

	build := context.WithoutCancel(ctx)
	ch := m.clientFlights.DoChan(key, func() (interface{}, error) {
		m.pendingClients.Add(1)
		defer m.pendingClients.Add(-1)

		if entry, ok := m.liveClient(key); ok {
			return entry, nil
		}
		return m.buildClient(build, key, identity, opts)
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			m.metrics.increment(tierClient, eventCoalesced)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(*clientEntry[C]).client, nil
	}
}

// Invalidate drops the client cached for identity and opts. The credential
// tier is left alone. It reports whether an entry was removed.
func (m *Manager[C, O]) Invalidate(ctx context.Context, identity auth.Identity, opts O) bool {
	credKey, err := m.credentialKey(identity)
	if err != nil {
		return false
	}
	key := clientKey(credKey, m.fingerprint(opts))
	removed := m.clients.remove(key)
	if removed {
		m.logger.Debug("client invalidated", logger.Redacted("key", key, logKeyLength))
	}
	return removed
}

// Clear removes every cached client and credential.
func (m *Manager[C, O]) Clear() {
	m.clients.purge()
	m.credentials.purge()
	m.logger.Info("client and credential caches cleared")
}

// ClearCredentials removes every cached credential. Clients already built
// keep the credential they captured.
func (m *Manager[C, O]) ClearCredentials() {
	m.credentials.purge()
	m.logger.Info("credential cache cleared")
}

// Stats reports tier sizes, pending builds and counters.
func (m *Manager[C, O]) Stats() Stats {
	return Stats{
		Mode: m.mode,
		Clients: TierStats{
			Size:       m.clients.len(),
			MaxSize:    m.clients.maxSize,
			Pending:    m.pendingClients.Load(),
			SlidingTTL: m.clients.ttl,
		},
		Credentials: TierStats{
			Size:        m.credentials.len(),
			MaxSize:     m.credentials.maxSize,
			Pending:     m.pendingCredentials.Load(),
			SlidingTTL:  m.credentials.ttl,
			AbsoluteTTL: m.config.CredentialAbsoluteTTL,
		},
		Counters: m.metrics.GetSnapshot(),
	}
}

// Close clears both tiers and waits for pending disposals until ctx ends.
func (m *Manager[C, O]) Close(ctx context.Context) error {
	m.clients.purge()
	m.credentials.purge()

	done := make(chan struct{})
	go func() {
		m.disposals.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for client disposal: %w", ctx.Err())
	}
}

func (m *Manager[C, O]) credentialKey(identity auth.Identity) (string, error) {
	if identity == nil {
		return "", fmt.Errorf("%w: identity is required", auth.ErrModeMismatch)
	}
	if identity.Mode() != m.mode {
		return "", fmt.Errorf("%w: manager serves %s, got %s", auth.ErrModeMismatch, m.mode, identity.Mode())
	}
	components, err := m.keyComponents(identity)
	if err != nil {
		return "", err
	}
	return credentialKey(m.config.KeyPrefix, m.mode, components), nil
}

func (m *Manager[C, O]) fingerprint(opts O) string {
	if m.fingerprinter == nil {
		return ""
	}
	fp, ok := m.fingerprinter.Fingerprint(opts)
	if !ok {
		return ""
	}
	return fp
}

func (m *Manager[C, O]) credentialEntry(ctx context.Context, identity auth.Identity) (*credentialEntry, error) {
	key, err := m.credentialKey(identity)
	if err != nil {
		return nil, err
	}

	if entry, ok := m.liveCredential(key); ok {
		m.metrics.increment(tierCredential, eventHit)
		return entry, nil
	}
	m.metrics.increment(tierCredential, eventMiss)

	build := context.WithoutCancel(ctx)
	ch := m.credentialFlights.DoChan(key, func() (interface{}, error) {
		m.pendingCredentials.Add(1)
		defer m.pendingCredentials.Add(-1)

		if entry, ok := m.liveCredential(key); ok {
			return entry, nil
		}
		return m.buildCredential(build, key, identity)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			m.metrics.increment(tierCredential, eventCoalesced)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*credentialEntry), nil
	}
}

// liveCredential returns the entry under key unless it is past its absolute
// ceiling, in which case the entry is dropped.
func (m *Manager[C, O]) liveCredential(key string) (*credentialEntry, bool) {
	entry, ok := m.credentials.get(key)
	if !ok {
		return nil, false
	}
	if m.now().Before(entry.absoluteExpiresAt) {
		return entry, true
	}
	if m.credentials.removeIf(key, func(v *credentialEntry) bool { return v == entry }) {
		m.metrics.increment(tierCredential, eventCeiling)
	}
	return nil, false
}

func (m *Manager[C, O]) liveClient(key string) (*clientEntry[C], bool) {
	entry, ok := m.clients.get(key)
	if !ok {
		return nil, false
	}
	if m.now().Before(entry.notAfter) {
		return entry, true
	}
	if m.clients.removeIf(key, func(v *clientEntry[C]) bool { return v == entry }) {
		m.metrics.increment(tierClient, eventCeiling)
	}
	return nil, false
}

func (m *Manager[C, O]) buildCredential(ctx context.Context, key string, identity auth.Identity) (*credentialEntry, error) {
	m.metrics.increment(tierCredential, eventBuild)

	started := m.now()
	cred, err := m.provider.CreateCredential(ctx, identity)
	if err != nil {
		m.metrics.increment(tierCredential, eventBuildFailure)
		m.logger.Warn("credential creation failed",
			logger.Redacted("key", key, logKeyLength),
			logger.Err(err),
		)
		return nil, err
	}
	if cred == nil {
		m.metrics.increment(tierCredential, eventBuildFailure)
		return nil, errors.New("credential provider returned no credential")
	}

	ceiling := started.Add(m.config.CredentialAbsoluteTTL)
	if d, ok := identity.(*auth.DelegatedIdentity); ok && !d.ExpiresAt.IsZero() && d.ExpiresAt.Before(ceiling) {
		ceiling = d.ExpiresAt
	}

	entry := &credentialEntry{
		id:                uuid.NewString(),
		credential:        cred,
		absoluteExpiresAt: ceiling,
	}
	m.credentials.set(key, entry)

	m.logger.Debug("credential cached",
		logger.Redacted("key", key, logKeyLength),
		logger.String("credential_id", entry.id),
		logger.Time("absolute_expires_at", ceiling),
	)
	return entry, nil
}

func (m *Manager[C, O]) buildClient(ctx context.Context, key string, identity auth.Identity, opts O) (*clientEntry[C], error) {
	credEntry, err := m.credentialEntry(ctx, identity)
	if err != nil {
		return nil, err
	}

	m.metrics.increment(tierClient, eventBuild)
	client, err := m.factory.CreateClient(ctx, credEntry.credential, opts)
	if err != nil {
		m.metrics.increment(tierClient, eventBuildFailure)
		m.logger.Warn("client creation failed",
			logger.Redacted("key", key, logKeyLength),
			logger.Err(err),
		)
		return nil, err
	}

	entry := &clientEntry[C]{
		client:       client,
		credentialID: credEntry.id,
		notAfter:     credEntry.absoluteExpiresAt,
	}
	m.clients.set(key, entry)

	m.logger.Debug("client cached",
		logger.Redacted("key", key, logKeyLength),
		logger.String("credential_id", credEntry.id),
	)
	return entry, nil
}

func (m *Manager[C, O]) onCredentialEvict(key string, entry *credentialEntry) {
	m.metrics.increment(tierCredential, eventEviction)
	m.logger.Debug("credential evicted",
		logger.Redacted("key", key, logKeyLength),
		logger.String("credential_id", entry.id),
	)
}

// onClientEvict runs under the tier lock, so disposal is handed to a
// goroutine.
func (m *Manager[C, O]) onClientEvict(key string, entry *clientEntry[C]) {
	m.metrics.increment(tierClient, eventEviction)
	m.logger.Debug("client evicted", logger.Redacted("key", key, logKeyLength))

	d, ok := any(entry.client).(Disposable)
	if !ok {
		return
	}
	m.disposals.Add(1)
	go func() {
		defer m.disposals.Done()
		m.dispose(key, d)
	}()
}

func (m *Manager[C, O]) dispose(key string, d Disposable) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.increment(tierClient, eventDisposeFailure)
			m.logger.Warn("client disposal panicked",
				logger.Redacted("key", key, logKeyLength),
				logger.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.config.DisposeTimeout)
	defer cancel()

	if err := d.Dispose(ctx); err != nil {
		m.metrics.increment(tierClient, eventDisposeFailure)
		m.logger.Warn("client disposal failed",
			logger.Redacted("key", key, logKeyLength),
			logger.Err(err),
		)
	}
}

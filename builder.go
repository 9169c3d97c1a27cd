package authstate

import (
	"context"
	"errors"

	"github.com/keramy/formulapmv2-sub016/storage"
)

// Builder defines a public type used by authstate APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config

	provider IdentityProvider
	profiles ProfileStore
	store    storage.Store

	logger    Logger
	auditSink AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithProvider describes the withprovider operation and its observable behavior.
//
// WithProvider may return an error when input validation, dependency calls, or security checks fail.
// WithProvider does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithProvider(p IdentityProvider) *Builder {
	b.provider = p
	return b
}

// WithProfileStore describes the withprofilestore operation and its observable behavior.
//
// WithProfileStore may return an error when input validation, dependency calls, or security checks fail.
// WithProfileStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithProfileStore(s ProfileStore) *Builder {
	b.profiles = s
	return b
}

// WithStorage describes the withstorage operation and its observable behavior.
//
// WithStorage may return an error when input validation, dependency calls, or security checks fail.
// WithStorage does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithStorage(s storage.Store) *Builder {
	b.store = s
	return b
}

// WithLogger describes the withlogger operation and its observable behavior.
//
// WithLogger may return an error when input validation, dependency calls, or security checks fail.
// WithLogger does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLogger(l Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithReloadFunc installs the host's hard-recovery reload hook.
func (b *Builder) WithReloadFunc(fn func()) *Builder {
	b.config.Recovery.ReloadFunc = fn
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.provider == nil {
		return nil, errors.New("identity provider required")
	}
	if b.profiles == nil {
		return nil, errors.New("profile store required")
	}
	if b.store == nil {
		b.store = storage.NewMemoryStore()
	}

	logger := b.logger
	if logger == nil {
		logger = &DefaultLogger{}
	}

	audit := newAuditDispatcher(cfg.Audit, b.auditSink)
	metrics := NewMetrics(cfg.Metrics)
	cache := newCredentialCache(cfg.Cache)

	m := &Manager{
		config:   cfg,
		provider: b.provider,
		profiles: b.profiles,
		store:    b.store,
		logger:   logger,
		audit:    audit,
		metrics:  metrics,
		cache:    cache,
	}

	m.session = newSessionCore(cfg.Session, b.provider, b.store, cache, logger, audit, metrics)
	m.tokens = newTokenManager(cfg.Token, b.provider, cache, logger, audit, metrics)
	m.loader = newProfileLoader(cfg.Profile, b.profiles, cache, logger, metrics)
	m.actions = newActionExecutor(b.provider, cache, b.store, cfg.Session.RecognizedPrefixes, logger, audit, metrics)
	m.breaker = newCircuitBreaker(cfg.Recovery, b.store, cfg.Session.RecognizedPrefixes, logger, audit, metrics)

	// -------- CROSS-WIRING --------
	m.session.notify = m.notifyChange
	m.session.onIdentity = func(identity *Identity) {
		// The loader's own timeouts bound this; the composite ctx is not
		// available here, so fetches run under a fresh background context.
		m.loader.ensure(context.Background(), identity.ID)
	}
	m.tokens.notify = m.notifyChange
	m.tokens.onInvalidCredential = m.teardownCredentials
	m.loader.notify = m.notifyChange
	m.actions.notify = m.notifyChange
	m.actions.session = m.session
	m.actions.loader = m.loader
	m.breaker.notify = m.notifyChange
	m.breaker.stillStuck = m.stillStuck

	b.built = true

	return m, nil
}

// teardownCredentials clears the full composite state when a dead refresh
// credential is detected: cache, session identity, loader state, and the
// recognized persisted keys.
func (m *Manager) teardownCredentials(ctx context.Context) {
	m.cache.clear()
	m.session.clearIdentity()
	m.loader.reset()
	sweepStorage(ctx, m.store, m.config.Session.RecognizedPrefixes, m.logger)
	m.notifyChange()
}

package authstate

import (
	"context"
	"fmt"
	"sync"

	"github.com/keramy/formulapmv2-sub016/storage"
)

// actionExecutor owns the user-triggered sign-in/sign-out flows and their
// transient flags. Sign-in failures are the only errors this package
// propagates to callers; everything else resolves internally.
type actionExecutor struct {
	provider IdentityProvider
	cache    *credentialCache
	store    storage.Store
	prefixes []string
	logger   Logger
	audit    *auditDispatcher
	metrics  *Metrics
	notify   func()

	session *sessionCore
	loader  *profileLoader

	mu         sync.Mutex
	signingIn  bool
	signingOut bool
	errMsg     string
}

func newActionExecutor(provider IdentityProvider, cache *credentialCache, store storage.Store, prefixes []string, logger Logger, audit *auditDispatcher, metrics *Metrics) *actionExecutor {
	return &actionExecutor{
		provider: provider,
		cache:    cache,
		store:    store,
		prefixes: prefixes,
		logger:   logger,
		audit:    audit,
		metrics:  metrics,
	}
}

// signIn authenticates with the provider. On success the identity and token
// are cached immediately; the profile is intentionally left for the loader.
// The signing-in flag is cleared once the call settles, independent of the
// session core's own later event-driven update.
func (a *actionExecutor) signIn(ctx context.Context, address, secret string) error {
	a.mu.Lock()
	if a.signingIn {
		a.mu.Unlock()
		return ErrSignInInProgress
	}
	a.signingIn = true
	a.errMsg = ""
	a.mu.Unlock()

	if a.notify != nil {
		a.notify()
	}

	defer func() {
		a.mu.Lock()
		a.signingIn = false
		a.mu.Unlock()
		if a.notify != nil {
			a.notify()
		}
	}()

	sess, err := a.provider.SignInWithPassword(ctx, address, secret)
	if err != nil {
		a.mu.Lock()
		a.errMsg = err.Error()
		a.mu.Unlock()

		a.metrics.Inc(MetricSignInFailure)
		a.audit.Emit(ctx, AuditEvent{
			EventType: auditSignIn,
			Success:   false,
			Error:     err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if sess == nil || sess.Identity == nil {
		a.mu.Lock()
		a.errMsg = "sign in returned no session"
		a.mu.Unlock()

		a.metrics.Inc(MetricSignInFailure)
		return fmt.Errorf("%w: provider returned no session", ErrInvalidCredentials)
	}

	a.cache.set(sess.Identity, nil, sess.AccessToken)
	if a.session != nil {
		a.session.adoptIdentity(sess.Identity)
	}

	a.metrics.Inc(MetricSignInSuccess)
	a.audit.Emit(ctx, AuditEvent{
		EventType:  auditSignIn,
		IdentityID: sess.Identity.ID,
		Success:    true,
	})
	return nil
}

// signOut always succeeds from the caller's perspective. The cache is
// cleared first so dependent reads observe the logged-out state before any
// network round trip completes; the provider call is best-effort.
func (a *actionExecutor) signOut(ctx context.Context) error {
	a.mu.Lock()
	a.signingOut = true
	a.mu.Unlock()

	if a.notify != nil {
		a.notify()
	}

	defer func() {
		a.mu.Lock()
		a.signingOut = false
		a.mu.Unlock()

		a.metrics.Inc(MetricSignOutCompleted)
		if a.notify != nil {
			a.notify()
		}
	}()

	identityID := ""
	if rec := a.cache.get(); rec.identity != nil {
		identityID = rec.identity.ID
	}

	a.cache.clear()
	if a.session != nil {
		a.session.clearIdentity()
	}
	if a.loader != nil {
		a.loader.reset()
	}

	if err := a.provider.SignOut(ctx); err != nil {
		a.logger.Warnf("authstate: provider sign-out failed: %v", err)
	}

	sweepStorage(ctx, a.store, a.prefixes, a.logger)
	a.metrics.Inc(MetricStorageSweep)

	a.audit.Emit(ctx, AuditEvent{
		EventType:  auditSignOut,
		IdentityID: identityID,
		Success:    true,
	})
	return nil
}

func (a *actionExecutor) clearAuthError() {
	a.mu.Lock()
	a.errMsg = ""
	a.mu.Unlock()

	if a.notify != nil {
		a.notify()
	}
}

func (a *actionExecutor) state() (signingIn, signingOut bool, errMsg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signingIn, a.signingOut, a.errMsg
}

package authstate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keramy/formulapmv2-sub016/jwt"
)

// tokenManager owns cache-first token retrieval and deduplicated refresh. It
// reads and writes only the cache's token field; the merge discipline in the
// cache protects everything else.
type tokenManager struct {
	cfg      TokenConfig
	provider IdentityProvider
	cache    *credentialCache
	logger   Logger
	audit    *auditDispatcher
	metrics  *Metrics
	notify   func()

	// onInvalidCredential tears down the full composite state when the
	// provider reports a dead refresh credential.
	onInvalidCredential func(ctx context.Context)

	// refreshInFlight guards both the cache-miss fetch and the explicit
	// refresh; lastFlight carries the live call's outcome to its waiters.
	refreshInFlight atomic.Bool
	flightMu        sync.Mutex
	lastFlight      flightResult

	now func() time.Time
}

// flightResult is the outcome of one provider round-trip, shared with every
// caller that deduplicated against it.
type flightResult struct {
	token string
	err   error
}

func newTokenManager(cfg TokenConfig, provider IdentityProvider, cache *credentialCache, logger Logger, audit *auditDispatcher, metrics *Metrics) *tokenManager {
	return &tokenManager{
		cfg:      cfg,
		provider: provider,
		cache:    cache,
		logger:   logger,
		audit:    audit,
		metrics:  metrics,
		now:      time.Now,
	}
}

// getAccessToken is cache-first: the cached token is returned when the cache
// is fresh per staleness policy OR the token's own decoded expiry (minus the
// buffer) has not passed. On a miss the fetch runs under the same in-flight
// guard as refreshToken, so concurrent callers on an empty or stale cache
// issue exactly one provider round-trip and share its result.
//
// An invalid refresh credential clears the entire composite state; any other
// failure returns "" and keeps the cache.
func (t *tokenManager) getAccessToken(ctx context.Context) (token string, err error) {
	if cached, ok := t.cachedToken(); ok {
		return cached, nil
	}
	t.metrics.Inc(MetricTokenCacheMiss)

	if !t.refreshInFlight.CompareAndSwap(false, true) {
		return t.awaitFlight(ctx)
	}
	// Publish before releasing the guard so waiters read this call's result.
	defer func() {
		t.publishFlight(token, err)
		t.refreshInFlight.Store(false)
	}()

	// A flight may have landed between the staleness check and the guard;
	// serve its result instead of issuing a second fetch.
	if cached, ok := t.cachedToken(); ok {
		return cached, nil
	}
	return t.fetchSession(ctx)
}

// cachedToken returns the cached token when it is still servable.
func (t *tokenManager) cachedToken() (string, bool) {
	rec := t.cache.get()
	if rec.token == "" {
		return "", false
	}
	if !t.cache.needsRefresh() || !jwt.IsExpired(rec.token, t.cfg.ExpiryBuffer, t.now()) {
		t.metrics.Inc(MetricTokenCacheHit)
		return rec.token, true
	}
	return "", false
}

// fetchSession is the cache-miss provider round-trip. Callers hold the
// in-flight guard.
func (t *tokenManager) fetchSession(ctx context.Context) (string, error) {
	sess, err := t.provider.GetSession(ctx)
	if err != nil {
		if isInvalidRefreshCredential(err) {
			t.logger.Warnf("authstate: refresh credential invalid, clearing state: %v", err)
			if t.onInvalidCredential != nil {
				t.onInvalidCredential(ctx)
			}
			return "", nil
		}
		t.logger.Warnf("authstate: token fetch failed: %v", err)
		return "", nil
	}
	if sess == nil || sess.AccessToken == "" {
		return "", nil
	}

	// Merge: nil profile leaves the loader's field alone.
	t.cache.set(sess.Identity, nil, sess.AccessToken)
	if t.notify != nil {
		t.notify()
	}
	return sess.AccessToken, nil
}

// refreshToken serializes concurrent refreshes through the in-flight guard.
// Late callers wait, bounded, for the live call to finish and then read its
// published outcome; exactly one provider refresh is issued, and a failed
// leader hands every waiter the same empty result.
func (t *tokenManager) refreshToken(ctx context.Context) (token string, err error) {
	if !t.refreshInFlight.CompareAndSwap(false, true) {
		return t.awaitFlight(ctx)
	}
	defer func() {
		t.publishFlight(token, err)
		t.refreshInFlight.Store(false)
	}()

	return t.doRefresh(ctx)
}

func (t *tokenManager) doRefresh(ctx context.Context) (string, error) {
	start := t.now()
	sess, err := t.provider.RefreshSession(ctx)
	t.metrics.Observe(MetricRefreshLatency, t.now().Sub(start))

	if err != nil {
		t.metrics.Inc(MetricTokenRefreshFailure)
		if isInvalidRefreshCredential(err) {
			t.logger.Warnf("authstate: refresh credential invalid, clearing state: %v", err)
			if t.onInvalidCredential != nil {
				t.onInvalidCredential(ctx)
			}
			return "", nil
		}
		t.logger.Warnf("authstate: token refresh failed: %v", err)
		return "", nil
	}
	if sess == nil || sess.AccessToken == "" {
		t.metrics.Inc(MetricTokenRefreshFailure)
		return "", nil
	}

	t.cache.set(sess.Identity, nil, sess.AccessToken)
	t.metrics.Inc(MetricTokenRefreshSuccess)

	identityID := ""
	if sess.Identity != nil {
		identityID = sess.Identity.ID
	}
	t.audit.Emit(ctx, AuditEvent{
		EventType:  auditTokenRefresh,
		IdentityID: identityID,
		Success:    true,
	})
	if t.notify != nil {
		t.notify()
	}
	return sess.AccessToken, nil
}

// awaitFlight polls, bounded, for the in-flight provider call to clear and
// then returns the outcome it published. The leader publishes before clearing
// the guard, so an observed clear guard implies a readable result.
func (t *tokenManager) awaitFlight(ctx context.Context) (string, error) {
	t.metrics.Inc(MetricTokenRefreshDeduped)

	deadline := time.NewTimer(t.cfg.RefreshWait)
	defer deadline.Stop()
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", ErrRefreshTimeout
		case <-ticker.C:
			if !t.refreshInFlight.Load() {
				t.flightMu.Lock()
				res := t.lastFlight
				t.flightMu.Unlock()
				return res.token, res.err
			}
		}
	}
}

func (t *tokenManager) publishFlight(token string, err error) {
	t.flightMu.Lock()
	t.lastFlight = flightResult{token: token, err: err}
	t.flightMu.Unlock()
}

// isTokenExpired is the fail-safe expiry check: any structural or parse
// failure counts as expired, forcing a refresh rather than risking an
// unusable token.
func (t *tokenManager) isTokenExpired(token string) bool {
	return jwt.IsExpired(token, t.cfg.ExpiryBuffer, t.now())
}

// clearTokenCache drops only the token field.
func (t *tokenManager) clearTokenCache() {
	t.cache.clearToken()
	if t.notify != nil {
		t.notify()
	}
}

// runAutoRefresh is the background refresh loop. It skips a tick when a
// caller-driven refresh is already live; failures are logged only.
func (t *tokenManager) runAutoRefresh(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.cache.get().identity == nil {
				continue
			}
			if _, err := t.refreshToken(ctx); err != nil {
				t.logger.Warnf("authstate: background token refresh: %v", err)
			}
		}
	}
}

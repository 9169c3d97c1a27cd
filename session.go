package authstate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/keramy/formulapmv2-sub016/storage"
)

var errInitCeiling = errors.New("session init ceiling reached")

// sessionCore owns the raw session lifecycle: cold-start retrieval, event
// handling, passive periodic refresh, and corrupted-storage cleanup. It
// writes identity and token into the credential cache; the profile field
// belongs to the loader.
type sessionCore struct {
	cfg      SessionConfig
	provider IdentityProvider
	store    storage.Store
	cache    *credentialCache
	logger   Logger
	audit    *auditDispatcher
	metrics  *Metrics

	// notify publishes a recomputed composite snapshot; onIdentity triggers
	// the profile auto-fetch when a new identity appears.
	notify     func()
	onIdentity func(identity *Identity)

	mu        sync.Mutex
	identity  *Identity
	loading   bool
	errMsg    string
	completed bool
}

func newSessionCore(cfg SessionConfig, provider IdentityProvider, store storage.Store, cache *credentialCache, logger Logger, audit *auditDispatcher, metrics *Metrics) *sessionCore {
	return &sessionCore{
		cfg:      cfg,
		provider: provider,
		store:    store,
		cache:    cache,
		logger:   logger,
		audit:    audit,
		metrics:  metrics,
		loading:  true,
	}
}

// initialize runs the storage health check and then requests the current
// session under the retrieve timeout. The init ceiling starts immediately and
// covers both steps, so a hung store cannot hold loading past InitTimeout.
// The completed guard makes the natural resolution and the forced ceiling
// race safely: first to finish wins, the loser is discarded.
func (s *sessionCore) initialize(ctx context.Context) {
	type outcome struct {
		sess *Session
		err  error
	}

	ictx, icancel := context.WithTimeout(ctx, s.cfg.InitTimeout)
	defer icancel()

	done := make(chan outcome, 1)
	go func() {
		s.healthCheck(ictx)

		rctx, cancel := context.WithTimeout(ictx, s.cfg.RetrieveTimeout)
		defer cancel()

		sess, err := s.provider.GetSession(rctx)
		done <- outcome{sess: sess, err: err}
	}()

	ceiling := time.NewTimer(s.cfg.InitTimeout)
	defer ceiling.Stop()

	select {
	case out := <-done:
		s.completeInit(ctx, out.sess, out.err)
	case <-ceiling.C:
		s.completeInit(ctx, nil, errInitCeiling)
	case <-ctx.Done():
		s.completeInit(ctx, nil, ctx.Err())
	}
}

func (s *sessionCore) completeInit(ctx context.Context, sess *Session, err error) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.completed = true

	switch {
	case err == nil && sess != nil && sess.Identity != nil:
		s.identity = sess.Identity
		s.errMsg = ""
		s.mu.Unlock()

		s.cache.set(sess.Identity, nil, sess.AccessToken)
		s.metrics.Inc(MetricSessionInitSuccess)
		s.audit.Emit(ctx, AuditEvent{
			EventType:  auditSessionInit,
			IdentityID: sess.Identity.ID,
			Success:    true,
		})
		s.setLoading(false)
		if s.onIdentity != nil {
			s.onIdentity(sess.Identity)
		}

	case err == nil:
		// No session: clean signed-out cold start.
		s.errMsg = ""
		s.mu.Unlock()

		s.metrics.Inc(MetricSessionInitSuccess)
		s.setLoading(false)

	case errors.Is(err, errInitCeiling), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled), isInvalidRefreshCredential(err):
		// Timeout or a dead refresh credential: clear persisted state
		// silently, no user-facing error.
		s.errMsg = ""
		s.mu.Unlock()

		s.logger.Warnf("authstate: session init did not resolve cleanly: %v", err)
		s.metrics.Inc(MetricSessionInitTimeout)

		// The store that stalled init may be the one being swept; bound it so
		// loading still resolves.
		sctx, cancel := context.WithTimeout(ctx, s.cfg.RetrieveTimeout)
		s.sweepStorage(sctx)
		cancel()
		s.setLoading(false)

	default:
		s.errMsg = err.Error()
		s.mu.Unlock()

		s.metrics.Inc(MetricSessionInitError)
		s.audit.Emit(ctx, AuditEvent{
			EventType: auditSessionInit,
			Success:   false,
			Error:     err.Error(),
		})
		s.setLoading(false)
	}
}

// healthCheck scans recognized key prefixes and deletes entries whose values
// are not valid serialized JSON. Well-formed siblings are untouched; storage
// failures are logged only.
func (s *sessionCore) healthCheck(ctx context.Context) {
	for _, prefix := range s.cfg.RecognizedPrefixes {
		keys, err := s.store.Keys(ctx, prefix)
		if err != nil {
			s.logger.Warnf("authstate: storage health check scan failed for %q: %v", prefix, err)
			continue
		}

		for _, key := range keys {
			val, err := s.store.Get(ctx, key)
			if err != nil {
				if !errors.Is(err, storage.ErrKeyNotFound) {
					s.logger.Warnf("authstate: storage health check read failed for %q: %v", key, err)
				}
				continue
			}
			if json.Valid([]byte(val)) {
				continue
			}

			if err := s.store.Delete(ctx, key); err != nil {
				s.logger.Warnf("authstate: failed to purge corrupted entry %q: %v", key, err)
				continue
			}
			s.metrics.Inc(MetricStorageCorruptPurged)
			s.logger.Infof("authstate: purged corrupted storage entry %q", key)
		}
	}
}

// sweepStorage best-effort deletes every recognized auth-related key.
func (s *sessionCore) sweepStorage(ctx context.Context) {
	sweepStorage(ctx, s.store, s.cfg.RecognizedPrefixes, s.logger)
	s.metrics.Inc(MetricStorageSweep)
	s.audit.Emit(ctx, AuditEvent{EventType: auditStorageSweep, Success: true})
}

// handleEvent applies one provider event. All four cases are idempotent.
func (s *sessionCore) handleEvent(ev AuthEvent) {
	s.metrics.Inc(MetricSessionEvent)

	switch ev.Kind {
	case EventSignedIn:
		if ev.Session == nil || ev.Session.Identity == nil {
			return
		}
		s.cache.set(ev.Session.Identity, nil, ev.Session.AccessToken)

		s.mu.Lock()
		s.identity = ev.Session.Identity
		s.errMsg = ""
		s.loading = false
		s.mu.Unlock()

		if s.onIdentity != nil {
			s.onIdentity(ev.Session.Identity)
		}

	case EventSignedOut:
		s.cache.clear()

		s.mu.Lock()
		s.identity = nil
		s.errMsg = ""
		s.loading = false
		s.mu.Unlock()

	case EventTokenRefreshed:
		if ev.Session == nil || ev.Session.AccessToken == "" {
			return
		}
		// Token only; the cached profile is preserved by the merge.
		s.cache.set(ev.Session.Identity, nil, ev.Session.AccessToken)
		if ev.Session.Identity != nil {
			s.mu.Lock()
			s.identity = ev.Session.Identity
			s.mu.Unlock()
		}

	case EventIdentityUpdated:
		if ev.Session == nil || ev.Session.Identity == nil {
			return
		}
		s.cache.patchIdentity(ev.Session.Identity)

		s.mu.Lock()
		if s.identity != nil {
			rec := s.cache.get()
			s.identity = rec.identity
		}
		s.mu.Unlock()
	}

	s.audit.Emit(context.Background(), AuditEvent{
		EventType: auditSessionEvent,
		Success:   true,
		Metadata:  map[string]string{"kind": ev.Kind.String()},
	})
	if s.notify != nil {
		s.notify()
	}
}

// runRefresh is the passive background refresh loop. Failures are logged
// only; real invalidation arrives through the event stream.
func (s *sessionCore) runRefresh(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshOnce(ctx)
		}
	}
}

func (s *sessionCore) refreshOnce(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RetrieveTimeout)
	defer cancel()

	sess, err := s.provider.RefreshSession(rctx)
	if err != nil {
		s.metrics.Inc(MetricSessionRefreshFailure)
		s.logger.Warnf("authstate: passive session refresh failed: %v", err)
		return
	}
	if sess == nil {
		return
	}

	s.cache.set(sess.Identity, nil, sess.AccessToken)
	if sess.Identity != nil {
		s.mu.Lock()
		s.identity = sess.Identity
		s.mu.Unlock()
	}
	s.metrics.Inc(MetricSessionRefreshSuccess)
	if s.notify != nil {
		s.notify()
	}
}

// adoptIdentity installs an identity produced by a user action (sign-in)
// ahead of the provider's own event-driven update.
func (s *sessionCore) adoptIdentity(identity *Identity) {
	s.mu.Lock()
	s.identity = identity
	s.errMsg = ""
	s.loading = false
	s.mu.Unlock()

	if s.onIdentity != nil && identity != nil {
		s.onIdentity(identity)
	}
}

func (s *sessionCore) clearIdentity() {
	s.mu.Lock()
	s.identity = nil
	s.mu.Unlock()
}

func (s *sessionCore) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()

	if s.notify != nil {
		s.notify()
	}
}

func (s *sessionCore) state() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionState{
		Identity: s.identity,
		Loading:  s.loading,
		Err:      s.errMsg,
	}
}

func (s *sessionCore) isAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity != nil
}

func (s *sessionCore) isRecovering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading && s.identity != nil
}

// isInvalidRefreshCredential matches the provider error shapes that mean the
// persisted refresh credential is dead and the local state must go.
func isInvalidRefreshCredential(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidRefreshCredential) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"invalid refresh token",
		"refresh token not found",
		"refresh_token_not_found",
		"already used",
		"refresh token expired",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// sweepStorage deletes every key under the recognized prefixes. Best-effort:
// failures are logged, never propagated.
func sweepStorage(ctx context.Context, store storage.Store, prefixes []string, logger Logger) {
	for _, prefix := range prefixes {
		keys, err := store.Keys(ctx, prefix)
		if err != nil {
			logger.Warnf("authstate: storage sweep scan failed for %q: %v", prefix, err)
			continue
		}
		if len(keys) == 0 {
			continue
		}
		if err := store.Delete(ctx, keys...); err != nil {
			logger.Warnf("authstate: storage sweep delete failed for %q: %v", prefix, err)
		}
	}
}

package authstate

import (
	"context"
	"sync"
	"time"

	"github.com/keramy/formulapmv2-sub016/permission"
	"github.com/keramy/formulapmv2-sub016/storage"
)

// Manager defines a public type used by authstate APIs.
//
// Manager is the state composer: it merges the session core, token manager,
// profile loader, and action executor into one externally visible
// authentication status, applying strict precedence rules and the two-tier
// circuit-breaker recovery mechanism.
type Manager struct {
	config   Config
	provider IdentityProvider
	profiles ProfileStore
	store    storage.Store
	logger   Logger
	audit    *auditDispatcher
	metrics  *Metrics
	cache    *credentialCache

	session *sessionCore
	tokens  *tokenManager
	loader  *profileLoader
	actions *actionExecutor
	breaker *circuitBreaker

	mu          sync.Mutex
	subscribers map[uint64]chan Snapshot
	nextSubID   uint64
	started     bool
	closed      bool
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// Start begins the composed lifecycle: provider event subscription, the
// storage health check and cold-start session retrieval, the passive session
// and token refresh loops, and the circuit-breaker timer. Setup runs once
// per lifecycle; calling Start twice is an error.
func (m *Manager) Start(ctx context.Context) error {
	if m == nil {
		return ErrNotReady
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.unsubscribe = m.provider.Subscribe(m.session.handleEvent)
	m.breaker.start()

	m.wg.Add(3)
	go func() {
		defer m.wg.Done()
		m.session.initialize(runCtx)
	}()
	go func() {
		defer m.wg.Done()
		m.session.runRefresh(runCtx)
	}()
	go func() {
		defer m.wg.Done()
		m.tokens.runAutoRefresh(runCtx)
	}()

	return nil
}

// Close tears down the lifecycle: timers stopped, listeners unsubscribed,
// background loops cancelled, audit dispatcher drained. Outstanding provider
// calls are not force-cancelled; the completion guards discard their results.
func (m *Manager) Close() {
	if m == nil {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancel := m.cancel
	subs := m.subscribers
	m.subscribers = nil
	m.mu.Unlock()

	m.breaker.stop()
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	for _, ch := range subs {
		close(ch)
	}
	m.audit.Close()
}

/*
====================================
COMPOSITION RULES
====================================
*/

// combinedLoading evaluates the loading precedence, first match wins:
//
//  1. Circuit breaker tripped: never loading.
//  2. A sign-in or sign-out action in progress: loading.
//  3. Session core loading: loading.
//  4. Identity present, no profile yet, loader actively loading with no
//     error: loading.
//  5. Otherwise: not loading.
//
// Rule 4 keeps an absent or errored profile from hanging the system: only
// genuine active loading with no alternative may block.
func (m *Manager) combinedLoading() bool {
	if m.breaker.isTripped() {
		return false
	}

	signingIn, signingOut, _ := m.actions.state()
	if signingIn || signingOut {
		return true
	}

	sess := m.session.state()
	if sess.Loading {
		return true
	}

	profileLoading, profileErr, _ := m.loader.state()
	rec := m.cache.get()
	if sess.Identity != nil && rec.profile == nil && profileLoading && profileErr == "" {
		return true
	}

	return false
}

// AuthState recomputes the composite state machine. Transitions are checked
// in order; the earliest matching rule decides.
func (m *Manager) AuthState() AuthState {
	if m == nil {
		return StateIdle
	}

	signingIn, signingOut, _ := m.actions.state()
	if signingOut {
		return StateSigningOut
	}
	if signingIn {
		return StateLoading
	}
	if m.combinedLoading() {
		return StateRecovering
	}

	sess := m.session.state()
	if sess.Identity == nil {
		return StateIdle
	}

	rec := m.cache.get()
	profileLoading, profileErr, _ := m.loader.state()
	switch {
	case rec.profile != nil && rec.profile.Active:
		return StateAuthenticated
	case rec.profile != nil || profileErr != "":
		// Degraded: permission checks will simply deny.
		return StateAuthenticated
	case profileLoading:
		return StateRecovering
	default:
		// Lookup completed, nothing found: basic access.
		return StateAuthenticated
	}
}

// IsAuthenticated is the gating flag: false during user actions; false while
// the session core loads unless the breaker has tripped, in which case
// identity alone suffices; a present profile must be active. The system
// never denies access purely because optional profile data has not arrived.
func (m *Manager) IsAuthenticated() bool {
	if m == nil {
		return false
	}

	signingIn, signingOut, _ := m.actions.state()
	if signingIn || signingOut {
		return false
	}

	sess := m.session.state()
	if sess.Loading && !m.breaker.isTripped() {
		return false
	}
	if sess.Identity == nil {
		return false
	}

	rec := m.cache.get()
	if rec.profile != nil && !rec.profile.Active {
		return false
	}
	return true
}

/*
====================================
PUBLIC SURFACE
====================================
*/

// Identity returns the current identity, or nil when signed out.
func (m *Manager) Identity() *Identity {
	return m.session.state().Identity
}

// Profile returns the cached profile, or nil while absent. Absence is a
// valid state, not an error.
func (m *Manager) Profile() *Profile {
	return m.cache.get().profile
}

// Loading describes the loading operation and its observable behavior.
func (m *Manager) Loading() bool {
	return m.combinedLoading()
}

// Err returns the surfaced error message: action errors first, then session
// errors, then profile errors. Transient faults never appear here.
func (m *Manager) Err() string {
	_, _, actionErr := m.actions.state()
	if actionErr != "" {
		return actionErr
	}
	if sessErr := m.session.state().Err; sessErr != "" {
		return sessErr
	}
	_, profileErr, _ := m.loader.state()
	return profileErr
}

// SignIn describes the signin operation and its observable behavior.
//
// SignIn may return an error when input validation, dependency calls, or security checks fail.
// SignIn does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) SignIn(ctx context.Context, address, secret string) error {
	if m == nil {
		return ErrNotReady
	}
	return m.actions.signIn(ctx, address, secret)
}

// SignOut describes the signout operation and its observable behavior.
//
// SignOut may return an error when input validation, dependency calls, or security checks fail.
// SignOut does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) SignOut(ctx context.Context) error {
	if m == nil {
		return ErrNotReady
	}
	return m.actions.signOut(ctx)
}

// ClearAuthError resets the stored action error message.
func (m *Manager) ClearAuthError() {
	m.actions.clearAuthError()
}

// GetAccessToken describes the getaccesstoken operation and its observable behavior.
//
// GetAccessToken may return an error when input validation, dependency calls, or security checks fail.
// GetAccessToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	if m == nil {
		return "", ErrNotReady
	}
	return m.tokens.getAccessToken(ctx)
}

// RefreshToken forces a token refresh. Concurrent callers share one
// underlying provider call and observe the same result.
func (m *Manager) RefreshToken(ctx context.Context) (string, error) {
	if m == nil {
		return "", ErrNotReady
	}
	return m.tokens.refreshToken(ctx)
}

// IsTokenExpired describes the istokenexpired operation and its observable behavior.
func (m *Manager) IsTokenExpired(token string) bool {
	return m.tokens.isTokenExpired(token)
}

// ClearTokenCache drops only the cached token field.
func (m *Manager) ClearTokenCache() {
	m.tokens.clearTokenCache()
}

// FetchProfiles is the batched profile lookup keyed by an id set.
func (m *Manager) FetchProfiles(ctx context.Context, identityIDs []string) (map[string]*Profile, error) {
	if m == nil {
		return nil, ErrNotReady
	}
	return m.loader.fetchProfiles(ctx, identityIDs)
}

// IsRecoveringSession reports a session refresh happening behind an existing
// identity: loading with someone still logged in.
func (m *Manager) IsRecoveringSession() bool {
	return m.session.isRecovering()
}

// IsUserInitiated reports whether a user-triggered sign-in or sign-out is in
// flight.
func (m *Manager) IsUserInitiated() bool {
	signingIn, signingOut, _ := m.actions.state()
	return signingIn || signingOut
}

// SessionState returns the session core's slice of state.
func (m *Manager) SessionState() SessionState {
	return m.session.state()
}

/*
====================================
ROLE / SENIORITY PREDICATES
====================================
*/

// Role returns the typed role from the cached profile. RoleUnknown while the
// profile is absent.
func (m *Manager) Role() permission.Role {
	if profile := m.cache.get().profile; profile != nil && profile.Active {
		return profile.Role
	}
	return permission.RoleUnknown
}

// Seniority describes the seniority operation and its observable behavior.
func (m *Manager) Seniority() permission.Seniority {
	if profile := m.cache.get().profile; profile != nil && profile.Active {
		return profile.Seniority
	}
	return permission.SeniorityNone
}

// HasPermission checks the static matrix for the active profile's role.
// Missing or inactive profiles deny.
func (m *Manager) HasPermission(p permission.Permission) bool {
	return m.Role().Has(p)
}

// CanViewCosts is the seniority-aware cost-visibility predicate.
func (m *Manager) CanViewCosts() bool {
	return permission.CanViewCosts(m.Role(), m.Seniority())
}

// IsManagementLevel describes the ismanagementlevel operation and its observable behavior.
func (m *Manager) IsManagementLevel() bool {
	return permission.IsManagementLevel(m.Role())
}

/*
====================================
OBSERVABILITY
====================================
*/

// CacheStats describes the cachestats operation and its observable behavior.
func (m *Manager) CacheStats() CacheStats {
	return m.cache.stats()
}

// DebugSnapshot returns the full composed view for diagnostics.
func (m *Manager) DebugSnapshot() Snapshot {
	return m.snapshot()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil || m.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return m.metrics.Snapshot()
}

// AuditDropped describes the auditdropped operation and its observable behavior.
func (m *Manager) AuditDropped() uint64 {
	if m == nil || m.audit == nil {
		return 0
	}
	return m.audit.Dropped()
}

/*
====================================
SUBSCRIPTION
====================================
*/

// Subscribe registers a state-change listener. The returned channel receives
// a snapshot after every relevant change; slow consumers drop snapshots
// rather than block the composer. The cancel func unregisters and closes the
// channel.
func (m *Manager) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := m.nextSubID
	m.nextSubID++
	if m.subscribers == nil {
		m.subscribers = make(map[uint64]chan Snapshot)
	}
	m.subscribers[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		if sub, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) snapshot() Snapshot {
	sess := m.session.state()
	rec := m.cache.get()

	return Snapshot{
		State:           m.AuthState(),
		Identity:        sess.Identity,
		Profile:         rec.profile,
		Loading:         m.combinedLoading(),
		Err:             m.Err(),
		IsAuthenticated: m.IsAuthenticated(),
		IsRecovering:    m.session.isRecovering(),
		IsUserInitiated: m.IsUserInitiated(),
		BreakerTripped:  m.breaker.isTripped(),
		Cache:           m.cache.stats(),
		At:              time.Now(),
	}
}

// notifyChange recomputes the composite state, releases the breaker once the
// watched subsystems have settled, and publishes to subscribers.
func (m *Manager) notifyChange() {
	sessionLoading := m.session.state().Loading
	profileLoading, _, _ := m.loader.state()
	if !sessionLoading && !profileLoading {
		m.breaker.resolve()
	}

	m.mu.Lock()
	if len(m.subscribers) == 0 {
		m.mu.Unlock()
		return
	}
	subs := make([]chan Snapshot, 0, len(m.subscribers))
	for _, ch := range m.subscribers {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	snap := m.snapshot()
	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// stillStuck backs the hard-recovery check: true while either the session
// core or the profile loader reports loading.
func (m *Manager) stillStuck() bool {
	if m.session.state().Loading {
		return true
	}
	loading, _, _ := m.loader.state()
	return loading
}

package authstate

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type mockProvider struct {
	mu sync.Mutex

	session    *Session
	sessionErr error
	// getSessionDelay simulates a slow provider; calls honor ctx cancellation.
	getSessionDelay time.Duration

	signInSession *Session
	signInErr     error

	signOutErr error
	// onSignOut runs inside SignOut, before the error is returned. Tests use
	// it to observe state mid-call.
	onSignOut func()

	refreshSession *Session
	refreshErr     error
	refreshDelay   time.Duration

	getSessionCalls int
	signInCalls     int
	signOutCalls    int
	refreshCalls    int

	subscribers map[int]func(AuthEvent)
	nextSubID   int
}

func (m *mockProvider) GetSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	m.getSessionCalls++
	delay := m.getSessionDelay
	sess, err := m.session, m.sessionErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return sess, err
}

func (m *mockProvider) SignInWithPassword(_ context.Context, _, _ string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signInCalls++
	return m.signInSession, m.signInErr
}

func (m *mockProvider) SignOut(_ context.Context) error {
	m.mu.Lock()
	m.signOutCalls++
	hook, err := m.onSignOut, m.signOutErr
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

func (m *mockProvider) RefreshSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	m.refreshCalls++
	delay := m.refreshDelay
	sess, err := m.refreshSession, m.refreshErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return sess, err
}

func (m *mockProvider) Subscribe(fn func(AuthEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscribers == nil {
		m.subscribers = make(map[int]func(AuthEvent))
	}
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// emit fans an event out to every live subscriber, synchronously.
func (m *mockProvider) emit(ev AuthEvent) {
	m.mu.Lock()
	fns := make([]func(AuthEvent), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (m *mockProvider) calls() (getSession, signIn, signOut, refresh int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getSessionCalls, m.signInCalls, m.signOutCalls, m.refreshCalls
}

type mockProfileStore struct {
	mu sync.Mutex

	rows map[string]ProfileRecord
	err  error

	getCalls   int
	batchCalls int
}

func (m *mockProfileStore) GetProfile(_ context.Context, identityID string) (*ProfileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++

	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.rows[identityID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &rec, nil
}

func (m *mockProfileStore) GetProfiles(_ context.Context, identityIDs []string) ([]ProfileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++

	if m.err != nil {
		return nil, m.err
	}
	out := make([]ProfileRecord, 0, len(identityIDs))
	for _, id := range identityIDs {
		if rec, ok := m.rows[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockProfileStore) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// testConfig shrinks every timeout so lifecycle tests run in milliseconds
// while preserving the required nesting order.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.RetrieveTimeout = 50 * time.Millisecond
	cfg.Session.InitTimeout = 100 * time.Millisecond
	cfg.Session.RefreshInterval = time.Hour
	cfg.Token.RefreshInterval = time.Hour
	cfg.Token.RefreshWait = 500 * time.Millisecond
	cfg.Token.PollInterval = 5 * time.Millisecond
	cfg.Profile.FetchTimeout = 150 * time.Millisecond
	cfg.Recovery.BreakerCeiling = 400 * time.Millisecond
	cfg.Recovery.HardRecoveryDelay = 300 * time.Millisecond
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestManager(t *testing.T, cfg Config, provider *mockProvider, profiles *mockProfileStore) *Manager {
	t.Helper()

	if provider == nil {
		provider = &mockProvider{}
	}
	if profiles == nil {
		profiles = &mockProfileStore{}
	}

	m, err := New().
		WithConfig(cfg).
		WithProvider(provider).
		WithProfileStore(profiles).
		WithLogger(NewNopLogger()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func startTestManager(t *testing.T, m *Manager) {
	t.Helper()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v: %s", timeout, msg)
}

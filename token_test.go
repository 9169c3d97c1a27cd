package authstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestGetAccessTokenCacheHit(t *testing.T) {
	provider := &mockProvider{}

	m := newTestManager(t, testConfig(), provider, nil)
	m.cache.set(&Identity{ID: "u1"}, nil, mintTestToken(t, "u1", time.Now().Add(time.Hour)))

	tok, err := m.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("GetAccessToken failed: %v", err)
	}
	if tok == "" {
		t.Fatal("expected cached token")
	}

	if calls, _, _, _ := provider.calls(); calls != 0 {
		t.Fatalf("cache hit must not call the provider, got %d calls", calls)
	}
	if m.metrics.Value(MetricTokenCacheHit) != 1 {
		t.Fatal("expected cache hit metric")
	}
}

func TestGetAccessTokenRefetchesWhenStaleAndExpired(t *testing.T) {
	fresh := mintTestToken(t, "u1", time.Now().Add(time.Hour))
	provider := &mockProvider{
		session: &Session{Identity: &Identity{ID: "u1"}, AccessToken: fresh},
	}

	m := newTestManager(t, testConfig(), provider, nil)

	clk := newFakeClock()
	m.cache.now = clk.Now
	m.tokens.now = clk.Now

	// Token already inside the expiry buffer, cache past its staleness window.
	nearExpiry := mintTestToken(t, "u1", clk.Now().Add(2*time.Minute))
	m.cache.set(&Identity{ID: "u1"}, &Profile{IdentityID: "u1", Active: true}, nearExpiry)
	clk.Advance(11 * time.Minute)

	tok, err := m.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("GetAccessToken failed: %v", err)
	}
	if tok != fresh {
		t.Fatal("expected freshly fetched token")
	}
	if calls, _, _, _ := provider.calls(); calls != 1 {
		t.Fatalf("expected one provider call, got %d", calls)
	}
	if m.cache.get().profile == nil {
		t.Fatal("token refetch erased the cached profile")
	}
	if m.metrics.Value(MetricTokenCacheMiss) != 1 {
		t.Fatal("expected cache miss metric")
	}
}

func TestGetAccessTokenInvalidCredentialTearsDown(t *testing.T) {
	provider := &mockProvider{
		sessionErr: errors.New("invalid refresh token"),
	}

	m := newTestManager(t, testConfig(), provider, nil)

	clk := newFakeClock()
	m.cache.now = clk.Now
	m.tokens.now = clk.Now
	m.cache.set(&Identity{ID: "u1"}, nil, "tok-not-a-jwt")
	m.session.adoptIdentity(&Identity{ID: "u1"})
	clk.Advance(11 * time.Minute)

	tok, err := m.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("invalid credential must not surface an error, got %v", err)
	}
	if tok != "" {
		t.Fatal("expected empty token")
	}
	if rec := m.cache.get(); rec.identity != nil || rec.token != "" {
		t.Fatal("invalid refresh credential must clear the cache")
	}
	if m.SessionState().Identity != nil {
		t.Fatal("invalid refresh credential must clear the session identity")
	}
}

func TestGetAccessTokenTransientFailureKeepsCache(t *testing.T) {
	provider := &mockProvider{sessionErr: errors.New("backend exploded")}

	m := newTestManager(t, testConfig(), provider, nil)

	clk := newFakeClock()
	m.cache.now = clk.Now
	m.tokens.now = clk.Now
	m.cache.set(&Identity{ID: "u1"}, &Profile{IdentityID: "u1"}, "tok-not-a-jwt")
	clk.Advance(11 * time.Minute)

	tok, err := m.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("transient failure must not surface an error, got %v", err)
	}
	if tok != "" {
		t.Fatal("expected empty token on failed fetch")
	}
	if rec := m.cache.get(); rec.identity == nil || rec.profile == nil {
		t.Fatal("a failed fetch must not clear the cache")
	}
}

func TestRefreshTokenDeduplicatesConcurrentCalls(t *testing.T) {
	provider := &mockProvider{
		refreshSession: &Session{Identity: &Identity{ID: "u1"}, AccessToken: "tok-refreshed"},
		refreshDelay:   80 * time.Millisecond,
	}

	m := newTestManager(t, testConfig(), provider, nil)

	leaderDone := make(chan string, 1)
	go func() {
		tok, _ := m.RefreshToken(context.Background())
		leaderDone <- tok
	}()

	waitFor(t, time.Second, func() bool {
		_, _, _, refresh := provider.calls()
		return refresh == 1
	}, "leading refresh did not start")

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tok, err := m.RefreshToken(context.Background())
			if err != nil {
				t.Errorf("deduplicated refresh %d failed: %v", idx, err)
				return
			}
			results[idx] = tok
		}(i)
	}
	wg.Wait()

	if tok := <-leaderDone; tok != "tok-refreshed" {
		t.Fatalf("leader got %q", tok)
	}
	for i, tok := range results {
		if tok != "tok-refreshed" {
			t.Fatalf("waiter %d got %q, want shared refresh result", i, tok)
		}
	}
	if _, _, _, refresh := provider.calls(); refresh != 1 {
		t.Fatalf("expected exactly one provider refresh, got %d", refresh)
	}
	if m.metrics.Value(MetricTokenRefreshDeduped) != 3 {
		t.Fatalf("expected 3 deduplicated refreshes, got %d", m.metrics.Value(MetricTokenRefreshDeduped))
	}
}

func TestGetAccessTokenDeduplicatesConcurrentFetches(t *testing.T) {
	provider := &mockProvider{
		session:         &Session{Identity: &Identity{ID: "u1"}, AccessToken: "tok-fetched"},
		getSessionDelay: 80 * time.Millisecond,
	}

	m := newTestManager(t, testConfig(), provider, nil)

	leaderDone := make(chan string, 1)
	go func() {
		tok, _ := m.GetAccessToken(context.Background())
		leaderDone <- tok
	}()

	waitFor(t, time.Second, func() bool {
		gets, _, _, _ := provider.calls()
		return gets == 1
	}, "leading fetch did not start")

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tok, err := m.GetAccessToken(context.Background())
			if err != nil {
				t.Errorf("deduplicated fetch %d failed: %v", idx, err)
				return
			}
			results[idx] = tok
		}(i)
	}
	wg.Wait()

	if tok := <-leaderDone; tok != "tok-fetched" {
		t.Fatalf("leader got %q", tok)
	}
	for i, tok := range results {
		if tok != "tok-fetched" {
			t.Fatalf("waiter %d got %q, want shared fetch result", i, tok)
		}
	}
	if gets, _, _, _ := provider.calls(); gets != 1 {
		t.Fatalf("expected exactly one provider fetch, got %d", gets)
	}
}

func TestRefreshTokenWaitersShareLeaderFailure(t *testing.T) {
	provider := &mockProvider{
		refreshErr:   errors.New("gateway timeout"),
		refreshDelay: 80 * time.Millisecond,
	}

	m := newTestManager(t, testConfig(), provider, nil)
	m.cache.set(&Identity{ID: "u1"}, nil, "tok-stale")

	leaderDone := make(chan string, 1)
	go func() {
		tok, _ := m.RefreshToken(context.Background())
		leaderDone <- tok
	}()

	waitFor(t, time.Second, func() bool {
		_, _, _, refresh := provider.calls()
		return refresh == 1
	}, "leading refresh did not start")

	tok, err := m.RefreshToken(context.Background())
	if err != nil {
		t.Fatalf("waiter refresh failed: %v", err)
	}
	if tok != "" {
		t.Fatalf("waiter got %q, want the leader's empty result", tok)
	}
	if tok := <-leaderDone; tok != "" {
		t.Fatalf("leader got %q, want empty result on failure", tok)
	}

	// Transient failure keeps the cached credentials intact.
	if rec := m.cache.get(); rec.token != "tok-stale" {
		t.Fatalf("cache token changed to %q", rec.token)
	}
}

func TestRefreshTokenWaitTimeout(t *testing.T) {
	provider := &mockProvider{}

	m := newTestManager(t, testConfig(), provider, nil)
	m.tokens.cfg.RefreshWait = 30 * time.Millisecond
	m.tokens.cfg.PollInterval = 5 * time.Millisecond

	// Simulate a refresh that never settles.
	m.tokens.refreshInFlight.Store(true)

	if _, err := m.RefreshToken(context.Background()); !errors.Is(err, ErrRefreshTimeout) {
		t.Fatalf("expected ErrRefreshTimeout, got %v", err)
	}
}

func TestRefreshTokenInvalidCredentialTearsDown(t *testing.T) {
	provider := &mockProvider{
		refreshErr: errors.New("refresh_token_not_found"),
	}

	m := newTestManager(t, testConfig(), provider, nil)
	m.cache.set(&Identity{ID: "u1"}, nil, "tok-not-a-jwt")
	m.session.adoptIdentity(&Identity{ID: "u1"})

	tok, err := m.RefreshToken(context.Background())
	if err != nil || tok != "" {
		t.Fatalf("expected silent empty result, got %q, %v", tok, err)
	}
	if rec := m.cache.get(); rec.identity != nil {
		t.Fatal("expected cache cleared")
	}
	if m.metrics.Value(MetricTokenRefreshFailure) != 1 {
		t.Fatal("expected refresh failure metric")
	}
}

func TestIsTokenExpiredFailSafe(t *testing.T) {
	m := newTestManager(t, testConfig(), &mockProvider{}, nil)

	if m.IsTokenExpired(mintTestToken(t, "u1", time.Now().Add(time.Hour))) {
		t.Fatal("distant expiry must not be expired")
	}
	// Inside the five minute buffer counts as expired.
	if !m.IsTokenExpired(mintTestToken(t, "u1", time.Now().Add(4*time.Minute))) {
		t.Fatal("expiry inside the buffer must count as expired")
	}
	if !m.IsTokenExpired("definitely.not.ajwt") {
		t.Fatal("undecodable token must count as expired")
	}
	if !m.IsTokenExpired("") {
		t.Fatal("empty token must count as expired")
	}
}

func TestClearTokenCacheKeepsIdentityAndProfile(t *testing.T) {
	m := newTestManager(t, testConfig(), &mockProvider{}, nil)
	m.cache.set(&Identity{ID: "u1"}, &Profile{IdentityID: "u1"}, "tok-not-a-jwt")

	m.ClearTokenCache()

	rec := m.cache.get()
	if rec.token != "" {
		t.Fatal("expected token dropped")
	}
	if rec.identity == nil || rec.profile == nil {
		t.Fatal("ClearTokenCache must not touch identity or profile")
	}
}

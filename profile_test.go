package authstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keramy/formulapmv2-sub016/permission"
)

func TestProfileMissingRowIsValidEmptyState(t *testing.T) {
	provider := &mockProvider{
		session: &Session{Identity: &Identity{ID: "ghost"}, AccessToken: "tok-1"},
	}
	profiles := &mockProfileStore{rows: map[string]ProfileRecord{}}

	m := newTestManager(t, testConfig(), provider, profiles)
	startTestManager(t, m)

	waitFor(t, time.Second, func() bool {
		_, _, fetched := m.loader.state()
		return fetched
	}, "profile lookup did not complete")

	if m.Profile() != nil {
		t.Fatal("expected no profile")
	}
	if m.Err() != "" {
		t.Fatalf("a missing profile row is not an error, got %q", m.Err())
	}
	if !m.IsAuthenticated() {
		t.Fatal("a missing profile must not block authentication")
	}
	if m.metrics.Value(MetricProfileFetchMiss) != 1 {
		t.Fatal("expected profile miss metric")
	}
}

func TestProfileTransientFailureSuppressed(t *testing.T) {
	provider := &mockProvider{
		session: &Session{Identity: &Identity{ID: "u1"}, AccessToken: "tok-1"},
	}
	profiles := &mockProfileStore{}
	profiles.setErr(errors.New("connection refused"))

	m := newTestManager(t, testConfig(), provider, profiles)
	startTestManager(t, m)

	waitFor(t, time.Second, func() bool {
		_, _, fetched := m.loader.state()
		return fetched
	}, "profile lookup did not complete")

	if m.Err() != "" {
		t.Fatalf("transient profile failure must be suppressed, got %q", m.Err())
	}
	if !m.IsAuthenticated() {
		t.Fatal("transient profile failure must not block authentication")
	}
	if m.metrics.Value(MetricProfileFetchSuppressed) != 1 {
		t.Fatal("expected suppressed metric")
	}
}

func TestProfileUnexpectedFailureSurfaces(t *testing.T) {
	provider := &mockProvider{
		session: &Session{Identity: &Identity{ID: "u1"}, AccessToken: "tok-1"},
	}
	profiles := &mockProfileStore{}
	profiles.setErr(errors.New("row scan failed"))

	m := newTestManager(t, testConfig(), provider, profiles)
	startTestManager(t, m)

	waitFor(t, time.Second, func() bool {
		_, _, fetched := m.loader.state()
		return fetched
	}, "profile lookup did not complete")

	if m.Err() != "row scan failed" {
		t.Fatalf("expected surfaced profile error, got %q", m.Err())
	}
	if m.metrics.Value(MetricProfileFetchError) != 1 {
		t.Fatal("expected profile error metric")
	}
}

func TestEnsureDedupesSameIdentity(t *testing.T) {
	profiles := &mockProfileStore{rows: map[string]ProfileRecord{
		"u1": {ID: "u1", Role: "client", IsActive: true},
	}}

	m := newTestManager(t, testConfig(), &mockProvider{}, profiles)

	m.loader.ensure(context.Background(), "u1")
	waitFor(t, time.Second, func() bool {
		_, _, fetched := m.loader.state()
		return fetched
	}, "first ensure did not complete")

	m.loader.ensure(context.Background(), "u1")
	m.loader.ensure(context.Background(), "u1")
	time.Sleep(20 * time.Millisecond)

	profiles.mu.Lock()
	calls := profiles.getCalls
	profiles.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected one store call for a repeated identity, got %d", calls)
	}
}

func TestStaleFetchResultDiscarded(t *testing.T) {
	m := newTestManager(t, testConfig(), &mockProvider{}, nil)

	m.loader.mu.Lock()
	m.loader.lastID = "u2"
	m.loader.mu.Unlock()

	m.loader.complete("u1", &ProfileRecord{ID: "u1", Role: "admin", IsActive: true}, nil)

	if m.Profile() != nil {
		t.Fatal("a stale fetch result must be discarded")
	}
}

func TestFetchProfilesBatched(t *testing.T) {
	profiles := &mockProfileStore{rows: map[string]ProfileRecord{
		"u1": {ID: "u1", Role: "admin", FullName: "Alice", IsActive: true},
		"u2": {ID: "u2", Role: "client", FullName: "Bob", IsActive: true},
	}}

	m := newTestManager(t, testConfig(), &mockProvider{}, profiles)
	m.cache.set(&Identity{ID: "u1"}, nil, "")

	out, err := m.FetchProfiles(context.Background(), []string{"u1", "u2", "u1", ""})
	if err != nil {
		t.Fatalf("FetchProfiles failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(out))
	}
	if out["u1"].Role != permission.RoleAdmin || out["u2"].Role != permission.RoleClient {
		t.Fatalf("unexpected roles %+v", out)
	}

	profiles.mu.Lock()
	calls := profiles.batchCalls
	profiles.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected one batched store call, got %d", calls)
	}

	// The current identity's row is merged into the cache like a keyed fetch.
	if p := m.Profile(); p == nil || p.IdentityID != "u1" {
		t.Fatal("expected current identity's profile cached")
	}
}

func TestFetchProfilesTransientFailureReturnsEmpty(t *testing.T) {
	profiles := &mockProfileStore{}
	profiles.setErr(errors.New("read timeout"))

	m := newTestManager(t, testConfig(), &mockProvider{}, profiles)

	out, err := m.FetchProfiles(context.Background(), []string{"u1"})
	if err != nil {
		t.Fatalf("transient batch failure must not surface, got %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %d entries", len(out))
	}
}

func TestFetchProfilesUnexpectedFailurePropagates(t *testing.T) {
	profiles := &mockProfileStore{}
	profiles.setErr(errors.New("syntax error in query"))

	m := newTestManager(t, testConfig(), &mockProvider{}, profiles)

	if _, err := m.FetchProfiles(context.Background(), []string{"u1"}); err == nil {
		t.Fatal("expected batch failure to propagate")
	}
}

func TestFetchProfilesEmptyInput(t *testing.T) {
	profiles := &mockProfileStore{}
	m := newTestManager(t, testConfig(), &mockProvider{}, profiles)

	out, err := m.FetchProfiles(context.Background(), nil)
	if err != nil || len(out) != 0 {
		t.Fatalf("expected empty result for empty input, got %v, %v", out, err)
	}
	profiles.mu.Lock()
	calls := profiles.batchCalls
	profiles.mu.Unlock()
	if calls != 0 {
		t.Fatal("empty input must not hit the store")
	}
}

func TestTransformProfileUnknownRoleDegrades(t *testing.T) {
	logger := &DefaultLogger{}

	profile := transformProfile(&ProfileRecord{
		ID:       "u1",
		Role:     "superhero",
		IsActive: true,
	}, logger)

	if profile.Role != permission.RoleUnknown {
		t.Fatalf("unknown role must degrade to RoleUnknown, got %v", profile.Role)
	}
	if profile.Role.Has(permission.PermViewProjects) {
		t.Fatal("RoleUnknown must deny every permission")
	}
}

func TestTransformProfileSeniority(t *testing.T) {
	logger := &DefaultLogger{}

	profile := transformProfile(&ProfileRecord{
		ID:        "u1",
		Role:      "project_manager",
		Seniority: "senior",
		IsActive:  true,
	}, logger)

	if profile.Role != permission.RoleProjectManager {
		t.Fatalf("unexpected role %v", profile.Role)
	}
	if profile.Seniority != permission.SenioritySenior {
		t.Fatalf("unexpected seniority %v", profile.Seniority)
	}
}

func TestIsTransientProfileError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.DeadlineExceeded, true},
		{context.Canceled, true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("network is unreachable"), true},
		{errors.New("JWT expired"), true},
		{errors.New("service unavailable"), true},
		{errors.New("duplicate key violation"), false},
	}

	for _, tc := range cases {
		if got := isTransientProfileError(tc.err); got != tc.want {
			t.Fatalf("isTransientProfileError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

package authstate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/keramy/formulapmv2-sub016/permission"
)

// profileLoader performs keyed and batched lookups of extended account
// attributes. It never blocks authentication: a missing row is a valid empty
// state, transient failures are suppressed, and loading always resolves
// under its own timeout even if the store call never settles.
type profileLoader struct {
	cfg      ProfileConfig
	profiles ProfileStore
	cache    *credentialCache
	logger   Logger
	metrics  *Metrics
	notify   func()

	mu      sync.Mutex
	loading bool
	errMsg  string
	fetched bool
	lastID  string
}

func newProfileLoader(cfg ProfileConfig, profiles ProfileStore, cache *credentialCache, logger Logger, metrics *Metrics) *profileLoader {
	return &profileLoader{
		cfg:      cfg,
		profiles: profiles,
		cache:    cache,
		logger:   logger,
		metrics:  metrics,
	}
}

// ensure triggers a fetch when the identity changes. Repeated calls for the
// same identity are no-ops once a fetch is running or completed.
func (p *profileLoader) ensure(ctx context.Context, identityID string) {
	if identityID == "" {
		return
	}

	p.mu.Lock()
	if p.lastID == identityID && (p.loading || p.fetched) {
		p.mu.Unlock()
		return
	}
	p.lastID = identityID
	p.loading = true
	p.errMsg = ""
	p.fetched = false
	p.mu.Unlock()

	if p.notify != nil {
		p.notify()
	}

	go p.fetch(ctx, identityID)
}

// fetch runs the store lookup in its own goroutine and races it against the
// loader's outer timeout, so loading resolves even if the query never
// settles. The loser of that race is discarded.
func (p *profileLoader) fetch(ctx context.Context, identityID string) {
	type outcome struct {
		rec *ProfileRecord
		err error
	}

	done := make(chan outcome, 1)
	go func() {
		qctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()

		rec, err := p.profiles.GetProfile(qctx, identityID)
		done <- outcome{rec: rec, err: err}
	}()

	outer := time.NewTimer(p.cfg.FetchTimeout + time.Second)
	defer outer.Stop()

	var out outcome
	select {
	case out = <-done:
	case <-outer.C:
		out = outcome{err: context.DeadlineExceeded}
	case <-ctx.Done():
		out = outcome{err: ctx.Err()}
	}

	p.complete(identityID, out.rec, out.err)
}

func (p *profileLoader) complete(identityID string, rec *ProfileRecord, err error) {
	p.mu.Lock()
	if p.lastID != identityID {
		// Identity changed mid-flight; this result is stale.
		p.mu.Unlock()
		return
	}
	p.loading = false
	p.fetched = true

	switch {
	case err == nil && rec != nil:
		p.errMsg = ""
		p.mu.Unlock()

		profile := transformProfile(rec, p.logger)
		p.cache.set(nil, profile, "")
		p.metrics.Inc(MetricProfileFetchSuccess)

	case errors.Is(err, ErrProfileNotFound), err == nil && rec == nil:
		// Valid empty state, not an error.
		p.errMsg = ""
		p.mu.Unlock()

		p.metrics.Inc(MetricProfileFetchMiss)

	case isTransientProfileError(err):
		p.errMsg = ""
		p.mu.Unlock()

		p.metrics.Inc(MetricProfileFetchSuppressed)
		p.logger.Warnf("authstate: profile fetch for %s suppressed: %v", identityID, err)

	default:
		p.errMsg = err.Error()
		p.mu.Unlock()

		p.metrics.Inc(MetricProfileFetchError)
		p.logger.Errorf("authstate: profile fetch for %s failed: %v", identityID, err)
	}

	if p.notify != nil {
		p.notify()
	}
}

// fetchProfiles is the batched variant for multi-user lookups, keyed by an
// id set so callers avoid one-at-a-time fetch storms. The current identity's
// row, when present, is merged into the cache like a keyed fetch.
func (p *profileLoader) fetchProfiles(ctx context.Context, identityIDs []string) (map[string]*Profile, error) {
	if len(identityIDs) == 0 {
		return map[string]*Profile{}, nil
	}

	seen := make(map[string]struct{}, len(identityIDs))
	ids := make([]string, 0, len(identityIDs))
	for _, id := range identityIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	qctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	records, err := p.profiles.GetProfiles(qctx, ids)
	if err != nil {
		if isTransientProfileError(err) {
			p.metrics.Inc(MetricProfileFetchSuppressed)
			p.logger.Warnf("authstate: batched profile fetch suppressed: %v", err)
			return map[string]*Profile{}, nil
		}
		p.metrics.Inc(MetricProfileFetchError)
		return nil, err
	}

	out := make(map[string]*Profile, len(records))
	for i := range records {
		profile := transformProfile(&records[i], p.logger)
		out[profile.IdentityID] = profile
	}

	if rec := p.cache.get(); rec.identity != nil {
		if profile, ok := out[rec.identity.ID]; ok {
			p.cache.set(nil, profile, "")
		}
	}
	p.metrics.Inc(MetricProfileFetchSuccess)
	return out, nil
}

// reset drops loader state on sign-out so the next identity starts clean.
func (p *profileLoader) reset() {
	p.mu.Lock()
	p.loading = false
	p.errMsg = ""
	p.fetched = false
	p.lastID = ""
	p.mu.Unlock()
}

func (p *profileLoader) state() (loading bool, errMsg string, fetched bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading, p.errMsg, p.fetched
}

// transformProfile maps a raw store row to the typed domain profile. Unknown
// roles degrade to RoleUnknown, which denies every permission check.
func transformProfile(rec *ProfileRecord, logger Logger) *Profile {
	role, err := permission.ParseRole(rec.Role)
	if err != nil {
		logger.Warnf("authstate: profile %s has unknown role %q", rec.ID, rec.Role)
	}
	seniority, err := permission.ParseSeniority(rec.Seniority)
	if err != nil {
		logger.Warnf("authstate: profile %s has unknown seniority %q", rec.ID, rec.Seniority)
	}

	return &Profile{
		IdentityID: rec.ID,
		Role:       role,
		Seniority:  seniority,
		FullName:   rec.FullName,
		Address:    rec.Address,
		Phone:      rec.Phone,
		AvatarURL:  rec.AvatarURL,
		Active:     rec.IsActive,
	}
}

// isTransientProfileError classifies failures that must never surface:
// timeouts, network faults, and auth-token hiccups degrade silently and are
// retried on the next identity change.
func isTransientProfileError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"timed out",
		"network",
		"connection refused",
		"connection reset",
		"jwt",
		"token",
		"unavailable",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

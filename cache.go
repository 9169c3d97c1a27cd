package authstate

import (
	"sync"
	"time"

	"github.com/keramy/formulapmv2-sub016/jwt"
)

// credentialRecord is the single live tuple of identity, profile, token, and
// freshness timestamps. Exactly one record exists per cache.
type credentialRecord struct {
	identity  *Identity
	profile   *Profile
	token     string
	cachedAt  time.Time
	expiresAt time.Time
}

// credentialCache is the single-slot credential store. All operations are
// synchronous under one mutex; writers merge rather than overwrite fields
// they do not own, so a profile-fetch completion can never erase a
// concurrently written token.
type credentialCache struct {
	mu         sync.Mutex
	rec        credentialRecord
	staleAfter time.Duration
	now        func() time.Time
}

func newCredentialCache(cfg CacheConfig) *credentialCache {
	return &credentialCache{
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
	}
}

func (c *credentialCache) get() credentialRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

// set merges the given fields into the record. Nil identity, nil profile, and
// empty token each mean "leave the prior value alone". Setting a token
// recomputes expiresAt from the token's embedded expiry claim when one can be
// decoded.
func (c *credentialCache) set(identity *Identity, profile *Profile, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if identity != nil {
		c.rec.identity = identity
	}
	if profile != nil {
		c.rec.profile = profile
	}
	if token != "" {
		c.rec.token = token
		if exp, err := jwt.ExpiresAt(token); err == nil {
			c.rec.expiresAt = exp
		} else {
			c.rec.expiresAt = time.Time{}
		}
	}
	c.rec.cachedAt = c.now()
}

// patchIdentity merges non-empty identity fields into the cached identity
// without touching profile or token. No-op when nothing is cached.
func (c *credentialCache) patchIdentity(identity *Identity) {
	if identity == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rec.identity == nil {
		c.rec.identity = identity
		c.rec.cachedAt = c.now()
		return
	}

	patched := *c.rec.identity
	if identity.Address != "" {
		patched.Address = identity.Address
	}
	if identity.Provider != "" {
		patched.Provider = identity.Provider
	}
	if identity.Metadata != nil {
		patched.Metadata = identity.Metadata
	}
	c.rec.identity = &patched
	c.rec.cachedAt = c.now()
}

func (c *credentialCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec = credentialRecord{}
}

// clearToken drops only the token field, leaving identity and profile for
// their owners.
func (c *credentialCache) clearToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.token = ""
	c.rec.expiresAt = time.Time{}
}

// needsRefresh reports whether the record is absent or older than the
// configured staleness window. Concurrent callers may race on the answer;
// the merge discipline in set keeps the record consistent regardless.
func (c *credentialCache) needsRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rec.identity == nil && c.rec.token == "" {
		return true
	}
	return c.now().Sub(c.rec.cachedAt) > c.staleAfter
}

func (c *credentialCache) stats() CacheStats {
	c.mu.Lock()
	rec := c.rec
	now := c.now()
	c.mu.Unlock()

	stats := CacheStats{
		HasIdentity: rec.identity != nil,
		HasProfile:  rec.profile != nil,
		HasToken:    rec.token != "",
		CachedAt:    rec.cachedAt,
		ExpiresAt:   rec.expiresAt,
	}
	if !rec.cachedAt.IsZero() {
		stats.Age = now.Sub(rec.cachedAt)
	}
	stats.NeedsRefresh = (rec.identity == nil && rec.token == "") ||
		now.Sub(rec.cachedAt) > c.staleAfter
	return stats
}

// Package authstate composes several independently failing asynchronous
// subsystems (session retrieval, token refresh, profile lookup, and
// user-triggered sign-in/out) into one race-free, recoverable authentication
// status for a client application.
//
// The package is designed for concurrent callers: Manager methods are safe to
// call from multiple goroutines after initialization through [Builder.Build]
// and [Manager.Start].
//
// # Architecture boundaries
//
// authstate is the public surface. It exposes [Manager], [Builder], [Config],
// and value types (Snapshot, CacheStats, SessionState, etc.). Collaborators
// are injected: an [IdentityProvider] for the session lifecycle, a
// [ProfileStore] for extended attributes, and a [storage.Store] for the
// persisted key-value state the core health-checks and sweeps.
//
// # What this package must NOT do
//
//   - Decide what a role may do. Role and permission lookup data lives in the
//     permission sub-package; authstate only answers whether and how
//     confidently a caller is authenticated and holding a usable credential.
//   - Perform I/O outside of Manager methods (construction via Builder is
//     allocation-only until Start).
//   - Surface transient provider failures to callers. Expected failure modes
//     resolve to nil/empty values; only sign-in rejections propagate.
//
// # Liveness contract
//
// Timeouts are deliberately nested: profile fetch and session retrieval
// resolve before the session init ceiling, which resolves before the
// composer's circuit-breaker ceiling, which precedes the hard-recovery
// window. A caller observing Loading==true is guaranteed a resolution no
// later than the breaker ceiling.
package authstate

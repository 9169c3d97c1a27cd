package internaldefs

import (
	authstate "github.com/keramy/formulapmv2-sub016"
)

// CounterDef defines a public type used by authstate APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   authstate.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by authstate APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   authstate.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the authentication state composer.
var CounterDefs = []CounterDef{
	{ID: authstate.MetricSessionInitSuccess, Name: "authstate_session_init_success_total", Help: "Session initializations that adopted an identity."},
	{ID: authstate.MetricSessionInitTimeout, Name: "authstate_session_init_timeout_total", Help: "Session initializations abandoned at the initialization ceiling."},
	{ID: authstate.MetricSessionInitError, Name: "authstate_session_init_error_total", Help: "Session initializations that surfaced an error."},
	{ID: authstate.MetricSessionRefreshSuccess, Name: "authstate_session_refresh_success_total", Help: "Successful periodic session refreshes."},
	{ID: authstate.MetricSessionRefreshFailure, Name: "authstate_session_refresh_failure_total", Help: "Failed periodic session refreshes."},
	{ID: authstate.MetricSessionEvent, Name: "authstate_session_event_total", Help: "Provider auth events applied to the session core."},
	{ID: authstate.MetricTokenCacheHit, Name: "authstate_token_cache_hit_total", Help: "Access token requests served from the credential cache."},
	{ID: authstate.MetricTokenCacheMiss, Name: "authstate_token_cache_miss_total", Help: "Access token requests that fell through to the provider."},
	{ID: authstate.MetricTokenRefreshSuccess, Name: "authstate_token_refresh_success_total", Help: "Successful forced token refreshes."},
	{ID: authstate.MetricTokenRefreshFailure, Name: "authstate_token_refresh_failure_total", Help: "Failed forced token refreshes."},
	{ID: authstate.MetricTokenRefreshDeduped, Name: "authstate_token_refresh_deduped_total", Help: "Token refreshes coalesced onto an in-flight refresh."},
	{ID: authstate.MetricProfileFetchSuccess, Name: "authstate_profile_fetch_success_total", Help: "Profile fetches that returned a row."},
	{ID: authstate.MetricProfileFetchMiss, Name: "authstate_profile_fetch_miss_total", Help: "Profile fetches that found no row for the identity."},
	{ID: authstate.MetricProfileFetchSuppressed, Name: "authstate_profile_fetch_suppressed_total", Help: "Transient profile fetch failures suppressed from callers."},
	{ID: authstate.MetricProfileFetchError, Name: "authstate_profile_fetch_error_total", Help: "Profile fetches that surfaced an error."},
	{ID: authstate.MetricSignInSuccess, Name: "authstate_sign_in_success_total", Help: "Successful sign-in operations."},
	{ID: authstate.MetricSignInFailure, Name: "authstate_sign_in_failure_total", Help: "Failed sign-in operations."},
	{ID: authstate.MetricSignOutCompleted, Name: "authstate_sign_out_completed_total", Help: "Completed sign-out operations."},
	{ID: authstate.MetricStorageCorruptPurged, Name: "authstate_storage_corrupt_purged_total", Help: "Corrupt persisted auth entries purged during health checks."},
	{ID: authstate.MetricStorageSweep, Name: "authstate_storage_sweep_total", Help: "Full sweeps of recognized persisted auth keys."},
	{ID: authstate.MetricBreakerTripped, Name: "authstate_breaker_tripped_total", Help: "Loading circuit breaker trips."},
	{ID: authstate.MetricHardRecovery, Name: "authstate_hard_recovery_total", Help: "Hard recovery escalations after a breaker trip."},
}

// HistogramDefs is an exported constant or variable used by the authentication state composer.
var HistogramDefs = []HistogramDef{
	{ID: authstate.MetricRefreshLatency, Name: "authstate_refresh_latency_seconds", Help: "Token refresh latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the authentication state composer.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the authentication state composer.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

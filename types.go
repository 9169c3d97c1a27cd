package authstate

import (
	"context"
	"time"

	"github.com/keramy/formulapmv2-sub016/permission"
)

// AuthState is the single externally visible authentication status derived
// from all cooperating subsystems. It is recomputed on every relevant change
// and never persisted independently.
//
//	Docs: docs/composer.md
type AuthState uint8

const (
	// StateIdle is an exported constant or variable used by the authentication state composer.
	StateIdle AuthState = iota
	// StateLoading is an exported constant or variable used by the authentication state composer.
	StateLoading
	// StateRecovering is an exported constant or variable used by the authentication state composer.
	StateRecovering
	// StateAuthenticated is an exported constant or variable used by the authentication state composer.
	StateAuthenticated
	// StateSigningOut is an exported constant or variable used by the authentication state composer.
	StateSigningOut
)

// String describes the string operation and its observable behavior.
func (s AuthState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateRecovering:
		return "recovering"
	case StateAuthenticated:
		return "authenticated"
	case StateSigningOut:
		return "signing_out"
	default:
		return "unknown"
	}
}

// Identity is the minimal proof-of-login record. It is ephemeral: created on
// sign-in or session discovery, destroyed on sign-out or when an invalid
// refresh credential is detected.
type Identity struct {
	ID       string
	Address  string
	Provider string
	Metadata map[string]string
}

// Profile carries the extended per-account attributes loaded lazily by the
// profile loader. Its absence is a valid, non-blocking state.
type Profile struct {
	IdentityID string
	Role       permission.Role
	Seniority  permission.Seniority
	FullName   string
	Address    string
	Phone      string
	AvatarURL  string
	Active     bool
}

// Session is what the identity provider hands back: who is logged in and the
// live bearer credential for that login.
type Session struct {
	Identity    *Identity
	AccessToken string
}

// AuthEventKind defines a public type used by authstate APIs.
//
// AuthEventKind instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuthEventKind uint8

const (
	// EventSignedIn is an exported constant or variable used by the authentication state composer.
	EventSignedIn AuthEventKind = iota
	// EventSignedOut is an exported constant or variable used by the authentication state composer.
	EventSignedOut
	// EventTokenRefreshed is an exported constant or variable used by the authentication state composer.
	EventTokenRefreshed
	// EventIdentityUpdated is an exported constant or variable used by the authentication state composer.
	EventIdentityUpdated
)

// String describes the string operation and its observable behavior.
func (k AuthEventKind) String() string {
	switch k {
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	case EventTokenRefreshed:
		return "token_refreshed"
	case EventIdentityUpdated:
		return "identity_updated"
	default:
		return "unknown"
	}
}

// AuthEvent is emitted by the identity provider's subscription stream.
// Session is nil for signed-out events.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
	Err     error
}

// IdentityProvider is the primary collaborator interface callers must
// implement to integrate authstate with their identity backend. Exactly five
// operations are consumed; nothing else is required of the provider.
//
//	Docs: docs/provider.md
type IdentityProvider interface {
	GetSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, address, secret string) (*Session, error)
	SignOut(ctx context.Context) error
	RefreshSession(ctx context.Context) (*Session, error)
	Subscribe(fn func(AuthEvent)) (unsubscribe func())
}

// ProfileRecord is the raw row shape returned by a [ProfileStore]. The
// profile loader transforms it into a [Profile].
type ProfileRecord struct {
	ID             string
	Role           string
	FullName       string
	Address        string
	Phone          string
	AvatarURL      string
	Permissions    map[string]bool
	IsActive       bool
	Seniority      string
	PreviousRole   string
	RoleMigratedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProfileStore is the keyed-lookup collaborator for extended account
// attributes. A missing row must be reported via [ErrProfileNotFound], not a
// nil-record success and not a generic failure.
type ProfileStore interface {
	GetProfile(ctx context.Context, identityID string) (*ProfileRecord, error)
	GetProfiles(ctx context.Context, identityIDs []string) ([]ProfileRecord, error)
}

// CacheStats is a point-in-time view of the credential cache used by the
// debug surface and by operators chasing staleness issues.
type CacheStats struct {
	HasIdentity  bool
	HasProfile   bool
	HasToken     bool
	CachedAt     time.Time
	ExpiresAt    time.Time
	Age          time.Duration
	NeedsRefresh bool
}

// SessionState is the session core's externally visible slice of state.
type SessionState struct {
	Identity *Identity
	Loading  bool
	Err      string
}

// Snapshot is the full composed view published to subscribers and returned
// by [Manager.DebugSnapshot].
type Snapshot struct {
	State           AuthState
	Identity        *Identity
	Profile         *Profile
	Loading         bool
	Err             string
	IsAuthenticated bool
	IsRecovering    bool
	IsUserInitiated bool
	BreakerTripped  bool
	Cache           CacheStats
	At              time.Time
}

package authstate

import (
	"errors"
	"time"
)

// Config defines a public type used by authstate APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Cache    CacheConfig
	Session  SessionConfig
	Token    TokenConfig
	Profile  ProfileConfig
	Recovery RecoveryConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig defines a public type used by authstate APIs.
//
// CacheConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CacheConfig struct {
	// StaleAfter is the window after which a cached credential record is
	// considered in need of refresh regardless of its token expiry claim.
	StaleAfter time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by authstate APIs.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	// RetrieveTimeout bounds a single provider GetSession call during
	// initialization.
	RetrieveTimeout time.Duration
	// InitTimeout is the session core's overall initialization ceiling,
	// including the storage health check.
	InitTimeout time.Duration
	// RefreshInterval is the passive background session refresh cadence.
	RefreshInterval time.Duration
	// RecognizedPrefixes are the persisted-storage key prefixes the health
	// check validates and the sign-out/recovery sweeps delete.
	RecognizedPrefixes []string
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by authstate APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	// ExpiryBuffer is subtracted from the token's decoded expiry claim; a
	// token inside the buffer is treated as already expired.
	ExpiryBuffer time.Duration
	// RefreshInterval is the background auto-refresh cadence.
	RefreshInterval time.Duration
	// RefreshWait bounds how long a deduplicated caller waits for the
	// in-flight refresh before giving up.
	RefreshWait time.Duration
	// PollInterval is the cadence at which deduplicated callers re-check the
	// in-flight refresh.
	PollInterval time.Duration
}

// ProfileConfig defines a public type used by authstate APIs.
//
// ProfileConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ProfileConfig struct {
	// FetchTimeout bounds a single profile store lookup.
	FetchTimeout time.Duration
}

// RecoveryConfig defines a public type used by authstate APIs.
//
// RecoveryConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RecoveryConfig struct {
	// BreakerCeiling is the circuit-breaker trip deadline, measured from
	// Manager.Start. Must exceed Session.InitTimeout; roughly double it in
	// practice.
	BreakerCeiling time.Duration
	// HardRecoveryDelay is the further window past the trip after which the
	// destructive hard-recovery path runs.
	HardRecoveryDelay time.Duration
	// ReloadFunc is invoked by hard recovery after persisted auth storage has
	// been cleared. Hosts typically restart or re-bootstrap the application
	// here. Optional; hard recovery still clears storage when nil.
	ReloadFunc func()
}

// AuditConfig defines a public type used by authstate APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by authstate APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Cache: CacheConfig{
			StaleAfter: 10 * time.Minute,
		},
		Session: SessionConfig{
			RetrieveTimeout:    5 * time.Second,
			InitTimeout:        8 * time.Second,
			RefreshInterval:    30 * time.Minute,
			RecognizedPrefixes: []string{"auth:", "session:"},
		},
		Token: TokenConfig{
			ExpiryBuffer:    5 * time.Minute,
			RefreshInterval: 30 * time.Minute,
			RefreshWait:     5 * time.Second,
			PollInterval:    100 * time.Millisecond,
		},
		Profile: ProfileConfig{
			FetchTimeout: 8 * time.Second,
		},
		Recovery: RecoveryConfig{
			BreakerCeiling:    15 * time.Second,
			HardRecoveryDelay: 30 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// DefaultConfig returns the baseline configuration: timeout layering as
// shipped, audit and metrics disabled.
//
//	Docs: docs/config.md
func DefaultConfig() Config {
	return defaultConfig()
}

// ResilientConfig returns a preset tuned for flaky networks: wider timeouts,
// a more patient breaker, metrics enabled for postmortems. The relative
// timeout nesting is preserved.
//
//	Docs: docs/config.md
func ResilientConfig() Config {
	cfg := defaultConfig()
	cfg.Session.RetrieveTimeout = 10 * time.Second
	cfg.Session.InitTimeout = 15 * time.Second
	cfg.Profile.FetchTimeout = 15 * time.Second
	cfg.Recovery.BreakerCeiling = 30 * time.Second
	cfg.Recovery.HardRecoveryDelay = 60 * time.Second
	cfg.Metrics.Enabled = true
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if len(cfg.Session.RecognizedPrefixes) > 0 {
		out.Session.RecognizedPrefixes = append([]string(nil), cfg.Session.RecognizedPrefixes...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Cache
	if c.Cache.StaleAfter <= 0 {
		return errors.New("Cache StaleAfter must be > 0")
	}

	// Session
	if c.Session.RetrieveTimeout <= 0 {
		return errors.New("Session RetrieveTimeout must be > 0")
	}
	if c.Session.InitTimeout <= 0 {
		return errors.New("Session InitTimeout must be > 0")
	}
	if c.Session.InitTimeout < c.Session.RetrieveTimeout {
		return errors.New("Session InitTimeout must be >= RetrieveTimeout")
	}
	if c.Session.RefreshInterval <= 0 {
		return errors.New("Session RefreshInterval must be > 0")
	}
	if len(c.Session.RecognizedPrefixes) == 0 {
		return errors.New("Session RecognizedPrefixes must not be empty")
	}
	for _, prefix := range c.Session.RecognizedPrefixes {
		if prefix == "" {
			return errors.New("Session RecognizedPrefixes contains empty prefix")
		}
	}

	// Token
	if c.Token.ExpiryBuffer < 0 {
		return errors.New("Token ExpiryBuffer must be >= 0")
	}
	if c.Token.RefreshInterval <= 0 {
		return errors.New("Token RefreshInterval must be > 0")
	}
	if c.Token.RefreshWait <= 0 {
		return errors.New("Token RefreshWait must be > 0")
	}
	if c.Token.PollInterval <= 0 || c.Token.PollInterval > c.Token.RefreshWait {
		return errors.New("Token PollInterval must be > 0 and <= RefreshWait")
	}

	// Profile
	if c.Profile.FetchTimeout <= 0 {
		return errors.New("Profile FetchTimeout must be > 0")
	}

	// Recovery: inner failures must resolve before outer safety nets engage.
	if c.Recovery.BreakerCeiling <= c.Session.InitTimeout {
		return errors.New("Recovery BreakerCeiling must exceed Session InitTimeout")
	}
	if c.Recovery.BreakerCeiling <= c.Profile.FetchTimeout {
		return errors.New("Recovery BreakerCeiling must exceed Profile FetchTimeout")
	}
	if c.Recovery.HardRecoveryDelay <= 0 {
		return errors.New("Recovery HardRecoveryDelay must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

package authstate

import "errors"

var (
	// ErrInvalidCredentials is an exported constant or variable used by the authentication state composer.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotReady is an exported constant or variable used by the authentication state composer.
	ErrNotReady = errors.New("manager not initialized")
	// ErrAlreadyStarted is an exported constant or variable used by the authentication state composer.
	ErrAlreadyStarted = errors.New("manager already started")
	// ErrClosed is an exported constant or variable used by the authentication state composer.
	ErrClosed = errors.New("manager closed")
	// ErrSignInInProgress is an exported constant or variable used by the authentication state composer.
	ErrSignInInProgress = errors.New("sign-in already in progress")
	// ErrRefreshTimeout is returned to a deduplicated refresh caller whose
	// bounded wait for the in-flight refresh elapsed.
	ErrRefreshTimeout = errors.New("token refresh wait timed out")
	// ErrProfileNotFound is the sentinel a [ProfileStore] must return for a
	// missing row. The loader treats it as a valid empty state, never an error.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrInvalidRefreshCredential is an exported constant or variable used by the authentication state composer.
	ErrInvalidRefreshCredential = errors.New("invalid or expired refresh credential")
)

package storage

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get for an absent key.
var ErrKeyNotFound = errors.New("storage key not found")

// ErrUnavailable wraps backend failures so callers can distinguish a missing
// key from an unreachable store.
var ErrUnavailable = errors.New("storage unavailable")

// Store is a key-value string store. Implementations must be safe for
// concurrent use.
//
//	Docs: docs/storage.md
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	// Keys returns every key beginning with prefix. An empty prefix matches
	// nothing; sweeps are always scoped.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Package storage defines the persisted key-value collaborator the
// authentication core health-checks and sweeps, with a Redis-backed
// implementation for shared deployments and an in-process store for
// embedding without Redis.
//
// The core never treats this store as a source of truth: it only validates
// recognized entries on startup and deletes them on sign-out and hard
// recovery.
package storage

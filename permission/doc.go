// Package permission provides the typed role, seniority, and permission
// enumerations backed by a static role→permission matrix.
//
// # Architecture boundaries
//
// This package is a pure in-memory lookup with no I/O. The matrix is data,
// not policy: it answers "does this role carry this permission bit", never
// "is this caller authenticated"; the latter is the parent package's job.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import the root authstate package.
//   - Mutate the matrix after process start.
package permission

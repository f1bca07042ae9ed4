// Package session defines the session record and the stores that persist it.
//
// # Concurrency contract
//
// [Store.CompareAndAdvance] is the only way a session moves to its next
// generation. Every backend makes it atomic per handle: the Redis backend runs it
// as a Lua script, the SQL backend as a conditional UPDATE, and the in-memory
// backend under a mutex. Callers never lock.
//
// # Architecture boundaries
//
// This package owns the [Session] model and its persistence. It does NOT decode
// tokens or decide whether a refresh is legitimate; those decisions belong to the
// rotation engine.
//
// # What this package must NOT do
//
//   - Import goSession or token (no upward imports).
//   - Store token strings. Only fingerprints are persisted.
package session

// Package flows contains the orchestrators behind every Engine operation.
//
// Each flow function (RunCreate, RunRefresh, RunRevoke) accepts a typed
// dependency struct and returns a result value. The refresh decision table lives
// here; the root package only maps results to public outcomes, metrics and audit
// events.
//
// # Architecture boundaries
//
// Flows coordinate the token codec, the session store and the refresh limiter.
// They do NOT own any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goSession (to avoid import cycles).
//   - Lock. All serialization is the store's CompareAndAdvance.
package flows

// Package goSession issues rotating session credentials and detects replay of
// superseded refresh tokens.
//
// A session is a server-side record identified by an opaque handle. Every
// successful refresh advances the session's generation by one and mints a new
// token triple (access, refresh, id-refresh) bound to that generation. Presenting
// a refresh token that is more than one generation stale, or one generation stale
// outside the grace window, is treated as theft: the session is revoked and the
// caller receives [OutcomeTheftDetected].
//
// Engine methods are safe to call from multiple goroutines after initialization
// through [Builder.Build]. The engine holds no locks; every state change is a
// compare-and-swap on the session record performed by the configured
// [session.Store].
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Engine], [Builder], [Config] and
// value types ([SessionInfo], [RefreshResult], [MetricsSnapshot]). The rotation
// decision lives in internal/flows, token encoding in token/, persistence in
// session/ and session/sqlstore.
//
// # What this package must NOT do
//
//   - Compute cookie attributes or shape HTTP responses (see api/).
//   - Authenticate users or validate access tokens on ordinary requests.
//   - Import any sub-package that re-imports goSession.
package goSession

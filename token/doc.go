// Package token encodes and decodes the signed credentials issued for a session:
// refresh tokens, access tokens and id-refresh tokens.
//
// # Determinism
//
// Every token is a pure function of its claims and the configured key. HS256 and
// Ed25519 signatures are deterministic and JWT headers serialize with sorted keys,
// so encoding the same claims twice yields the same string. The rotation engine
// relies on this to re-derive the current token triple of a session from its stored
// generation and refresh time without ever persisting a token.
//
// # What this package must NOT do
//
//   - Import goSession or session (no upward imports).
//   - Read or write session state.
package token

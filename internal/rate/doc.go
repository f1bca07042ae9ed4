// Package rate throttles refresh calls with Redis fixed-window counters.
//
// # Window semantics
//
// INCR + EXPIRE on the first hit of a window. Key prefixes:
//   - rr:  refresh per session handle
//   - rri: refresh per client IP
//
// # What this package must NOT do
//
//   - Decide whether a token is valid. A throttled call is rejected before the
//     session is read.
//   - Be imported outside the goSession module.
package rate

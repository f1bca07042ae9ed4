// Package internal holds helpers that are private to goSession.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: sessiond server configuration loaded with Viper
//   - flows: refresh, create and revoke orchestration behind the Engine
//   - rate: Redis-backed refresh throttling
//
// # What this package must NOT do
//
//   - Export types that appear in the public goSession API.
//   - Be imported by any package outside the goSession module.
package internal

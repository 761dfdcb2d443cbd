// Package internal contains helpers private to authgate: session ids and
// opaque token generation, plus the keyed digest used for reset tokens.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - dispatch: bounded worker pool for detached jobs
//   - flows: pure-function orchestrators for every Engine operation
//   - stores: Redis-backed MFA challenge and identity token stores
//
// # What this package must NOT do
//
//   - Export types that appear in the public authgate API.
//   - Be imported by any package outside the authgate module.
package internal

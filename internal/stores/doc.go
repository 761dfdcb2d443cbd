// Package stores provides Redis-backed storage for MFA login challenges and
// per-session external identity tokens.
//
// # Architecture boundaries
//
// Stores expose Save/Get/Delete style primitives and return their own
// sentinel errors (ErrMFAChallengeNotFound, ErrMFAChallengeExpired, ...).
// Mapping those sentinels onto authentication errors is the engine's job.
//
// # What this package must NOT do
//
//   - Import authgate or any flow package.
//   - Decide authentication outcomes.
//   - Keep in-process state beyond the Redis client.
package stores

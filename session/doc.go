// Package session persists issued sessions in Redis.
//
// Each session is a hash under <prefix>:<session id> holding the user
// fields, hashes of the client IP and User-Agent, and the issue and expiry
// times. The key TTL matches the expiry, so Redis evicts sessions on its own.
//
// The package does not interpret access tokens or make authentication
// decisions, and it imports no other authgate package.
package session

// Package mfa is a reference MFA service: RFC 6238 TOTP codes plus
// single-use backup codes stored as SHA-256 hashes bound to the user id.
//
// Secrets live behind [SecretStore]; [MemoryStore] is provided here and the
// PostgreSQL user store implements the same interface.
package mfa

// Package identity talks to the external identity system that mirrors local
// accounts.
//
// Three calls exist: login, register, and password sync. All are
// best-effort. Failures are logged with the email, the operation and the
// cause, and are reported to the caller only as an empty result.
package identity

// Package jwt issues and verifies the signed access tokens handed out with
// each session. A token carries only the user id and session id; the session
// row in Redis remains the source of truth.
package jwt

// Package authgate decides how a sign-in request authenticates (password,
// single-use SSO token, or MFA challenge/response), issues Redis-backed
// sessions with signed access tokens, drives the password reset flow, and
// mirrors credentials into an external identity system in the background.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes [Engine], [Builder], [Config]
// and value types. Flow orchestration, challenge storage, audit dispatch and
// the background sync workers live under internal/ and are never exported.
// Persistence of users ([UserStore]), second factors ([MFAService]) and the
// external identity system ([IdentitySyncer]) are interfaces; reference
// adapters live in userstore/, mfa/ and identity/.
//
// # External sync
//
// After a successful password login or reset the engine queues a detached
// job that talks to the external identity system. That job runs on its own
// context and deadline, and its result is only ever logged or stored beside
// the session. It cannot change what Login or CompletePasswordReset returned.
package authgate

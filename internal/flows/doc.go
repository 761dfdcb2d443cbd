// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunPasswordLogin, RunMFAVerify, RunSSOExchange,
// RunCompletePasswordReset, etc.) accepts a typed dependency struct and returns
// results without side-effects beyond those dependencies. The engine classifies
// a request once and calls exactly one of the login flows; an SSO request is
// first resolved with ResolveSSOCandidate and may fall back to the password flow.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the user store, challenge store, MFA
// service, session issuance, audit, and metrics. They do NOT own any of these
// resources; ownership stays with the Engine. External identity sync is not a
// flow concern: the engine dispatches it after a flow has returned.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authgate (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency closures.
package flows

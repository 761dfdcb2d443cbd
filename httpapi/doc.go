// Package httpapi serves the authgate engine over JSON HTTP endpoints.
//
// Routes:
//
//	POST   /auth/sign_in         password, SSO token or MFA verification
//	GET    /auth/sign_in         redirect to the frontend login page
//	DELETE /auth/sign_out        end the bearer's session
//	POST   /auth/password        send reset instructions
//	PUT    /auth/password        complete a reset and sign in
//	GET    /auth/external_token  external identity token for the bearer's session
//	GET    /healthz              Redis reachability
//	GET    /metrics              Prometheus exposition, when configured
//
// Rejections map to 400, 401, 403 or 422 depending on the reason code; a
// backend that cannot answer maps to 503.
//
// Sign-in never says whether an email exists. Requesting a reset for an
// unknown email answers 404, unlike a known one.
package httpapi

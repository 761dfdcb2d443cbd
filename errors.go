package authgate

import "errors"

var (
	// ErrInvalidCredentials is returned when the email/password pair does not
	// resolve to an account. Unknown users and wrong passwords are not
	// distinguished.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned for unknown or expired MFA, SSO, and reset tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidCode is returned when an OTP or backup code does not verify.
	ErrInvalidCode = errors.New("invalid code")
	// ErrAccountInactive is returned when an account fails the active-for-authentication check.
	ErrAccountInactive = errors.New("account inactive")
	// ErrPasswordConfirmation is returned when a reset password is empty or
	// does not match its confirmation.
	ErrPasswordConfirmation = errors.New("password confirmation does not match")
	// ErrResetEmailNotFound is returned by reset initiation when no account
	// uses the email.
	ErrResetEmailNotFound = errors.New("email not found")
	// ErrUserNotFound is returned by UserStore implementations when a lookup misses.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionInvalid is returned when an access token or its session cannot be validated.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrSessionCreationFailed is returned when a session cannot be persisted
	// after a successful authentication decision.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrBackendUnavailable wraps store failures that are not authentication decisions.
	ErrBackendUnavailable = errors.New("auth backend unavailable")
	// ErrEngineNotReady is returned when an Engine was not built through Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Reason codes reported for rejected requests.
const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonInvalidToken       = "invalid_token"
	ReasonInvalidCode        = "invalid_code"
	ReasonAccountInactive    = "account_inactive"
)

// RejectReason returns the stable reason code for an authentication
// rejection, or "" when err is not one.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return ReasonInvalidCredentials
	case errors.Is(err, ErrInvalidToken):
		return ReasonInvalidToken
	case errors.Is(err, ErrInvalidCode):
		return ReasonInvalidCode
	case errors.Is(err, ErrAccountInactive):
		return ReasonAccountInactive
	default:
		return ""
	}
}

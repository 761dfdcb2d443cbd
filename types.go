package authgate

import (
	"context"
	"strings"
	"time"
)

// AccountStatus is the lifecycle state of a user account.
type AccountStatus uint8

const (
	// AccountActive accounts may authenticate.
	AccountActive AccountStatus = iota
	// AccountLocked accounts are temporarily blocked.
	AccountLocked
	// AccountDisabled accounts are blocked until an operator re-enables them.
	AccountDisabled
)

// String returns the lowercase status name.
func (s AccountStatus) String() string {
	switch s {
	case AccountActive:
		return "active"
	case AccountLocked:
		return "locked"
	case AccountDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// UserRecord is the subset of a persisted user the orchestrator reads.
//
// ResetPasswordTokenDigest holds the keyed digest of the raw reset token,
// never the raw token itself.
type UserRecord struct {
	UserID       string
	Email        string
	Name         string
	PasswordHash string
	Confirmed    bool
	Status       AccountStatus
	MFAEnabled   bool

	SSOAuthToken          string
	SSOAuthTokenExpiresAt time.Time

	ResetPasswordTokenDigest string
	ResetPasswordSentAt      time.Time
	ConfirmationToken        string
}

// UserStore is the persistence boundary for accounts.
//
// Lookups by email receive an already normalized address (see NormalizeEmail)
// and return ErrUserNotFound on a miss. ConsumeSSOAuthToken and CompleteReset
// must each be a single atomic write.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	GetUserByResetDigest(ctx context.Context, digest string) (UserRecord, error)

	// SetSSOAuthToken stores a single-use SSO token for the user, replacing any previous one.
	SetSSOAuthToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	// ConsumeSSOAuthToken reports whether token matched the user's unexpired
	// stored token and, when it did, clears it in the same write.
	ConsumeSSOAuthToken(ctx context.Context, userID, token string, now time.Time) (bool, error)
	// ClearSSOAuthToken removes token if it is still stored. Clearing an absent token is not an error.
	ClearSSOAuthToken(ctx context.Context, userID, token string) error

	SetResetPasswordToken(ctx context.Context, userID, digest string, sentAt time.Time) error
	// CompleteReset sets passwordHash, confirms the account, and clears the
	// reset digest, confirmation token, and sent-at, only while the stored
	// digest still equals digest. It returns ErrUserNotFound otherwise.
	CompleteReset(ctx context.Context, userID, digest, passwordHash string) error
}

// MFAService verifies second factors. It owns secrets and backup codes.
type MFAService interface {
	Authenticate(ctx context.Context, userID, otpCode, backupCode string) (bool, error)
}

// IdentitySyncer mirrors credentials into an external identity system.
// Results are advisory: the engine never lets them change an authentication outcome.
type IdentitySyncer interface {
	LoginOrRegister(ctx context.Context, email, password, name string) (string, bool)
	SyncPassword(ctx context.Context, email, password string) bool
}

// ResetNotice is handed to a ResetNotifier when reset instructions should be sent.
type ResetNotice struct {
	UserID   string
	Email    string
	Name     string
	Token    string
	ResetURL string
}

// ResetNotifier delivers password reset instructions.
type ResetNotifier interface {
	SendResetInstructions(ctx context.Context, notice ResetNotice) error
}

// LoginRequest carries every field a sign-in call may populate.
type LoginRequest struct {
	Email        string
	Password     string
	MFAToken     string
	OTPCode      string
	BackupCode   string
	SSOAuthToken string
}

// LoginMode selects the single authentication path for a request.
type LoginMode uint8

const (
	// LoginModePassword authenticates with email and password.
	LoginModePassword LoginMode = iota
	// LoginModeSSOExchange exchanges a single-use SSO token.
	LoginModeSSOExchange
	// LoginModeMFAVerify completes a pending MFA challenge.
	LoginModeMFAVerify
)

// String returns the mode name used in logs and audit metadata.
func (m LoginMode) String() string {
	switch m {
	case LoginModeMFAVerify:
		return "mfa_verify"
	case LoginModeSSOExchange:
		return "sso_exchange"
	default:
		return "password"
	}
}

// Classify picks the mode for req. Precedence is MFA verification, then SSO
// exchange, then password login; extra indicators are ignored, never an error.
// Login downgrades an SSO exchange to a password login when the token does
// not match its user and the request also carries email and password.
func Classify(req LoginRequest) LoginMode {
	switch {
	case strings.TrimSpace(req.MFAToken) != "":
		return LoginModeMFAVerify
	case strings.TrimSpace(req.SSOAuthToken) != "":
		return LoginModeSSOExchange
	default:
		return LoginModePassword
	}
}

// Outcome is the kind of a non-rejected login.
type Outcome uint8

const (
	// OutcomeAuthenticated means a session was issued.
	OutcomeAuthenticated Outcome = iota + 1
	// OutcomeChallengeIssued means the password verified and an MFA challenge is pending.
	OutcomeChallengeIssued
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeChallengeIssued:
		return "challenge_issued"
	default:
		return "unknown"
	}
}

// Session is the credential issued after a successful authentication path.
type Session struct {
	SessionID   string
	UserID      string
	Email       string
	Name        string
	AccessToken string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// MFAChallenge is a pending second-factor step. The token authorizes nothing
// beyond attempting verification for one user.
type MFAChallenge struct {
	Token     string
	ExpiresAt time.Time
}

// LoginResult is the non-rejected result of Engine.Login. Exactly one of
// Session and Challenge is set, matching Outcome.
type LoginResult struct {
	Outcome   Outcome
	Mode      LoginMode
	Session   *Session
	Challenge *MFAChallenge
}

// ResetRequest completes a password reset.
type ResetRequest struct {
	Token                string
	Password             string
	PasswordConfirmation string
}

// SessionInfo describes a validated session.
type SessionInfo struct {
	SessionID string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NormalizeEmail trims surrounding whitespace and lowercases email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

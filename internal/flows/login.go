package flows

import (
	"context"
	"errors"
	"fmt"
)

// LoginResult is the flow-local login response shape. ChallengeToken is set
// only when an MFA challenge was issued instead of a session.
type LoginResult struct {
	User               UserRecord
	Session            *SessionResult
	ChallengeToken     string
	ChallengeExpiresAt int64
}

// LoginMetrics carries metric IDs needed by login flows.
type LoginMetrics struct {
	LoginSuccess        int
	LoginFailure        int
	MFARequired         int
	MFASuccess          int
	MFAFailure          int
	MFAAttemptsExceeded int
	MFAReplay           int
	SSOSuccess          int
	SSOFailure          int
	SessionCreated      int
}

// LoginEvents carries audit event names used by login flows.
type LoginEvents struct {
	LoginSuccess        string
	LoginFailure        string
	MFARequired         string
	MFASuccess          string
	MFAFailure          string
	MFAAttemptsExceeded string
	SSOSuccess          string
	SSOFailure          string
}

// LoginErrors carries host-level sentinel errors used by login flows.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	InvalidToken       error
	InvalidCode        error
	AccountInactive    error
	SessionCreation    error
	Backend            error
}

// LoginDeps captures password, MFA, and SSO login dependencies.
type LoginDeps struct {
	IsNotFound     func(error) bool
	GetUserByEmail func(context.Context, string) (UserRecord, error)
	GetUserByID    func(context.Context, string) (UserRecord, error)
	VerifyPassword func(password, hash string) (bool, error)
	IssueSession   func(context.Context, UserRecord) (*SessionResult, error)

	MetricInc func(int)
	EmitAudit AuditFunc

	MFA MFADeps
	SSO SSODeps

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

func normalizeLoginDeps(deps LoginDeps) (LoginDeps, bool) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return true }
	}
	deps.MFA = normalizeMFADeps(deps.MFA)
	deps.SSO = normalizeSSODeps(deps.SSO)

	ready := deps.GetUserByEmail != nil &&
		deps.GetUserByID != nil &&
		deps.VerifyPassword != nil &&
		deps.IssueSession != nil
	return deps, ready
}

// RunPasswordLogin authenticates email and password. An MFA-enabled user
// gets a challenge instead of a session. Unknown users, wrong passwords and
// missing fields all fail with InvalidCredentials.
func RunPasswordLogin(ctx context.Context, email, password string, deps LoginDeps) (*LoginResult, error) {
	deps, ready := normalizeLoginDeps(deps)
	if !ready {
		return nil, deps.Errors.EngineNotReady
	}

	email = normalizeEmail(email)
	fail := func(userID, reason string, err error) (*LoginResult, error) {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, "", err, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     reason,
			}
		})
		return nil, err
	}

	if email == "" || password == "" {
		return fail("", "missing_credentials", deps.Errors.InvalidCredentials)
	}

	user, err := deps.GetUserByEmail(ctx, email)
	if err != nil {
		if !deps.IsNotFound(err) {
			return fail("", "user_lookup_failed", fmt.Errorf("%w: %v", deps.Errors.Backend, err))
		}
		return fail("", "user_not_found", deps.Errors.InvalidCredentials)
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return fail(user.UserID, "password_mismatch", deps.Errors.InvalidCredentials)
	}
	password = ""

	if !user.Active {
		return fail(user.UserID, "account_inactive", deps.Errors.AccountInactive)
	}

	if user.MFAEnabled {
		if !mfaReady(deps.MFA) {
			return nil, deps.Errors.EngineNotReady
		}
		token, expiresAt, err := RunIssueMFAChallenge(ctx, user.UserID, deps.MFA)
		if err != nil {
			return fail(user.UserID, "mfa_challenge_failed", err)
		}
		deps.MetricInc(deps.Metrics.MFARequired)
		deps.EmitAudit(ctx, deps.Events.MFARequired, true, user.UserID, "", nil, func() map[string]string {
			return map[string]string{
				"identifier": email,
			}
		})
		return &LoginResult{
			User:               user,
			ChallengeToken:     token,
			ChallengeExpiresAt: expiresAt,
		}, nil
	}

	sess, err := issueLoginSession(ctx, user, deps)
	if err != nil {
		return fail(user.UserID, "session_creation_failed", err)
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.UserID, sess.SessionID, nil, nil)
	return &LoginResult{User: user, Session: sess}, nil
}

// RunMFAVerify completes a pending challenge. A wrong code fails with
// InvalidCode and leaves the challenge usable until its attempt budget runs out.
func RunMFAVerify(ctx context.Context, token, otpCode, backupCode string, deps LoginDeps) (*LoginResult, error) {
	deps, ready := normalizeLoginDeps(deps)
	if !ready || !mfaReady(deps.MFA) {
		return nil, deps.Errors.EngineNotReady
	}

	fail := func(userID, reason string, err error) (*LoginResult, error) {
		deps.MetricInc(deps.Metrics.MFAFailure)
		deps.EmitAudit(ctx, deps.Events.MFAFailure, false, userID, "", err, func() map[string]string {
			return map[string]string{
				"reason": reason,
			}
		})
		return nil, err
	}

	record, err := RunVerifyMFAToken(ctx, token, deps.MFA)
	if err != nil {
		return fail("", "invalid_token", err)
	}

	user, err := deps.GetUserByID(ctx, record.UserID)
	if err != nil {
		if !deps.IsNotFound(err) {
			return fail(record.UserID, "user_lookup_failed", fmt.Errorf("%w: %v", deps.Errors.Backend, err))
		}
		_, _ = deps.MFA.DeleteChallenge(ctx, token)
		return fail(record.UserID, "user_not_found", deps.Errors.InvalidToken)
	}
	if !user.Active {
		_, _ = deps.MFA.DeleteChallenge(ctx, token)
		return fail(user.UserID, "account_inactive", deps.Errors.AccountInactive)
	}

	switch RunAuthenticateMFA(ctx, user.UserID, otpCode, backupCode, deps.MFA) {
	case MFACodeAccepted:
	case MFAServiceUnavailable:
		// The caller still sees a wrong code, but the attempt is not counted.
		return fail(user.UserID, "mfa_service_unavailable", deps.Errors.InvalidCode)
	default:
		exceeded, err := RunRecordMFAFailure(ctx, token, deps.MFA)
		if err != nil {
			return fail(user.UserID, "invalid_token", err)
		}
		if exceeded {
			deps.MetricInc(deps.Metrics.MFAAttemptsExceeded)
			deps.EmitAudit(ctx, deps.Events.MFAAttemptsExceeded, false, user.UserID, "", deps.Errors.InvalidCode, nil)
		}
		return fail(user.UserID, "invalid_code", deps.Errors.InvalidCode)
	}

	if err := RunConsumeMFAChallenge(ctx, token, deps.MFA); err != nil {
		if errors.Is(err, deps.Errors.InvalidToken) {
			deps.MetricInc(deps.Metrics.MFAReplay)
			return fail(user.UserID, "replay", err)
		}
		return fail(user.UserID, "challenge_consume_failed", err)
	}

	sess, err := issueLoginSession(ctx, user, deps)
	if err != nil {
		return fail(user.UserID, "session_creation_failed", err)
	}

	deps.MetricInc(deps.Metrics.MFASuccess)
	deps.EmitAudit(ctx, deps.Events.MFASuccess, true, user.UserID, sess.SessionID, nil, nil)
	return &LoginResult{User: user, Session: sess}, nil
}

func issueLoginSession(ctx context.Context, user UserRecord, deps LoginDeps) (*SessionResult, error) {
	sess, err := deps.IssueSession(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.SessionCreation, err)
	}
	deps.MetricInc(deps.Metrics.SessionCreated)
	return sess, nil
}

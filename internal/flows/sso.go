package flows

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"
)

// SSODeps captures SSO token persistence.
//
// ConsumeToken must check and clear the stored token in one atomic write so
// that two concurrent exchanges of the same token cannot both succeed.
type SSODeps struct {
	Now          func() time.Time
	ConsumeToken func(ctx context.Context, userID, token string, now time.Time) (bool, error)
	ClearToken   func(ctx context.Context, userID, token string) error
}

func normalizeSSODeps(deps SSODeps) SSODeps {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return deps
}

// SSOTokenValid reports whether token equals the user's stored, unexpired
// SSO token. A token without an expiry is never valid.
func SSOTokenValid(user UserRecord, token string, now time.Time) bool {
	if token == "" || user.SSOAuthToken == "" || user.SSOAuthTokenExpiresAt == 0 {
		return false
	}
	if now.Unix() >= user.SSOAuthTokenExpiresAt {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(user.SSOAuthToken)) == 1
}

// RunSSOInvalidate clears token for userID. Clearing a token that is already
// gone succeeds.
func RunSSOInvalidate(ctx context.Context, userID, token string, deps SSODeps) error {
	if deps.ClearToken == nil {
		return nil
	}
	return deps.ClearToken(ctx, userID, strings.TrimSpace(token))
}

// SSOCandidate is the user an SSO token was matched against. Err is nil
// only when the user resolved and the token was their current, unexpired
// token at resolution time.
type SSOCandidate struct {
	Email  string
	Token  string
	User   UserRecord
	Reason string
	Err    error
}

// Resolved reports whether the token matched its candidate user.
func (c SSOCandidate) Resolved() bool {
	return c.Err == nil
}

// ResolveSSOCandidate looks up the user owning email and checks token
// against their stored SSO token without consuming it.
func ResolveSSOCandidate(ctx context.Context, email, token string, deps LoginDeps) SSOCandidate {
	c := SSOCandidate{Email: normalizeEmail(email), Token: strings.TrimSpace(token)}
	deps, ready := normalizeLoginDeps(deps)
	if !ready {
		c.Reason, c.Err = "engine_not_ready", deps.Errors.EngineNotReady
		return c
	}
	if c.Email == "" {
		c.Reason, c.Err = "unresolved_user", deps.Errors.InvalidToken
		return c
	}
	user, err := deps.GetUserByEmail(ctx, c.Email)
	if err != nil {
		if deps.IsNotFound(err) {
			c.Reason, c.Err = "unresolved_user", deps.Errors.InvalidToken
		} else {
			c.Reason, c.Err = "user_lookup_failed", fmt.Errorf("%w: %v", deps.Errors.Backend, err)
		}
		return c
	}
	c.User = user
	if !SSOTokenValid(user, c.Token, deps.SSO.Now()) {
		c.Reason, c.Err = "token_mismatch", deps.Errors.InvalidToken
	}
	return c
}

// RunSSOExchange resolves the candidate for email and token, then exchanges it.
func RunSSOExchange(ctx context.Context, email, token string, deps LoginDeps) (*LoginResult, error) {
	return RunSSOExchangeFor(ctx, ResolveSSOCandidate(ctx, email, token, deps), deps)
}

// RunSSOExchangeFor signs in a resolved SSO candidate. The token is consumed
// before the account state is checked or a session is issued, so a failure
// after that point still leaves it unusable.
func RunSSOExchangeFor(ctx context.Context, c SSOCandidate, deps LoginDeps) (*LoginResult, error) {
	deps, ready := normalizeLoginDeps(deps)
	if !ready || deps.SSO.ConsumeToken == nil {
		return nil, deps.Errors.EngineNotReady
	}

	fail := func(userID, reason string, err error) (*LoginResult, error) {
		deps.MetricInc(deps.Metrics.SSOFailure)
		deps.EmitAudit(ctx, deps.Events.SSOFailure, false, userID, "", err, func() map[string]string {
			return map[string]string{
				"identifier": c.Email,
				"reason":     reason,
			}
		})
		return nil, err
	}

	if !c.Resolved() {
		return fail(c.User.UserID, c.Reason, c.Err)
	}
	user := c.User

	consumed, err := deps.SSO.ConsumeToken(ctx, user.UserID, c.Token, deps.SSO.Now())
	if err != nil {
		return fail(user.UserID, "token_consume_failed", fmt.Errorf("%w: %v", deps.Errors.Backend, err))
	}
	if !consumed {
		return fail(user.UserID, "token_consumed", deps.Errors.InvalidToken)
	}

	if !user.Active {
		return fail(user.UserID, "account_inactive", deps.Errors.AccountInactive)
	}

	sess, err := issueLoginSession(ctx, user, deps)
	if err != nil {
		return fail(user.UserID, "session_creation_failed", err)
	}

	deps.MetricInc(deps.Metrics.SSOSuccess)
	deps.EmitAudit(ctx, deps.Events.SSOSuccess, true, user.UserID, sess.SessionID, nil, nil)
	return &LoginResult{User: user, Session: sess}, nil
}

package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ResetNotice is the flow-local reset instruction payload.
type ResetNotice struct {
	UserID string
	Email  string
	Name   string
	Token  string
}

// ResetResult is returned by a completed reset.
type ResetResult struct {
	User    UserRecord
	Session *SessionResult
}

// ResetMetrics carries metric IDs needed by reset flows.
type ResetMetrics struct {
	Request        int
	NotFound       int
	Success        int
	Failure        int
	SessionCreated int
}

// ResetEvents carries audit event names used by reset flows.
type ResetEvents struct {
	Request string
	Confirm string
}

// ResetErrors carries host-level sentinel errors used by reset flows.
type ResetErrors struct {
	EngineNotReady       error
	NotFound             error
	InvalidToken         error
	PasswordConfirmation error
	SessionCreation      error
	Backend              error
}

// ResetDeps captures password reset dependencies.
type ResetDeps struct {
	TokenTTL time.Duration

	Now        func() time.Time
	IsNotFound func(error) bool

	GetUserByEmail       func(context.Context, string) (UserRecord, error)
	GetUserByResetDigest func(context.Context, string) (UserRecord, error)
	NewToken             func() (string, error)
	DigestToken          func(string) string
	SetResetToken        func(ctx context.Context, userID, digest string, sentAt time.Time) error
	Notify               func(context.Context, ResetNotice) error
	HashPassword         func(string) (string, error)
	CompleteReset        func(ctx context.Context, userID, digest, passwordHash string) error
	IssueSession         func(context.Context, UserRecord) (*SessionResult, error)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics ResetMetrics
	Events  ResetEvents
	Errors  ResetErrors
}

func normalizeResetDeps(deps ResetDeps) ResetDeps {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return true }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Notify == nil {
		deps.Notify = func(context.Context, ResetNotice) error { return nil }
	}
	return deps
}

// RunRequestPasswordReset stores a fresh reset digest for the account and
// hands the raw token to Notify. An unknown email fails with NotFound.
func RunRequestPasswordReset(ctx context.Context, email string, deps ResetDeps) error {
	deps = normalizeResetDeps(deps)
	if deps.GetUserByEmail == nil ||
		deps.NewToken == nil ||
		deps.DigestToken == nil ||
		deps.SetResetToken == nil {
		return deps.Errors.EngineNotReady
	}

	email = normalizeEmail(email)
	emit := func(userID string, err error, reason string) {
		deps.EmitAudit(ctx, deps.Events.Request, err == nil, userID, "", err, func() map[string]string {
			m := map[string]string{"identifier": email}
			if reason != "" {
				m["reason"] = reason
			}
			return m
		})
	}

	if email == "" {
		deps.MetricInc(deps.Metrics.NotFound)
		emit("", deps.Errors.NotFound, "missing_email")
		return deps.Errors.NotFound
	}

	user, err := deps.GetUserByEmail(ctx, email)
	if err != nil {
		if !deps.IsNotFound(err) {
			err = fmt.Errorf("%w: %v", deps.Errors.Backend, err)
			emit("", err, "user_lookup_failed")
			return err
		}
		deps.MetricInc(deps.Metrics.NotFound)
		emit("", deps.Errors.NotFound, "user_not_found")
		return deps.Errors.NotFound
	}

	raw, err := deps.NewToken()
	if err != nil {
		return errors.Join(deps.Errors.Backend, err)
	}
	if err := deps.SetResetToken(ctx, user.UserID, deps.DigestToken(raw), deps.Now()); err != nil {
		err = fmt.Errorf("%w: %v", deps.Errors.Backend, err)
		emit(user.UserID, err, "token_store_failed")
		return err
	}

	if err := deps.Notify(ctx, ResetNotice{
		UserID: user.UserID,
		Email:  user.Email,
		Name:   user.Name,
		Token:  raw,
	}); err != nil {
		err = fmt.Errorf("%w: notify: %v", deps.Errors.Backend, err)
		emit(user.UserID, err, "notify_failed")
		return err
	}

	deps.MetricInc(deps.Metrics.Request)
	emit(user.UserID, nil, "")
	return nil
}

// RunCompletePasswordReset sets a new password using a raw reset token.
// Token and confirmation problems fail before anything is written.
func RunCompletePasswordReset(ctx context.Context, rawToken, password, confirmation string, deps ResetDeps) (*ResetResult, error) {
	deps = normalizeResetDeps(deps)
	if deps.GetUserByResetDigest == nil ||
		deps.DigestToken == nil ||
		deps.HashPassword == nil ||
		deps.CompleteReset == nil ||
		deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	fail := func(userID, reason string, err error) (*ResetResult, error) {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Confirm, false, userID, "", err, func() map[string]string {
			return map[string]string{
				"reason": reason,
			}
		})
		return nil, err
	}

	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return fail("", "missing_token", deps.Errors.InvalidToken)
	}

	digest := deps.DigestToken(rawToken)
	user, err := deps.GetUserByResetDigest(ctx, digest)
	if err != nil {
		if !deps.IsNotFound(err) {
			return fail("", "user_lookup_failed", fmt.Errorf("%w: %v", deps.Errors.Backend, err))
		}
		return fail("", "unknown_token", deps.Errors.InvalidToken)
	}

	if deps.TokenTTL > 0 {
		sentAt := time.Unix(user.ResetSentAt, 0)
		if user.ResetSentAt == 0 || deps.Now().After(sentAt.Add(deps.TokenTTL)) {
			return fail(user.UserID, "expired_token", deps.Errors.InvalidToken)
		}
	}

	if password == "" || password != confirmation {
		return fail(user.UserID, "confirmation_mismatch", deps.Errors.PasswordConfirmation)
	}

	hash, err := deps.HashPassword(password)
	if err != nil {
		return fail(user.UserID, "hash_failed", fmt.Errorf("%w: %v", deps.Errors.Backend, err))
	}

	if err := deps.CompleteReset(ctx, user.UserID, digest, hash); err != nil {
		if deps.IsNotFound(err) {
			return fail(user.UserID, "token_consumed", deps.Errors.InvalidToken)
		}
		return fail(user.UserID, "reset_write_failed", fmt.Errorf("%w: %v", deps.Errors.Backend, err))
	}

	sess, err := deps.IssueSession(ctx, user)
	if err != nil {
		return fail(user.UserID, "session_creation_failed", fmt.Errorf("%w: %v", deps.Errors.SessionCreation, err))
	}
	deps.MetricInc(deps.Metrics.SessionCreated)

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Confirm, true, user.UserID, sess.SessionID, nil, nil)
	return &ResetResult{User: user, Session: sess}, nil
}

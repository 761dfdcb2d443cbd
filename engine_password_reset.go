package authgate

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/internal/flows"
)

// RequestPasswordReset issues a reset token for the account using email and
// hands it to the ResetNotifier. An unknown email fails with
// ErrResetEmailNotFound.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.RequestPasswordReset(ctx, email)
}

// CompletePasswordReset sets a new password from a reset token and signs the
// user in. An unknown, used or expired token fails with ErrInvalidToken and
// a missing or mismatched confirmation with ErrPasswordConfirmation; in both
// cases nothing is written. On success the new password is pushed to the
// external identity system in the background.
func (e *Engine) CompletePasswordReset(ctx context.Context, req ResetRequest) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res, err := e.flows.CompletePasswordReset(ctx, req.Token, req.Password, req.PasswordConfirmation)
	if err != nil {
		return nil, err
	}

	e.syncResetPassword(ctx, NormalizeEmail(res.User.Email), req.Password)
	return e.toSession(res.Session, res.User), nil
}

func (e *Engine) digestResetToken(raw string) string {
	return internal.DigestResetToken(e.digestKey, raw)
}

func (e *Engine) resetDeps() flows.ResetDeps {
	return flows.ResetDeps{
		TokenTTL:   e.config.Reset.TokenTTL,
		Now:        e.now,
		IsNotFound: isUserNotFound,
		GetUserByEmail: func(ctx context.Context, email string) (flows.UserRecord, error) {
			u, err := e.users.GetUserByEmail(ctx, email)
			if err != nil {
				return flows.UserRecord{}, err
			}
			return e.toFlowUser(u), nil
		},
		GetUserByResetDigest: func(ctx context.Context, digest string) (flows.UserRecord, error) {
			u, err := e.users.GetUserByResetDigest(ctx, digest)
			if err != nil {
				return flows.UserRecord{}, err
			}
			return e.toFlowUser(u), nil
		},
		NewToken:    internal.NewResetToken,
		DigestToken: e.digestResetToken,
		SetResetToken: func(ctx context.Context, userID, digest string, sentAt time.Time) error {
			return e.users.SetResetPasswordToken(ctx, userID, digest, sentAt)
		},
		Notify: func(ctx context.Context, n flows.ResetNotice) error {
			return e.notifier.SendResetInstructions(ctx, ResetNotice{
				UserID:   n.UserID,
				Email:    n.Email,
				Name:     n.Name,
				Token:    n.Token,
				ResetURL: e.config.resetURL(n.Token),
			})
		},
		HashPassword: e.hasher.Hash,
		CompleteReset: func(ctx context.Context, userID, digest, passwordHash string) error {
			return e.users.CompleteReset(ctx, userID, digest, passwordHash)
		},
		IssueSession: e.issueSession,

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: e.emitAudit,

		Metrics: flows.ResetMetrics{
			Request:        int(MetricPasswordResetRequest),
			NotFound:       int(MetricPasswordResetNotFound),
			Success:        int(MetricPasswordResetSuccess),
			Failure:        int(MetricPasswordResetFailure),
			SessionCreated: int(MetricSessionCreated),
		},
		Events: flows.ResetEvents{
			Request: auditEventPasswordResetReq,
			Confirm: auditEventPasswordResetDone,
		},
		Errors: flows.ResetErrors{
			EngineNotReady:       ErrEngineNotReady,
			NotFound:             ErrResetEmailNotFound,
			InvalidToken:         ErrInvalidToken,
			PasswordConfirmation: ErrPasswordConfirmation,
			SessionCreation:      ErrSessionCreationFailed,
			Backend:              ErrBackendUnavailable,
		},
	}
}

// logNotifier is the default ResetNotifier. It records that instructions
// are ready and leaves delivery to whoever reads the log.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) SendResetInstructions(ctx context.Context, notice ResetNotice) error {
	n.logger.InfoContext(ctx, "password reset instructions ready",
		"op", "password_reset",
		"user_id", notice.UserID,
		"email", notice.Email,
	)
	n.logger.DebugContext(ctx, "password reset link",
		"user_id", notice.UserID,
		"reset_url", notice.ResetURL,
	)
	return nil
}

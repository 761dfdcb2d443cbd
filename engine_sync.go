package authgate

import (
	"context"
	"time"

	"github.com/MrEthical07/authgate/internal/dispatch"
)

// submitSync hands job to the background pool, or runs it inline when
// Sync.Synchronous is set. Either way the caller never sees its result.
func (e *Engine) submitSync(ctx context.Context, op, email string, job dispatch.Job) {
	if e.syncer == nil || e.syncPool == nil {
		return
	}
	e.metricInc(MetricSyncSubmitted)

	if e.config.Sync.Synchronous {
		e.syncPool.RunNow(job)
		return
	}
	if !e.syncPool.Submit(ctx, job) {
		e.metricInc(MetricSyncDropped)
		e.logger.WarnContext(ctx, "external identity sync dropped",
			"op", op,
			"email", email,
			"reason", "queue_full",
		)
	}
}

// syncLogin mirrors a successful password login into the external identity
// system and keeps the returned token beside the session.
func (e *Engine) syncLogin(ctx context.Context, sess *Session, email, password string) {
	name := sess.Name
	sessionID, expiresAt := sess.SessionID, sess.ExpiresAt

	e.submitSync(ctx, "login_or_register", email, func(jobCtx context.Context) {
		token, ok := e.syncer.LoginOrRegister(jobCtx, email, password, name)
		if !ok || token == "" {
			e.metricInc(MetricSyncFailed)
			e.logger.InfoContext(jobCtx, "external identity sync produced no token",
				"op", "login_or_register",
				"email", email,
			)
			return
		}

		if err := e.identityTokens.Set(jobCtx, sessionID, token, time.Until(expiresAt)); err != nil {
			e.metricInc(MetricSyncFailed)
			e.logger.WarnContext(jobCtx, "storing external identity token failed",
				"op", "login_or_register",
				"email", email,
				"session_id", sessionID,
				"error", err,
			)
			return
		}

		// Logout deletes the session before the token; re-check after the write.
		if _, err := e.sessions.Get(jobCtx, sessionID); err != nil {
			if delErr := e.identityTokens.Delete(jobCtx, sessionID); delErr != nil {
				e.logger.WarnContext(jobCtx, "removing orphaned external identity token failed",
					"op", "login_or_register",
					"session_id", sessionID,
					"error", delErr,
				)
			}
			e.logger.InfoContext(jobCtx, "session ended before external identity token arrived",
				"op", "login_or_register",
				"email", email,
				"session_id", sessionID,
			)
			return
		}
		e.metricInc(MetricSyncSucceeded)
	})
}

// syncResetPassword pushes a new password to the external identity system.
func (e *Engine) syncResetPassword(ctx context.Context, email, password string) {
	e.submitSync(ctx, "sync_password", email, func(jobCtx context.Context) {
		if !e.syncer.SyncPassword(jobCtx, email, password) {
			e.metricInc(MetricSyncFailed)
			e.logger.InfoContext(jobCtx, "external password sync not accepted",
				"op", "sync_password",
				"email", email,
			)
			return
		}
		e.metricInc(MetricSyncSucceeded)
	})
}

func (e *Engine) onSyncPanic(recovered any) {
	e.metricInc(MetricSyncFailed)
	e.logger.Error("external identity sync panicked", "op", "sync", "error", recovered)
}

package authgate

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/session"
)

// issueSession persists one session for user and signs its access token.
// It is the only place sessions are created.
func (e *Engine) issueSession(ctx context.Context, user flows.UserRecord) (*flows.SessionResult, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}

	meta := metaFrom(ctx)
	now := e.now()
	expiresAt := now.Add(e.config.Session.TTL)
	sess := &session.Session{
		SessionID:     sid,
		UserID:        user.UserID,
		Email:         user.Email,
		Name:          user.Name,
		IPHash:        bindingHash(meta.ip),
		UserAgentHash: bindingHash(meta.userAgent),
		CreatedAt:     now.Unix(),
		ExpiresAt:     expiresAt.Unix(),
	}
	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}

	access, err := e.jwtManager.CreateAccess(user.UserID, sess.SessionID, expiresAt)
	if err != nil {
		_, _ = e.sessions.Delete(ctx, sess.SessionID)
		return nil, err
	}

	return &flows.SessionResult{
		SessionID:   sess.SessionID,
		AccessToken: access,
		CreatedAt:   sess.CreatedAt,
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

func bindingHash(value string) [32]byte {
	if value == "" {
		return [32]byte{}
	}
	return sha256.Sum256([]byte(value))
}

// ValidateSession verifies accessToken and confirms its session still exists.
func (e *Engine) ValidateSession(ctx context.Context, accessToken string) (*SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(strings.TrimSpace(accessToken))
	if err != nil {
		return nil, ErrSessionInvalid
	}
	if !internal.ValidSessionID(claims.SID) {
		return nil, ErrSessionInvalid
	}

	sess, err := e.sessions.Get(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			return nil, errors.Join(ErrBackendUnavailable, err)
		}
		return nil, ErrSessionInvalid
	}
	if sess.UserID != claims.UID {
		return nil, ErrSessionInvalid
	}

	return &SessionInfo{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		CreatedAt: time.Unix(sess.CreatedAt, 0),
		ExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// Logout ends the session behind accessToken and drops its external
// identity token. Logging out an already ended session succeeds.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(strings.TrimSpace(accessToken))
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", ErrSessionInvalid, func() map[string]string {
			return map[string]string{
				"reason": "invalid_access_token",
			}
		})
		return ErrSessionInvalid
	}

	existed, err := e.sessions.Delete(ctx, claims.SID)
	if err != nil {
		err = errors.Join(ErrBackendUnavailable, err)
		e.emitAudit(ctx, auditEventLogoutSession, false, claims.UID, claims.SID, err, nil)
		return err
	}
	if err := e.identityTokens.Delete(ctx, claims.SID); err != nil {
		e.logger.WarnContext(ctx, "identity token cleanup failed",
			"op", "logout",
			"session_id", claims.SID,
			"error", err,
		)
	}

	e.metricInc(MetricLogout)
	if existed {
		e.metricInc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, auditEventLogoutSession, true, claims.UID, claims.SID, nil, nil)
	return nil
}

// ExternalIdentityToken returns the external identity token stored for the
// session behind accessToken, or "" when the background sync has not
// produced one.
func (e *Engine) ExternalIdentityToken(ctx context.Context, accessToken string) (string, error) {
	info, err := e.ValidateSession(ctx, accessToken)
	if err != nil {
		return "", err
	}
	token, err := e.identityTokens.Get(ctx, info.SessionID)
	if err != nil {
		return "", errors.Join(ErrBackendUnavailable, err)
	}
	return token, nil
}

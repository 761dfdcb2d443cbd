package authgate

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventMFARequired         = "mfa_required"
	auditEventMFASuccess          = "mfa_success"
	auditEventMFAFailure          = "mfa_failure"
	auditEventMFAAttemptsExceeded = "mfa_attempts_exceeded"
	auditEventSSOSuccess          = "sso_success"
	auditEventSSOFailure          = "sso_failure"
	auditEventSSOTokenIssued      = "sso_token_issued"
	auditEventPasswordResetReq    = "password_reset_request"
	auditEventPasswordResetDone   = "password_reset_confirm"
	auditEventLogoutSession       = "logout_session"
)

// AuditErrorCode is the stable error label attached to failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials    AuditErrorCode = "invalid_credentials"
	auditErrInvalidToken          AuditErrorCode = "invalid_token"
	auditErrInvalidCode           AuditErrorCode = "invalid_code"
	auditErrAccountInactive       AuditErrorCode = "account_inactive"
	auditErrPasswordConfirmation  AuditErrorCode = "password_confirmation"
	auditErrEmailNotFound         AuditErrorCode = "email_not_found"
	auditErrSessionInvalid        AuditErrorCode = "session_invalid"
	auditErrSessionCreationFailed AuditErrorCode = "session_creation_failed"
	auditErrUnavailable           AuditErrorCode = "backend_unavailable"
	auditErrInternal              AuditErrorCode = "internal_error"
)

// emitAudit queues one event. metadata is only called when auditing is on.
func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, sessionID string, err error, metadata func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Mode:      auditMode(eventType),
		UserID:    userID,
		SessionID: sessionID,
		IP:        metaFrom(ctx).ip,
		Success:   success,
		Error:     string(auditErrorCode(err)),
	}
	if metadata != nil {
		event.Metadata = metadata()
	}
	e.audit.Emit(ctx, event)
}

func auditMode(eventType string) string {
	switch eventType {
	case auditEventLoginSuccess, auditEventLoginFailure, auditEventMFARequired:
		return LoginModePassword.String()
	case auditEventMFASuccess, auditEventMFAFailure, auditEventMFAAttemptsExceeded:
		return LoginModeMFAVerify.String()
	case auditEventSSOSuccess, auditEventSSOFailure:
		return LoginModeSSOExchange.String()
	default:
		return ""
	}
}

// auditErrorCodes is checked in order; the first sentinel err wraps wins.
var auditErrorCodes = []struct {
	target error
	code   AuditErrorCode
}{
	{ErrInvalidCredentials, auditErrInvalidCredentials},
	{ErrInvalidToken, auditErrInvalidToken},
	{ErrInvalidCode, auditErrInvalidCode},
	{ErrAccountInactive, auditErrAccountInactive},
	{ErrPasswordConfirmation, auditErrPasswordConfirmation},
	{ErrResetEmailNotFound, auditErrEmailNotFound},
	{ErrSessionInvalid, auditErrSessionInvalid},
	{ErrSessionCreationFailed, auditErrSessionCreationFailed},
	{ErrBackendUnavailable, auditErrUnavailable},
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}
	for _, c := range auditErrorCodes {
		if errors.Is(err, c.target) {
			return c.code
		}
	}
	return auditErrInternal
}

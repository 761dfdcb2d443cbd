package flows

import (
	"context"
	"strings"
)

// UserRecord is the flow-local view of an account. Timestamps are unix seconds.
type UserRecord struct {
	UserID       string
	Email        string
	Name         string
	PasswordHash string
	Active       bool
	MFAEnabled   bool

	SSOAuthToken          string
	SSOAuthTokenExpiresAt int64
	ResetSentAt           int64
}

// SessionResult is the flow-local view of an issued session.
type SessionResult struct {
	SessionID   string
	AccessToken string
	CreatedAt   int64
	ExpiresAt   int64
}

// AuditFunc emits one audit event. metadata is evaluated lazily.
type AuditFunc func(ctx context.Context, event string, success bool, userID, sessionID string, err error, metadata func() map[string]string)

// LogFunc writes one structured log record with slog-style key/value args.
type LogFunc func(ctx context.Context, msg string, args ...any)

// Deps groups the per-flow dependency sets the engine wires once.
type Deps struct {
	Login LoginDeps
	Reset ResetDeps
}

func noopAudit(context.Context, string, bool, string, string, error, func() map[string]string) {}

func noopLog(context.Context, string, ...any) {}

func noopMetric(int) {}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

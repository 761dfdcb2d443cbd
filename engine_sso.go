package authgate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/internal/flows"
)

func (e *Engine) ssoDeps() flows.SSODeps {
	return flows.SSODeps{
		Now: e.now,
		ConsumeToken: func(ctx context.Context, userID, token string, now time.Time) (bool, error) {
			return e.users.ConsumeSSOAuthToken(ctx, userID, token, now)
		},
		ClearToken: func(ctx context.Context, userID, token string) error {
			return e.users.ClearSSOAuthToken(ctx, userID, token)
		},
	}
}

// IssueSSOAuthToken stores a fresh single-use SSO token for userID, valid
// for SSO.TokenTTL, and returns it. Any earlier token for the user is replaced.
func (e *Engine) IssueSSOAuthToken(ctx context.Context, userID string) (string, time.Time, error) {
	if !e.ready() {
		return "", time.Time{}, ErrEngineNotReady
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, ErrUserNotFound
	}

	token, err := internal.NewSSOToken()
	if err != nil {
		return "", time.Time{}, errors.Join(ErrBackendUnavailable, err)
	}
	expiresAt := e.now().Add(e.config.SSO.TokenTTL)
	if err := e.users.SetSSOAuthToken(ctx, userID, token, expiresAt); err != nil {
		if isUserNotFound(err) {
			return "", time.Time{}, ErrUserNotFound
		}
		return "", time.Time{}, errors.Join(ErrBackendUnavailable, err)
	}

	e.emitAudit(ctx, auditEventSSOTokenIssued, true, userID, "", nil, nil)
	return token, expiresAt, nil
}

// InvalidateSSOAuthToken clears token for userID. Invalidating a token that
// was already used or replaced succeeds.
func (e *Engine) InvalidateSSOAuthToken(ctx context.Context, userID, token string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.flows.SSOInvalidate(ctx, userID, token); err != nil && !isUserNotFound(err) {
		return errors.Join(ErrBackendUnavailable, err)
	}
	return nil
}

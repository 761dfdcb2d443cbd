package flows

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	defaultMFAChallengeTTL = 5 * time.Minute
	defaultMFAMaxAttempts  = 5
)

// MFAChallengeRecord is a flow-local MFA challenge record.
type MFAChallengeRecord struct {
	UserID    string
	IssuedAt  int64
	ExpiresAt int64
	Attempts  uint16
}

// MFAErrors carries host-level sentinel errors used by the MFA coordinator.
type MFAErrors struct {
	InvalidToken error
	InvalidCode  error
	Backend      error
}

// MFADeps captures challenge storage and the external MFA service.
//
// MapStoreError turns store errors into MFAErrors values: unknown and
// expired challenges must map to InvalidToken.
type MFADeps struct {
	ChallengeTTL time.Duration
	MaxAttempts  int

	Now      func() time.Time
	NewToken func() (string, error)

	SaveChallenge   func(context.Context, string, *MFAChallengeRecord, time.Duration) error
	GetChallenge    func(context.Context, string) (*MFAChallengeRecord, error)
	DeleteChallenge func(context.Context, string) (bool, error)
	RecordFailure   func(context.Context, string, int) (bool, error)
	MapStoreError   func(error) error

	Authenticate func(ctx context.Context, userID, otpCode, backupCode string) (bool, error)

	Info LogFunc
	Warn LogFunc

	Errors MFAErrors
}

func normalizeMFADeps(deps MFADeps) MFADeps {
	if deps.ChallengeTTL <= 0 {
		deps.ChallengeTTL = defaultMFAChallengeTTL
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = defaultMFAMaxAttempts
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(err error) error { return err }
	}
	if deps.Info == nil {
		deps.Info = noopLog
	}
	if deps.Warn == nil {
		deps.Warn = noopLog
	}
	return deps
}

func mfaReady(deps MFADeps) bool {
	return deps.NewToken != nil &&
		deps.SaveChallenge != nil &&
		deps.GetChallenge != nil &&
		deps.DeleteChallenge != nil &&
		deps.RecordFailure != nil &&
		deps.Authenticate != nil
}

// RunIssueMFAChallenge stores a challenge for userID and returns its token
// and unix expiry.
func RunIssueMFAChallenge(ctx context.Context, userID string, deps MFADeps) (string, int64, error) {
	deps = normalizeMFADeps(deps)

	token, err := deps.NewToken()
	if err != nil {
		return "", 0, errors.Join(deps.Errors.Backend, err)
	}

	now := deps.Now()
	record := &MFAChallengeRecord{
		UserID:    userID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(deps.ChallengeTTL).Unix(),
	}
	if err := deps.SaveChallenge(ctx, token, record, deps.ChallengeTTL); err != nil {
		return "", 0, deps.MapStoreError(err)
	}
	return token, record.ExpiresAt, nil
}

// RunVerifyMFAToken resolves a challenge token. Unknown and expired tokens
// fail with InvalidToken.
func RunVerifyMFAToken(ctx context.Context, token string, deps MFADeps) (*MFAChallengeRecord, error) {
	deps = normalizeMFADeps(deps)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, deps.Errors.InvalidToken
	}

	record, err := deps.GetChallenge(ctx, token)
	if err != nil {
		return nil, deps.MapStoreError(err)
	}
	if record == nil || record.UserID == "" {
		return nil, deps.Errors.InvalidToken
	}
	return record, nil
}

// MFACheck is the result of asking the MFA service about a code.
type MFACheck uint8

const (
	MFACodeRejected MFACheck = iota
	MFACodeAccepted
	MFAServiceUnavailable
)

// RunAuthenticateMFA asks the MFA service to check a code. When both codes
// are supplied the OTP wins. A service failure is reported as
// MFAServiceUnavailable, not as a rejected code.
func RunAuthenticateMFA(ctx context.Context, userID, otpCode, backupCode string, deps MFADeps) MFACheck {
	deps = normalizeMFADeps(deps)

	otpCode = strings.TrimSpace(otpCode)
	backupCode = strings.TrimSpace(backupCode)
	if otpCode != "" {
		backupCode = ""
	}
	if otpCode == "" && backupCode == "" {
		deps.Info(ctx, "mfa verification rejected", "user_id", userID, "reason", "code_missing")
		return MFACodeRejected
	}

	kind := "otp"
	if backupCode != "" {
		kind = "backup_code"
	}

	ok, err := deps.Authenticate(ctx, userID, otpCode, backupCode)
	if err != nil {
		deps.Warn(ctx, "mfa verification rejected", "user_id", userID, "kind", kind, "reason", "mfa_service_unavailable", "error", err)
		return MFAServiceUnavailable
	}
	if !ok {
		deps.Info(ctx, "mfa verification rejected", "user_id", userID, "kind", kind, "reason", "code_mismatch")
		return MFACodeRejected
	}
	return MFACodeAccepted
}

// RunRecordMFAFailure counts a wrong code. The challenge stays usable until
// MaxAttempts is reached, at which point it is destroyed and exceeded is true.
func RunRecordMFAFailure(ctx context.Context, token string, deps MFADeps) (exceeded bool, err error) {
	deps = normalizeMFADeps(deps)

	exceeded, err = deps.RecordFailure(ctx, token, deps.MaxAttempts)
	if err != nil {
		return false, deps.MapStoreError(err)
	}
	return exceeded, nil
}

// RunConsumeMFAChallenge deletes a verified challenge. A challenge that was
// already gone means a concurrent request used it, which fails as InvalidToken.
func RunConsumeMFAChallenge(ctx context.Context, token string, deps MFADeps) error {
	deps = normalizeMFADeps(deps)

	deleted, err := deps.DeleteChallenge(ctx, token)
	if err != nil {
		return deps.MapStoreError(err)
	}
	if !deleted {
		return deps.Errors.InvalidToken
	}
	return nil
}

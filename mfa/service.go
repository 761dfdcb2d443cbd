package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotEnrolled is returned by SecretStore when a user has no MFA secret.
	ErrNotEnrolled = errors.New("mfa not enrolled")
	// ErrStore wraps SecretStore failures.
	ErrStore = errors.New("mfa store unavailable")
)

// Enrollment is the stored MFA state of one user.
type Enrollment struct {
	Secret      []byte
	LastCounter int64
}

// SecretStore persists TOTP secrets and hashed backup codes.
//
// AdvanceCounter must set the last used counter to counter only when the
// stored value is lower, and report whether it did. ConsumeBackupCode must
// mark a matching unused code as used in the same write.
type SecretStore interface {
	GetEnrollment(ctx context.Context, userID string) (Enrollment, error)
	SaveEnrollment(ctx context.Context, userID string, secret []byte, backupHashes [][32]byte) error
	AdvanceCounter(ctx context.Context, userID string, counter int64) (bool, error)
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
}

// Config configures a Service.
type Config struct {
	TOTP             TOTPConfig
	BackupCodeCount  int
	BackupCodeLength int
}

// Service checks OTP and backup codes for users enrolled in MFA.
type Service struct {
	store      SecretStore
	totp       *TOTP
	codeCount  int
	codeLength int
	now        func() time.Time
}

// NewService returns a Service over store.
func NewService(store SecretStore, cfg Config) (*Service, error) {
	if store == nil {
		return nil, errors.New("mfa: nil secret store")
	}
	totp, err := NewTOTP(cfg.TOTP)
	if err != nil {
		return nil, err
	}
	if cfg.BackupCodeCount <= 0 {
		cfg.BackupCodeCount = 10
	}
	if cfg.BackupCodeLength <= 0 {
		cfg.BackupCodeLength = 10
	}
	return &Service{
		store:      store,
		totp:       totp,
		codeCount:  cfg.BackupCodeCount,
		codeLength: cfg.BackupCodeLength,
		now:        time.Now,
	}, nil
}

// EnrollmentResult is handed to the user once at enrollment.
type EnrollmentResult struct {
	SecretBase32 string
	ProvisionURI string
	BackupCodes  []string
}

// Enroll replaces userID's secret and backup codes.
func (s *Service) Enroll(ctx context.Context, userID, account string) (*EnrollmentResult, error) {
	raw, b32, err := s.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, s.codeCount)
	hashes := make([][32]byte, 0, s.codeCount)
	for i := 0; i < s.codeCount; i++ {
		code, err := NewBackupCode(s.codeLength)
		if err != nil {
			return nil, err
		}
		codes = append(codes, FormatBackupCode(code))
		hashes = append(hashes, BackupCodeHash(userID, code))
	}

	if err := s.store.SaveEnrollment(ctx, userID, raw, hashes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return &EnrollmentResult{
		SecretBase32: b32,
		ProvisionURI: s.totp.ProvisionURI(b32, account),
		BackupCodes:  codes,
	}, nil
}

// Authenticate checks otpCode, or backupCode when otpCode is empty. A false
// result with nil error is a mismatch; a non-nil error means the check could
// not be made. Each OTP time step and each backup code is accepted once.
func (s *Service) Authenticate(ctx context.Context, userID, otpCode, backupCode string) (bool, error) {
	if otpCode != "" {
		return s.verifyOTP(ctx, userID, otpCode)
	}
	if backupCode != "" {
		return s.verifyBackup(ctx, userID, backupCode)
	}
	return false, nil
}

func (s *Service) verifyOTP(ctx context.Context, userID, code string) (bool, error) {
	enr, err := s.store.GetEnrollment(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotEnrolled) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStore, err)
	}

	ok, counter, err := s.totp.Verify(enr.Secret, code, s.now())
	if err != nil {
		return false, err
	}
	if !ok || counter <= enr.LastCounter {
		return false, nil
	}

	advanced, err := s.store.AdvanceCounter(ctx, userID, counter)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return advanced, nil
}

func (s *Service) verifyBackup(ctx context.Context, userID, code string) (bool, error) {
	canonical := CanonicalizeBackupCode(code)
	if canonical == "" {
		return false, nil
	}
	ok, err := s.store.ConsumeBackupCode(ctx, userID, BackupCodeHash(userID, canonical))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return ok, nil
}

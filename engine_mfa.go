package authgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/internal/stores"
)

func (e *Engine) mfaDeps() flows.MFADeps {
	deps := flows.MFADeps{
		ChallengeTTL:  e.config.MFA.ChallengeTTL,
		MaxAttempts:   e.config.MFA.MaxAttempts,
		Now:           e.now,
		NewToken:      internal.NewChallengeToken,
		MapStoreError: mapMFAChallengeStoreError,
		Info:          e.logger.InfoContext,
		Warn:          e.logger.WarnContext,
		Errors: flows.MFAErrors{
			InvalidToken: ErrInvalidToken,
			InvalidCode:  ErrInvalidCode,
			Backend:      ErrBackendUnavailable,
		},
	}

	if e.challenges != nil {
		deps.SaveChallenge = func(ctx context.Context, token string, record *flows.MFAChallengeRecord, ttl time.Duration) error {
			return e.challenges.Save(ctx, token, &stores.MFAChallenge{
				UserID:    record.UserID,
				IssuedAt:  record.IssuedAt,
				ExpiresAt: record.ExpiresAt,
				Attempts:  record.Attempts,
			}, ttl)
		}
		deps.GetChallenge = func(ctx context.Context, token string) (*flows.MFAChallengeRecord, error) {
			record, err := e.challenges.Get(ctx, token)
			if err != nil {
				return nil, err
			}
			return &flows.MFAChallengeRecord{
				UserID:    record.UserID,
				IssuedAt:  record.IssuedAt,
				ExpiresAt: record.ExpiresAt,
				Attempts:  record.Attempts,
			}, nil
		}
		deps.DeleteChallenge = e.challenges.Delete
		deps.RecordFailure = e.challenges.RecordFailure
	}
	if e.mfa != nil {
		deps.Authenticate = e.mfa.Authenticate
	}
	return deps
}

func mapMFAChallengeStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrMFAChallengeNotFound),
		errors.Is(err, stores.ErrMFAChallengeExpired):
		return ErrInvalidToken
	case errors.Is(err, stores.ErrMFAChallengeBackend):
		// Includes records that no longer parse.
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	default:
		return ErrInvalidToken
	}
}

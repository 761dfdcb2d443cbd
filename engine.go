package authgate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/authgate/internal/audit"
	"github.com/MrEthical07/authgate/internal/dispatch"
	"github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/internal/stores"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/password"
	"github.com/MrEthical07/authgate/session"
)

// Engine runs the sign-in, SSO exchange, MFA and password reset flows.
// Construct it with [Builder]; the zero value fails every call with
// ErrEngineNotReady.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	users    UserStore
	mfa      MFAService
	syncer   IdentitySyncer
	notifier ResetNotifier

	sessions       *session.Store
	identityTokens *stores.IdentityTokenStore
	challenges     *stores.MFAChallengeStore
	jwtManager     *jwt.Manager
	hasher         *password.Hasher
	digestKey      []byte

	audit    *audit.Dispatcher
	metrics  *Metrics
	syncPool *dispatch.Dispatcher
	flows    flows.Service
}

// Close stops accepting sync jobs, waits for queued ones, then drains audit.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.syncPool != nil {
		e.syncPool.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// SyncDropped returns how many external sync jobs were dropped on a full queue.
func (e *Engine) SyncDropped() uint64 {
	if e == nil || e.syncPool == nil {
		return 0
	}
	return e.syncPool.Dropped()
}

// MetricsSnapshot returns the current counters. Disabled metrics yield empty maps.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks Redis reachability.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if _, err := e.sessions.Ping(ctx); err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}
	return nil
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return e.config
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

// activeForAuthentication folds account status and confirmation into the
// single flag the flows check.
func (e *Engine) activeForAuthentication(u UserRecord) bool {
	if u.Status != AccountActive {
		return false
	}
	return u.Confirmed || !e.config.Login.RequireConfirmed
}

func (e *Engine) toFlowUser(u UserRecord) flows.UserRecord {
	rec := flows.UserRecord{
		UserID:       u.UserID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Active:       e.activeForAuthentication(u),
		MFAEnabled:   u.MFAEnabled,
		SSOAuthToken: u.SSOAuthToken,
	}
	if !u.SSOAuthTokenExpiresAt.IsZero() {
		rec.SSOAuthTokenExpiresAt = u.SSOAuthTokenExpiresAt.Unix()
	}
	if !u.ResetPasswordSentAt.IsZero() {
		rec.ResetSentAt = u.ResetPasswordSentAt.Unix()
	}
	return rec
}

func (e *Engine) toSession(s *flows.SessionResult, u flows.UserRecord) *Session {
	if s == nil {
		return nil
	}
	return &Session{
		SessionID:   s.SessionID,
		UserID:      u.UserID,
		Email:       u.Email,
		Name:        u.Name,
		AccessToken: s.AccessToken,
		CreatedAt:   time.Unix(s.CreatedAt, 0),
		ExpiresAt:   time.Unix(s.ExpiresAt, 0),
	}
}

func isUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

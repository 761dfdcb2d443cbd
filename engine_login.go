package authgate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/internal/flows"
)

// Login classifies req, runs exactly one authentication path and returns
// either an issued session or a pending MFA challenge.
//
// Rejections are returned as errors for which RejectReason reports a reason
// code. Other errors (ErrBackendUnavailable, ErrSessionCreationFailed) mean
// no decision could be made.
//
// A password login that ends in a session also queues a background sync
// with the external identity system. Nothing that job does reaches the
// caller.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()
	}

	mode := Classify(req)

	// An SSO token only selects the exchange once it matches a user. A stale
	// token next to full credentials falls through to the password path.
	var sso flows.SSOCandidate
	if mode == LoginModeSSOExchange {
		sso = e.flows.ResolveSSO(ctx, req.Email, req.SSOAuthToken)
		if errors.Is(sso.Err, ErrInvalidToken) && hasCredentials(req) {
			mode = LoginModePassword
		}
	}

	var (
		res *flows.LoginResult
		err error
	)
	switch mode {
	case LoginModeMFAVerify:
		res, err = e.flows.MFAVerify(ctx, req.MFAToken, req.OTPCode, req.BackupCode)
	case LoginModeSSOExchange:
		res, err = e.flows.SSOExchange(ctx, sso)
	default:
		res, err = e.flows.PasswordLogin(ctx, req.Email, req.Password)
	}
	if err != nil {
		e.logRejection(ctx, mode, req.Email, err)
		return nil, err
	}
	if res == nil {
		return nil, ErrEngineNotReady
	}

	if res.ChallengeToken != "" {
		return &LoginResult{
			Outcome: OutcomeChallengeIssued,
			Mode:    mode,
			Challenge: &MFAChallenge{
				Token:     res.ChallengeToken,
				ExpiresAt: time.Unix(res.ChallengeExpiresAt, 0),
			},
		}, nil
	}

	sess := e.toSession(res.Session, res.User)
	if mode == LoginModePassword && hasCredentials(req) {
		e.syncLogin(ctx, sess, NormalizeEmail(req.Email), req.Password)
	}

	return &LoginResult{
		Outcome: OutcomeAuthenticated,
		Mode:    mode,
		Session: sess,
	}, nil
}

func hasCredentials(req LoginRequest) bool {
	return strings.TrimSpace(req.Email) != "" && req.Password != ""
}

func (e *Engine) logRejection(ctx context.Context, mode LoginMode, email string, err error) {
	reason := RejectReason(err)
	if reason == "" {
		e.logger.WarnContext(ctx, "login failed",
			"mode", mode.String(),
			"email", NormalizeEmail(email),
			"error", err,
		)
		return
	}
	e.logger.InfoContext(ctx, "login rejected",
		"mode", mode.String(),
		"email", NormalizeEmail(email),
		"reason", reason,
	)
}

func (e *Engine) loginDeps() flows.LoginDeps {
	return flows.LoginDeps{
		IsNotFound: isUserNotFound,
		GetUserByEmail: func(ctx context.Context, email string) (flows.UserRecord, error) {
			u, err := e.users.GetUserByEmail(ctx, email)
			if err != nil {
				return flows.UserRecord{}, err
			}
			return e.toFlowUser(u), nil
		},
		GetUserByID: func(ctx context.Context, userID string) (flows.UserRecord, error) {
			u, err := e.users.GetUserByID(ctx, userID)
			if err != nil {
				return flows.UserRecord{}, err
			}
			return e.toFlowUser(u), nil
		},
		VerifyPassword: e.hasher.Verify,
		IssueSession:   e.issueSession,

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: e.emitAudit,

		MFA: e.mfaDeps(),
		SSO: e.ssoDeps(),

		Metrics: flows.LoginMetrics{
			LoginSuccess:        int(MetricLoginSuccess),
			LoginFailure:        int(MetricLoginFailure),
			MFARequired:         int(MetricMFARequired),
			MFASuccess:          int(MetricMFASuccess),
			MFAFailure:          int(MetricMFAFailure),
			MFAAttemptsExceeded: int(MetricMFAAttemptsExceeded),
			MFAReplay:           int(MetricMFAReplay),
			SSOSuccess:          int(MetricSSOSuccess),
			SSOFailure:          int(MetricSSOFailure),
			SessionCreated:      int(MetricSessionCreated),
		},
		Events: flows.LoginEvents{
			LoginSuccess:        auditEventLoginSuccess,
			LoginFailure:        auditEventLoginFailure,
			MFARequired:         auditEventMFARequired,
			MFASuccess:          auditEventMFASuccess,
			MFAFailure:          auditEventMFAFailure,
			MFAAttemptsExceeded: auditEventMFAAttemptsExceeded,
			SSOSuccess:          auditEventSSOSuccess,
			SSOFailure:          auditEventSSOFailure,
		},
		Errors: flows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			InvalidToken:       ErrInvalidToken,
			InvalidCode:        ErrInvalidCode,
			AccountInactive:    ErrAccountInactive,
			SessionCreation:    ErrSessionCreationFailed,
			Backend:            ErrBackendUnavailable,
		},
	}
}


package authgate_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authgate"
)

func TestPasswordLoginNonMFAUserAuthenticatesWithoutMFA(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "a@x.com", "secret")

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "a@x.com", Password: "secret"})
	sess := mustAuthenticated(t, res, err)

	if res.Mode != authgate.LoginModePassword {
		t.Fatalf("expected password mode, got %v", res.Mode)
	}
	if sess.UserID != "u1" || sess.Email != "a@x.com" {
		t.Fatalf("unexpected session owner: %+v", sess)
	}
	if h.mfa.callCount() != 0 {
		t.Fatalf("expected no MFA calls, got %d", h.mfa.callCount())
	}

	info, err := h.engine.ValidateSession(context.Background(), sess.AccessToken)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if info.SessionID != sess.SessionID || info.UserID != "u1" {
		t.Fatalf("unexpected session info: %+v", info)
	}
}

func TestPasswordLoginDoesNotEnumerateAccounts(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "a@x.com", "secret")

	cases := []authgate.LoginRequest{
		{Email: "a@x.com", Password: "wrong"},
		{Email: "nobody@x.com", Password: "secret"},
		{Email: "", Password: "secret"},
		{Email: "a@x.com", Password: ""},
	}
	for _, req := range cases {
		_, err := h.engine.Login(context.Background(), req)
		mustReject(t, err, authgate.ErrInvalidCredentials)
		if authgate.RejectReason(err) != authgate.ReasonInvalidCredentials {
			t.Fatalf("expected invalid_credentials reason, got %q", authgate.RejectReason(err))
		}
	}
}

func TestEmailNormalizationResolvesSameAccount(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "user@example.com", "secret")

	for _, email := range []string{"  User@Example.COM ", "user@example.com"} {
		res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: email, Password: "secret"})
		sess := mustAuthenticated(t, res, err)
		if sess.UserID != "u1" {
			t.Fatalf("email %q resolved to %q", email, sess.UserID)
		}
	}
}

func TestInactiveAccountsAreRejected(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "locked", "locked@x.com", "secret", func(u *authgate.UserRecord) { u.Status = authgate.AccountLocked })
	h.addUser(t, "unconfirmed", "new@x.com", "secret", func(u *authgate.UserRecord) { u.Confirmed = false })

	for _, email := range []string{"locked@x.com", "new@x.com"} {
		_, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: email, Password: "secret"})
		mustReject(t, err, authgate.ErrAccountInactive)
	}

	// A wrong password on an inactive account still looks like any other miss.
	_, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "locked@x.com", Password: "nope"})
	mustReject(t, err, authgate.ErrInvalidCredentials)
}

func TestUnconfirmedAllowedWhenConfirmationNotRequired(t *testing.T) {
	h := newHarness(t, withConfig(func(c *authgate.Config) { c.Login.RequireConfirmed = false }))
	h.addUser(t, "u1", "new@x.com", "secret", func(u *authgate.UserRecord) { u.Confirmed = false })

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "new@x.com", Password: "secret"})
	mustAuthenticated(t, res, err)
}

func TestMFAChallengeYieldsSessionExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "mfa@x.com", "secret", func(u *authgate.UserRecord) { u.MFAEnabled = true })
	h.mfa.otp["u1"] = "123456"

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "mfa@x.com", Password: "secret"})
	if err != nil {
		t.Fatalf("password step: %v", err)
	}
	if res.Outcome != authgate.OutcomeChallengeIssued || res.Challenge == nil || res.Session != nil {
		t.Fatalf("expected challenge, got %+v", res)
	}
	if !res.Challenge.ExpiresAt.After(time.Now()) {
		t.Fatalf("challenge already expired: %v", res.Challenge.ExpiresAt)
	}
	if h.mfa.callCount() != 0 {
		t.Fatal("issuing a challenge must not verify a code")
	}

	token := res.Challenge.Token
	res, err = h.engine.Login(context.Background(), authgate.LoginRequest{MFAToken: token, OTPCode: "123456"})
	sess := mustAuthenticated(t, res, err)
	if res.Mode != authgate.LoginModeMFAVerify || sess.UserID != "u1" {
		t.Fatalf("unexpected MFA result: %+v", res)
	}

	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{MFAToken: token, OTPCode: "123456"})
	mustReject(t, err, authgate.ErrInvalidToken)
}

func TestMFAWrongCodeKeepsChallenge(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "U", "u@x.com", "secret", func(u *authgate.UserRecord) { u.MFAEnabled = true })
	h.mfa.otp["U"] = "123456"

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "u@x.com", Password: "secret"})
	if err != nil {
		t.Fatalf("password step: %v", err)
	}
	t1 := res.Challenge.Token

	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{MFAToken: t1, OTPCode: "000000"})
	mustReject(t, err, authgate.ErrInvalidCode)

	res, err = h.engine.Login(context.Background(), authgate.LoginRequest{MFAToken: t1, OTPCode: "123456"})
	mustAuthenticated(t, res, err)
}

func TestMFAAttemptLimitDestroysChallenge(t *testing.T) {
	h := newHarness(t, withConfig(func(c *authgate.Config) { c.MFA.MaxAttempts = 2 }))
	h.addUser(t, "u1", "mfa@x.com", "secret", func(u *authgate.UserRecord) { u.MFAEnabled = true })
	h.mfa.otp["u1"] = "123456"

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "mfa@x.com", Password: "secret"})
	if err != nil {
		t.Fatalf("password step: %v", err)
	}
	token := res.Challenge.Token

	for i := 0; i < 2; i++ {
		_, err = h.engine.Login(context.Background(), authgate.LoginRequest{MFAToken: token, OTPCode: "000000"})
		mustReject(t, err, authgate.ErrInvalidCode)
	}
	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{MFAToken: token, OTPCode: "123456"})
	mustReject(t, err, authgate.ErrInvalidToken)

	snap := h.engine.MetricsSnapshot()
	if snap.Counters[authgate.MetricMFAAttemptsExceeded] != 1 {
		t.Fatalf("expected one attempts-exceeded event, got %d", snap.Counters[authgate.MetricMFAAttemptsExceeded])
	}
}

func TestMFAUnknownAndExpiredTokens(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "mfa@x.com", "secret", func(u *authgate.UserRecord) { u.MFAEnabled = true })
	h.mfa.otp["u1"] = "123456"

	_, err := h.engine.Login(context.Background(), authgate.LoginRequest{MFAToken: "never-issued", OTPCode: "123456"})
	mustReject(t, err, authgate.ErrInvalidToken)

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "mfa@x.com", Password: "secret"})
	if err != nil {
		t.Fatalf("password step: %v", err)
	}
	h.mr.FastForward(6 * time.Minute)

	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{MFAToken: res.Challenge.Token, OTPCode: "123456"})
	mustReject(t, err, authgate.ErrInvalidToken)
}

func TestMFAServiceFailureIsInvalidCodeAndLogged(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "mfa@x.com", "secret", func(u *authgate.UserRecord) { u.MFAEnabled = true })
	h.mfa.err = errors.New("mfa backend down")

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "mfa@x.com", Password: "secret"})
	if err != nil {
		t.Fatalf("password step: %v", err)
	}
	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{MFAToken: res.Challenge.Token, OTPCode: "123456"})
	mustReject(t, err, authgate.ErrInvalidCode)

	if !strings.Contains(h.logs.String(), "mfa_service_unavailable") {
		t.Fatalf("expected service failure in logs, got %s", h.logs.String())
	}
}

func TestMFAServiceOutageDoesNotSpendAttempts(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "mfa@x.com", "secret", func(u *authgate.UserRecord) { u.MFAEnabled = true })
	h.mfa.otp["u1"] = "123456"

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "mfa@x.com", Password: "secret"})
	if err != nil {
		t.Fatalf("password step: %v", err)
	}

	h.mfa.mu.Lock()
	h.mfa.err = errors.New("mfa backend down")
	h.mfa.mu.Unlock()
	for i := 0; i < testConfig().MFA.MaxAttempts+2; i++ {
		_, err = h.engine.Login(context.Background(), authgate.LoginRequest{MFAToken: res.Challenge.Token, OTPCode: "123456"})
		mustReject(t, err, authgate.ErrInvalidCode)
	}

	h.mfa.mu.Lock()
	h.mfa.err = nil
	h.mfa.mu.Unlock()
	res2, err := h.engine.Login(context.Background(), authgate.LoginRequest{MFAToken: res.Challenge.Token, OTPCode: "123456"})
	mustAuthenticated(t, res2, err)
}

func TestMFAPrefersOTPOverBackupCode(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "mfa@x.com", "secret", func(u *authgate.UserRecord) { u.MFAEnabled = true })
	h.mfa.otp["u1"] = "123456"
	h.mfa.backup["u1"] = "BACKUP-1"

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "mfa@x.com", Password: "secret"})
	if err != nil {
		t.Fatalf("password step: %v", err)
	}

	// A wrong OTP is not rescued by a valid backup code.
	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{MFAToken: res.Challenge.Token, OTPCode: "000000", BackupCode: "BACKUP-1"})
	mustReject(t, err, authgate.ErrInvalidCode)
	if _, ok := h.mfa.backup["u1"]; !ok {
		t.Fatal("backup code must not be consumed when an OTP was supplied")
	}

	res2, err := h.engine.Login(context.Background(), authgate.LoginRequest{MFAToken: res.Challenge.Token, BackupCode: "BACKUP-1"})
	mustAuthenticated(t, res2, err)
}

func TestMFALoginDoesNotSync(t *testing.T) {
	syncer := newFakeSyncer("ext")
	h := newHarness(t, withSyncer(syncer))
	h.addUser(t, "u1", "mfa@x.com", "secret", func(u *authgate.UserRecord) { u.MFAEnabled = true })
	h.mfa.otp["u1"] = "123456"

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "mfa@x.com", Password: "secret"})
	if err != nil {
		t.Fatalf("password step: %v", err)
	}
	res, err = h.engine.Login(context.Background(), authgate.LoginRequest{MFAToken: res.Challenge.Token, OTPCode: "123456"})
	mustAuthenticated(t, res, err)

	if calls := syncer.snapshot(); len(calls) != 0 {
		t.Fatalf("expected no sync for MFA path, got %+v", calls)
	}
}

func TestSSOTokenIsSingleUse(t *testing.T) {
	syncer := newFakeSyncer("ext")
	h := newHarness(t, withSyncer(syncer))
	h.addUser(t, "u1", "sso@x.com", "secret")

	token, expiresAt, err := h.engine.IssueSSOAuthToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueSSOAuthToken: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: " SSO@x.com", SSOAuthToken: token})
	mustAuthenticated(t, res, err)
	if res.Mode != authgate.LoginModeSSOExchange {
		t.Fatalf("expected sso mode, got %v", res.Mode)
	}

	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{Email: "sso@x.com", SSOAuthToken: token})
	mustReject(t, err, authgate.ErrInvalidToken)

	if calls := syncer.snapshot(); len(calls) != 0 {
		t.Fatalf("expected no sync for SSO path, got %+v", calls)
	}
}

func TestSSOConcurrentExchangeSucceedsOnce(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "sso@x.com", "secret")

	token, _, err := h.engine.IssueSSOAuthToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueSSOAuthToken: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "sso@x.com", SSOAuthToken: token})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else if !errors.Is(err, authgate.ErrInvalidToken) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("expected exactly one successful exchange, got %d", success)
	}
}

func TestSSOFailures(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "sso@x.com", "secret")
	h.addUser(t, "u2", "other@x.com", "secret", func(u *authgate.UserRecord) { u.Status = authgate.AccountDisabled })

	token, _, err := h.engine.IssueSSOAuthToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueSSOAuthToken: %v", err)
	}

	// Unresolvable candidate user.
	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{SSOAuthToken: token})
	mustReject(t, err, authgate.ErrInvalidToken)
	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{Email: "ghost@x.com", SSOAuthToken: token})
	mustReject(t, err, authgate.ErrInvalidToken)

	// Token belonging to another user.
	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{Email: "other@x.com", SSOAuthToken: token})
	mustReject(t, err, authgate.ErrInvalidToken)

	// Invalidated token.
	if err := h.engine.InvalidateSSOAuthToken(context.Background(), "u1", token); err != nil {
		t.Fatalf("InvalidateSSOAuthToken: %v", err)
	}
	if err := h.engine.InvalidateSSOAuthToken(context.Background(), "u1", token); err != nil {
		t.Fatalf("second invalidate must succeed: %v", err)
	}
	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{Email: "sso@x.com", SSOAuthToken: token})
	mustReject(t, err, authgate.ErrInvalidToken)
}

func TestSSOTokenConsumedEvenWhenAccountInactive(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "sso@x.com", "secret")

	token, _, err := h.engine.IssueSSOAuthToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueSSOAuthToken: %v", err)
	}
	u, _ := h.users.GetUserByID(context.Background(), "u1")
	u.Status = authgate.AccountLocked
	if err := h.users.Put(u); err != nil {
		t.Fatalf("put: %v", err)
	}

	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{Email: "sso@x.com", SSOAuthToken: token})
	mustReject(t, err, authgate.ErrAccountInactive)

	u, err = h.users.GetUserByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.SSOAuthToken != "" {
		t.Fatal("expected stored SSO token to be cleared")
	}
	u.Status = authgate.AccountActive
	if err := h.users.Put(u); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{Email: "sso@x.com", SSOAuthToken: token})
	mustReject(t, err, authgate.ErrInvalidToken)
}

func TestStaleSSOTokenWithPasswordUsesPasswordLogin(t *testing.T) {
	syncer := newFakeSyncer("ext")
	h := newHarness(t, withSyncer(syncer))
	h.addUser(t, "u1", "a@x.com", "secret")
	h.addUser(t, "u2", "mfa@x.com", "secret", func(u *authgate.UserRecord) { u.MFAEnabled = true })

	for _, token := range []string{"stale-or-bogus", "   x   "} {
		res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "a@x.com", Password: "secret", SSOAuthToken: token})
		sess := mustAuthenticated(t, res, err)
		if res.Mode != authgate.LoginModePassword || sess.UserID != "u1" {
			t.Fatalf("token %q: expected password login for u1, got mode %v user %q", token, res.Mode, sess.UserID)
		}
	}
	calls := syncer.snapshot()
	if len(calls) != 2 || calls[0].Op != "login_or_register" || calls[0].Email != "a@x.com" {
		t.Fatalf("expected a login sync per password login, got %+v", calls)
	}

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "mfa@x.com", Password: "secret", SSOAuthToken: "stale"})
	if err != nil {
		t.Fatalf("mfa user with stale token: %v", err)
	}
	if res.Outcome != authgate.OutcomeChallengeIssued || res.Challenge == nil {
		t.Fatalf("expected challenge, got %+v", res)
	}

	// Wrong password after the fallback is an ordinary credential failure.
	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{Email: "a@x.com", Password: "wrong", SSOAuthToken: "stale"})
	mustReject(t, err, authgate.ErrInvalidCredentials)

	// Without a password there is nothing to fall back to.
	_, err = h.engine.Login(context.Background(), authgate.LoginRequest{Email: "a@x.com", SSOAuthToken: "stale"})
	mustReject(t, err, authgate.ErrInvalidToken)
}

func TestValidSSOTokenWinsOverPassword(t *testing.T) {
	syncer := newFakeSyncer("ext")
	h := newHarness(t, withSyncer(syncer))
	h.addUser(t, "u1", "sso@x.com", "secret")

	token, _, err := h.engine.IssueSSOAuthToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueSSOAuthToken: %v", err)
	}
	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "sso@x.com", Password: "wrong", SSOAuthToken: token})
	mustAuthenticated(t, res, err)
	if res.Mode != authgate.LoginModeSSOExchange {
		t.Fatalf("expected sso mode, got %v", res.Mode)
	}
	if calls := syncer.snapshot(); len(calls) != 0 {
		t.Fatalf("expected no sync for SSO path, got %+v", calls)
	}

	// The spent token now falls back to the password path.
	res, err = h.engine.Login(context.Background(), authgate.LoginRequest{Email: "sso@x.com", Password: "secret", SSOAuthToken: token})
	mustAuthenticated(t, res, err)
	if res.Mode != authgate.LoginModePassword {
		t.Fatalf("expected password mode, got %v", res.Mode)
	}
}

func TestMFAIndicatorTakesPrecedenceOverSSOAndPassword(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "a@x.com", "secret")

	// Valid password, but the request carries an MFA token, so only MFA verification runs.
	_, err := h.engine.Login(context.Background(), authgate.LoginRequest{
		Email:        "a@x.com",
		Password:     "secret",
		SSOAuthToken: "whatever",
		MFAToken:     "unknown",
		OTPCode:      "123456",
	})
	mustReject(t, err, authgate.ErrInvalidToken)
}

func TestConcreteLoginThenRegisterScenario(t *testing.T) {
	ext := newIdentityServer(t, http.StatusUnauthorized, "registered-token")
	h := newHarness(t, identityConfig(ext.srv.URL+"/api", time.Second))
	h.addUser(t, "u1", "a@x.com", "secret")

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "a@x.com", Password: "secret"})
	sess := mustAuthenticated(t, res, err)

	paths, emails := ext.calls()
	if len(paths) != 2 || paths[0] != "/api/auth/login" || paths[1] != "/api/auth/register" {
		t.Fatalf("expected login then register, got %v", paths)
	}
	for _, e := range emails {
		if e != "a@x.com" {
			t.Fatalf("expected a@x.com sent to external system, got %q", e)
		}
	}

	token, err := h.engine.ExternalIdentityToken(context.Background(), sess.AccessToken)
	if err != nil {
		t.Fatalf("ExternalIdentityToken: %v", err)
	}
	if token != "registered-token" {
		t.Fatalf("expected stored external token, got %q", token)
	}
}

func TestSyncFailuresNeverChangeLoginResult(t *testing.T) {
	refused := httptest.NewServer(http.NotFoundHandler())
	refusedURL := refused.URL
	refused.Close()

	failing := newIdentityServer(t, http.StatusInternalServerError, "")
	slow := newIdentityServer(t, http.StatusOK, "late")
	slow.delay = 2 * time.Second

	cases := []struct {
		name    string
		baseURL string
	}{
		{"connection refused", refusedURL},
		{"non-2xx", failing.srv.URL},
		{"timeout", slow.srv.URL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, identityConfig(tc.baseURL, 100*time.Millisecond))
			h.addUser(t, "u1", "a@x.com", "secret")

			res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "a@x.com", Password: "secret"})
			sess := mustAuthenticated(t, res, err)

			if _, err := h.engine.ValidateSession(context.Background(), sess.AccessToken); err != nil {
				t.Fatalf("session must survive sync failure: %v", err)
			}
			token, err := h.engine.ExternalIdentityToken(context.Background(), sess.AccessToken)
			if err != nil || token != "" {
				t.Fatalf("expected no external token, got %q err=%v", token, err)
			}

			logs := h.logs.String()
			if !strings.Contains(logs, `"op":"login_or_register"`) || !strings.Contains(logs, `"email":"a@x.com"`) {
				t.Fatalf("expected sync failure logged with op and email, got %s", logs)
			}
			if h.engine.MetricsSnapshot().Counters[authgate.MetricSyncFailed] != 1 {
				t.Fatalf("expected one failed sync")
			}
		})
	}
}

func TestAsyncSyncDoesNotBlockLogin(t *testing.T) {
	syncer := newFakeSyncer("ext-token")
	syncer.block = make(chan struct{})
	h := newHarness(t,
		withSyncer(syncer),
		withConfig(func(c *authgate.Config) { c.Sync.Synchronous = false }),
	)
	h.addUser(t, "u1", "a@x.com", "secret")

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "  A@x.com", Password: "secret"})
	sess := mustAuthenticated(t, res, err)

	select {
	case <-syncer.called:
	case <-time.After(2 * time.Second):
		t.Fatal("sync job never started")
	}
	if token, _ := h.engine.ExternalIdentityToken(context.Background(), sess.AccessToken); token != "" {
		t.Fatalf("token stored before sync finished: %q", token)
	}

	close(syncer.block)
	h.engine.Close()

	token, err := h.engine.ExternalIdentityToken(context.Background(), sess.AccessToken)
	if err != nil || token != "ext-token" {
		t.Fatalf("expected token after drain, got %q err=%v", token, err)
	}
	calls := syncer.snapshot()
	if len(calls) != 1 || calls[0].Email != "a@x.com" || calls[0].Password != "secret" {
		t.Fatalf("unexpected sync calls %+v", calls)
	}
}

func TestLogoutDuringSyncLeavesNoIdentityToken(t *testing.T) {
	syncer := newFakeSyncer("ext-token")
	syncer.block = make(chan struct{})
	h := newHarness(t,
		withSyncer(syncer),
		withConfig(func(c *authgate.Config) { c.Sync.Synchronous = false }),
	)
	h.addUser(t, "u1", "a@x.com", "secret")

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "a@x.com", Password: "secret"})
	sess := mustAuthenticated(t, res, err)

	select {
	case <-syncer.called:
	case <-time.After(2 * time.Second):
		t.Fatal("sync job never started")
	}
	if err := h.engine.Logout(context.Background(), sess.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	close(syncer.block)
	h.engine.Close()

	for _, key := range h.mr.Keys() {
		if strings.Contains(key, sess.SessionID) {
			t.Fatalf("expected no keys for the ended session, found %q", key)
		}
	}
	if !strings.Contains(h.logs.String(), "session ended before external identity token arrived") {
		t.Fatalf("expected late token to be logged, got %s", h.logs.String())
	}
}

func TestLogoutClearsSessionAndIdentityToken(t *testing.T) {
	h := newHarness(t, withSyncer(newFakeSyncer("ext-token")))
	h.addUser(t, "u1", "a@x.com", "secret")

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "a@x.com", Password: "secret"})
	sess := mustAuthenticated(t, res, err)

	if token, _ := h.engine.ExternalIdentityToken(context.Background(), sess.AccessToken); token != "ext-token" {
		t.Fatalf("expected stored token, got %q", token)
	}

	if err := h.engine.Logout(context.Background(), sess.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := h.engine.ValidateSession(context.Background(), sess.AccessToken); !errors.Is(err, authgate.ErrSessionInvalid) {
		t.Fatalf("expected invalid session after logout, got %v", err)
	}
	for _, key := range h.mr.Keys() {
		if strings.Contains(key, sess.SessionID) {
			t.Fatalf("expected session keys removed after logout, found %q", key)
		}
	}
	if err := h.engine.Logout(context.Background(), sess.AccessToken); err != nil {
		t.Fatalf("second logout must succeed: %v", err)
	}
	if err := h.engine.Logout(context.Background(), "garbage"); !errors.Is(err, authgate.ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid for garbage token, got %v", err)
	}
}

func TestPasswordResetRoundTrip(t *testing.T) {
	syncer := newFakeSyncer("ext")
	h := newHarness(t, withSyncer(syncer))
	h.addUser(t, "u1", "reset@x.com", "old-password", func(u *authgate.UserRecord) {
		u.Confirmed = false
		u.ConfirmationToken = "confirm-me"
	})

	if err := h.engine.RequestPasswordReset(context.Background(), " Reset@X.com "); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	notice := h.notifier.last(t)
	if notice.Token == "" || !strings.Contains(notice.ResetURL, "reset_password_token=") {
		t.Fatalf("unexpected notice %+v", notice)
	}

	stored, _ := h.users.GetUserByID(context.Background(), "u1")
	if stored.ResetPasswordTokenDigest == "" || stored.ResetPasswordTokenDigest == notice.Token {
		t.Fatal("expected only a digest of the reset token to be stored")
	}

	sess, err := h.engine.CompletePasswordReset(context.Background(), authgate.ResetRequest{
		Token:                notice.Token,
		Password:             "new-password",
		PasswordConfirmation: "new-password",
	})
	if err != nil {
		t.Fatalf("CompletePasswordReset: %v", err)
	}
	if sess.UserID != "u1" || sess.AccessToken == "" {
		t.Fatalf("unexpected session %+v", sess)
	}

	stored, _ = h.users.GetUserByID(context.Background(), "u1")
	if stored.ResetPasswordTokenDigest != "" || stored.ConfirmationToken != "" || !stored.ResetPasswordSentAt.IsZero() {
		t.Fatalf("expected reset fields cleared, got %+v", stored)
	}
	if !stored.Confirmed {
		t.Fatal("expected reset to confirm the account")
	}

	_, err = h.engine.CompletePasswordReset(context.Background(), authgate.ResetRequest{
		Token:                notice.Token,
		Password:             "another",
		PasswordConfirmation: "another",
	})
	mustReject(t, err, authgate.ErrInvalidToken)

	res, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "reset@x.com", Password: "new-password"})
	mustAuthenticated(t, res, err)

	var synced bool
	for _, c := range syncer.snapshot() {
		if c.Op == "sync_password" && c.Email == "reset@x.com" && c.Password == "new-password" {
			synced = true
		}
	}
	if !synced {
		t.Fatalf("expected password sync, got %+v", syncer.snapshot())
	}
}

func TestPasswordResetFailuresHaveNoSideEffects(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "reset@x.com", "old-password")

	err := h.engine.RequestPasswordReset(context.Background(), "missing@x.com")
	mustReject(t, err, authgate.ErrResetEmailNotFound)

	if err := h.engine.RequestPasswordReset(context.Background(), "reset@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := h.notifier.last(t).Token
	before, _ := h.users.GetUserByID(context.Background(), "u1")

	_, err = h.engine.CompletePasswordReset(context.Background(), authgate.ResetRequest{
		Token:                token,
		Password:             "new-password",
		PasswordConfirmation: "different",
	})
	mustReject(t, err, authgate.ErrPasswordConfirmation)

	_, err = h.engine.CompletePasswordReset(context.Background(), authgate.ResetRequest{
		Token:                "not-a-token",
		Password:             "new-password",
		PasswordConfirmation: "new-password",
	})
	mustReject(t, err, authgate.ErrInvalidToken)

	after, _ := h.users.GetUserByID(context.Background(), "u1")
	if after.PasswordHash != before.PasswordHash || after.ResetPasswordTokenDigest != before.ResetPasswordTokenDigest {
		t.Fatal("failed reset attempts must not write")
	}

	// The original token still works after the failed attempts.
	if _, err := h.engine.CompletePasswordReset(context.Background(), authgate.ResetRequest{
		Token:                token,
		Password:             "new-password",
		PasswordConfirmation: "new-password",
	}); err != nil {
		t.Fatalf("expected token to remain usable: %v", err)
	}
}

func TestPasswordResetTokenExpires(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "reset@x.com", "old-password")

	if err := h.engine.RequestPasswordReset(context.Background(), "reset@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := h.notifier.last(t).Token

	u, _ := h.users.GetUserByID(context.Background(), "u1")
	u.ResetPasswordSentAt = time.Now().Add(-7 * time.Hour)
	if err := h.users.Put(u); err != nil {
		t.Fatalf("put: %v", err)
	}

	_, err := h.engine.CompletePasswordReset(context.Background(), authgate.ResetRequest{
		Token:                token,
		Password:             "new-password",
		PasswordConfirmation: "new-password",
	})
	mustReject(t, err, authgate.ErrInvalidToken)
}

func TestAuditEventsCarryMode(t *testing.T) {
	sink := authgate.NewChannelSink(16)
	h := newHarness(t, withConfig(func(c *authgate.Config) { c.Audit.Enabled = true }), func(_ *authgate.Config, b *authgate.Builder) {
		b.WithAuditSink(sink)
	})
	h.addUser(t, "u1", "a@x.com", "secret")

	_, err := h.engine.Login(context.Background(), authgate.LoginRequest{Email: "a@x.com", Password: "wrong"})
	mustReject(t, err, authgate.ErrInvalidCredentials)

	select {
	case ev := <-sink.Events():
		if ev.EventType != "login_failure" || ev.Success || ev.Mode != "password" || ev.Error != "invalid_credentials" {
			t.Fatalf("unexpected audit event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected audit event")
	}
}

func TestBuilderRequiresDependencies(t *testing.T) {
	if _, err := authgate.New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected error without redis")
	}

	h := newHarness(t)
	b := authgate.New().WithConfig(testConfig()).WithRedis(h.rdb)
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error without user store")
	}

	b = authgate.New().WithConfig(testConfig()).WithRedis(h.rdb).WithUserStore(h.users)
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected builder reuse to fail")
	}
	if err := e.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

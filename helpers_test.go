package authgate_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/password"
	"github.com/MrEthical07/authgate/userstore/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// cheapPassword keeps Argon2 fast enough for tests.
var cheapPassword = authgate.PasswordConfig{
	Memory:      8 * 1024,
	Time:        1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func testConfig() authgate.Config {
	cfg := authgate.DefaultConfig()
	cfg.FrontendURL = "https://app.example.com"
	cfg.JWT.Secret = strings.Repeat("j", 32)
	cfg.Reset.DigestKey = strings.Repeat("r", 32)
	cfg.Password = cheapPassword
	cfg.Sync.Synchronous = true
	cfg.Sync.JobTimeout = 2 * time.Second
	return cfg
}

// lockedBuffer is an io.Writer safe for loggers shared with sync workers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeMFA struct {
	mu      sync.Mutex
	otp     map[string]string
	backup  map[string]string
	err     error
	calls   int
	lastOTP string
}

func newFakeMFA() *fakeMFA {
	return &fakeMFA{otp: map[string]string{}, backup: map[string]string{}}
}

func (f *fakeMFA) Authenticate(_ context.Context, userID, otpCode, backupCode string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastOTP = otpCode
	if f.err != nil {
		return false, f.err
	}
	if otpCode != "" {
		return f.otp[userID] == otpCode, nil
	}
	if code, ok := f.backup[userID]; ok && code == backupCode {
		delete(f.backup, userID)
		return true, nil
	}
	return false, nil
}

func (f *fakeMFA) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type syncCall struct {
	Op       string
	Email    string
	Password string
	Name     string
}

// fakeSyncer records sync calls and returns a fixed result.
type fakeSyncer struct {
	mu     sync.Mutex
	calls  []syncCall
	token  string
	ok     bool
	block  chan struct{}
	called chan struct{}
}

func newFakeSyncer(token string) *fakeSyncer {
	return &fakeSyncer{token: token, ok: token != "", called: make(chan struct{}, 16)}
}

func (f *fakeSyncer) LoginOrRegister(ctx context.Context, email, password, name string) (string, bool) {
	f.record(syncCall{Op: "login_or_register", Email: email, Password: password, Name: name})
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", false
		}
	}
	return f.token, f.ok
}

func (f *fakeSyncer) SyncPassword(_ context.Context, email, password string) bool {
	f.record(syncCall{Op: "sync_password", Email: email, Password: password})
	return f.ok
}

func (f *fakeSyncer) record(c syncCall) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	select {
	case f.called <- struct{}{}:
	default:
	}
}

func (f *fakeSyncer) snapshot() []syncCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syncCall(nil), f.calls...)
}

type captureNotifier struct {
	mu      sync.Mutex
	notices []authgate.ResetNotice
}

func (n *captureNotifier) SendResetInstructions(_ context.Context, notice authgate.ResetNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *captureNotifier) last(t *testing.T) authgate.ResetNotice {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notices) == 0 {
		t.Fatal("expected reset notice")
	}
	return n.notices[len(n.notices)-1]
}

type harness struct {
	engine   *authgate.Engine
	users    *memory.Store
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	mfa      *fakeMFA
	notifier *captureNotifier
	logs     *lockedBuffer
	hasher   *password.Hasher
}

type harnessOption func(*authgate.Config, *authgate.Builder)

func withSyncer(s authgate.IdentitySyncer) harnessOption {
	return func(_ *authgate.Config, b *authgate.Builder) { b.WithIdentitySyncer(s) }
}

func withConfig(mutate func(*authgate.Config)) harnessOption {
	return func(c *authgate.Config, _ *authgate.Builder) { mutate(c) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		users:    memory.New(),
		mr:       mr,
		rdb:      rdb,
		mfa:      newFakeMFA(),
		notifier: &captureNotifier{},
		logs:     &lockedBuffer{},
	}

	cfg := testConfig()
	b := authgate.New()
	for _, opt := range opts {
		opt(&cfg, b)
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	h.hasher = hasher

	logger := slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	engine, err := b.
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(h.users).
		WithMFAService(h.mfa).
		WithResetNotifier(h.notifier).
		WithLogger(logger).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// addUser stores an active, confirmed user with password.
func (h *harness) addUser(t *testing.T, id, email, pw string, mutate ...func(*authgate.UserRecord)) authgate.UserRecord {
	t.Helper()
	hash, err := h.hasher.Hash(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := authgate.UserRecord{
		UserID:       id,
		Email:        email,
		Name:         "User " + id,
		PasswordHash: hash,
		Confirmed:    true,
		Status:       authgate.AccountActive,
	}
	for _, m := range mutate {
		m(&u)
	}
	if err := h.users.Put(u); err != nil {
		t.Fatalf("put user: %v", err)
	}
	return u
}

func mustAuthenticated(t *testing.T, res *authgate.LoginResult, err error) *authgate.Session {
	t.Helper()
	if err != nil {
		t.Fatalf("expected authenticated, got error %v", err)
	}
	if res.Outcome != authgate.OutcomeAuthenticated || res.Session == nil || res.Challenge != nil {
		t.Fatalf("expected authenticated result, got %+v", res)
	}
	if res.Session.AccessToken == "" || res.Session.SessionID == "" {
		t.Fatalf("expected session credentials, got %+v", res.Session)
	}
	return res.Session
}

func mustReject(t *testing.T, err error, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

// identityServer fakes the external identity REST API.
type identityServer struct {
	mu        sync.Mutex
	paths     []string
	emails    []string
	loginCode int
	regToken  string
	delay     time.Duration
	srv       *httptest.Server
}

func newIdentityServer(t *testing.T, loginCode int, regToken string) *identityServer {
	t.Helper()
	s := &identityServer{loginCode: loginCode, regToken: regToken}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *identityServer) serve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.emails = append(s.emails, body.Email)
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/auth/login"):
		if s.loginCode != http.StatusOK {
			w.WriteHeader(s.loginCode)
			return
		}
		writeTokenBody(w, "login-token")
	case strings.HasSuffix(r.URL.Path, "/auth/register"):
		if s.regToken == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeTokenBody(w, s.regToken)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *identityServer) calls() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...), append([]string(nil), s.emails...)
}

func writeTokenBody(w http.ResponseWriter, token string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"token": token}})
}

func identityConfig(baseURL string, timeout time.Duration) harnessOption {
	return withConfig(func(c *authgate.Config) {
		c.Identity.Enabled = true
		c.Identity.BaseURL = baseURL
		c.Identity.Timeout = timeout
	})
}

package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 5 * time.Second
	defaultRole    = "USER"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 64 << 10
)

// ErrSync marks every failure of a call to the identity system. It never
// leaves this package except inside log records.
var ErrSync = errors.New("external identity sync failed")

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://api.example.com/api. Empty disables the client.
	BaseURL string
	// Timeout bounds connect and response-header wait separately; the whole
	// call is bounded by twice this value.
	Timeout time.Duration
	// DefaultRole is sent with registrations.
	DefaultRole string

	Logger     *slog.Logger
	HTTPClient *http.Client
}

// Client is a stateless wrapper around the remote identity API. Every
// method reports failure as an empty/false result and logs the cause at
// warn level; none of them return errors.
type Client struct {
	baseURL    string
	role       string
	httpClient *http.Client
	logger     *slog.Logger
}

// New returns a Client. A zero BaseURL yields a disabled client whose
// methods are no-ops.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	role := cfg.DefaultRole
	if role == "" {
		role = defaultRole
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 2 * timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		role:       role,
		httpClient: httpClient,
		logger:     logger.With("component", "identity"),
	}
}

// Enabled reports whether the client is configured to make calls.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type tokenEnvelope struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// Login exchanges credentials for an identity-system token.
func (c *Client) Login(ctx context.Context, email, password string) (string, bool) {
	if !c.Enabled() {
		return "", false
	}
	token, err := c.postForToken(ctx, "/auth/login", credentials{Email: email, Password: password})
	if err != nil {
		c.logger.WarnContext(ctx, "identity login failed", "op", "login", "email", email, "error", err)
		return "", false
	}
	return token, true
}

// Register creates the account remotely and returns its token. An empty
// name defaults to the email local part.
func (c *Client) Register(ctx context.Context, email, password, name string) (string, bool) {
	if !c.Enabled() {
		return "", false
	}
	if strings.TrimSpace(name) == "" {
		name = localPart(email)
	}
	token, err := c.postForToken(ctx, "/auth/register", registration{
		Email:    email,
		Password: password,
		Name:     name,
		Role:     c.role,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "identity registration failed", "op", "register", "email", email, "error", err)
		return "", false
	}
	return token, true
}

// LoginOrRegister tries Login and falls back to Register when Login yields
// nothing, whatever the reason.
func (c *Client) LoginOrRegister(ctx context.Context, email, password, name string) (string, bool) {
	if !c.Enabled() {
		return "", false
	}
	if token, ok := c.Login(ctx, email, password); ok {
		c.logger.InfoContext(ctx, "identity token obtained", "op", "login", "email", email)
		return token, true
	}
	token, ok := c.Register(ctx, email, password, name)
	if ok {
		c.logger.InfoContext(ctx, "identity account registered", "op", "register", "email", email)
	}
	return token, ok
}

// SyncPassword pushes a new password to the identity system and reports
// whether it was accepted.
func (c *Client) SyncPassword(ctx context.Context, email, password string) bool {
	if !c.Enabled() {
		return false
	}
	resp, err := c.post(ctx, "/auth/sync-password", credentials{Email: email, Password: password})
	if err != nil {
		c.logger.WarnContext(ctx, "identity password sync failed", "op", "sync_password", "email", email, "error", err)
		return false
	}
	defer drain(resp)

	if !success(resp.StatusCode) {
		c.logger.WarnContext(ctx, "identity password sync failed", "op", "sync_password", "email", email, "status", resp.StatusCode)
		return false
	}
	c.logger.InfoContext(ctx, "identity password synced", "op", "sync_password", "email", email)
	return true
}

func (c *Client) postForToken(ctx context.Context, path string, body any) (string, error) {
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	if !success(resp.StatusCode) {
		return "", fmt.Errorf("%w: HTTP %d", ErrSync, resp.StatusCode)
	}

	var env tokenEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&env); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrSync, err)
	}
	if env.Data.Token == "" {
		return "", fmt.Errorf("%w: response carries no token", ErrSync)
	}
	return env.Data.Token, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrSync, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSync, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSync, err)
	}
	return resp, nil
}

func success(status int) bool {
	return status >= 200 && status < 300
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

package authgate

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment variable read by LoadConfig.
const EnvPrefix = "AUTHGATE_"

// Config holds every tunable of the engine and its reference adapters.
//
// Values are layered defaults, then YAML, then environment (see LoadConfig).
type Config struct {
	// FrontendURL is the base URL used for user-facing redirect and reset links.
	FrontendURL string `yaml:"frontend_url" env:"FRONTEND_URL"`

	Session  SessionConfig  `yaml:"session" envPrefix:"SESSION_"`
	JWT      JWTConfig      `yaml:"jwt" envPrefix:"JWT_"`
	Password PasswordConfig `yaml:"password" envPrefix:"PASSWORD_"`
	Login    LoginConfig    `yaml:"login" envPrefix:"LOGIN_"`
	MFA      MFAConfig      `yaml:"mfa" envPrefix:"MFA_"`
	SSO      SSOConfig      `yaml:"sso" envPrefix:"SSO_"`
	Reset    ResetConfig    `yaml:"reset" envPrefix:"RESET_"`
	Identity IdentityConfig `yaml:"identity" envPrefix:"IDENTITY_"`
	Sync     SyncConfig     `yaml:"sync" envPrefix:"SYNC_"`
	Audit    AuditConfig    `yaml:"audit" envPrefix:"AUDIT_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`

	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Postgres PostgresConfig `yaml:"postgres" envPrefix:"POSTGRES_"`
	HTTP     HTTPConfig     `yaml:"http" envPrefix:"HTTP_"`
}

// SessionConfig controls issued sessions.
type SessionConfig struct {
	TTL               time.Duration `yaml:"ttl" env:"TTL"`
	RedisPrefix       string        `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	IdentityKeyPrefix string        `yaml:"identity_key_prefix" env:"IDENTITY_KEY_PREFIX"`
}

// JWTConfig controls access tokens. Secret is used with hs256; the base64
// encoded PrivateKey/PublicKey pair with ed25519.
type JWTConfig struct {
	SigningMethod string        `yaml:"signing_method" env:"SIGNING_METHOD"`
	Secret        string        `yaml:"secret" env:"SECRET"`
	PrivateKey    string        `yaml:"private_key" env:"PRIVATE_KEY"`
	PublicKey     string        `yaml:"public_key" env:"PUBLIC_KEY"`
	Issuer        string        `yaml:"issuer" env:"ISSUER"`
	Leeway        time.Duration `yaml:"leeway" env:"LEEWAY"`
}

// PasswordConfig holds Argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 `yaml:"memory" env:"MEMORY"`
	Time        uint32 `yaml:"time" env:"TIME"`
	Parallelism uint8  `yaml:"parallelism" env:"PARALLELISM"`
	SaltLength  uint32 `yaml:"salt_length" env:"SALT_LENGTH"`
	KeyLength   uint32 `yaml:"key_length" env:"KEY_LENGTH"`
}

// LoginConfig controls the active-for-authentication check.
type LoginConfig struct {
	// RequireConfirmed blocks unconfirmed accounts from signing in.
	RequireConfirmed bool `yaml:"require_confirmed" env:"REQUIRE_CONFIRMED"`
}

// MFAConfig controls login challenges.
type MFAConfig struct {
	ChallengeTTL time.Duration `yaml:"challenge_ttl" env:"CHALLENGE_TTL"`
	MaxAttempts  int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	RedisPrefix  string        `yaml:"redis_prefix" env:"REDIS_PREFIX"`
}

// SSOConfig controls SSO tokens issued through Engine.IssueSSOAuthToken.
type SSOConfig struct {
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// ResetConfig controls password reset tokens.
type ResetConfig struct {
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
	DigestKey string        `yaml:"digest_key" env:"DIGEST_KEY"`
	Path      string        `yaml:"path" env:"PATH"`
}

// IdentityConfig configures the external identity client.
type IdentityConfig struct {
	Enabled     bool          `yaml:"enabled" env:"ENABLED"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	DefaultRole string        `yaml:"default_role" env:"DEFAULT_ROLE"`
}

// SyncConfig controls the detached external-identity sync workers.
type SyncConfig struct {
	Workers     int           `yaml:"workers" env:"WORKERS"`
	QueueSize   int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	DropIfFull  bool          `yaml:"drop_if_full" env:"DROP_IF_FULL"`
	JobTimeout  time.Duration `yaml:"job_timeout" env:"JOB_TIMEOUT"`
	Synchronous bool          `yaml:"synchronous" env:"SYNCHRONOUS"`
}

// AuditConfig controls audit dispatch.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled" env:"ENABLED"`
	BufferSize int  `yaml:"buffer_size" env:"BUFFER_SIZE"`
	DropIfFull bool `yaml:"drop_if_full" env:"DROP_IF_FULL"`
	// Format selects the server's sink: "log" routes events through the
	// logger, "json" writes one object per line to stdout.
	Format string `yaml:"format" env:"FORMAT"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" env:"ENABLED"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms" env:"ENABLE_LATENCY_HISTOGRAMS"`
}

// RedisConfig is read by the server command.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// PostgresConfig is read by the server command. An empty DSN selects the in-memory user store.
type PostgresConfig struct {
	DSN            string `yaml:"dsn" env:"DSN"`
	MaxConns       int32  `yaml:"max_conns" env:"MAX_CONNS"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"MIGRATE_ON_START"`
}

// HTTPConfig is read by the server command.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig returns the baseline configuration. JWT secrets and the
// reset digest key are left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			TTL:               24 * time.Hour,
			RedisPrefix:       "as",
			IdentityKeyPrefix: "ait",
		},
		JWT: JWTConfig{
			SigningMethod: "hs256",
			Issuer:        "authgate",
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Login: LoginConfig{
			RequireConfirmed: true,
		},
		MFA: MFAConfig{
			ChallengeTTL: 5 * time.Minute,
			MaxAttempts:  5,
			RedisPrefix:  "amc",
		},
		SSO: SSOConfig{
			TokenTTL: 5 * time.Minute,
		},
		Reset: ResetConfig{
			TokenTTL: 6 * time.Hour,
			Path:     "/app/auth/password/edit",
		},
		Identity: IdentityConfig{
			Enabled:     false,
			BaseURL:     "https://api.crwell.pro/api",
			Timeout:     5 * time.Second,
			DefaultRole: "USER",
		},
		Sync: SyncConfig{
			Workers:    4,
			QueueSize:  256,
			DropIfFull: true,
			JobTimeout: 15 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
			Format:     "log",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Postgres: PostgresConfig{
			MaxConns:       10,
			MigrateOnStart: true,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// LoadConfig layers DefaultConfig, the YAML file at path (skipped when path
// is empty), and AUTHGATE_* environment variables, then validates.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.FrontendURL != "" {
		if _, err := url.Parse(c.FrontendURL); err != nil {
			return fmt.Errorf("FrontendURL is invalid: %w", err)
		}
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.RedisPrefix == "" || c.Session.IdentityKeyPrefix == "" {
		return errors.New("Session key prefixes must be set")
	}
	if c.Session.RedisPrefix == c.Session.IdentityKeyPrefix || c.Session.RedisPrefix == c.MFA.RedisPrefix {
		return errors.New("Session key prefixes must not collide")
	}

	// JWT
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.Secret) < 32 {
			return errors.New("hs256 requires a Secret of at least 32 bytes")
		}
	case "ed25519":
		if _, err := c.JWT.decodedKey(c.JWT.PrivateKey); err != nil || c.JWT.PrivateKey == "" {
			return errors.New("ed25519 requires a base64 PrivateKey")
		}
		if _, err := c.JWT.decodedKey(c.JWT.PublicKey); err != nil || c.JWT.PublicKey == "" {
			return errors.New("ed25519 requires a base64 PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}

	// MFA
	if c.MFA.ChallengeTTL <= 0 || c.MFA.ChallengeTTL > time.Hour {
		return errors.New("MFA ChallengeTTL must be within (0, 1h]")
	}
	if c.MFA.MaxAttempts < 1 {
		return errors.New("MFA MaxAttempts must be >= 1")
	}
	if c.MFA.RedisPrefix == "" {
		return errors.New("MFA RedisPrefix must be set")
	}

	if c.SSO.TokenTTL <= 0 {
		return errors.New("SSO TokenTTL must be > 0")
	}

	// Reset
	if c.Reset.TokenTTL <= 0 {
		return errors.New("Reset TokenTTL must be > 0")
	}
	if len(c.Reset.DigestKey) < 32 {
		return errors.New("Reset DigestKey must be at least 32 bytes")
	}

	// Identity
	if c.Identity.Enabled {
		u, err := url.Parse(c.Identity.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("Identity BaseURL must be an absolute URL when enabled")
		}
		if c.Identity.Timeout <= 0 || c.Identity.Timeout > time.Minute {
			return errors.New("Identity Timeout must be within (0, 1m]")
		}
	}

	// Sync
	if c.Sync.Workers < 1 {
		return errors.New("Sync Workers must be >= 1")
	}
	if c.Sync.QueueSize < 1 {
		return errors.New("Sync QueueSize must be >= 1")
	}
	if c.Sync.JobTimeout <= 0 {
		return errors.New("Sync JobTimeout must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	switch c.Audit.Format {
	case "", "log", "json":
	default:
		return fmt.Errorf("Audit Format %q must be log or json", c.Audit.Format)
	}

	return nil
}

// resetURL builds the link embedded in reset instructions.
func (c *Config) resetURL(token string) string {
	base := strings.TrimRight(c.FrontendURL, "/")
	return base + c.Reset.Path + "?reset_password_token=" + url.QueryEscape(token)
}

// LoginPageURL returns the frontend login page carrying an error code.
func (c *Config) LoginPageURL(errorCode string) string {
	base := strings.TrimRight(c.FrontendURL, "/")
	return base + "/app/login?error=" + url.QueryEscape(errorCode)
}

func (j JWTConfig) decodedKey(value string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(value))
}

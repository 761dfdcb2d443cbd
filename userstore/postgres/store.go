package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/mfa"
)

// ErrConflict is returned when an insert collides with an existing email.
var ErrConflict = errors.New("user already exists")

// Store is a PostgreSQL-backed authgate.UserStore and mfa.SecretStore.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var (
	_ authgate.UserStore = (*Store)(nil)
	_ mfa.SecretStore    = (*Store)(nil)
)

// New connects to PostgreSQL and, when cfg.MigrateOnStart is set, applies
// the embedded migrations.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool, logger: logger.With("component", "userstore")}
	if cfg.MigrateOnStart {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const userColumns = `id, email, name, password_hash, confirmed, status, mfa_enabled,
	sso_auth_token, sso_auth_token_expires_at,
	COALESCE(reset_password_digest, ''), reset_password_sent_at, confirmation_token`

func scanUser(row pgx.Row) (authgate.UserRecord, error) {
	var (
		u         authgate.UserRecord
		status    int16
		ssoExpiry *time.Time
		resetSent *time.Time
	)
	err := row.Scan(
		&u.UserID, &u.Email, &u.Name, &u.PasswordHash, &u.Confirmed, &status, &u.MFAEnabled,
		&u.SSOAuthToken, &ssoExpiry,
		&u.ResetPasswordTokenDigest, &resetSent, &u.ConfirmationToken,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authgate.UserRecord{}, authgate.ErrUserNotFound
		}
		return authgate.UserRecord{}, fmt.Errorf("scanning user: %w", err)
	}
	u.Status = authgate.AccountStatus(status)
	if ssoExpiry != nil {
		u.SSOAuthTokenExpiresAt = *ssoExpiry
	}
	if resetSent != nil {
		u.ResetPasswordSentAt = *resetSent
	}
	return u, nil
}

// CreateUser inserts user. The email is normalized first.
func (s *Store) CreateUser(ctx context.Context, user authgate.UserRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, password_hash, confirmed, status, mfa_enabled, confirmation_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		user.UserID, authgate.NormalizeEmail(user.Email), user.Name, user.PasswordHash,
		user.Confirmed, int16(user.Status), user.MFAEnabled, user.ConfirmationToken,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (authgate.UserRecord, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		authgate.NormalizeEmail(email),
	))
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (authgate.UserRecord, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		userID,
	))
}

func (s *Store) GetUserByResetDigest(ctx context.Context, digest string) (authgate.UserRecord, error) {
	if digest == "" {
		return authgate.UserRecord{}, authgate.ErrUserNotFound
	}
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE reset_password_digest = $1`,
		digest,
	))
}

func (s *Store) SetSSOAuthToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return s.execOne(ctx, "setting sso token", `
		UPDATE users SET sso_auth_token = $2, sso_auth_token_expires_at = $3, updated_at = now()
		WHERE id = $1
	`, userID, token, expiresAt)
}

// ConsumeSSOAuthToken validates and clears the token in one UPDATE, so
// concurrent exchanges of one token match at most one row between them.
func (s *Store) ConsumeSSOAuthToken(ctx context.Context, userID, token string, now time.Time) (bool, error) {
	if token == "" {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET sso_auth_token = '', sso_auth_token_expires_at = NULL, updated_at = now()
		WHERE id = $1
		  AND sso_auth_token = $2
		  AND sso_auth_token_expires_at > $3
	`, userID, token, now)
	if err != nil {
		return false, fmt.Errorf("consuming sso token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ClearSSOAuthToken(ctx context.Context, userID, token string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET sso_auth_token = '', sso_auth_token_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND sso_auth_token = $2
	`, userID, token)
	if err != nil {
		return fmt.Errorf("clearing sso token: %w", err)
	}
	return nil
}

func (s *Store) SetResetPasswordToken(ctx context.Context, userID, digest string, sentAt time.Time) error {
	return s.execOne(ctx, "setting reset token", `
		UPDATE users SET reset_password_digest = $2, reset_password_sent_at = $3, updated_at = now()
		WHERE id = $1
	`, userID, digest, sentAt)
}

// CompleteReset writes the new hash, confirms the account, and clears all
// reset and confirmation fields in a single UPDATE guarded by the digest.
func (s *Store) CompleteReset(ctx context.Context, userID, digest, passwordHash string) error {
	if digest == "" {
		return authgate.ErrUserNotFound
	}
	return s.execOne(ctx, "completing reset", `
		UPDATE users
		SET password_hash = $3,
		    confirmed = TRUE,
		    reset_password_digest = NULL,
		    reset_password_sent_at = NULL,
		    confirmation_token = '',
		    updated_at = now()
		WHERE id = $1 AND reset_password_digest = $2
	`, userID, digest, passwordHash)
}

func (s *Store) GetEnrollment(ctx context.Context, userID string) (mfa.Enrollment, error) {
	var enr mfa.Enrollment
	err := s.pool.QueryRow(ctx,
		`SELECT secret, last_counter FROM user_mfa_secrets WHERE user_id = $1`,
		userID,
	).Scan(&enr.Secret, &enr.LastCounter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mfa.Enrollment{}, mfa.ErrNotEnrolled
		}
		return mfa.Enrollment{}, fmt.Errorf("loading mfa secret: %w", err)
	}
	return enr, nil
}

// SaveEnrollment replaces the secret and backup codes in one transaction and
// flags the user as MFA-enabled.
func (s *Store) SaveEnrollment(ctx context.Context, userID string, secret []byte, backupHashes [][32]byte) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_mfa_secrets (user_id, secret, last_counter)
			VALUES ($1, $2, -1)
			ON CONFLICT (user_id) DO UPDATE SET secret = EXCLUDED.secret, last_counter = -1, updated_at = now()
		`, userID, secret); err != nil {
			return fmt.Errorf("saving mfa secret: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_backup_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clearing backup codes: %w", err)
		}

		batch := &pgx.Batch{}
		for _, h := range backupHashes {
			batch.Queue(`INSERT INTO user_backup_codes (user_id, code_hash) VALUES ($1, $2)`, userID, h[:])
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting backup codes: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE users SET mfa_enabled = TRUE, updated_at = now() WHERE id = $1`, userID); err != nil {
			return fmt.Errorf("enabling mfa: %w", err)
		}
		return nil
	})
}

func (s *Store) AdvanceCounter(ctx context.Context, userID string, counter int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_mfa_secrets SET last_counter = $2, updated_at = now()
		WHERE user_id = $1 AND last_counter < $2
	`, userID, counter)
	if err != nil {
		return false, fmt.Errorf("advancing totp counter: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_backup_codes SET used_at = now()
		WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL
	`, userID, hash[:])
	if err != nil {
		return false, fmt.Errorf("consuming backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) execOne(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return authgate.ErrUserNotFound
	}
	return nil
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

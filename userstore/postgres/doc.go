// Package postgres is a PostgreSQL user store built on pgx.
//
// It implements both authgate.UserStore and mfa.SecretStore. Single-use
// credentials (SSO tokens, reset digests, TOTP steps, backup codes) are each
// consumed by one conditional UPDATE, so concurrent callers cannot both win.
//
// The schema ships as embedded SQL migrations tracked in schema_migrations.
package postgres

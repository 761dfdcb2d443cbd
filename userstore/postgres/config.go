package postgres

import "time"

// Config holds PostgreSQL connection and behavior settings.
type Config struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxConns is the maximum number of pooled connections (default: 10).
	MaxConns int32

	// MinConns is the minimum number of idle connections kept (default: 1).
	MinConns int32

	// MaxConnLifetime bounds how long a connection is reused (default: 5 minutes).
	MaxConnLifetime time.Duration

	// MigrateOnStart runs the embedded schema migrations in New.
	MigrateOnStart bool
}

func (c *Config) defaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MinConns == 0 {
		c.MinConns = 1
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = 5 * time.Minute
	}
}

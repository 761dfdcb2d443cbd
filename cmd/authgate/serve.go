package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/httpapi"
	"github.com/MrEthical07/authgate/metrics/export/prometheus"
	"github.com/MrEthical07/authgate/mfa"
	"github.com/MrEthical07/authgate/password"
	"github.com/MrEthical07/authgate/userstore/memory"
	"github.com/MrEthical07/authgate/userstore/postgres"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run the authgate HTTP server.

Configuration is read from the file given by --config, then from AUTHGATE_*
environment variables. An empty postgres.dsn selects the in-memory user store.

With --dev an in-process Redis is started and missing secrets are generated,
so the server runs without any external service. Never use --dev in production.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("dev", false, "use in-process Redis and generated secrets")
	serveCmd.Flags().String("dev-user", "", "with --dev, seed an in-memory user as email:password")
	serveCmd.Flags().String("addr", "", "listen address, overrides http.addr")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	dev, _ := cmd.Flags().GetBool("dev")
	if dev {
		if err := setDevSecrets(); err != nil {
			return err
		}
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := authgate.LoadConfig(path)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, closeRedis, err := openRedis(cfg.Redis, dev, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	users, secrets, closeStore, err := openUserStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if seed, _ := cmd.Flags().GetString("dev-user"); seed != "" {
		mem, ok := users.(*memory.Store)
		if !dev || !ok {
			return errors.New("--dev-user requires --dev and the in-memory user store")
		}
		if err := seedUser(mem, cfg.Password, seed); err != nil {
			return err
		}
		logger.Info("seeded development user", "email", authgate.NormalizeEmail(strings.SplitN(seed, ":", 2)[0]))
	}

	mfaSvc, err := mfa.NewService(secrets, mfa.Config{TOTP: mfa.TOTPConfig{Issuer: cfg.JWT.Issuer, Skew: 1}})
	if err != nil {
		return fmt.Errorf("mfa service: %w", err)
	}

	b := authgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithMFAService(mfaSvc).
		WithLogger(logger)
	if cfg.Audit.Format == "json" {
		b.WithAuditSink(authgate.NewJSONWriterSink(cmd.OutOrStdout()))
	}
	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer engine.Close()

	opts := httpapi.Options{
		Logger:       logger.With("component", "http"),
		AccessLog:    os.Stdout,
		LoginPageURL: cfg.LoginPageURL("access-denied"),
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = prometheus.NewCollector(engine).Handler()
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httpapi.New(engine, opts).Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func openRedis(cfg authgate.RedisConfig, dev bool, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	addr := cfg.Addr
	var mr *miniredis.Miniredis
	if dev {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("starting in-process redis: %w", err)
		}
		addr = mr.Addr()
		logger.Warn("using in-process redis; data is lost on exit", "addr", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	closeFn := func() {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	}
	return client, closeFn, nil
}

func openUserStore(ctx context.Context, cfg authgate.Config, logger *slog.Logger) (authgate.UserStore, mfa.SecretStore, func(), error) {
	if cfg.Postgres.DSN == "" {
		logger.Warn("postgres.dsn is empty; using the in-memory user store")
		return memory.New(), mfa.NewMemoryStore(), func() {}, nil
	}

	store, err := postgres.New(ctx, postgres.Config{
		DSN:            cfg.Postgres.DSN,
		MaxConns:       cfg.Postgres.MaxConns,
		MigrateOnStart: cfg.Postgres.MigrateOnStart,
	}, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, store, store.Close, nil
}

func seedUser(store *memory.Store, pc authgate.PasswordConfig, arg string) error {
	email, pw, ok := strings.Cut(arg, ":")
	if !ok || email == "" || pw == "" {
		return errors.New("--dev-user must be email:password")
	}
	hasher, err := password.NewHasher(password.Config{
		Memory:      pc.Memory,
		Time:        pc.Time,
		Parallelism: pc.Parallelism,
		SaltLength:  pc.SaltLength,
		KeyLength:   pc.KeyLength,
	})
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(pw)
	if err != nil {
		return err
	}
	return store.Put(authgate.UserRecord{
		UserID:       "dev-user",
		Email:        email,
		Name:         strings.SplitN(email, "@", 2)[0],
		PasswordHash: hash,
		Confirmed:    true,
		Status:       authgate.AccountActive,
	})
}

// setDevSecrets fills in random secrets for unset required keys.
func setDevSecrets() error {
	for _, name := range []string{"AUTHGATE_JWT_SECRET", "AUTHGATE_RESET_DIGEST_KEY"} {
		if os.Getenv(name) != "" {
			continue
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		if err := os.Setenv(name, base64.RawURLEncoding.EncodeToString(buf)); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cvforge/cvforge-auth/internal/auth"
	"github.com/cvforge/cvforge-auth/internal/config"
	"github.com/cvforge/cvforge-auth/internal/database"
	"github.com/cvforge/cvforge-auth/internal/logger"
	"github.com/cvforge/cvforge-auth/internal/metrics"
	"github.com/cvforge/cvforge-auth/internal/repository"
	"github.com/cvforge/cvforge-auth/internal/service"
)

// env holds the dependencies shared by database-backed commands
type env struct {
	cfg   *config.Config
	log   *logger.Logger
	db    *database.Postgres
	store repository.Storage
	audit *service.AuditService
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	// Commands exit right after their work; buffered audit writes would be lost.
	cfg.Audit.Async = false

	log := logger.New(cfg.Log.Level, "text")
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := repository.NewPostgresStorage(db)
	return &env{
		cfg:   cfg,
		log:   log,
		db:    db,
		store: store,
		audit: service.NewAuditService(store, metrics.New(), cfg.Audit, log),
	}, nil
}

func (e *env) Close() {
	_ = e.db.Close()
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired tokens and audit entries past retention",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := service.NewJanitor(e.store, e.audit, nil, e.cfg.Audit, e.log).SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newCreateSuperuserCmd() *cobra.Command {
	var emailAddr, name string

	cmd := &cobra.Command{
		Use:   "create-superuser",
		Short: "Create a superuser or promote an existing account",
		Long: "Creates an active, verified superuser. If the email is already registered the\n" +
			"account is promoted instead and its password is left unchanged.\n" +
			"The password is read from CVAUTH_SUPERUSER_PASSWORD.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			password := os.Getenv("CVAUTH_SUPERUSER_PASSWORD")

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			hasher := auth.NewBcryptHasher(e.cfg.Security.Password.BcryptCost)
			admin := service.NewAdminService(e.store, hasher, e.audit, nil, e.cfg, e.log)

			user, err := admin.CreateSuperuser(cmd.Context(), emailAddr, password, name)
			if errors.Is(err, service.ErrWeakPassword) && password == "" {
				return errors.New("CVAUTH_SUPERUSER_PASSWORD must be set to create a new account")
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), user)
		},
	}
	cmd.Flags().StringVar(&emailAddr, "email", "", "superuser email address")
	cmd.Flags().StringVar(&name, "name", "", "full name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newGenSecretCmd() *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "gen-secret",
		Short: "Print a random token signing secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if size < 32 {
				return fmt.Errorf("secret must be at least 32 bytes, got %d", size)
			}
			buf := make([]byte, size)
			if _, err := rand.Read(buf); err != nil {
				return fmt.Errorf("failed to read random bytes: %w", err)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), base64.RawURLEncoding.EncodeToString(buf))
			return err
		},
	}
	cmd.Flags().IntVar(&size, "bytes", 48, "secret length in bytes")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := database.MigrateUp(e.db, source); err != nil {
				return err
			}
			e.log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", database.DefaultMigrationsURL, "migration source URL")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

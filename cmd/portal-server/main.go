package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/amgpay/portal/internal/config"
	"github.com/amgpay/portal/internal/domain/contract"
	"github.com/amgpay/portal/internal/platform/auth"
	"github.com/amgpay/portal/internal/platform/db"
	"github.com/amgpay/portal/internal/upstream"
	"github.com/amgpay/portal/migrations"
)

const autoSyncInterval = time.Hour

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "portal-server",
		Short:        "AMG insurance payment portal API",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(syncContractsCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(adminTokenCmd())
	return root
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Str("service", "portal-server").Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// migrationSource returns the embedded migrations, or dir when given.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func syncContractsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-contracts",
		Short: "Copy every AMG group contract into the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.HasDatabase() {
				return errors.New("DATABASE_URL is required to synchronize contracts")
			}
			logger := newLogger(cfg, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			client := upstream.NewClient(upstreamConfig(cfg), logger)
			result, err := newSyncer(cfg, client, pool, logger).Run(ctx)
			if result != nil {
				out, _ := json.MarshalIndent(result, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			if err != nil {
				return fmt.Errorf("contract synchronization failed: %w", err)
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(c *cobra.Command, fn func(ctx context.Context, m *db.Migrator, schema string) error) error {
		schema, _ := c.Flags().GetString("schema")
		dir, _ := c.Flags().GetString("dir")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cfg.HasDatabase() {
			return errors.New("DATABASE_URL is required")
		}

		ctx := c.Context()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		return fn(ctx, db.NewMigrator(pool, migrationSource(dir)), schema)
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(c *cobra.Command, args []string) error {
			return withMigrator(c, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Fprintf(c.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(c.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(c *cobra.Command, args []string) error {
			return withMigrator(c, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(c.OutOrStdout(), schema, statuses)
				return nil
			})
		},
	}

	for _, sub := range []*cobra.Command{upCmd, statusCmd} {
		sub.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
		sub.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
		cmd.AddCommand(sub)
	}
	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func adminTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Issue a bearer token for the admin routes",
		RunE: func(c *cobra.Command, args []string) error {
			subject, _ := c.Flags().GetString("subject")
			roles, _ := c.Flags().GetStringSlice("role")
			ttl, _ := c.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.HasAdmin() {
				return errors.New("ADMIN_TOKEN_SECRET is required")
			}
			token, err := auth.IssueToken(jwtConfig(cfg), subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Operator identifier written to the sub claim")
	cmd.Flags().StringSlice("role", []string{"admin"}, "Roles granted by the token")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.AMGUsername == "" || cfg.AMGPassword == "" {
		logger.Warn().Msg("AMG_API_USERNAME/AMG_API_PASSWORD not set, verification requests will fail")
	}
	if cfg.HoloMode == "production" && !cfg.HoloProductionReady() {
		logger.Warn().Msg("HOLO_MODE=production without HOLO_PAYMENT_URL or HOLO_MERCHANT_ID, init-payment will fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pool *pgxpool.Pool
	if cfg.HasDatabase() {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		n, err := db.NewMigrator(pool, migrations.FS).Up(ctx, db.DefaultSchema)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
		logger.Info().Int("applied", n).Msg("migrations up to date")
	} else {
		logger.Warn().Msg("DATABASE_URL not set, contract cache and notification log disabled")
	}

	e, syncer := buildServer(cfg, logger, pool)

	if syncer != nil && cfg.SyncAuto {
		go autoSync(ctx, syncer, cfg.SyncMaxAge, logger)
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("amg", cfg.AMGBaseURL).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// autoSync refreshes the contract cache at startup and then hourly whenever
// the last run is older than maxAge or failed.
func autoSync(ctx context.Context, syncer *contract.Syncer, maxAge time.Duration, logger zerolog.Logger) {
	check := func() {
		run, err := syncer.StartIfStale(ctx, maxAge)
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("auto sync check failed")
		case run != nil:
			logger.Info().Str("sync_id", run.ID.String()).Msg("auto sync started")
		}
	}

	check()
	ticker := time.NewTicker(autoSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

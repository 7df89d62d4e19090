// Package main implements the scry-exam server: the HTTP surface for exam
// attempts and the background workers that generate and grade questions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/auth"
	"github.com/phrazzld/scry-exam/internal/config"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
	"github.com/phrazzld/scry-exam/internal/platform/sqlstore"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "scry-exam",
		Short:        "Exam delivery with AI question generation and grading",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, migrateCmd(), tokenCmd())

	// "serve" runs when no subcommand is given.
	root.RunE = serve.RunE
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			log, err := logger.Setup(cfg.Server)
			if err != nil {
				return fmt.Errorf("failed to set up logger: %w", err)
			}
			log.Info("server configuration loaded",
				"port", cfg.Server.Port,
				"log_level", cfg.Server.LogLevel,
				"database_driver", cfg.Database.Driver,
				"ai_provider", cfg.AI.Provider)

			app, err := newApplication(ctx, cfg, log)
			if err != nil {
				log.Error("failed to initialize application", "error", err)
				return err
			}
			defer app.cleanup()

			return app.Run(ctx)
		},
	}
}

var migrateCommands = []string{"up", "down", "reset", "status", "version"}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|reset|status|version]",
		Short:     "Run database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: migrateCommands,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			log, err := logger.Setup(cfg.Server)
			if err != nil {
				return fmt.Errorf("failed to set up logger: %w", err)
			}
			return runMigration(cmd.Context(), cfg.Database, args[0], log)
		},
	}
}

func runMigration(ctx context.Context, cfg config.DatabaseConfig, command string, log *slog.Logger) error {
	if cfg.Driver == driverMemory {
		return fmt.Errorf("the %q database driver has no migrations", driverMemory)
	}
	driver := sqlstore.Driver(cfg.Driver)
	db, err := sqlstore.Open(ctx, driver, cfg.URL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	log.Info("running migrations", "command", command, "driver", cfg.Driver)
	return sqlstore.Migrate(ctx, db, driver, command, log)
}

func tokenCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed access token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			tokens, err := auth.NewTokenService(cfg.Auth)
			if err != nil {
				return err
			}

			id := uuid.New()
			if userID != "" {
				if id, err = uuid.Parse(userID); err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
			}
			r := auth.Role(role)
			if !r.Valid() {
				return fmt.Errorf("invalid --role %q", role)
			}

			token, err := tokens.Generate(cmd.Context(), id, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user: %s\nrole: %s\ntoken: %s\n", id, r, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user UUID (random when empty)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleStudent), "role: student, teacher or admin")
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/morvo-ai/morvo/backend/repository"
	"github.com/morvo-ai/morvo/backend/services"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var version = "dev"

var errNoDatabase = errors.New("DATABASE_URL is not configured")

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "morvo",
		Short: "Morvo AI marketing consultant backend",
		Long: `Morvo serves the AI marketing consultant API: chat with a team of
Saudi-market specialist agents over HTTP and websockets, onboarding,
and background website and backlink analysis.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := setup(true)
			if err != nil {
				return err
			}
			defer closeDatabase(db)
			return repository.NewGORMRepository(db).AutoMigrate()
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Create the admin account from ADMIN_EMAIL and ADMIN_PASSWORD",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := setup(true)
			if err != nil {
				return err
			}
			defer closeDatabase(db)
			return services.NewDatabaseSeeder(repository.NewGORMRepository(db), cfg.Seed).SeedDatabase(cmd.Context())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "morvo %s (api %s)\n", version, services.APIVersion)
		},
	})

	return rootCmd
}

// setup loads the configuration, installs the logger and, when configured,
// connects to the database.
func setup(requireDatabase bool) (*services.Config, *gorm.DB, error) {
	cfg, err := services.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(services.NewLogger(os.Stdout, cfg.Log))

	if cfg.Database.URL == "" {
		if requireDatabase {
			return nil, nil, errNoDatabase
		}
		return cfg, nil, nil
	}
	db, err := services.OpenDatabase(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Connected to database")
	return cfg, db, nil
}

func closeDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, db, err := setup(false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := services.NewServer(cfg)
	if db != nil {
		repo := repository.NewGORMRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			return err
		}
		if cfg.Database.Seed {
			if err := services.NewDatabaseSeeder(repo, cfg.Seed).SeedDatabase(ctx); err != nil {
				slog.Error("Failed to seed database", "error", err)
			}
		}
		server.SetDatabase(db)
	}

	if err := server.InitializeServices(ctx); err != nil {
		return err
	}
	return server.Start(ctx)
}

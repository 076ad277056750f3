package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Toobanaz/ai-audience-mentor/internal/config"
	"github.com/Toobanaz/ai-audience-mentor/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the SQL schema for the configured store backend",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	case config.BackendSQLite:
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		db.Close()
	default:
		return fmt.Errorf("store backend %q has no schema", cfg.StoreBackend)
	}
	slog.Info("schema applied", "backend", cfg.StoreBackend)
	return nil
}
